package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/postforge-ai/postforge/client/internal/backend"
	"github.com/postforge-ai/postforge/client/internal/config"
	"github.com/postforge-ai/postforge/client/internal/eventbus"
	"github.com/postforge-ai/postforge/pkg/api"
)

// wsHub serves one fake notify endpoint that pushes a scripted envelope to
// every connection.
type wsHub struct {
	push chan api.Envelope
}

func (h *wsHub) handler() http.Handler {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for env := range h.push {
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		}
	})
}

func setupListener(t *testing.T) (*Listener, *eventbus.Bus, *wsHub) {
	t.Helper()
	hub := &wsHub{push: make(chan api.Envelope, 4)}
	ts := httptest.NewServer(hub.handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { close(hub.push) })

	cfg := config.HubConfig{URL: ts.URL}
	cfg.Timeout.Duration = 2 * time.Second
	cfg.GenerateTimeout.Duration = 2 * time.Second
	cfg.ReconnectInterval.Duration = 10 * time.Millisecond
	cfg.MaxReconnectDelay.Duration = 50 * time.Millisecond

	bus := eventbus.New()
	t.Cleanup(bus.Close)

	b := backend.New(cfg, slog.Default())
	return New(b, bus, cfg, slog.Default()), bus, hub
}

func TestPushedPaymentSuccessReachesBus(t *testing.T) {
	l, bus, hub := setupListener(t)
	sub := bus.Subscribe(eventbus.PaymentSuccess)
	defer bus.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx, "user@example.com") }()

	hub.push <- api.Envelope{
		Type:    api.TypePaymentSuccess,
		Payload: api.PaymentSuccess{PaymentID: "pay-42"},
	}

	select {
	case e := <-sub:
		var payload api.PaymentSuccess
		if err := json.Unmarshal(e.Data, &payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.PaymentID != "pay-42" {
			t.Errorf("payment_id = %q", payload.PaymentID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no payment event published")
	}
}

func TestUnknownEnvelopeIsIgnored(t *testing.T) {
	l, bus, hub := setupListener(t)
	sub := bus.Subscribe(eventbus.PaymentSuccess)
	defer bus.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx, "user@example.com") }()

	hub.push <- api.Envelope{Type: "something.else"}
	hub.push <- api.Envelope{
		Type:    api.TypePaymentSuccess,
		Payload: api.PaymentSuccess{PaymentID: "pay-after"},
	}

	select {
	case e := <-sub:
		var payload api.PaymentSuccess
		if err := json.Unmarshal(e.Data, &payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.PaymentID != "pay-after" {
			t.Errorf("payment_id = %q", payload.PaymentID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("known envelope after unknown one was not delivered")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	l, _, _ := setupListener(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx, "user@example.com") }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestReconnectAnnouncesOnBus(t *testing.T) {
	bus := eventbus.New()
	defer bus.Close()
	sub := bus.Subscribe(eventbus.NotifyReconnecting)
	defer bus.Unsubscribe(sub)

	// Point at a server that is already gone so every dial fails.
	ts := httptest.NewServer(http.NotFoundHandler())
	ts.Close()

	cfg := config.HubConfig{URL: ts.URL}
	cfg.Timeout.Duration = time.Second
	cfg.GenerateTimeout.Duration = time.Second
	cfg.ReconnectInterval.Duration = 5 * time.Millisecond
	cfg.MaxReconnectDelay.Duration = 20 * time.Millisecond

	l := New(backend.New(cfg, slog.Default()), bus, cfg, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Run(ctx, "user@example.com") }()

	select {
	case <-sub:
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnecting event published")
	}
}
