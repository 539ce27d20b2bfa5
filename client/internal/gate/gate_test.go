package gate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/postforge-ai/postforge/client/internal/backend"
	"github.com/postforge-ai/postforge/client/internal/config"
	"github.com/postforge-ai/postforge/client/internal/eventbus"
	"github.com/postforge-ai/postforge/pkg/api"
)

// hubStub is a scriptable fake hub for gate tests.
type hubStub struct {
	check   func() api.SessionCheckResponse
	deletes atomic.Int32
	failDel atomic.Bool
}

func (h *hubStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/session/check/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(h.check())
	})
	mux.HandleFunc("/api/session/delete/", func(w http.ResponseWriter, r *http.Request) {
		if h.failDel.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(api.ErrorResponse{Error: "boom"})
			return
		}
		h.deletes.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	})
	return mux
}

func activeCheck(styles map[api.StyleID]int) func() api.SessionCheckResponse {
	return func() api.SessionCheckResponse {
		unused := false
		for _, v := range styles {
			if v == 1 {
				unused = true
				break
			}
		}
		exp := time.Now().Add(time.Hour)
		return api.SessionCheckResponse{
			HasSession:      true,
			IsActive:        true,
			Email:           "user@example.com",
			URL:             "https://cafe.example",
			Info:            "opening",
			ExpiresAt:       &exp,
			AvailableStyles: styles,
			HasUnusedStyles: &unused,
		}
	}
}

func setupGate(t *testing.T, stub *hubStub) (*Gate, *eventbus.Bus) {
	t.Helper()
	ts := httptest.NewServer(stub.handler())
	t.Cleanup(ts.Close)

	cfg := config.HubConfig{URL: ts.URL}
	cfg.Timeout.Duration = 5 * time.Second
	cfg.GenerateTimeout.Duration = 5 * time.Second

	bus := eventbus.New()
	t.Cleanup(bus.Close)
	return New(backend.New(cfg, slog.Default()), bus, slog.Default()), bus
}

func fullStyles() map[api.StyleID]int {
	m := make(map[api.StyleID]int, len(api.Styles))
	for _, s := range api.Styles {
		m[s] = 1
	}
	return m
}

func TestCheckAdoptsHubState(t *testing.T) {
	stub := &hubStub{check: activeCheck(fullStyles())}
	g, _ := setupGate(t, stub)

	resp, err := g.Check(context.Background(), "user@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !resp.IsActive {
		t.Fatal("check should report active")
	}

	snap := g.Snapshot()
	if snap.Email != "user@example.com" || !snap.Active {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.URL != "https://cafe.example" || snap.Occasion != "opening" {
		t.Errorf("inputs not adopted: %+v", snap)
	}
	if snap.Remaining != len(api.Styles) {
		t.Errorf("remaining = %d, want %d", snap.Remaining, len(api.Styles))
	}
}

func TestCheckNeverResurrectsSpentPermits(t *testing.T) {
	stub := &hubStub{check: activeCheck(fullStyles())}
	g, _ := setupGate(t, stub)

	g.Quota().MarkUsed(api.StyleFormal)
	if _, err := g.Check(context.Background(), "user@example.com"); err != nil {
		t.Fatal(err)
	}
	if g.Quota().Available(api.StyleFormal) {
		t.Fatal("check resurrected a locally spent permit")
	}
}

func TestRequireValidExpiredRecordsTermination(t *testing.T) {
	stub := &hubStub{check: func() api.SessionCheckResponse {
		return api.SessionCheckResponse{HasSession: true, IsActive: false, Email: "user@example.com"}
	}}
	g, bus := setupGate(t, stub)
	events := bus.Subscribe(eventbus.SessionTerminated)

	g.Activate("user@example.com", time.Now().Add(time.Hour))
	err := g.RequireValid(context.Background())
	if !errors.Is(err, backend.ErrSessionExpired) {
		t.Fatalf("err = %v, want session expired", err)
	}

	reason, ok := g.PendingTermination()
	if !ok || reason != ReasonExpired {
		t.Fatalf("pending = %v/%v, want expired", reason, ok)
	}

	select {
	case e := <-events:
		if e.Type != eventbus.SessionTerminated {
			t.Errorf("event type = %q", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no termination event published")
	}
}

func TestRequireValidExhaustedRecordsTermination(t *testing.T) {
	stub := &hubStub{check: activeCheck(fullStyles())}
	g, _ := setupGate(t, stub)

	g.Activate("user@example.com", time.Now().Add(time.Hour))
	for _, s := range api.Styles {
		g.Quota().MarkUsed(s)
	}

	if err := g.RequireValid(context.Background()); err == nil {
		t.Fatal("exhausted quota should fail the gate")
	}
	reason, ok := g.PendingTermination()
	if !ok || reason != ReasonExhausted {
		t.Fatalf("pending = %v/%v, want exhausted", reason, ok)
	}
}

func TestFirstTerminationReasonWins(t *testing.T) {
	stub := &hubStub{check: activeCheck(fullStyles())}
	g, _ := setupGate(t, stub)

	g.BeginTermination(ReasonExpired)
	g.BeginTermination(ReasonExhausted)

	reason, _ := g.PendingTermination()
	if reason != ReasonExpired {
		t.Fatalf("reason = %v, the first recorded reason must win", reason)
	}
}

func TestAcknowledgeDeletesRemoteThenClearsLocal(t *testing.T) {
	stub := &hubStub{check: activeCheck(fullStyles())}
	g, _ := setupGate(t, stub)

	g.Activate("user@example.com", time.Now().Add(time.Hour))
	g.BeginTermination(ReasonUserRequested)

	if err := g.Acknowledge(context.Background()); err != nil {
		t.Fatal(err)
	}
	if stub.deletes.Load() != 1 {
		t.Errorf("remote deletes = %d, want 1", stub.deletes.Load())
	}

	snap := g.Snapshot()
	if snap.Email != "" || snap.Active {
		t.Errorf("local state not cleared: %+v", snap)
	}
	if _, ok := g.PendingTermination(); ok {
		t.Error("pending reason should be cleared")
	}
	if g.Quota().Remaining() != len(api.Styles) {
		t.Error("quota should reset after termination")
	}
}

func TestAcknowledgeKeepsStateWhenRemoteDeleteFails(t *testing.T) {
	stub := &hubStub{check: activeCheck(fullStyles())}
	stub.failDel.Store(true)
	g, _ := setupGate(t, stub)

	g.Activate("user@example.com", time.Now().Add(time.Hour))
	g.BeginTermination(ReasonExpired)

	if err := g.Acknowledge(context.Background()); err == nil {
		t.Fatal("acknowledge should surface the delete failure")
	}
	if _, ok := g.PendingTermination(); !ok {
		t.Fatal("pending termination must survive a failed delete")
	}
	if g.Email() != "user@example.com" {
		t.Fatal("local state must survive a failed delete")
	}

	// Retry succeeds once the hub recovers.
	stub.failDel.Store(false)
	if err := g.Acknowledge(context.Background()); err != nil {
		t.Fatal(err)
	}
	if g.Email() != "" {
		t.Fatal("local state should clear after the retry")
	}
}

func TestAcknowledgeWithoutPendingIsNoop(t *testing.T) {
	stub := &hubStub{check: activeCheck(fullStyles())}
	g, _ := setupGate(t, stub)

	g.Activate("user@example.com", time.Now().Add(time.Hour))
	if err := g.Acknowledge(context.Background()); err != nil {
		t.Fatal(err)
	}
	if stub.deletes.Load() != 0 {
		t.Error("no remote delete should happen without a recorded reason")
	}
	if g.Email() == "" {
		t.Error("session must survive a spurious acknowledge")
	}
}
