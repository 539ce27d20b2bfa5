package payment

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

// paymentStub serves create/status for a single scripted payment.
type paymentStub struct {
	status  atomic.Value // string
	queries atomic.Int32
}

func newPaymentStub(initial string) *paymentStub {
	s := &paymentStub{}
	s.status.Store(initial)
	return s
}

func (s *paymentStub) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/payment/create", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.PaymentCreateResponse{
			PaymentID:       "pay-1",
			ConfirmationURL: "https://pay.example/checkout/pay-1",
			Status:          "pending",
		})
	})
	mux.HandleFunc("/api/payment/status/", func(w http.ResponseWriter, r *http.Request) {
		s.queries.Add(1)
		st := s.status.Load().(string)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.PaymentStatusResponse{
			PaymentID: "pay-1",
			Status:    st,
			Paid:      st == "succeeded",
		})
	})
	return mux
}

func setupFlow(t *testing.T, stub *paymentStub, pollInterval time.Duration, maxPolls int) (*Flow, *eventbus.Bus) {
	t.Helper()
	ts := httptest.NewServer(stub.handler())
	t.Cleanup(ts.Close)

	hubCfg := config.HubConfig{URL: ts.URL}
	hubCfg.Timeout.Duration = 5 * time.Second
	hubCfg.GenerateTimeout.Duration = 5 * time.Second

	payCfg := config.PaymentConfig{MaxPolls: maxPolls}
	payCfg.PollInterval.Duration = pollInterval

	bus := eventbus.New()
	t.Cleanup(bus.Close)
	return New(backend.New(hubCfg, slog.Default()), bus, payCfg, slog.Default()), bus
}

func TestCreateReturnsCheckoutHandle(t *testing.T) {
	flow, _ := setupFlow(t, newPaymentStub("pending"), 10*time.Millisecond, 3)

	resp, err := flow.Create(context.Background(), "payer@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if resp.PaymentID != "pay-1" || resp.ConfirmationURL == "" {
		t.Fatalf("create response = %+v", resp)
	}
}

func TestAwaitResolvesByPolling(t *testing.T) {
	stub := newPaymentStub("pending")
	flow, _ := setupFlow(t, stub, 10*time.Millisecond, 100)

	// Settle after the second poll.
	go func() {
		time.Sleep(25 * time.Millisecond)
		stub.status.Store("succeeded")
	}()

	status, err := flow.Await(context.Background(), "pay-1")
	if err != nil {
		t.Fatal(err)
	}
	if !status.Paid {
		t.Fatal("await should return a paid status")
	}
}

func TestAwaitTimesOutAfterPollBudget(t *testing.T) {
	stub := newPaymentStub("pending")
	flow, _ := setupFlow(t, stub, 5*time.Millisecond, 4)

	_, err := flow.Await(context.Background(), "pay-1")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if got := stub.queries.Load(); got != 4 {
		t.Errorf("status queries = %d, want exactly the poll budget", got)
	}
}

func TestAwaitResolvesByPushWithConfirmatoryQuery(t *testing.T) {
	stub := newPaymentStub("pending")
	// Long poll interval: only the push channel can resolve in time.
	flow, bus := setupFlow(t, stub, time.Hour, 100)

	stub.status.Store("succeeded")
	go func() {
		time.Sleep(10 * time.Millisecond)
		bus.PublishType(eventbus.PaymentSuccess, api.PaymentSuccess{PaymentID: "pay-1"})
	}()

	done := make(chan struct{})
	var status *api.PaymentStatusResponse
	var err error
	go func() {
		status, err = flow.Await(context.Background(), "pay-1")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("await did not resolve from the push")
	}
	if err != nil {
		t.Fatal(err)
	}
	if !status.Paid {
		t.Fatal("push resolution should carry a paid status")
	}
	if stub.queries.Load() == 0 {
		t.Fatal("a push must be verified with a status query")
	}
}

func TestAwaitIgnoresUnverifiedPush(t *testing.T) {
	stub := newPaymentStub("pending")
	flow, bus := setupFlow(t, stub, 20*time.Millisecond, 2)

	// A forged push for a payment the hub still reports pending.
	go func() {
		time.Sleep(5 * time.Millisecond)
		bus.PublishType(eventbus.PaymentSuccess, api.PaymentSuccess{PaymentID: "pay-1"})
	}()

	_, err := flow.Await(context.Background(), "pay-1")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, an unverified push must not settle the wait", err)
	}
}

func TestAwaitIgnoresPushForOtherPayment(t *testing.T) {
	stub := newPaymentStub("pending")
	flow, bus := setupFlow(t, stub, 10*time.Millisecond, 2)

	go func() {
		bus.PublishType(eventbus.PaymentSuccess, api.PaymentSuccess{PaymentID: "pay-other"})
	}()

	_, err := flow.Await(context.Background(), "pay-1")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
}

func TestCheckStatusIsIdempotent(t *testing.T) {
	stub := newPaymentStub("pending")
	flow, _ := setupFlow(t, stub, time.Hour, 100)
	ctx := context.Background()

	// Repeated manual checks on an unsettled payment answer "not yet" with
	// no side effect beyond the query.
	for i := 0; i < 3; i++ {
		status, err := flow.CheckStatus(ctx, "pay-1")
		if err != nil {
			t.Fatal(err)
		}
		if status != nil {
			t.Fatalf("check %d = %+v, want pending (nil)", i, status)
		}
	}
	if got := stub.queries.Load(); got != 3 {
		t.Errorf("status queries = %d, want one per check", got)
	}

	stub.status.Store("succeeded")
	for i := 0; i < 2; i++ {
		status, err := flow.CheckStatus(ctx, "pay-1")
		if err != nil {
			t.Fatal(err)
		}
		if status == nil || !status.Paid {
			t.Fatalf("check after settlement = %+v, want paid", status)
		}
	}
}

func TestAwaitCanceledPayment(t *testing.T) {
	stub := newPaymentStub("canceled")
	flow, _ := setupFlow(t, stub, 5*time.Millisecond, 100)

	_, err := flow.Await(context.Background(), "pay-1")
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("err = %v, want ErrCanceled", err)
	}
}

func TestAwaitHonorsContextCancellation(t *testing.T) {
	stub := newPaymentStub("pending")
	flow, _ := setupFlow(t, stub, time.Hour, 100)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := flow.Await(ctx, "pay-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
