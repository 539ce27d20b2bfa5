package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/postforge-ai/postforge/client/internal/backend"
	"github.com/postforge-ai/postforge/client/internal/config"
	"github.com/postforge-ai/postforge/client/internal/eventbus"
	"github.com/postforge-ai/postforge/client/internal/gate"
	"github.com/postforge-ai/postforge/client/internal/payment"
	"github.com/postforge-ai/postforge/pkg/api"
)

// hubStub fakes the hub endpoints the orchestrator touches. Each field is
// mutable so a test can reshape the hub mid-flow.
type hubStub struct {
	mu              sync.Mutex
	session         *api.SessionCheckResponse // nil = no session
	paymentStatus   string
	generateCode    int    // 0 means success
	generateErr     string // body for a non-zero generateCode
	generateGate    chan struct{}
	generateEntered chan struct{} // closed once the first generate call arrives
	deletes         atomic.Int32
}

func (h *hubStub) setSession(s *api.SessionCheckResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.session = s
}

func (h *hubStub) setPaymentStatus(status string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paymentStatus = status
}

func (h *hubStub) handler() http.Handler {
	writeJSON := func(w http.ResponseWriter, code int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/session/check/", func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		s := h.session
		h.mu.Unlock()
		if s == nil {
			writeJSON(w, http.StatusOK, api.SessionCheckResponse{HasSession: false})
			return
		}
		writeJSON(w, http.StatusOK, *s)
	})
	mux.HandleFunc("/api/session/delete/", func(w http.ResponseWriter, r *http.Request) {
		h.deletes.Add(1)
		h.setSession(nil)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	})
	mux.HandleFunc("/api/payment/create", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, api.PaymentCreateResponse{
			PaymentID:       "pay-1",
			ConfirmationURL: "https://pay.example/pay-1",
		})
	})
	mux.HandleFunc("/api/payment/status/", func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		status := h.paymentStatus
		h.mu.Unlock()
		writeJSON(w, http.StatusOK, api.PaymentStatusResponse{PaymentID: "pay-1", Status: status, Paid: status == "paid"})
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		code, msg, hold := h.generateCode, h.generateErr, h.generateGate
		if h.generateEntered != nil {
			close(h.generateEntered)
			h.generateEntered = nil
		}
		h.mu.Unlock()
		if hold != nil {
			<-hold
		}
		if code != 0 {
			writeJSON(w, code, api.ErrorResponse{Error: msg})
			return
		}
		writeJSON(w, http.StatusOK, api.GenerateResponse{Content: "nine posts"})
	})
	return mux
}

func activeSession(styles map[api.StyleID]int) *api.SessionCheckResponse {
	unused := false
	for _, v := range styles {
		if v == 1 {
			unused = true
			break
		}
	}
	exp := time.Now().Add(time.Hour)
	return &api.SessionCheckResponse{
		HasSession:      true,
		IsActive:        true,
		Email:           "user@example.com",
		URL:             "https://cafe.example",
		ExpiresAt:       &exp,
		AvailableStyles: styles,
		HasUnusedStyles: &unused,
	}
}

func fullStyles() map[api.StyleID]int {
	m := make(map[api.StyleID]int, len(api.Styles))
	for _, s := range api.Styles {
		m[s] = 1
	}
	return m
}

func setupOrchestrator(t *testing.T, stub *hubStub) (*Orchestrator, *eventbus.Bus) {
	t.Helper()
	ts := httptest.NewServer(stub.handler())
	t.Cleanup(ts.Close)

	hubCfg := config.HubConfig{URL: ts.URL}
	hubCfg.Timeout.Duration = 5 * time.Second
	hubCfg.GenerateTimeout.Duration = 5 * time.Second

	payCfg := config.PaymentConfig{MaxPolls: 3}
	payCfg.PollInterval.Duration = 10 * time.Millisecond

	bus := eventbus.New()
	t.Cleanup(bus.Close)

	b := backend.New(hubCfg, slog.Default())
	g := gate.New(b, bus, slog.Default())
	flow := payment.New(b, bus, payCfg, slog.Default())
	return New(g, flow, b, slog.Default()), bus
}

func TestSubmitEmailRejectsMalformedAddress(t *testing.T) {
	o, _ := setupOrchestrator(t, &hubStub{})

	st, err := o.SubmitEmail(context.Background(), "not-an-email")
	if !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("err = %v, want ErrInvalidEmail", err)
	}
	if st != StateEmailEntry {
		t.Errorf("state = %v, want email entry", st)
	}
}

func TestSubmitEmailWithActiveSessionGoesReady(t *testing.T) {
	stub := &hubStub{session: activeSession(fullStyles())}
	o, _ := setupOrchestrator(t, stub)

	st, err := o.SubmitEmail(context.Background(), "user@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if st != StateReady {
		t.Fatalf("state = %v, want ready", st)
	}
	if got := o.Gate().Quota().Remaining(); got != len(api.Styles) {
		t.Errorf("remaining = %d, want %d", got, len(api.Styles))
	}
}

func TestSubmitEmailWithExpiredSessionOpensModal(t *testing.T) {
	exp := time.Now().Add(-time.Hour)
	stub := &hubStub{session: &api.SessionCheckResponse{
		HasSession: true,
		IsActive:   false,
		Email:      "user@example.com",
		ExpiresAt:  &exp,
	}}
	o, _ := setupOrchestrator(t, stub)

	st, err := o.SubmitEmail(context.Background(), "user@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if st != StateTerminated {
		t.Fatalf("state = %v, want terminated", st)
	}
	if reason, ok := o.Gate().PendingTermination(); !ok || reason != gate.ReasonExpired {
		t.Errorf("pending = %v/%v, want expired", reason, ok)
	}
}

func TestSubmitEmailWithoutSessionOpensPayment(t *testing.T) {
	o, _ := setupOrchestrator(t, &hubStub{})

	st, err := o.SubmitEmail(context.Background(), "user@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if st != StatePaymentPending {
		t.Fatalf("state = %v, want payment pending", st)
	}
	co := o.Checkout()
	if co == nil || co.ConfirmationURL == "" {
		t.Fatalf("checkout = %+v, want confirmation URL", co)
	}
}

func TestAwaitPaymentSettlesIntoReady(t *testing.T) {
	stub := &hubStub{paymentStatus: "pending"}
	o, _ := setupOrchestrator(t, stub)

	if _, err := o.SubmitEmail(context.Background(), "user@example.com"); err != nil {
		t.Fatal(err)
	}

	// The hub settles after the first poll.
	go func() {
		time.Sleep(5 * time.Millisecond)
		stub.setPaymentStatus("paid")
		stub.setSession(activeSession(fullStyles()))
	}()

	st, err := o.AwaitPayment(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st != StateReady {
		t.Fatalf("state = %v, want ready", st)
	}
	if o.Checkout() != nil {
		t.Error("checkout should be cleared after settlement")
	}
}

func TestAwaitPaymentTimeoutKeepsPendingPayment(t *testing.T) {
	stub := &hubStub{paymentStatus: "pending"}
	o, _ := setupOrchestrator(t, stub)

	if _, err := o.SubmitEmail(context.Background(), "user@example.com"); err != nil {
		t.Fatal(err)
	}

	st, err := o.AwaitPayment(context.Background())
	if !errors.Is(err, payment.ErrTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if st != StatePaymentPending {
		t.Fatalf("state = %v, want payment pending", st)
	}
	if o.Checkout() == nil {
		t.Error("a timeout must not discard the open payment")
	}
	if o.LastError() == nil {
		t.Error("timeout should be recorded for the payment screen")
	}
}

func TestCancelPaymentReturnsToEmailEntry(t *testing.T) {
	o, _ := setupOrchestrator(t, &hubStub{paymentStatus: "pending"})

	if _, err := o.SubmitEmail(context.Background(), "user@example.com"); err != nil {
		t.Fatal(err)
	}

	if st := o.CancelPayment(); st != StateEmailEntry {
		t.Fatalf("state = %v, want email entry", st)
	}
	if o.Checkout() != nil {
		t.Error("an explicit cancel discards the checkout")
	}
	if o.Gate().Email() != "" {
		t.Error("an explicit cancel drops the entered email")
	}
}

func TestCheckPaymentManuallySettles(t *testing.T) {
	stub := &hubStub{paymentStatus: "pending"}
	o, _ := setupOrchestrator(t, stub)

	ctx := context.Background()
	if _, err := o.SubmitEmail(ctx, "user@example.com"); err != nil {
		t.Fatal(err)
	}

	// Unpaid answers are a valid "not yet", however often they are asked for.
	for i := 0; i < 2; i++ {
		st, err := o.CheckPayment(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if st != StatePaymentPending {
			t.Fatalf("state = %v, want payment pending", st)
		}
	}

	stub.setPaymentStatus("paid")
	stub.setSession(activeSession(fullStyles()))

	st, err := o.CheckPayment(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st != StateReady {
		t.Fatalf("state = %v, want ready", st)
	}
	if o.Checkout() != nil {
		t.Error("checkout should be cleared after settlement")
	}
}

func TestGenerateSpendsPermitAndLocksInputs(t *testing.T) {
	stub := &hubStub{session: activeSession(fullStyles())}
	o, _ := setupOrchestrator(t, stub)

	ctx := context.Background()
	if _, err := o.SubmitEmail(ctx, "user@example.com"); err != nil {
		t.Fatal(err)
	}

	st, err := o.Generate(ctx, api.StyleIronic, false)
	if err != nil {
		t.Fatal(err)
	}
	if st != StateResults {
		t.Fatalf("state = %v, want results", st)
	}
	if o.Result() == nil || o.Result().Content == "" {
		t.Fatal("result should carry generated content")
	}
	if o.Gate().Quota().Available(api.StyleIronic) {
		t.Error("permit should be spent after a successful generation")
	}
	if !o.Gate().Inputs().Locked() {
		t.Error("inputs should lock at first generation")
	}
}

func TestGenerateFailureKeepsPermit(t *testing.T) {
	stub := &hubStub{session: activeSession(fullStyles()), generateCode: 502, generateErr: "generator unavailable"}
	o, _ := setupOrchestrator(t, stub)

	ctx := context.Background()
	if _, err := o.SubmitEmail(ctx, "user@example.com"); err != nil {
		t.Fatal(err)
	}

	st, err := o.Generate(ctx, api.StyleFormal, false)
	if err == nil {
		t.Fatal("expected an error")
	}
	if st != StateReady {
		t.Fatalf("state = %v, want ready for retry", st)
	}
	if !o.Gate().Quota().Available(api.StyleFormal) {
		t.Error("a failed generation must not spend the permit")
	}
	if o.Gate().Inputs().Locked() {
		t.Error("a failed generation must leave the inputs editable")
	}
}

func TestGenerateSuccessReconcilesQuotaWithHub(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	stub := &hubStub{session: activeSession(fullStyles()), generateGate: release, generateEntered: entered}
	o, _ := setupOrchestrator(t, stub)

	ctx := context.Background()
	if _, err := o.SubmitEmail(ctx, "user@example.com"); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := o.Generate(ctx, api.StyleConversational, false)
		done <- err
	}()
	<-entered

	// Another window spends a permit while the generation runs; the
	// post-generation check picks it up.
	drained := fullStyles()
	drained[api.StyleStorytelling] = 0
	stub.setSession(activeSession(drained))
	close(release)

	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if st := o.State(); st != StateResults {
		t.Fatalf("state = %v, want results", st)
	}
	if o.Gate().Quota().Available(api.StyleStorytelling) {
		t.Error("a permit spent elsewhere should be reconciled after generation")
	}
}

func TestGenerateMissingSessionOpensModal(t *testing.T) {
	stub := &hubStub{session: activeSession(fullStyles())}
	o, _ := setupOrchestrator(t, stub)

	ctx := context.Background()
	if _, err := o.SubmitEmail(ctx, "user@example.com"); err != nil {
		t.Fatal(err)
	}

	// The hub purges the record before the next generation attempt.
	stub.setSession(nil)

	st, err := o.Generate(ctx, api.StylePersuasive, false)
	if err == nil {
		t.Fatal("expected an error")
	}
	if st != StateTerminated {
		t.Fatalf("state = %v, want terminated", st)
	}
	if reason, ok := o.Gate().PendingTermination(); !ok || reason != gate.ReasonExpired {
		t.Errorf("pending = %v/%v, want expired", reason, ok)
	}
}

func TestGenerateStyleConflictMarksPermitSpent(t *testing.T) {
	stub := &hubStub{session: activeSession(fullStyles()), generateCode: 400, generateErr: "style already used in this session"}
	o, _ := setupOrchestrator(t, stub)

	ctx := context.Background()
	if _, err := o.SubmitEmail(ctx, "user@example.com"); err != nil {
		t.Fatal(err)
	}

	st, err := o.Generate(ctx, api.StyleSelling, false)
	if !errors.Is(err, backend.ErrStyleUsed) {
		t.Fatalf("err = %v, want style used", err)
	}
	if st != StateReady {
		t.Fatalf("state = %v, want ready", st)
	}
	if o.Gate().Quota().Available(api.StyleSelling) {
		t.Error("a conflict means the hub already counted the permit")
	}
}

func TestGenerateExpiredSessionOpensModal(t *testing.T) {
	stub := &hubStub{session: activeSession(fullStyles()), generateCode: 410, generateErr: "session expired"}
	o, _ := setupOrchestrator(t, stub)

	ctx := context.Background()
	if _, err := o.SubmitEmail(ctx, "user@example.com"); err != nil {
		t.Fatal(err)
	}

	st, err := o.Generate(ctx, api.StylePersuasive, false)
	if !errors.Is(err, backend.ErrSessionExpired) {
		t.Fatalf("err = %v, want session expired", err)
	}
	if st != StateTerminated {
		t.Fatalf("state = %v, want terminated", st)
	}
	if reason, ok := o.Gate().PendingTermination(); !ok || reason != gate.ReasonExpired {
		t.Errorf("pending = %v/%v, want expired", reason, ok)
	}
}

func TestGenerateRejectsLocallySpentPermit(t *testing.T) {
	stub := &hubStub{session: activeSession(fullStyles())}
	o, _ := setupOrchestrator(t, stub)

	ctx := context.Background()
	if _, err := o.SubmitEmail(ctx, "user@example.com"); err != nil {
		t.Fatal(err)
	}
	o.Gate().Quota().MarkUsed(api.StyleMedical)

	st, err := o.Generate(ctx, api.StyleMedical, false)
	if !errors.Is(err, backend.ErrStyleUsed) {
		t.Fatalf("err = %v, want style used", err)
	}
	if st != StateReady {
		t.Fatalf("state = %v, want ready", st)
	}
}

func TestCloseResultsWithPermitsLeftGoesReady(t *testing.T) {
	stub := &hubStub{session: activeSession(fullStyles())}
	o, _ := setupOrchestrator(t, stub)

	ctx := context.Background()
	if _, err := o.SubmitEmail(ctx, "user@example.com"); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Generate(ctx, api.StyleIronic, false); err != nil {
		t.Fatal(err)
	}

	if st := o.CloseResults(ctx); st != StateReady {
		t.Fatalf("state = %v, want ready", st)
	}
}

func TestCloseResultsChecksHubForExpiry(t *testing.T) {
	stub := &hubStub{session: activeSession(fullStyles())}
	o, _ := setupOrchestrator(t, stub)

	ctx := context.Background()
	if _, err := o.SubmitEmail(ctx, "user@example.com"); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Generate(ctx, api.StyleIronic, false); err != nil {
		t.Fatal(err)
	}

	// The session runs out while the user reads the results.
	stub.setSession(&api.SessionCheckResponse{HasSession: true, IsActive: false})

	if st := o.CloseResults(ctx); st != StateTerminated {
		t.Fatalf("state = %v, want terminated", st)
	}
	if reason, ok := o.Gate().PendingTermination(); !ok || reason != gate.ReasonExpired {
		t.Errorf("pending = %v/%v, want expired", reason, ok)
	}
}

func TestCloseResultsWhenExhaustedOpensModal(t *testing.T) {
	stub := &hubStub{session: activeSession(fullStyles())}
	o, _ := setupOrchestrator(t, stub)

	ctx := context.Background()
	if _, err := o.SubmitEmail(ctx, "user@example.com"); err != nil {
		t.Fatal(err)
	}
	for _, s := range api.Styles {
		if s != api.StyleIronic {
			o.Gate().Quota().MarkUsed(s)
		}
	}
	if _, err := o.Generate(ctx, api.StyleIronic, false); err != nil {
		t.Fatal(err)
	}

	if st := o.CloseResults(ctx); st != StateTerminated {
		t.Fatalf("state = %v, want terminated", st)
	}
	if reason, ok := o.Gate().PendingTermination(); !ok || reason != gate.ReasonExhausted {
		t.Errorf("pending = %v/%v, want exhausted", reason, ok)
	}
}

func TestAcknowledgeTerminationDeletesAndReopensPayment(t *testing.T) {
	stub := &hubStub{session: activeSession(fullStyles())}
	o, _ := setupOrchestrator(t, stub)

	ctx := context.Background()
	if _, err := o.SubmitEmail(ctx, "user@example.com"); err != nil {
		t.Fatal(err)
	}
	if st := o.RequestTermination(); st != StateTerminated {
		t.Fatalf("state = %v, want terminated", st)
	}

	st, err := o.AcknowledgeTermination(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st != StatePaymentPending {
		t.Fatalf("state = %v, want payment pending", st)
	}
	if stub.deletes.Load() != 1 {
		t.Errorf("deletes = %d, want 1", stub.deletes.Load())
	}
	if _, pending := o.Gate().PendingTermination(); pending {
		t.Error("acknowledgement should clear the recorded reason")
	}
	if co := o.Checkout(); co == nil || co.ConfirmationURL == "" {
		t.Fatalf("checkout = %+v, want a fresh payment for the same email", co)
	}
	if o.Gate().Email() != "user@example.com" {
		t.Errorf("email = %q, the address is kept for the new payment", o.Gate().Email())
	}
}

func TestStaleGenerationIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	stub := &hubStub{session: activeSession(fullStyles()), generateGate: release}
	o, _ := setupOrchestrator(t, stub)

	ctx := context.Background()
	if _, err := o.SubmitEmail(ctx, "user@example.com"); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := o.Generate(ctx, api.StyleIronic, false)
		done <- err
	}()

	// Let the request reach the hub, then supersede it.
	for o.State() != StateAnalyzing {
		time.Sleep(time.Millisecond)
	}
	o.RequestTermination()
	close(release)

	if err := <-done; !errors.Is(err, ErrStale) {
		t.Fatalf("err = %v, want stale", err)
	}
	if st := o.State(); st != StateTerminated {
		t.Fatalf("state = %v, want terminated", st)
	}
	if !o.Gate().Quota().Available(api.StyleIronic) {
		t.Error("a discarded completion must not spend the permit")
	}
}
