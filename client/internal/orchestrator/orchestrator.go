// Package orchestrator runs the client's screen-level state machine: email
// entry, payment wait, the ready menu, generation, results, and the
// termination modal. All transitions funnel through here so every surface
// agrees on what state the session is in.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"sync"

	"github.com/postforge-ai/postforge/client/internal/backend"
	"github.com/postforge-ai/postforge/client/internal/gate"
	"github.com/postforge-ai/postforge/client/internal/payment"
	"github.com/postforge-ai/postforge/pkg/api"
)

// State is one screen of the client flow.
type State string

const (
	StateEmailEntry     State = "email_entry"
	StatePaymentPending State = "payment_pending"
	StateReady          State = "ready"
	StateAnalyzing      State = "analyzing"
	StateResults        State = "results"
	StateTerminated     State = "terminated"
)

// ErrStale marks a completion that arrived after a newer operation started;
// its effects were discarded.
var ErrStale = errors.New("operation superseded")

// ErrInvalidEmail rejects a malformed address before any hub call.
var ErrInvalidEmail = errors.New("invalid email address")

// Orchestrator drives the session flow.
type Orchestrator struct {
	gate    *gate.Gate
	flow    *payment.Flow
	backend *backend.Client
	logger  *slog.Logger

	mu       sync.Mutex
	state    State
	token    uint64 // current in-flight operation; completions of older tokens are dropped
	checkout *api.PaymentCreateResponse
	result   *api.GenerateResponse
	lastErr  error
}

// New creates an orchestrator at the email entry screen.
func New(g *gate.Gate, flow *payment.Flow, b *backend.Client, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		gate:    g,
		flow:    flow,
		backend: b,
		logger:  logger.With("component", "orchestrator"),
		state:   StateEmailEntry,
	}
}

// State returns the current screen.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Checkout returns the open checkout handle while a payment is pending.
func (o *Orchestrator) Checkout() *api.PaymentCreateResponse {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.checkout
}

// Result returns the last generation result.
func (o *Orchestrator) Result() *api.GenerateResponse {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result
}

// LastError returns the error recorded by the last failed operation.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Gate exposes the session gate for display surfaces.
func (o *Orchestrator) Gate() *gate.Gate {
	return o.gate
}

// begin invalidates any in-flight operation and returns the token for a new
// one. A completion is only applied while its token is still current.
func (o *Orchestrator) begin() uint64 {
	o.token++
	return o.token
}

// apply runs fn under the lock iff the token is still current.
func (o *Orchestrator) apply(token uint64, fn func()) error {
	if token != o.token {
		return ErrStale
	}
	fn()
	return nil
}

// SubmitEmail resolves an email into the right next screen: an active
// session goes straight to the ready menu, a spent-out or expired one lands
// on the termination modal, and a missing one opens a payment.
func (o *Orchestrator) SubmitEmail(ctx context.Context, email string) (State, error) {
	if _, err := mail.ParseAddress(email); err != nil {
		return o.fail(StateEmailEntry, ErrInvalidEmail)
	}

	o.mu.Lock()
	token := o.begin()
	o.mu.Unlock()

	resp, err := o.gate.Check(ctx, email)

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		return o.state, o.applyFail(token, err)
	}

	switch {
	case resp.HasSession && resp.IsActive && resp.HasUnusedStyles != nil && !*resp.HasUnusedStyles:
		// Live session with nothing left to spend.
		aerr := o.apply(token, func() {
			o.state = StateTerminated
			o.lastErr = nil
			o.gate.BeginTermination(gate.ReasonExhausted)
		})
		return o.state, aerr

	case resp.HasSession && resp.IsActive:
		err := o.apply(token, func() {
			o.state = StateReady
			o.lastErr = nil
		})
		return o.state, err

	case resp.HasSession: // expired
		aerr := o.apply(token, func() {
			o.state = StateTerminated
			o.lastErr = nil
			o.gate.BeginTermination(gate.ReasonExpired)
		})
		return o.state, aerr
	}

	// No session: open a payment.
	o.mu.Unlock()
	checkout, err := o.flow.Create(ctx, email)
	o.mu.Lock()
	if err != nil {
		return o.state, o.applyFail(token, err)
	}
	err = o.apply(token, func() {
		o.state = StatePaymentPending
		o.checkout = checkout
		o.lastErr = nil
	})
	return o.state, err
}

// AwaitPayment blocks on the dual-channel settlement wait, then re-checks
// the session so local state reflects the hub's new record. A timeout keeps
// the payment open on its screen; other failures return to email entry with
// the error recorded.
func (o *Orchestrator) AwaitPayment(ctx context.Context) (State, error) {
	o.mu.Lock()
	if o.state != StatePaymentPending || o.checkout == nil {
		defer o.mu.Unlock()
		return o.state, errors.New("no payment is pending")
	}
	token := o.begin()
	paymentID := o.checkout.PaymentID
	email := o.gate.Email()
	o.mu.Unlock()

	_, err := o.flow.Await(ctx, paymentID)
	if err != nil {
		o.mu.Lock()
		defer o.mu.Unlock()
		if ctx.Err() != nil {
			return o.state, ctx.Err()
		}
		if errors.Is(err, payment.ErrTimeout) {
			// The pending payment survives a timeout. The user decides:
			// retry the wait, re-check by hand, or cancel explicitly.
			return o.state, o.applyFail(token, err)
		}
		aerr := o.apply(token, func() {
			o.state = StateEmailEntry
			o.checkout = nil
			o.lastErr = err
		})
		if aerr != nil {
			return o.state, aerr
		}
		return o.state, err
	}

	return o.settle(ctx, token, email)
}

// CheckPayment runs one manual status query for the pending payment. Safe to
// call any number of times while the payment is open; an unpaid answer is not
// an error. The first confirmed answer supersedes the background wait and
// settles the session.
func (o *Orchestrator) CheckPayment(ctx context.Context) (State, error) {
	o.mu.Lock()
	if o.state != StatePaymentPending || o.checkout == nil {
		defer o.mu.Unlock()
		return o.state, errors.New("no payment is pending")
	}
	paymentID := o.checkout.PaymentID
	email := o.gate.Email()
	o.mu.Unlock()

	status, err := o.flow.CheckStatus(ctx, paymentID)
	if err != nil {
		return o.State(), err
	}
	if status == nil { // not paid yet
		return o.State(), nil
	}

	o.mu.Lock()
	token := o.begin()
	o.mu.Unlock()
	return o.settle(ctx, token, email)
}

// CancelPayment abandons the pending payment at the user's request. The
// checkout handle and the entered email are dropped with it.
func (o *Orchestrator) CancelPayment() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StatePaymentPending {
		return o.state
	}
	o.begin()
	o.state = StateEmailEntry
	o.checkout = nil
	o.lastErr = nil
	o.gate.Forget()
	return o.state
}

// settle re-checks the session after a confirmed payment: the hub's record
// is authoritative for expiry and quota.
func (o *Orchestrator) settle(ctx context.Context, token uint64, email string) (State, error) {
	resp, cerr := o.gate.Check(ctx, email)

	o.mu.Lock()
	defer o.mu.Unlock()
	aerr := o.apply(token, func() {
		o.checkout = nil
		if cerr == nil && resp.HasSession && resp.IsActive {
			o.state = StateReady
			o.lastErr = nil
		} else {
			// Paid but the session is not visible yet; retry from email entry.
			o.state = StateEmailEntry
			o.lastErr = cerr
		}
	})
	if aerr != nil {
		return o.state, aerr
	}
	return o.state, cerr
}

// Generate spends one style permit. The session is re-validated at this
// edge; the permit is marked spent and the inputs lock only after the hub
// confirms content was produced.
func (o *Orchestrator) Generate(ctx context.Context, style api.StyleID, useCached bool) (State, error) {
	o.mu.Lock()
	if o.state != StateReady {
		defer o.mu.Unlock()
		return o.state, errors.New("not ready to generate")
	}
	if !o.gate.Quota().Available(style) {
		defer o.mu.Unlock()
		return o.state, backend.ErrStyleUsed
	}
	token := o.begin()
	o.state = StateAnalyzing
	o.mu.Unlock()

	if err := o.gate.RequireValid(ctx); err != nil {
		return o.settleInvalid(token, err)
	}

	inputs := o.gate.Inputs()
	email := o.gate.Email()

	resp, err := o.backend.Generate(ctx, api.GenerateRequest{
		URL:       inputs.URL(),
		Email:     email,
		Style:     style,
		Occasion:  inputs.Occasion(),
		UseCached: useCached,
	})

	o.mu.Lock()
	if err != nil {
		defer o.mu.Unlock()
		switch {
		case errors.Is(err, backend.ErrSessionExpired), errors.Is(err, backend.ErrNoSession):
			// The session died out from under us, whether the hub still has
			// the record or already purged it.
			aerr := o.apply(token, func() {
				o.gate.BeginTermination(gate.ReasonExpired)
				o.state = StateTerminated
				o.lastErr = err
			})
			if aerr != nil {
				return o.state, aerr
			}
			return o.state, err
		case errors.Is(err, backend.ErrStyleUsed):
			// The hub already counted this permit; trust it locally too.
			aerr := o.apply(token, func() {
				o.gate.Quota().MarkUsed(style)
				o.state = StateReady
				o.lastErr = err
			})
			if aerr != nil {
				return o.state, aerr
			}
			return o.state, err
		default:
			// Transport or server failure: the permit was not spent and the
			// inputs stay editable, stay ready for a retry.
			return o.state, o.applyTo(token, StateReady, err)
		}
	}

	aerr := o.apply(token, func() {
		o.gate.Quota().MarkUsed(style)
		o.gate.Inputs().Lock()
		o.result = resp
		o.state = StateResults
		o.lastErr = nil
	})
	o.mu.Unlock()
	if aerr != nil {
		return o.State(), aerr
	}

	// Reconcile the ledger with the hub's post-generation record. Best
	// effort: a failed check leaves the local ledger, which already marked
	// the permit, in charge.
	if _, cerr := o.gate.Check(ctx, email); cerr != nil {
		o.logger.Warn("post-generation session check failed", "error", cerr)
	}
	o.logger.Info("generation complete", "style", style, "cached", resp.Cached)
	return o.State(), nil
}

// CloseResults leaves the results screen: back to the menu while the session
// holds up, otherwise into the termination modal. Leaving a resource-bearing
// screen re-checks against the hub, because the session can expire or be
// drained elsewhere while the user reads; a failed check falls back to the
// local ledger.
func (o *Orchestrator) CloseResults(ctx context.Context) State {
	o.mu.Lock()
	if o.state != StateResults {
		defer o.mu.Unlock()
		return o.state
	}
	token := o.begin()
	email := o.gate.Email()
	o.mu.Unlock()

	resp, err := o.gate.Check(ctx, email)

	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case err == nil && (!resp.HasSession || !resp.IsActive):
		_ = o.apply(token, func() {
			o.gate.BeginTermination(gate.ReasonExpired)
			o.state = StateTerminated
		})
	case o.gate.Quota().Exhausted():
		_ = o.apply(token, func() {
			o.gate.BeginTermination(gate.ReasonExhausted)
			o.state = StateTerminated
		})
	default:
		_ = o.apply(token, func() { o.state = StateReady })
	}
	return o.state
}

// RequestTermination ends the session at the user's request. The modal is
// shown first; nothing is deleted until AcknowledgeTermination.
func (o *Orchestrator) RequestTermination() State {
	o.gate.BeginTermination(gate.ReasonUserRequested)
	o.mu.Lock()
	o.begin() // invalidate any in-flight work
	o.state = StateTerminated
	o.mu.Unlock()
	return StateTerminated
}

// AcknowledgeTermination completes the handshake: remote delete, local
// clear, then straight into a fresh payment for the same address — the
// session is gone, so the only way forward is to buy another. On a failed
// delete the modal stays up for a retry.
func (o *Orchestrator) AcknowledgeTermination(ctx context.Context) (State, error) {
	email := o.gate.Email()
	if err := o.gate.Acknowledge(ctx); err != nil {
		return o.State(), err
	}
	o.mu.Lock()
	o.begin()
	o.state = StateEmailEntry
	o.checkout = nil
	o.result = nil
	o.lastErr = nil
	o.mu.Unlock()
	if email == "" {
		return o.State(), nil
	}
	return o.SubmitEmail(ctx, email)
}

// settleInvalid maps a failed pre-generation check onto the right screen.
func (o *Orchestrator) settleInvalid(token uint64, err error) (State, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case errors.Is(err, backend.ErrSessionExpired):
		return o.state, o.applyTo(token, StateTerminated, err)
	case errors.Is(err, gate.ErrNoActiveSession):
		if _, pending := o.gate.PendingTermination(); pending {
			return o.state, o.applyTo(token, StateTerminated, err)
		}
		// The record vanished without us observing the expiry; same outcome.
		aerr := o.apply(token, func() {
			o.gate.BeginTermination(gate.ReasonExpired)
			o.state = StateTerminated
			o.lastErr = err
		})
		if aerr != nil {
			return o.state, aerr
		}
		return o.state, err
	default:
		return o.state, o.applyTo(token, StateReady, err)
	}
}

// applyTo records err and moves to next iff the token is current. Returns
// err (not the staleness sentinel) so callers surface the original cause.
func (o *Orchestrator) applyTo(token uint64, next State, err error) error {
	if aerr := o.apply(token, func() {
		o.state = next
		o.lastErr = err
	}); aerr != nil {
		return aerr
	}
	return err
}

// fail records an error without changing screens.
func (o *Orchestrator) fail(s State, err error) (State, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastErr = err
	return s, err
}

// applyFail records err iff the token is current.
func (o *Orchestrator) applyFail(token uint64, err error) error {
	if aerr := o.apply(token, func() { o.lastErr = err }); aerr != nil {
		return aerr
	}
	return err
}
