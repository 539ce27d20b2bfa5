// Package payment drives the client side of a purchase: open a payment,
// hand the user the checkout URL, then wait for settlement on two channels
// at once — a fixed-interval status poll and the hub's push notification.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/postforge-ai/postforge/client/internal/backend"
	"github.com/postforge-ai/postforge/client/internal/config"
	"github.com/postforge-ai/postforge/client/internal/eventbus"
	"github.com/postforge-ai/postforge/pkg/api"
)

var (
	// ErrTimeout means the poll budget ran out with no settlement.
	ErrTimeout = errors.New("payment confirmation timed out")
	// ErrCanceled means the provider reported the payment canceled.
	ErrCanceled = errors.New("payment was canceled")
)

// Flow runs payment creation and the settlement wait.
type Flow struct {
	backend      *backend.Client
	bus          *eventbus.Bus
	logger       *slog.Logger
	pollInterval time.Duration
	maxPolls     int
}

// New creates a payment flow.
func New(b *backend.Client, bus *eventbus.Bus, cfg config.PaymentConfig, logger *slog.Logger) *Flow {
	return &Flow{
		backend:      b,
		bus:          bus,
		logger:       logger.With("component", "payment"),
		pollInterval: cfg.PollInterval.Duration,
		maxPolls:     cfg.MaxPolls,
	}
}

// Create opens a payment for the email and returns the checkout handle.
func (f *Flow) Create(ctx context.Context, email string) (*api.PaymentCreateResponse, error) {
	resp, err := f.backend.CreatePayment(ctx, email)
	if err != nil {
		return nil, err
	}
	f.logger.Info("payment opened", "payment_id", resp.PaymentID)
	return resp, nil
}

// Await blocks until the payment settles, the poll budget runs out, or the
// context is canceled. Settlement can arrive on either channel: the periodic
// poll, or a pushed payment.success event. A push is treated as a hint — it
// triggers an immediate confirmatory status query, and only the hub's answer
// decides. Whichever channel confirms first ends the wait; the other stops
// with it.
func (f *Flow) Await(ctx context.Context, paymentID string) (*api.PaymentStatusResponse, error) {
	events := f.bus.Subscribe(eventbus.PaymentSuccess)
	defer f.bus.Unsubscribe(events)

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	polls := 0
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-ticker.C:
			polls++
			status, err := f.query(ctx, paymentID)
			if errors.Is(err, ErrCanceled) {
				return nil, err
			}
			if err != nil {
				// Transient poll failures burn budget but do not abort: the
				// payment may still settle on a later poll or via push.
				f.logger.Warn("payment poll failed", "payment_id", paymentID, "error", err)
			} else if status != nil {
				return status, nil
			}
			if polls >= f.maxPolls {
				f.logger.Warn("payment confirmation timed out",
					"payment_id", paymentID, "polls", polls)
				return nil, ErrTimeout
			}

		case e, ok := <-events:
			if !ok {
				// Bus closed underneath us; the poll channel keeps working.
				events = nil
				continue
			}
			if !matches(e, paymentID) {
				continue
			}
			f.logger.Debug("payment push received", "payment_id", paymentID)
			status, err := f.query(ctx, paymentID)
			if errors.Is(err, ErrCanceled) {
				return nil, err
			}
			if err != nil {
				f.logger.Warn("confirmatory status query failed",
					"payment_id", paymentID, "error", err)
				continue
			}
			if status != nil {
				return status, nil
			}
			// Push said paid but the hub disagrees: keep waiting, the poll
			// budget still applies.
		}
	}
}

// CheckStatus runs one confirmatory status query, the same one the push
// channel uses. Idempotent: it may be called any number of times with no
// side effect beyond the query itself. A "not paid yet" answer is
// (nil, nil), not an error.
func (f *Flow) CheckStatus(ctx context.Context, paymentID string) (*api.PaymentStatusResponse, error) {
	return f.query(ctx, paymentID)
}

// query fetches the payment status. It returns (status, nil) only on a
// terminal answer: settled, or canceled as ErrCanceled. A pending answer
// returns (nil, nil).
func (f *Flow) query(ctx context.Context, paymentID string) (*api.PaymentStatusResponse, error) {
	status, err := f.backend.PaymentStatus(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if status.Paid {
		f.logger.Info("payment confirmed", "payment_id", paymentID)
		return status, nil
	}
	if status.Status == "canceled" {
		return nil, ErrCanceled
	}
	return nil, nil
}

func matches(e eventbus.Event, paymentID string) bool {
	var payload api.PaymentSuccess
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		return false
	}
	// An event without a payment id is taken as a hint for any open payment.
	return payload.PaymentID == "" || payload.PaymentID == paymentID
}
