// Package payment defines the upstream payment provider interface and its
// remote and sandbox implementations. The hub is the only component that
// talks to the provider; clients only ever see payment IDs and checkout URLs.
package payment

import (
	"context"
	"fmt"

	"github.com/postforge-ai/postforge/hub/config"
)

// Payment statuses as the hub reports them.
const (
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusCanceled  = "canceled"
)

// CreateRequest describes a payment to open with the provider.
type CreateRequest struct {
	Email       string
	Amount      int
	Description string
	ReturnURL   string
	Metadata    map[string]string
}

// CreateResult is the provider's checkout handle.
type CreateResult struct {
	ID              string
	ConfirmationURL string
	Status          string
}

// StatusResult is the provider's view of one payment.
type StatusResult struct {
	ID     string
	Status string
	Paid   bool
	Email  string
	Amount int
}

// Provider is the upstream payment gateway.
type Provider interface {
	Create(ctx context.Context, req CreateRequest) (*CreateResult, error)
	Status(ctx context.Context, id string) (*StatusResult, error)
}

// New creates a Provider based on the configured payment backend.
func New(cfg config.PaymentConfig) (Provider, error) {
	switch cfg.Provider {
	case "remote":
		return NewRemote(cfg), nil
	case "sandbox", "":
		return NewSandbox(), nil
	default:
		return nil, fmt.Errorf("unsupported payment provider: %q", cfg.Provider)
	}
}
