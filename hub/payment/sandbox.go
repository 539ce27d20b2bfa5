package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SandboxProvider is an in-memory provider for development and tests.
// Payments stay pending until Complete or Cancel is called.
type SandboxProvider struct {
	mu       sync.Mutex
	payments map[string]*StatusResult
}

// NewSandbox creates an empty sandbox provider.
func NewSandbox() *SandboxProvider {
	return &SandboxProvider{payments: make(map[string]*StatusResult)}
}

func (p *SandboxProvider) Create(_ context.Context, req CreateRequest) (*CreateResult, error) {
	id := uuid.New().String()

	p.mu.Lock()
	p.payments[id] = &StatusResult{
		ID:     id,
		Status: StatusPending,
		Email:  req.Email,
		Amount: req.Amount,
	}
	p.mu.Unlock()

	return &CreateResult{
		ID:              id,
		ConfirmationURL: "https://sandbox.invalid/pay/" + id,
		Status:          StatusPending,
	}, nil
}

func (p *SandboxProvider) Status(_ context.Context, id string) (*StatusResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pm, ok := p.payments[id]
	if !ok {
		return nil, fmt.Errorf("unknown payment: %s", id)
	}
	cp := *pm
	return &cp, nil
}

// Complete marks a sandbox payment as paid.
func (p *SandboxProvider) Complete(id string) error {
	return p.setStatus(id, StatusSucceeded)
}

// Cancel marks a sandbox payment as canceled.
func (p *SandboxProvider) Cancel(id string) error {
	return p.setStatus(id, StatusCanceled)
}

func (p *SandboxProvider) setStatus(id, status string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	pm, ok := p.payments[id]
	if !ok {
		return fmt.Errorf("unknown payment: %s", id)
	}
	pm.Status = status
	pm.Paid = status == StatusSucceeded
	return nil
}
