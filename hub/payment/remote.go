package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/postforge-ai/postforge/hub/config"
)

// RemoteProvider talks to an external payment gateway over HTTP JSON.
type RemoteProvider struct {
	baseURL string
	apiKey  string
	shopID  string
	client  *http.Client
}

// NewRemote creates a RemoteProvider from config.
func NewRemote(cfg config.PaymentConfig) *RemoteProvider {
	return &RemoteProvider{
		baseURL: cfg.URL,
		apiKey:  cfg.APIKey,
		shopID:  cfg.ShopID,
		client:  &http.Client{Timeout: cfg.Timeout.Duration},
	}
}

type remoteCreateRequest struct {
	Amount       remoteAmount       `json:"amount"`
	Description  string             `json:"description,omitempty"`
	Confirmation remoteConfirmation `json:"confirmation"`
	Metadata     map[string]string  `json:"metadata,omitempty"`
	Capture      bool               `json:"capture"`
}

type remoteAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type remoteConfirmation struct {
	Type      string `json:"type"`
	ReturnURL string `json:"return_url,omitempty"`
	URL       string `json:"confirmation_url,omitempty"`
}

type remotePayment struct {
	ID           string             `json:"id"`
	Status       string             `json:"status"`
	Paid         bool               `json:"paid"`
	Amount       remoteAmount       `json:"amount"`
	Confirmation remoteConfirmation `json:"confirmation"`
	Metadata     map[string]string  `json:"metadata,omitempty"`
}

func (p *RemoteProvider) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	meta := map[string]string{"email": req.Email}
	for k, v := range req.Metadata {
		meta[k] = v
	}

	body, err := json.Marshal(remoteCreateRequest{
		Amount:       remoteAmount{Value: fmt.Sprintf("%d.00", req.Amount), Currency: "RUB"},
		Description:  req.Description,
		Confirmation: remoteConfirmation{Type: "redirect", ReturnURL: req.ReturnURL},
		Metadata:     meta,
		Capture:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/payments", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// Provider requires a unique key per create so retries never double-charge.
	httpReq.Header.Set("Idempotence-Key", uuid.New().String())
	httpReq.SetBasicAuth(p.shopID, p.apiKey)

	var created remotePayment
	if err := p.do(httpReq, &created); err != nil {
		return nil, err
	}
	if created.ID == "" || created.Confirmation.URL == "" {
		return nil, fmt.Errorf("provider returned incomplete payment data")
	}

	return &CreateResult{
		ID:              created.ID,
		ConfirmationURL: created.Confirmation.URL,
		Status:          created.Status,
	}, nil
}

func (p *RemoteProvider) Status(ctx context.Context, id string) (*StatusResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/payments/"+id, nil)
	if err != nil {
		return nil, err
	}
	httpReq.SetBasicAuth(p.shopID, p.apiKey)

	var pm remotePayment
	if err := p.do(httpReq, &pm); err != nil {
		return nil, err
	}

	return &StatusResult{
		ID:     pm.ID,
		Status: pm.Status,
		Paid:   pm.Status == StatusSucceeded,
		Email:  pm.Metadata["email"],
	}, nil
}

func (p *RemoteProvider) do(req *http.Request, out any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode provider response: %w", err)
	}
	return nil
}
