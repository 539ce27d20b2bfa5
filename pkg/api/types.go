// Package api defines the wire types exchanged between the Postforge client
// and the hub (HTTP JSON bodies and the WebSocket notify envelope), plus the
// fixed style catalog both sides share.
package api

import "time"

// SessionCheckResponse is the hub's answer to a session gate check.
// HasSession/IsActive are always set; the remaining fields are only
// populated for a live session.
type SessionCheckResponse struct {
	HasSession      bool            `json:"has_session"`
	IsActive        bool            `json:"is_active"`
	Email           string          `json:"email,omitempty"`
	URL             string          `json:"url,omitempty"`
	Info            string          `json:"info,omitempty"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	AvailableStyles map[StyleID]int `json:"available_styles,omitempty"` // 1 = unused, 0 = spent
	HasUnusedStyles *bool           `json:"has_unused_styles,omitempty"`
	Message         string          `json:"message,omitempty"`
}

// SessionUpdateRequest binds the URL and occasion fields to a session.
// Each field is first-write-wins: once non-empty in the record it is
// immutable and further writes are rejected.
type SessionUpdateRequest struct {
	Email    string `json:"email"`
	URL      string `json:"url,omitempty"`
	Occasion string `json:"occasion,omitempty"`
}

// PaymentCreateRequest asks the hub to open a payment for an email.
// Amount and session duration are hub-side parameters, never client input.
type PaymentCreateRequest struct {
	Email string `json:"email"`
}

// PaymentCreateResponse carries the provider's checkout handle.
type PaymentCreateResponse struct {
	PaymentID       string `json:"payment_id"`
	ConfirmationURL string `json:"confirmation_url"`
	Status          string `json:"status"`
}

// PaymentStatusResponse reports whether a payment has settled.
// paid=false is a valid "not yet" answer, not an error.
type PaymentStatusResponse struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	Paid      bool   `json:"paid"`
}

// PriceResponse exposes the current access price and session duration.
type PriceResponse struct {
	Price           int    `json:"price"`
	Currency        string `json:"currency"`
	DurationMinutes int    `json:"duration_minutes"`
}

// GenerateRequest asks the hub to produce posts for a site in one style.
type GenerateRequest struct {
	URL       string  `json:"url"`
	Email     string  `json:"email"`
	Style     StyleID `json:"style"`
	Occasion  string  `json:"occasion,omitempty"`
	UseCached bool    `json:"use_cached,omitempty"`
}

// GenerateResponse is the generated content plus delivery metadata.
type GenerateResponse struct {
	Content           string `json:"content"`
	Cached            bool   `json:"cached"`
	Truncated         bool   `json:"truncated"`
	TruncationMessage string `json:"truncation_message,omitempty"`
}

// ErrorResponse is the hub's JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Notify envelope types pushed over the WebSocket notify channel.
const (
	TypePaymentSuccess = "payment.success"
)

// Envelope is the top-level wire format for notify messages.
type Envelope struct {
	Type      string    `json:"type"`
	Email     string    `json:"email,omitempty"`
	Timestamp time.Time `json:"ts"`
	Payload   any       `json:"payload,omitempty"`
}

// PaymentSuccess is the payload of a payment.success envelope.
type PaymentSuccess struct {
	PaymentID string `json:"payment_id"`
}
