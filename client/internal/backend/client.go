// Package backend is the client's HTTP access layer to the hub. It owns
// request plumbing and translates hub status codes into the classified
// error values the rest of the client branches on.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/postforge-ai/postforge/client/internal/config"
	"github.com/postforge-ai/postforge/pkg/api"
)

// Client talks to the hub's HTTP API.
type Client struct {
	baseURL      string
	http         *http.Client
	generateHTTP *http.Client
	logger       *slog.Logger
}

// New creates a hub API client.
func New(cfg config.HubConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimRight(cfg.URL, "/"),
		http:         &http.Client{Timeout: cfg.Timeout.Duration},
		generateHTTP: &http.Client{Timeout: cfg.GenerateTimeout.Duration},
		logger:       logger.With("component", "backend"),
	}
}

// NotifyURL returns the WebSocket notify endpoint for an email.
func (c *Client) NotifyURL(email string) string {
	wsBase := c.baseURL
	switch {
	case strings.HasPrefix(wsBase, "https://"):
		wsBase = "wss://" + strings.TrimPrefix(wsBase, "https://")
	case strings.HasPrefix(wsBase, "http://"):
		wsBase = "ws://" + strings.TrimPrefix(wsBase, "http://")
	}
	return wsBase + "/ws/notify?email=" + url.QueryEscape(email)
}

// CheckSession asks the hub whether the email has a session and what state
// it is in. A missing or expired session is a normal answer, not an error.
func (c *Client) CheckSession(ctx context.Context, email string) (*api.SessionCheckResponse, error) {
	var resp api.SessionCheckResponse
	path := "/api/session/check/" + url.PathEscape(email)
	if err := c.do(ctx, c.http, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateSession binds the URL and occasion fields on the hub record.
func (c *Client) UpdateSession(ctx context.Context, req api.SessionUpdateRequest) error {
	return c.do(ctx, c.http, http.MethodPost, "/api/session/update", req, nil)
}

// DeleteSession removes the hub-side session record. Idempotent.
func (c *Client) DeleteSession(ctx context.Context, email string) error {
	path := "/api/session/delete/" + url.PathEscape(email)
	return c.do(ctx, c.http, http.MethodDelete, path, nil, nil)
}

// CreatePayment opens a payment for the email and returns the checkout handle.
func (c *Client) CreatePayment(ctx context.Context, email string) (*api.PaymentCreateResponse, error) {
	var resp api.PaymentCreateResponse
	err := c.do(ctx, c.http, http.MethodPost, "/api/payment/create", api.PaymentCreateRequest{Email: email}, &resp)
	if err != nil {
		// Everything that stops a payment from opening maps to one kind, so
		// the flow above has a single failure path to show the user.
		var herr *Error
		if errors.As(err, &herr) && herr.Kind != KindValidation && herr.Kind != KindRateLimited {
			return nil, &Error{Kind: KindPaymentCreate, Status: herr.Status, Message: herr.Message}
		}
		return nil, err
	}
	return &resp, nil
}

// PaymentStatus polls the settlement state of one payment.
func (c *Client) PaymentStatus(ctx context.Context, paymentID string) (*api.PaymentStatusResponse, error) {
	var resp api.PaymentStatusResponse
	path := "/api/payment/status/" + url.PathEscape(paymentID)
	if err := c.do(ctx, c.http, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Price fetches the current access price and session duration.
func (c *Client) Price(ctx context.Context) (*api.PriceResponse, error) {
	var resp api.PriceResponse
	if err := c.do(ctx, c.http, http.MethodGet, "/api/payment/price", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Generate requests post content. This is the one long call in the API; it
// uses the generation timeout instead of the default request timeout.
func (c *Client) Generate(ctx context.Context, req api.GenerateRequest) (*api.GenerateResponse, error) {
	var resp api.GenerateResponse
	if err := c.do(ctx, c.generateHTTP, http.MethodPost, "/api/generate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do runs one request and classifies any failure.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Kind: KindTransport, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("hub request", "method", method, "path", path,
		"status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &Error{Kind: KindServer, Status: resp.StatusCode,
				Message: "malformed response: " + err.Error()}
		}
		return nil
	}

	return classify(resp.StatusCode, readErrorMessage(resp.Body))
}

func readErrorMessage(r io.Reader) string {
	var e api.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&e); err == nil && e.Error != "" {
		return e.Error
	}
	return ""
}

// classify maps a hub status code to an error kind. The 400 family is split
// by the hub's message: a spent style permit also arrives as 400.
func classify(status int, message string) *Error {
	kind := KindServer
	switch {
	case status == http.StatusForbidden:
		kind = KindNoSession
	case status == http.StatusGone:
		kind = KindSessionExpired
	case status == http.StatusConflict:
		kind = KindFieldBound
	case status == http.StatusUnprocessableEntity:
		kind = KindValidation
	case status == http.StatusTooManyRequests:
		kind = KindRateLimited
	case status == http.StatusBadRequest:
		if strings.Contains(message, "style") {
			kind = KindStyleUsed
		} else {
			kind = KindValidation
		}
	}
	return &Error{Kind: kind, Status: status, Message: message}
}
