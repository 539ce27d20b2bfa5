// Package store defines the storage interface for the hub and provides
// SQLite and PostgreSQL implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/postforge-ai/postforge/pkg/api"
)

// ErrFieldBound is returned when a bound session field is written a second time.
var ErrFieldBound = errors.New("session field is already bound")

// Store is the persistence interface for the hub.
// Not-found lookups return (nil, nil).
type Store interface {
	// Client sessions
	CreateSession(ctx context.Context, sess *Session) error // replaces any prior record for the email
	GetSession(ctx context.Context, email string) (*Session, error)
	BindSessionFields(ctx context.Context, email, url, occasion string) error // first non-empty write wins
	MarkStyleUsed(ctx context.Context, email string, style api.StyleID) error
	DeleteSession(ctx context.Context, email string) error
	PurgeExpiredSessions(ctx context.Context, before time.Time) (int64, error)

	// Payments
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id string) (*Payment, error)
	SetPaymentStatus(ctx context.Context, id, status string) error

	// Admin users
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, username string) (*User, error)

	// Service parameters (price, session duration)
	GetParam(ctx context.Context, key string) (string, error)
	SetParam(ctx context.Context, key, value string) error

	// Health
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Session is one paid access grant, keyed by email. The style flags are the
// per-session usage bitmap: 1 = unused, 0 = spent. Flags only ever move 1→0.
type Session struct {
	Email     string              `json:"email"`
	URL       string              `json:"url"`
	Info      string              `json:"info"`
	Styles    map[api.StyleID]int `json:"styles"`
	PaymentID string              `json:"payment_id"`
	Amount    int                 `json:"amount"`
	ExpiresAt time.Time           `json:"expires_at"`
	CreatedAt time.Time           `json:"created_at"`
}

// NewSession builds a fresh paid session with every style unused.
func NewSession(email, paymentID string, amount int, duration time.Duration) *Session {
	styles := make(map[api.StyleID]int, len(api.Styles))
	for _, s := range api.Styles {
		styles[s] = 1
	}
	now := time.Now()
	return &Session{
		Email:     email,
		Styles:    styles,
		PaymentID: paymentID,
		Amount:    amount,
		ExpiresAt: now.Add(duration),
		CreatedAt: now,
	}
}

// Active reports whether the session is still inside its paid window.
func (s *Session) Active(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// HasUnusedStyles reports whether any style permit is still available.
func (s *Session) HasUnusedStyles() bool {
	for _, v := range s.Styles {
		if v == 1 {
			return true
		}
	}
	return false
}

// Payment is the hub's record of a provider payment.
type Payment struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Status    string    `json:"status"` // "pending", "succeeded", "canceled"
	Amount    int       `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// User is an admin account for the params API.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Well-known parameter keys.
const (
	ParamPrice           = "price"
	ParamDurationMinutes = "duration_minutes"
)
