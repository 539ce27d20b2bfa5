// Package gate owns the client's session state: which email is bound, what
// the hub last said about the session, the local permit ledger, and the
// two-phase termination handshake.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/postforge-ai/postforge/client/internal/backend"
	"github.com/postforge-ai/postforge/client/internal/eventbus"
	"github.com/postforge-ai/postforge/client/internal/inputlock"
	"github.com/postforge-ai/postforge/client/internal/quota"
	"github.com/postforge-ai/postforge/pkg/api"
)

// Reason says why a session is being terminated.
type Reason string

const (
	ReasonExpired       Reason = "session_expired"
	ReasonExhausted     Reason = "styles_exhausted"
	ReasonUserRequested Reason = "user_requested"
)

// ErrNoActiveSession is returned by RequireValid when the gate holds no
// usable session at all.
var ErrNoActiveSession = errors.New("no active session")

// Snapshot is the gate's current view of the session.
type Snapshot struct {
	Email     string
	Active    bool
	ExpiresAt time.Time
	URL       string
	Occasion  string
	Remaining int
}

// Gate mediates all session checks and the termination handshake.
type Gate struct {
	backend *backend.Client
	bus     *eventbus.Bus
	logger  *slog.Logger

	mu        sync.Mutex
	email     string
	active    bool
	expiresAt time.Time
	quota     *quota.StyleQuota
	inputs    *inputlock.Controller
	pending   Reason // recorded termination awaiting acknowledgement, "" when none
}

// New creates a gate with no bound session.
func New(b *backend.Client, bus *eventbus.Bus, logger *slog.Logger) *Gate {
	return &Gate{
		backend: b,
		bus:     bus,
		logger:  logger.With("component", "gate"),
		quota:   quota.NewFull(),
		inputs:  inputlock.New(),
	}
}

// Quota exposes the local permit ledger.
func (g *Gate) Quota() *quota.StyleQuota {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.quota
}

// Inputs exposes the url/occasion lock controller.
func (g *Gate) Inputs() *inputlock.Controller {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inputs
}

// Email returns the bound email, or "" when none is set.
func (g *Gate) Email() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.email
}

// Check queries the hub for the email's session and folds the answer into
// local state. It never resurrects locally spent permits and never unbinds
// locally bound inputs.
func (g *Gate) Check(ctx context.Context, email string) (*api.SessionCheckResponse, error) {
	resp, err := g.backend.CheckSession(ctx, email)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.email = email
	g.active = resp.HasSession && resp.IsActive
	if resp.ExpiresAt != nil {
		g.expiresAt = *resp.ExpiresAt
	}
	q, in := g.quota, g.inputs
	g.mu.Unlock()

	if resp.HasSession && resp.IsActive {
		q.Merge(resp.AvailableStyles)
		in.Adopt(resp.URL, resp.Info)
	}

	g.logger.Debug("session checked", "email", email,
		"has_session", resp.HasSession, "is_active", resp.IsActive)
	return resp, nil
}

// Activate installs a freshly issued session: full quota, the given expiry,
// and active state. Called after a payment settles.
func (g *Gate) Activate(email string, expiresAt time.Time) {
	g.mu.Lock()
	g.email = email
	g.active = true
	g.expiresAt = expiresAt
	g.pending = ""
	g.quota = quota.NewFull()
	g.mu.Unlock()
	g.logger.Info("session activated", "email", email, "expires_at", expiresAt)
}

// RequireValid re-checks the session against the hub right before a permit
// would be spent. An invalid session records the matching termination reason
// and reports why. Transport failures do not terminate: the outcome is
// unknown, so the session survives for a retry.
func (g *Gate) RequireValid(ctx context.Context) error {
	g.mu.Lock()
	email := g.email
	g.mu.Unlock()
	if email == "" {
		return ErrNoActiveSession
	}

	resp, err := g.Check(ctx, email)
	if err != nil {
		return err
	}
	if !resp.HasSession {
		g.mu.Lock()
		g.active = false
		g.mu.Unlock()
		return ErrNoActiveSession
	}
	if !resp.IsActive {
		g.BeginTermination(ReasonExpired)
		return backend.ErrSessionExpired
	}
	if g.Quota().Exhausted() {
		g.BeginTermination(ReasonExhausted)
		return ErrNoActiveSession
	}
	return nil
}

// BeginTermination records why the session is ending and announces it. The
// first recorded reason wins; the session is not touched until the user
// acknowledges via Acknowledge.
func (g *Gate) BeginTermination(reason Reason) {
	g.mu.Lock()
	if g.pending != "" {
		g.mu.Unlock()
		return
	}
	g.pending = reason
	email := g.email
	g.mu.Unlock()

	g.logger.Info("session termination recorded", "email", email, "reason", reason)
	g.bus.PublishType(eventbus.SessionTerminated, map[string]string{
		"email":  email,
		"reason": string(reason),
	})
}

// Forget drops the bound email without touching the hub. Used when the user
// abandons a payment before any session exists.
func (g *Gate) Forget() {
	g.mu.Lock()
	g.email = ""
	g.active = false
	g.expiresAt = time.Time{}
	g.mu.Unlock()
}

// PendingTermination returns the recorded reason, if any.
func (g *Gate) PendingTermination() (Reason, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending, g.pending != ""
}

// Acknowledge completes a recorded termination: the hub record is deleted
// first, then local state is cleared. If the remote delete fails the local
// state is kept so the user can acknowledge again.
func (g *Gate) Acknowledge(ctx context.Context) error {
	g.mu.Lock()
	email := g.email
	pending := g.pending
	g.mu.Unlock()
	if pending == "" {
		return nil
	}

	if email != "" {
		if err := g.backend.DeleteSession(ctx, email); err != nil {
			g.logger.Warn("remote session delete failed", "email", email, "error", err)
			return err
		}
	}

	g.mu.Lock()
	g.email = ""
	g.active = false
	g.expiresAt = time.Time{}
	g.pending = ""
	g.quota = quota.NewFull()
	g.inputs = inputlock.New()
	g.mu.Unlock()

	g.logger.Info("session terminated", "email", email, "reason", pending)
	return nil
}

// Snapshot returns the gate's current view for display.
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{
		Email:     g.email,
		Active:    g.active,
		ExpiresAt: g.expiresAt,
		URL:       g.inputs.URL(),
		Occasion:  g.inputs.Occasion(),
		Remaining: g.quota.Remaining(),
	}
}
