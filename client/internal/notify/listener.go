// Package notify maintains the client's WebSocket connection to the hub's
// notify channel and republishes pushed events onto the internal bus.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/postforge-ai/postforge/client/internal/backend"
	"github.com/postforge-ai/postforge/client/internal/config"
	"github.com/postforge-ai/postforge/client/internal/eventbus"
	"github.com/postforge-ai/postforge/pkg/api"
)

// Listener is the client end of the notify channel.
type Listener struct {
	backend   *backend.Client
	bus       *eventbus.Bus
	logger    *slog.Logger
	baseDelay time.Duration
	maxDelay  time.Duration
}

// New creates a notify listener.
func New(b *backend.Client, bus *eventbus.Bus, cfg config.HubConfig, logger *slog.Logger) *Listener {
	return &Listener{
		backend:   b,
		bus:       bus,
		logger:    logger.With("component", "notify"),
		baseDelay: cfg.ReconnectInterval.Duration,
		maxDelay:  cfg.MaxReconnectDelay.Duration,
	}
}

// Run connects for the given email and keeps the connection alive with
// exponential backoff until the context is canceled. The listener is an
// accelerator, not a dependency: settlement still lands via polling when the
// channel is down, so connection failures are logged and retried, never fatal.
func (l *Listener) Run(ctx context.Context, email string) error {
	delay := l.baseDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := l.listenOnce(ctx, email)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Warn("notify connection lost", "error", err)

		l.bus.PublishType(eventbus.NotifyReconnecting, map[string]string{"email": email})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > l.maxDelay {
			delay = l.maxDelay
		}
	}
}

func (l *Listener) listenOnce(ctx context.Context, email string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, l.backend.NotifyURL(email), nil)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	l.logger.Info("notify channel connected", "email", email)
	l.bus.PublishType(eventbus.NotifyConnected, map[string]string{"email": email})
	defer l.bus.PublishType(eventbus.NotifyDisconnected, map[string]string{"email": email})

	// Close the socket when the context ends so the blocking read returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env api.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			l.logger.Warn("invalid notify message", "error", err)
			continue
		}
		l.dispatch(env)
	}
}

func (l *Listener) dispatch(env api.Envelope) {
	switch env.Type {
	case api.TypePaymentSuccess:
		// Re-marshal the payload so subscribers decode the typed form.
		raw, _ := json.Marshal(env.Payload)
		var payload api.PaymentSuccess
		_ = json.Unmarshal(raw, &payload)
		l.logger.Info("payment success pushed", "payment_id", payload.PaymentID)
		l.bus.PublishType(eventbus.PaymentSuccess, payload)
	default:
		l.logger.Debug("unhandled notify event", "type", env.Type)
	}
}
