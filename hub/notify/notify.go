// Package notify manages the WebSocket notify channel: clients register by
// email and the hub pushes payment events to them. The channel is push-only;
// anything a client sends besides pings is dropped.
package notify

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/postforge-ai/postforge/pkg/api"
)

const writeTimeout = 10 * time.Second

// makeUpgrader creates a WebSocket upgrader with origin checking. Browser
// connections from an origin outside the allow-list are refused at upgrade
// time, so payment events are only ever delivered to trusted origins.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(v)
}

// Hub fans notify envelopes out to the connections registered for an email.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu    sync.RWMutex
	conns map[string]map[string]*conn // email -> conn_id -> conn
}

// New creates a notify hub.
func New(allowedOrigins []string, logger *slog.Logger) *Hub {
	return &Hub{
		upgrader: makeUpgrader(allowedOrigins),
		logger:   logger.With("component", "notify"),
		conns:    make(map[string]map[string]*conn),
	}
}

// HandleWS upgrades an HTTP request to a notify connection. The email is
// taken from the ?email= query parameter.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	id := uuid.New().String()
	c := &conn{ws: ws}

	h.mu.Lock()
	if h.conns[email] == nil {
		h.conns[email] = make(map[string]*conn)
	}
	h.conns[email][id] = c
	h.mu.Unlock()

	h.logger.Debug("notify client connected", "email", email)

	// Drain inbound frames until the peer disconnects. The channel is
	// push-only, so reads exist just to surface the close.
	go func() {
		defer h.remove(email, id)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) remove(email, id string) {
	h.mu.Lock()
	if m, ok := h.conns[email]; ok {
		if c, ok := m[id]; ok {
			_ = c.ws.Close()
			delete(m, id)
		}
		if len(m) == 0 {
			delete(h.conns, email)
		}
	}
	h.mu.Unlock()
}

// PaymentSucceeded pushes a payment.success envelope to every connection
// registered for the email.
func (h *Hub) PaymentSucceeded(email, paymentID string) {
	env := api.Envelope{
		Type:      api.TypePaymentSuccess,
		Email:     email,
		Timestamp: time.Now(),
		Payload:   api.PaymentSuccess{PaymentID: paymentID},
	}

	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns[email]))
	for _, c := range h.conns[email] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.writeJSON(env); err != nil {
			h.logger.Warn("notify push failed", "email", email, "error", err)
		}
	}

	h.logger.Info("payment success pushed", "email", email, "payment_id", paymentID, "connections", len(targets))
}

// ConnectionCount returns the number of live connections for an email.
func (h *Hub) ConnectionCount(email string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[email])
}
