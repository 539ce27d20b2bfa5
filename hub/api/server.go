// Package api provides the HTTP API and middleware for the hub.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/postforge-ai/postforge/hub/auth"
	"github.com/postforge-ai/postforge/hub/config"
	"github.com/postforge-ai/postforge/hub/generate"
	"github.com/postforge-ai/postforge/hub/notify"
	"github.com/postforge-ai/postforge/hub/payment"
	"github.com/postforge-ai/postforge/hub/store"
	"github.com/postforge-ai/postforge/pkg/api"
)

// Server is the HTTP API server.
type Server struct {
	store         store.Store
	payments      payment.Provider
	generator     generate.Generator
	authProvider  auth.Provider
	loginProvider auth.LoginProvider // nil when auth provider is jwks
	notify        *notify.Hub
	logger        *slog.Logger
	mux           *chi.Mux
	startTime     time.Time

	maxBodyBytes    int64
	maxInputSize    int
	defaultPrice    int
	defaultDuration int // minutes
	returnURL       string

	loginRL   *rateLimiter
	paymentRL *rateLimiter
}

// NewServer creates a new API server.
func NewServer(s store.Store, pp payment.Provider, gen generate.Generator, ap auth.Provider, lp auth.LoginProvider, nh *notify.Hub, cfg *config.Config, logger *slog.Logger) *Server {
	srv := &Server{
		store:           s,
		payments:        pp,
		generator:       gen,
		authProvider:    ap,
		loginProvider:   lp,
		notify:          nh,
		logger:          logger.With("component", "api"),
		startTime:       time.Now(),
		maxBodyBytes:    cfg.Server.MaxBodyBytes,
		maxInputSize:    cfg.Generate.MaxInputSize,
		defaultPrice:    cfg.Session.Price,
		defaultDuration: cfg.Session.DurationMinutes,
		returnURL:       cfg.Payment.ReturnURL,
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	// Health check routes (unauthenticated)
	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)

	// Session routes
	mux.Get("/api/session/check/{email}", srv.handleSessionCheck)
	mux.Post("/api/session/update", srv.handleSessionUpdate)
	mux.Delete("/api/session/delete/{email}", srv.handleSessionDelete)

	// Payment routes. Creation is rate-limited by IP so an anonymous caller
	// cannot flood the upstream provider with open payments.
	srv.paymentRL = newRateLimiter(1, 5)
	mux.With(ipRateLimitMiddleware(srv.paymentRL)).Post("/api/payment/create", srv.handlePaymentCreate)
	mux.Get("/api/payment/status/{paymentID}", srv.handlePaymentStatus)
	mux.Post("/api/payment/webhook", srv.handlePaymentWebhook)
	mux.Get("/api/payment/price", srv.handlePrice)

	// Generation
	mux.Post("/api/generate", srv.handleGenerate)

	// Notify WebSocket (no auth; the channel only ever pushes events for the
	// email the client registered, and settlement is verified hub-side).
	mux.Get("/ws/notify", nh.HandleWS)

	// Admin routes
	if lp != nil {
		srv.loginRL = newRateLimiter(5, 10)
		mux.With(ipRateLimitMiddleware(srv.loginRL)).Post("/api/admin/login", srv.handleAdminLogin)
	}
	mux.Group(func(r chi.Router) {
		r.Use(srv.authMiddleware)
		r.Use(srv.requireAdmin)
		r.Get("/api/admin/params", srv.handleGetParams)
		r.Put("/api/admin/params", srv.handleSetParams)
	})

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks starts periodic cleanup tasks: rate limiter bucket
// expiry and the expired-session purge.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	if s.loginRL != nil {
		s.loginRL.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	}
	if s.paymentRL != nil {
		s.paymentRL.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
	}
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.store.PurgeExpiredSessions(ctx, time.Now())
				if err != nil {
					s.logger.Warn("session purge failed", "error", err)
				} else if n > 0 {
					s.logger.Info("purged expired sessions", "count", n)
				}
			}
		}
	}()
}

// --- Session handlers ---

func (s *Server) handleSessionCheck(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if !validEmail(email) {
		writeError(w, http.StatusUnprocessableEntity, "invalid email")
		return
	}

	sess, err := s.store.GetSession(r.Context(), email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check session")
		return
	}
	if sess == nil {
		writeJSON(w, http.StatusOK, api.SessionCheckResponse{
			HasSession: false,
			IsActive:   false,
			Message:    "no session for this email",
		})
		return
	}
	if !sess.Active(time.Now()) {
		writeJSON(w, http.StatusOK, api.SessionCheckResponse{
			HasSession: true,
			IsActive:   false,
			Email:      sess.Email,
			Message:    "session expired",
		})
		return
	}

	unused := sess.HasUnusedStyles()
	writeJSON(w, http.StatusOK, api.SessionCheckResponse{
		HasSession:      true,
		IsActive:        true,
		Email:           sess.Email,
		URL:             sess.URL,
		Info:            sess.Info,
		ExpiresAt:       &sess.ExpiresAt,
		AvailableStyles: sess.Styles,
		HasUnusedStyles: &unused,
	})
}

func (s *Server) handleSessionUpdate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req api.SessionUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validEmail(req.Email) {
		writeError(w, http.StatusUnprocessableEntity, "invalid email")
		return
	}
	if len(req.URL)+len(req.Occasion) > s.maxInputSize {
		writeError(w, http.StatusBadRequest, "input too large")
		return
	}

	err := s.store.BindSessionFields(r.Context(), req.Email, req.URL, req.Occasion)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	case errors.Is(err, store.ErrSessionNotFound):
		writeError(w, http.StatusForbidden, "no session for this email")
	case errors.Is(err, store.ErrFieldBound):
		writeError(w, http.StatusConflict, "field is already set for this session")
	default:
		writeError(w, http.StatusInternalServerError, "failed to update session")
	}
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	if !validEmail(email) {
		writeError(w, http.StatusUnprocessableEntity, "invalid email")
		return
	}
	// Idempotent: deleting an absent session still reports deleted, so a
	// client retrying a termination never gets stuck.
	if err := s.store.DeleteSession(r.Context(), email); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	s.logger.Info("session deleted", "email", email)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Payment handlers ---

func (s *Server) handlePaymentCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req api.PaymentCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validEmail(req.Email) {
		writeError(w, http.StatusUnprocessableEntity, "invalid email")
		return
	}

	price := s.priceParam(r.Context())
	res, err := s.payments.Create(r.Context(), payment.CreateRequest{
		Email:       req.Email,
		Amount:      price,
		Description: "Postforge access",
		ReturnURL:   s.returnURL,
		Metadata:    map[string]string{"email": req.Email},
	})
	if err != nil {
		s.logger.Warn("payment create failed", "email", req.Email, "error", err)
		writeError(w, http.StatusBadGateway, "failed to create payment")
		return
	}

	if err := s.store.CreatePayment(r.Context(), &store.Payment{
		ID:        res.ID,
		Email:     req.Email,
		Status:    payment.StatusPending,
		Amount:    price,
		CreatedAt: time.Now(),
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record payment")
		return
	}

	s.logger.Info("payment created", "email", req.Email, "payment_id", res.ID, "amount", price)
	writeJSON(w, http.StatusOK, api.PaymentCreateResponse{
		PaymentID:       res.ID,
		ConfirmationURL: res.ConfirmationURL,
		Status:          res.Status,
	})
}

func (s *Server) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	paymentID := chi.URLParam(r, "paymentID")

	rec, err := s.store.GetPayment(r.Context(), paymentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to look up payment")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "payment not found")
		return
	}

	// Already settled: answer from the record without another provider call.
	if rec.Status == payment.StatusSucceeded {
		writeJSON(w, http.StatusOK, api.PaymentStatusResponse{
			PaymentID: rec.ID, Status: rec.Status, Paid: true,
		})
		return
	}

	status, err := s.settlePayment(r.Context(), rec)
	if err != nil {
		s.logger.Warn("payment status check failed", "payment_id", paymentID, "error", err)
		writeError(w, http.StatusBadGateway, "failed to check payment status")
		return
	}

	writeJSON(w, http.StatusOK, api.PaymentStatusResponse{
		PaymentID: rec.ID, Status: status.Status, Paid: status.Paid,
	})
}

// handlePaymentWebhook receives a provider callback. The callback is treated
// as a hint only: settlement always goes through a confirmatory status query
// against the provider, so a forged webhook cannot grant a session.
func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var body struct {
		Event  string `json:"event,omitempty"`
		Object struct {
			ID string `json:"id"`
		} `json:"object,omitempty"`
		PaymentID string `json:"payment_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	paymentID := body.Object.ID
	if paymentID == "" {
		paymentID = body.PaymentID
	}
	if paymentID == "" {
		writeError(w, http.StatusBadRequest, "payment id is required")
		return
	}

	rec, err := s.store.GetPayment(r.Context(), paymentID)
	if err != nil || rec == nil {
		// Unknown payments are acknowledged so the provider stops retrying.
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if rec.Status != payment.StatusSucceeded {
		if _, err := s.settlePayment(r.Context(), rec); err != nil {
			s.logger.Warn("webhook settlement failed", "payment_id", paymentID, "error", err)
			writeError(w, http.StatusBadGateway, "failed to verify payment")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// settlePayment queries the provider for the payment's real status and, on
// the first confirmed success, marks the record settled, issues a fresh
// session for the payer, and pushes a notify event. A repeat settlement of
// the same payment is a no-op at the store layer (the record is already
// succeeded by the time a second caller gets here).
func (s *Server) settlePayment(ctx context.Context, rec *store.Payment) (*payment.StatusResult, error) {
	status, err := s.payments.Status(ctx, rec.ID)
	if err != nil {
		return nil, err
	}

	if status.Status != rec.Status {
		if err := s.store.SetPaymentStatus(ctx, rec.ID, status.Status); err != nil {
			return nil, err
		}
	}
	if !status.Paid {
		return status, nil
	}

	// First confirmed success: a payment buys a full fresh session, replacing
	// whatever record the email had before.
	duration := time.Duration(s.durationParam(ctx)) * time.Minute
	sess := store.NewSession(rec.Email, rec.ID, rec.Amount, duration)
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	s.logger.Info("payment settled, session issued",
		"email", rec.Email, "payment_id", rec.ID, "expires_at", sess.ExpiresAt)
	s.notify.PaymentSucceeded(rec.Email, rec.ID)
	return status, nil
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.PriceResponse{
		Price:           s.priceParam(r.Context()),
		Currency:        "RUB",
		DurationMinutes: s.durationParam(r.Context()),
	})
}

// --- Generation handler ---

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req api.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validEmail(req.Email) || req.URL == "" {
		writeError(w, http.StatusUnprocessableEntity, "email and url are required")
		return
	}
	if !api.ValidStyle(req.Style) {
		writeError(w, http.StatusUnprocessableEntity, "unknown style")
		return
	}
	if len(req.URL)+len(req.Occasion) > s.maxInputSize {
		writeError(w, http.StatusBadRequest, "input too large")
		return
	}

	// The session gate is re-checked here, at the moment the permit would be
	// spent, not just at the UI boundary.
	sess, err := s.store.GetSession(r.Context(), req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check session")
		return
	}
	if sess == nil {
		writeError(w, http.StatusForbidden, "no active session")
		return
	}
	if !sess.Active(time.Now()) {
		writeError(w, http.StatusGone, "session expired")
		return
	}
	if sess.Styles[req.Style] != 1 {
		writeError(w, http.StatusBadRequest, "style already used in this session")
		return
	}

	// Bind url/occasion to the session on first use. A conflict with an
	// already-bound value is not fatal for generation itself.
	if err := s.store.BindSessionFields(r.Context(), req.Email, req.URL, req.Occasion); err != nil &&
		!errors.Is(err, store.ErrFieldBound) {
		s.logger.Warn("session field bind failed", "email", req.Email, "error", err)
	}

	res, err := s.generator.Generate(r.Context(), generate.Request{
		URL:       req.URL,
		Style:     req.Style,
		Occasion:  req.Occasion,
		UseCached: req.UseCached,
	})
	if err != nil {
		s.logger.Warn("generation failed", "email", req.Email, "style", req.Style, "error", err)
		writeError(w, http.StatusBadGateway, "generation failed")
		return
	}

	// The permit is spent only after content was actually produced. A failed
	// generation leaves the style available for a retry.
	if err := s.store.MarkStyleUsed(r.Context(), req.Email, req.Style); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record style use")
		return
	}

	s.logger.Info("content generated", "email", req.Email, "style", req.Style, "cached", res.Cached)
	writeJSON(w, http.StatusOK, api.GenerateResponse{
		Content:           res.Content,
		Cached:            res.Cached,
		Truncated:         res.Truncated,
		TruncationMessage: res.TruncationMessage,
	})
}

// --- Admin handlers ---

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Username) < 3 || len(req.Username) > 64 {
		writeError(w, http.StatusBadRequest, "username must be 3-64 characters")
		return
	}

	token, err := s.loginProvider.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.logger.Warn("admin login failed", "username", req.Username)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleGetParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{
		"price":            s.priceParam(r.Context()),
		"duration_minutes": s.durationParam(r.Context()),
	})
}

func (s *Server) handleSetParams(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Price           *int `json:"price,omitempty"`
		DurationMinutes *int `json:"duration_minutes,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Price == nil && req.DurationMinutes == nil {
		writeError(w, http.StatusBadRequest, "price or duration_minutes is required")
		return
	}
	if req.Price != nil {
		if *req.Price <= 0 {
			writeError(w, http.StatusBadRequest, "price must be positive")
			return
		}
		if err := s.store.SetParam(r.Context(), store.ParamPrice, strconv.Itoa(*req.Price)); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to set price")
			return
		}
	}
	if req.DurationMinutes != nil {
		if *req.DurationMinutes <= 0 {
			writeError(w, http.StatusBadRequest, "duration_minutes must be positive")
			return
		}
		if err := s.store.SetParam(r.Context(), store.ParamDurationMinutes, strconv.Itoa(*req.DurationMinutes)); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to set duration")
			return
		}
	}

	identity := getIdentityFromContext(r.Context())
	s.logger.Info("service params updated", "by", identity.Username)
	writeJSON(w, http.StatusOK, map[string]int{
		"price":            s.priceParam(r.Context()),
		"duration_minutes": s.durationParam(r.Context()),
	})
}

// --- Health handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Helpers ---

// priceParam returns the current access price: the stored override when an
// admin has set one, otherwise the configured default.
func (s *Server) priceParam(ctx context.Context) int {
	if v, err := s.store.GetParam(ctx, store.ParamPrice); err == nil && v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return s.defaultPrice
}

func (s *Server) durationParam(ctx context.Context) int {
	if v, err := s.store.GetParam(ctx, store.ParamDurationMinutes); err == nil && v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return s.defaultDuration
}

func validEmail(s string) bool {
	if len(s) < 3 || len(s) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.ErrorResponse{Error: message})
}
