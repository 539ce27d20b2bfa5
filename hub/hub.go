// Package hub is the main orchestrator that ties all hub components together.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/postforge-ai/postforge/hub/api"
	"github.com/postforge-ai/postforge/hub/auth"
	"github.com/postforge-ai/postforge/hub/config"
	"github.com/postforge-ai/postforge/hub/generate"
	"github.com/postforge-ai/postforge/hub/notify"
	"github.com/postforge-ai/postforge/hub/payment"
	"github.com/postforge-ai/postforge/hub/store"
)

// Hub is the main hub process.
type Hub struct {
	cfg    *config.Config
	store  store.Store
	api    *api.Server
	logger *slog.Logger
}

// New creates a new hub from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Hub, error) {
	db, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	authProvider, err := auth.NewProvider(cfg.Auth, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init auth provider: %w", err)
	}

	// Bootstrap creates the initial admin user for the builtin provider.
	if err := authProvider.Bootstrap(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap auth: %w", err)
	}

	var loginProvider auth.LoginProvider
	if lp, ok := authProvider.(auth.LoginProvider); ok {
		loginProvider = lp
	}

	payments, err := payment.New(cfg.Payment)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init payment provider: %w", err)
	}

	generator, err := generate.New(cfg.Generate)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init generator: %w", err)
	}

	notifyHub := notify.New(cfg.Server.AllowedOrigins, logger)
	apiSrv := api.NewServer(db, payments, generator, authProvider, loginProvider, notifyHub, cfg, logger)

	h := &Hub{
		cfg:    cfg,
		store:  db,
		api:    apiSrv,
		logger: logger.With("component", "hub"),
	}

	// Startup validation warnings.
	if cfg.Payment.Provider == "" || cfg.Payment.Provider == "sandbox" {
		logger.Warn("sandbox payment provider active — payments are not real (development only)")
	}
	if authProvider.Name() == "builtin" && cfg.Auth.InitialAdmin != nil &&
		cfg.Auth.InitialAdmin.Username == "admin" && cfg.Auth.InitialAdmin.Password == "admin" {
		logger.Warn("default admin credentials detected (admin/admin) — change immediately in production")
	}
	for _, origin := range cfg.Server.AllowedOrigins {
		if origin == "*" {
			logger.Warn("CORS allowed_origins contains wildcard '*' — restrict to specific origins in production")
			break
		}
	}

	return h, nil
}

// Run starts the hub HTTP server and blocks until the context is canceled.
func (h *Hub) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    h.cfg.Server.Addr,
		Handler: h.api.Handler(),
	}

	// Rate limiter cleanup and the expired-session purge.
	h.api.StartBackgroundTasks(ctx)

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("hub listening", "addr", h.cfg.Server.Addr)
		if h.cfg.Server.TLSCert != "" && h.cfg.Server.TLSKey != "" {
			errCh <- srv.ListenAndServeTLS(h.cfg.Server.TLSCert, h.cfg.Server.TLSKey)
		} else {
			h.logger.Warn("TLS not configured, running without encryption (development only)")
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		h.logger.Info("shutting down hub gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			_ = srv.Close()
		} else {
			h.logger.Info("http server stopped gracefully")
		}

		h.logger.Info("closing store")
		_ = h.store.Close()
		h.logger.Info("shutdown complete")
		return ctx.Err()

	case err := <-errCh:
		_ = h.store.Close()
		return err
	}
}
