package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/postforge-ai/postforge/client/internal/backend"
	"github.com/postforge-ai/postforge/client/internal/config"
	"github.com/postforge-ai/postforge/client/internal/eventbus"
	"github.com/postforge-ai/postforge/client/internal/gate"
	"github.com/postforge-ai/postforge/client/internal/notify"
	"github.com/postforge-ai/postforge/client/internal/orchestrator"
	"github.com/postforge-ai/postforge/client/internal/payment"
	"github.com/postforge-ai/postforge/client/internal/tui/app"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [config-file]",
		Short: "Start the interactive client (default when no subcommand is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRun,
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("postforge is interactive and needs a terminal; use `postforge check` for scripted access")
	}

	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}

	bus := eventbus.New()
	defer bus.Close()
	logger, closeLog, err := newLogger(cfg, bus)
	if err != nil {
		return err
	}
	defer closeLog()

	b := backend.New(cfg.Hub, logger)
	g := gate.New(b, bus, logger)
	flow := payment.New(b, bus, cfg.Payment, logger)
	listener := notify.New(b, bus, cfg.Hub, logger)
	orch := orchestrator.New(g, flow, b, logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	logger.Info("postforge starting", "version", version, "hub", cfg.Hub.URL)
	return app.Run(ctx, orch, listener, bus, logger)
}

// loadConfig reads the config file when one exists and otherwise falls back
// to defaults, so the client works against a local hub with zero setup.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	path := resolveConfigPath(cmd, args, "postforge.json")

	var cfg *config.Config
	if _, err := os.Stat(path); err == nil {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	if f := cmd.Root().PersistentFlags().Lookup("hub"); f != nil && f.Changed {
		cfg.Hub.URL = f.Value.String()
	}
	if cfg.Hub.URL == "" {
		cfg.Hub.URL = "http://localhost:8080"
	}
	return cfg, nil
}

// newLogger builds the client logger. The TUI owns the terminal, so records
// go to the configured file (or nowhere) and onto the bus for the screens.
func newLogger(cfg *config.Config, bus *eventbus.Bus) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var w io.Writer = io.Discard
	closeLog := func() {}
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closeLog = func() { _ = f.Close() }
	}

	inner := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(eventbus.NewSlogHandler(inner, bus)), closeLog, nil
}

// resolveConfigPath returns the config file path from (in priority order):
// 1. Positional argument
// 2. --config / -c flag
// 3. Default value
func resolveConfigPath(cmd *cobra.Command, args []string, defaultPath string) string {
	if len(args) > 0 {
		return args[0]
	}
	if f := cmd.Flag("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	if f := cmd.Root().PersistentFlags().Lookup("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	return defaultPath
}
