package app

import (
	"context"
	"log/slog"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/postforge-ai/postforge/client/internal/eventbus"
	"github.com/postforge-ai/postforge/client/internal/notify"
	"github.com/postforge-ai/postforge/client/internal/orchestrator"
)

// listenerManager owns the notify listener goroutine: one listener at a
// time, replaced when the email changes, stopped when the program ends.
type listenerManager struct {
	listener *notify.Listener
	logger   *slog.Logger

	mu     sync.Mutex
	email  string
	cancel context.CancelFunc
}

func (lm *listenerManager) Listen(email string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if email == "" || email == lm.email {
		return
	}
	if lm.cancel != nil {
		lm.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	lm.email = email
	lm.cancel = cancel
	go func() {
		if err := lm.listener.Run(ctx, email); err != nil && ctx.Err() == nil {
			lm.logger.Warn("notify listener stopped", "error", err)
		}
	}()
}

func (lm *listenerManager) Stop() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if lm.cancel != nil {
		lm.cancel()
		lm.cancel = nil
	}
	lm.email = ""
}

// Run starts the TUI and blocks until the user quits. Bus events are
// forwarded into the program so screens see connection state and pushed
// payment confirmations.
func Run(ctx context.Context, orch *orchestrator.Orchestrator, listener *notify.Listener, bus *eventbus.Bus, logger *slog.Logger) error {
	lm := &listenerManager{listener: listener, logger: logger}
	defer lm.Stop()

	m := NewModel(orch, lm)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	events := bus.Subscribe(
		eventbus.NotifyConnected,
		eventbus.NotifyDisconnected,
		eventbus.NotifyReconnecting,
		eventbus.SessionTerminated,
	)
	defer bus.Unsubscribe(events)
	go func() {
		for e := range events {
			p.Send(busEventMsg{event: e})
		}
	}()

	_, err := p.Run()
	return err
}
