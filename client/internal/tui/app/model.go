// Package app is the end-user TUI: one screen per step of the session flow,
// driven by the orchestrator.
package app

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/postforge-ai/postforge/client/internal/eventbus"
	"github.com/postforge-ai/postforge/client/internal/orchestrator"
	"github.com/postforge-ai/postforge/client/internal/tui"
	"github.com/postforge-ai/postforge/pkg/api"
)

// listenerControl starts the notify listener for an email. Implemented by
// the runner so the model stays free of goroutine management.
type listenerControl interface {
	Listen(email string)
}

// Model is the root TUI model.
type Model struct {
	orch     *orchestrator.Orchestrator
	notifier listenerControl

	email      emailModel
	payment    paymentModel
	menu       menuModel
	analyzing  analyzingModel
	results    resultsModel
	terminated terminatedModel

	width  int
	height int

	connected    bool
	reconnecting bool
	quitting     bool
}

// NewModel creates the root model at the email screen.
func NewModel(orch *orchestrator.Orchestrator, notifier listenerControl) Model {
	return Model{
		orch:       orch,
		notifier:   notifier,
		email:      newEmailModel(),
		payment:    newPaymentModel(),
		menu:       newMenuModel(orch),
		analyzing:  newAnalyzingModel(),
		results:    newResultsModel(),
		terminated: newTerminatedModel(orch),
	}
}

// Messages.
type (
	submitDoneMsg   struct{ err error }
	awaitDoneMsg    struct{ err error }
	checkDoneMsg    struct{ err error }
	generateDoneMsg struct{ err error }
	closeDoneMsg    struct{}
	ackDoneMsg      struct{ err error }

	// busEventMsg wraps an internal bus event forwarded by the runner.
	busEventMsg struct{ event eventbus.Event }

	// tickMsg drives the expiry countdown.
	tickMsg time.Time
)

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.email.Init(), tickCmd())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.results.setSize(msg.Width-4, msg.Height-8)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, key.NewBinding(key.WithKeys("ctrl+c"))) {
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, tickCmd()

	case busEventMsg:
		return m.handleBusEvent(msg.event)

	case submitDoneMsg:
		return m.afterSubmit(msg.err)

	case awaitDoneMsg:
		return m.afterAwait(msg.err)

	case checkDoneMsg:
		return m.afterCheck(msg.err)

	case generateDoneMsg:
		return m.afterGenerate(msg.err)

	case closeDoneMsg:
		return m.afterClose()

	case ackDoneMsg:
		return m.afterAcknowledge(msg.err)
	}

	// Delegate to the screen matching the orchestrator state.
	var cmd tea.Cmd
	switch m.orch.State() {
	case orchestrator.StateEmailEntry:
		m.email, cmd = m.email.Update(msg)
		if m.email.submitted != "" {
			email := m.email.submitted
			m.email.submitted = ""
			return m, tea.Batch(cmd, m.submitCmd(email))
		}
	case orchestrator.StatePaymentPending:
		m.payment, cmd = m.payment.Update(msg)
		switch {
		case m.payment.canceled:
			m.payment = newPaymentModel()
			m.orch.CancelPayment()
			m.email = newEmailModel()
			return m, m.email.Init()
		case m.payment.retry:
			m.payment.retry = false
			return m, tea.Batch(cmd, m.awaitCmd())
		case m.payment.checkRequested:
			m.payment.checkRequested = false
			return m, tea.Batch(cmd, m.checkCmd())
		}
	case orchestrator.StateReady:
		m.menu, cmd = m.menu.Update(msg)
		if m.orch.State() == orchestrator.StateTerminated {
			m.terminated.refresh()
			return m, cmd
		}
		if m.menu.chosen != "" {
			style := m.menu.chosen
			m.menu.chosen = ""
			m.analyzing.style = style
			return m, tea.Batch(m.analyzing.Init(), m.generateCmd(style))
		}
	case orchestrator.StateAnalyzing:
		m.analyzing, cmd = m.analyzing.Update(msg)
	case orchestrator.StateResults:
		m.results, cmd = m.results.Update(msg)
		if m.results.closed {
			m.results.closed = false
			return m, tea.Batch(cmd, m.closeCmd())
		}
	case orchestrator.StateTerminated:
		m.terminated, cmd = m.terminated.Update(msg)
		if m.terminated.acknowledged {
			m.terminated.acknowledged = false
			return m, m.ackCmd()
		}
	}
	return m, cmd
}

func (m Model) handleBusEvent(e eventbus.Event) (tea.Model, tea.Cmd) {
	switch e.Type {
	case eventbus.NotifyConnected:
		m.connected = true
		m.reconnecting = false
	case eventbus.NotifyDisconnected:
		m.connected = false
	case eventbus.NotifyReconnecting:
		m.reconnecting = true
	case eventbus.SessionTerminated:
		m.terminated.refresh()
	}
	return m, nil
}

func (m Model) submitCmd(email string) tea.Cmd {
	return func() tea.Msg {
		_, err := m.orch.SubmitEmail(context.Background(), email)
		return submitDoneMsg{err: err}
	}
}

func (m Model) awaitCmd() tea.Cmd {
	return func() tea.Msg {
		_, err := m.orch.AwaitPayment(context.Background())
		return awaitDoneMsg{err: err}
	}
}

func (m Model) checkCmd() tea.Cmd {
	return func() tea.Msg {
		_, err := m.orch.CheckPayment(context.Background())
		return checkDoneMsg{err: err}
	}
}

func (m Model) closeCmd() tea.Cmd {
	return func() tea.Msg {
		m.orch.CloseResults(context.Background())
		return closeDoneMsg{}
	}
}

func (m Model) generateCmd(style api.StyleID) tea.Cmd {
	return func() tea.Msg {
		_, err := m.orch.Generate(context.Background(), style, false)
		return generateDoneMsg{err: err}
	}
}

func (m Model) ackCmd() tea.Cmd {
	return func() tea.Msg {
		_, err := m.orch.AcknowledgeTermination(context.Background())
		return ackDoneMsg{err: err}
	}
}

func (m Model) afterSubmit(err error) (tea.Model, tea.Cmd) {
	switch m.orch.State() {
	case orchestrator.StatePaymentPending:
		m.notifier.Listen(m.orch.Gate().Email())
		m.payment.checkout = m.orch.Checkout()
		m.payment.openBrowserOnce()
		return m, tea.Batch(m.payment.Init(), m.awaitCmd())
	case orchestrator.StateReady:
		m.notifier.Listen(m.orch.Gate().Email())
		m.menu.refresh()
		return m, m.menu.Init()
	case orchestrator.StateTerminated:
		m.terminated.refresh()
		return m, nil
	default:
		m.email.setError(err)
		return m, nil
	}
}

func (m Model) afterAwait(err error) (tea.Model, tea.Cmd) {
	switch m.orch.State() {
	case orchestrator.StateReady:
		m.menu.refresh()
		return m, m.menu.Init()
	case orchestrator.StatePaymentPending:
		// Timed out with the payment still open; the user picks retry or
		// cancel.
		m.payment.setTimeout(err)
		return m, nil
	default:
		m.email.setError(err)
		return m, m.email.Init()
	}
}

func (m Model) afterCheck(err error) (tea.Model, tea.Cmd) {
	switch m.orch.State() {
	case orchestrator.StateReady:
		m.menu.refresh()
		return m, m.menu.Init()
	case orchestrator.StatePaymentPending:
		if err != nil {
			m.payment.setNote(err.Error())
		} else {
			m.payment.setNote("not confirmed yet")
		}
		return m, nil
	default:
		m.email.setError(err)
		return m, m.email.Init()
	}
}

func (m Model) afterClose() (tea.Model, tea.Cmd) {
	switch m.orch.State() {
	case orchestrator.StateReady:
		m.menu.refresh()
		return m, m.menu.Init()
	case orchestrator.StateTerminated:
		m.terminated.refresh()
		return m, nil
	default:
		return m, nil
	}
}

func (m Model) afterGenerate(err error) (tea.Model, tea.Cmd) {
	switch m.orch.State() {
	case orchestrator.StateResults:
		m.results.setResult(m.orch.Result())
		return m, nil
	case orchestrator.StateTerminated:
		m.terminated.refresh()
		return m, nil
	case orchestrator.StateEmailEntry:
		m.email.setError(err)
		return m, m.email.Init()
	default:
		m.menu.setError(err)
		m.menu.refresh()
		return m, nil
	}
}

func (m Model) afterAcknowledge(err error) (tea.Model, tea.Cmd) {
	if _, pending := m.orch.Gate().PendingTermination(); pending {
		// The remote delete failed; the modal stays up for a retry.
		m.terminated.setError(err)
		return m, nil
	}
	m.email = newEmailModel()
	m.payment = newPaymentModel()
	m.menu = newMenuModel(m.orch)
	m.results = newResultsModel()
	m.terminated = newTerminatedModel(m.orch)

	// Acknowledging flows straight into a new payment for the same address.
	switch m.orch.State() {
	case orchestrator.StatePaymentPending:
		m.notifier.Listen(m.orch.Gate().Email())
		m.payment.checkout = m.orch.Checkout()
		m.payment.openBrowserOnce()
		return m, tea.Batch(m.payment.Init(), m.awaitCmd())
	case orchestrator.StateReady:
		m.notifier.Listen(m.orch.Gate().Email())
		m.menu.refresh()
		return m, m.menu.Init()
	default:
		m.email.setError(err)
		return m, m.email.Init()
	}
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	header := tui.Title.Render("PostForge — social posts for your business")
	status := tui.StatusDot(m.connected, m.reconnecting) + " " + tui.StatusText(m.connected, m.reconnecting)

	var body string
	switch m.orch.State() {
	case orchestrator.StateEmailEntry:
		body = m.email.View()
	case orchestrator.StatePaymentPending:
		body = m.payment.View()
	case orchestrator.StateReady:
		body = m.menu.View()
	case orchestrator.StateAnalyzing:
		body = m.analyzing.View()
	case orchestrator.StateResults:
		body = m.results.View()
	case orchestrator.StateTerminated:
		body = m.terminated.View()
	}

	help := tui.Help.Render("ctrl+c quit")

	return lipgloss.JoinVertical(lipgloss.Left,
		"",
		header,
		body,
		"",
		status+"  "+help,
	)
}
