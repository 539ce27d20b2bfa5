package app

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/postforge-ai/postforge/client/internal/gate"
	"github.com/postforge-ai/postforge/client/internal/orchestrator"
	"github.com/postforge-ai/postforge/client/internal/tui"
)

type terminatedModel struct {
	orch   *orchestrator.Orchestrator
	reason gate.Reason
	errMsg string

	// acknowledged signals the root model to run the acknowledge call.
	acknowledged bool
}

func newTerminatedModel(orch *orchestrator.Orchestrator) terminatedModel {
	return terminatedModel{orch: orch}
}

// refresh picks up the recorded termination reason.
func (m *terminatedModel) refresh() {
	if reason, ok := m.orch.Gate().PendingTermination(); ok {
		m.reason = reason
	}
}

func (m *terminatedModel) setError(err error) {
	if err != nil {
		m.errMsg = "could not close the session: " + err.Error()
	}
}

func (m terminatedModel) Update(msg tea.Msg) (terminatedModel, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		if keyMsg.String() == "enter" {
			m.errMsg = ""
			m.acknowledged = true
		}
	}
	return m, nil
}

func (m terminatedModel) reasonText() string {
	switch m.reason {
	case gate.ReasonExpired:
		return "Your session has expired."
	case gate.ReasonExhausted:
		return "All nine styles have been used — the session is complete."
	case gate.ReasonUserRequested:
		return "Ending the session."
	default:
		return "The session has ended."
	}
}

func (m terminatedModel) View() string {
	box := m.reasonText() + "\n\n" + "A new purchase starts a fresh session\nwith all nine styles available."
	s := "\n" + tui.ModalBox.Render(box) + "\n"

	if m.errMsg != "" {
		s += "\n  " + tui.ErrorStyle.Render("✗ "+m.errMsg) + "\n"
		s += "  " + tui.Description.Render("Press enter to try again.") + "\n"
	}

	s += "\n" + tui.Help.Render("  enter acknowledge")
	return s
}
