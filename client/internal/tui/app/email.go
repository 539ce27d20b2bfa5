package app

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/postforge-ai/postforge/client/internal/tui"
)

type emailModel struct {
	input   textinput.Model
	errMsg  string
	waiting bool

	// submitted carries the entered address up to the root model for one
	// update cycle.
	submitted string
}

func newEmailModel() emailModel {
	ti := textinput.New()
	ti.Placeholder = "you@business.example"
	ti.CharLimit = 254
	ti.Width = 40
	ti.Focus()
	return emailModel{input: ti}
}

func (m emailModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m emailModel) Update(msg tea.Msg) (emailModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "enter" && !m.waiting {
			if v := m.input.Value(); v != "" {
				m.waiting = true
				m.errMsg = ""
				m.submitted = v
				return m, nil
			}
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *emailModel) setError(err error) {
	m.waiting = false
	if err != nil {
		m.errMsg = err.Error()
	}
}

func (m emailModel) View() string {
	s := tui.Subtitle.Render("Your email") + "\n\n"
	s += "  " + tui.Description.Render("The email identifies your session; a new purchase opens one.") + "\n\n"
	s += "  " + m.input.View() + "\n"

	if m.waiting {
		s += "\n  " + tui.Dimmed.Render("checking...") + "\n"
	}
	if m.errMsg != "" {
		s += "\n  " + tui.ErrorStyle.Render("✗ "+m.errMsg) + "\n"
	}

	s += "\n" + tui.Help.Render("  enter continue")
	return s
}
