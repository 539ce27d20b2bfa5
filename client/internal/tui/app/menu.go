package app

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/postforge-ai/postforge/client/internal/orchestrator"
	"github.com/postforge-ai/postforge/client/internal/tui"
	"github.com/postforge-ai/postforge/pkg/api"
)

// focus zones on the ready screen.
const (
	focusURL = iota
	focusOccasion
	focusStyles
)

type menuModel struct {
	orch *orchestrator.Orchestrator

	urlInput      textinput.Model
	occasionInput textinput.Model
	focus         int
	cursor        int
	errMsg        string

	// chosen carries the selected style up to the root model for one
	// update cycle.
	chosen api.StyleID
}

func newMenuModel(orch *orchestrator.Orchestrator) menuModel {
	urlIn := textinput.New()
	urlIn.Placeholder = "https://your-business.example"
	urlIn.CharLimit = 2048
	urlIn.Width = 50

	occIn := textinput.New()
	occIn.Placeholder = "grand opening, seasonal sale, ... (optional)"
	occIn.CharLimit = 512
	occIn.Width = 50

	return menuModel{
		orch:          orch,
		urlInput:      urlIn,
		occasionInput: occIn,
		focus:         focusURL,
	}
}

func (m menuModel) Init() tea.Cmd {
	return textinput.Blink
}

// refresh re-reads bound inputs and lock state from the session.
func (m *menuModel) refresh() {
	inputs := m.orch.Gate().Inputs()
	if v := inputs.URL(); v != "" {
		m.urlInput.SetValue(v)
	}
	if v := inputs.Occasion(); v != "" {
		m.occasionInput.SetValue(v)
	}
	if m.locked() {
		m.focus = focusStyles
		m.urlInput.Blur()
		m.occasionInput.Blur()
	} else {
		m.applyFocus()
	}
}

func (m *menuModel) setError(err error) {
	if err != nil {
		m.errMsg = err.Error()
	}
}

func (m menuModel) locked() bool {
	return m.orch.Gate().Inputs().Locked()
}

func (m *menuModel) applyFocus() {
	m.urlInput.Blur()
	m.occasionInput.Blur()
	switch m.focus {
	case focusURL:
		m.urlInput.Focus()
	case focusOccasion:
		m.occasionInput.Focus()
	}
}

func (m menuModel) Update(msg tea.Msg) (menuModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "tab":
			if m.locked() {
				return m, nil
			}
			m.focus = (m.focus + 1) % 3
			m.applyFocus()
			return m, nil

		case "x":
			if m.focus == focusStyles {
				m.orch.RequestTermination()
				return m, nil
			}

		case "up", "k":
			if m.focus == focusStyles && m.cursor > 0 {
				m.cursor--
				return m, nil
			}

		case "down", "j":
			if m.focus == focusStyles && m.cursor < len(api.Styles)-1 {
				m.cursor++
				return m, nil
			}

		case "enter":
			switch m.focus {
			case focusURL, focusOccasion:
				m.focus = focusStyles
				m.applyFocus()
				return m, nil
			case focusStyles:
				return m.choose()
			}
		}
	}

	var cmd tea.Cmd
	switch m.focus {
	case focusURL:
		m.urlInput, cmd = m.urlInput.Update(msg)
	case focusOccasion:
		m.occasionInput, cmd = m.occasionInput.Update(msg)
	}
	return m, cmd
}

// choose commits the inputs and hands the selected style to the root model.
func (m menuModel) choose() (menuModel, tea.Cmd) {
	style := api.Styles[m.cursor]
	if !m.orch.Gate().Quota().Available(style) {
		m.errMsg = "this style was already used in this session"
		return m, nil
	}

	inputs := m.orch.Gate().Inputs()
	if !inputs.Locked() {
		inputs.SetURL(m.urlInput.Value())
		inputs.SetOccasion(m.occasionInput.Value())
	}
	if inputs.URL() == "" {
		m.errMsg = "enter your site URL first"
		m.focus = focusURL
		m.applyFocus()
		return m, nil
	}

	m.errMsg = ""
	m.chosen = style
	return m, nil
}

func (m menuModel) View() string {
	snap := m.orch.Gate().Snapshot()

	s := tui.Subtitle.Render("Pick a style") + "\n\n"

	left := time.Until(snap.ExpiresAt).Truncate(time.Minute)
	s += "  " + tui.Description.Render(fmt.Sprintf("%s • %s left • %d of %d styles remaining",
		snap.Email, left, snap.Remaining, len(api.Styles))) + "\n\n"

	locked := m.locked()
	s += "  " + tui.Description.Render("Site URL:") + " " + m.urlInput.View() + "\n"
	s += "  " + tui.Description.Render("Occasion:") + " " + m.occasionInput.View() + "\n"
	if locked {
		s += "  " + tui.Dimmed.Render("inputs are locked for this session") + "\n"
	}
	s += "\n"

	quota := m.orch.Gate().Quota()
	for i, style := range api.Styles {
		cursor := "  "
		label := string(style)
		var line string
		switch {
		case !quota.Available(style):
			line = tui.Spent.Render(label) + tui.Dimmed.Render("  (used)")
		case m.focus == focusStyles && m.cursor == i:
			cursor = tui.Selected.Render("> ")
			line = tui.Selected.Render(label)
		default:
			line = tui.Dimmed.Render(label)
		}
		s += cursor + line + "\n"
	}

	if m.errMsg != "" {
		s += "\n  " + tui.ErrorStyle.Render("✗ "+m.errMsg) + "\n"
	}

	s += "\n" + tui.Help.Render("  tab switch field • ↑/↓ navigate • enter generate • x end session")
	return s
}
