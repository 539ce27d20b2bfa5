package app

import (
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/postforge-ai/postforge/client/internal/tui"
	"github.com/postforge-ai/postforge/pkg/api"
)

type resultsModel struct {
	viewport  viewport.Model
	truncated string
	cached    bool

	// closed signals the root model to leave the results screen.
	closed bool
}

func newResultsModel() resultsModel {
	return resultsModel{viewport: viewport.New(80, 20)}
}

func (m *resultsModel) setSize(width, height int) {
	if width < 20 {
		width = 20
	}
	if height < 5 {
		height = 5
	}
	m.viewport.Width = width
	m.viewport.Height = height
}

func (m *resultsModel) setResult(resp *api.GenerateResponse) {
	if resp == nil {
		return
	}
	m.viewport.SetContent(resp.Content)
	m.viewport.GotoTop()
	m.cached = resp.Cached
	m.truncated = ""
	if resp.Truncated {
		m.truncated = resp.TruncationMessage
		if m.truncated == "" {
			m.truncated = "output was truncated"
		}
	}
}

func (m resultsModel) Update(msg tea.Msg) (resultsModel, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "esc", "enter", "q":
			m.closed = true
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m resultsModel) View() string {
	s := tui.Subtitle.Render("Your posts") + "\n"
	if m.cached {
		s += "  " + tui.Dimmed.Render("served from an earlier analysis of this site") + "\n"
	}
	s += "\n" + tui.Border.Render(m.viewport.View()) + "\n"

	if m.truncated != "" {
		s += "  " + tui.WarningStyle.Render(m.truncated) + "\n"
	}

	s += "\n" + tui.Help.Render("  ↑/↓ scroll • esc back to styles")
	return s
}
