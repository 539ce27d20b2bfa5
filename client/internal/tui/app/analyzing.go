package app

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/postforge-ai/postforge/client/internal/tui"
	"github.com/postforge-ai/postforge/pkg/api"
)

type analyzingModel struct {
	spinner spinner.Model
	style   api.StyleID
}

func newAnalyzingModel() analyzingModel {
	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = tui.Selected
	return analyzingModel{spinner: sp}
}

func (m analyzingModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m analyzingModel) Update(msg tea.Msg) (analyzingModel, tea.Cmd) {
	if tick, ok := msg.(spinner.TickMsg); ok {
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(tick)
		return m, cmd
	}
	return m, nil
}

func (m analyzingModel) View() string {
	s := tui.Subtitle.Render("Analyzing your site") + "\n\n"
	s += "  " + m.spinner.View() + " Writing posts in the " + tui.Selected.Render(string(m.style)) + " style...\n"
	s += "  " + tui.Description.Render("This can take a minute or two.") + "\n"
	return s
}
