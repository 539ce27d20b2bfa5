package app

import (
	"os/exec"
	"runtime"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/postforge-ai/postforge/client/internal/tui"
	"github.com/postforge-ai/postforge/pkg/api"
)

type paymentModel struct {
	spinner  spinner.Model
	checkout *api.PaymentCreateResponse

	errMsg   string
	note     string
	timedOut bool

	browserOpened bool

	// One-cycle signals consumed by the root model.
	checkRequested bool
	retry          bool
	canceled       bool
}

func newPaymentModel() paymentModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = tui.Selected
	return paymentModel{spinner: sp}
}

func (m paymentModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *paymentModel) openBrowserOnce() {
	if m.browserOpened || m.checkout == nil || m.checkout.ConfirmationURL == "" {
		return
	}
	m.browserOpened = true
	_ = openBrowser(m.checkout.ConfirmationURL)
}

func (m *paymentModel) setTimeout(err error) {
	m.timedOut = true
	m.note = ""
	if err != nil {
		m.errMsg = err.Error()
	}
}

func (m *paymentModel) setNote(note string) {
	m.note = note
}

func (m paymentModel) Update(msg tea.Msg) (paymentModel, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.KeyMsg:
		switch msg.String() {
		case "o":
			if m.checkout != nil {
				_ = openBrowser(m.checkout.ConfirmationURL)
			}
		case "c":
			m.checkRequested = true
			m.note = ""
		case "enter":
			if m.timedOut {
				m.retry = true
				m.timedOut = false
				m.errMsg = ""
				return m, m.spinner.Tick
			}
		case "esc":
			m.canceled = true
		}
	}
	return m, nil
}

func (m paymentModel) View() string {
	s := tui.Subtitle.Render("Payment") + "\n\n"

	if m.checkout != nil {
		s += tui.CodeBox.Render("Complete your payment:\n"+m.checkout.ConfirmationURL) + "\n\n"
	}
	if m.timedOut {
		s += "  " + tui.WarningStyle.Render("The payment was not confirmed in time.") + "\n"
		s += "  " + tui.Description.Render("It is still open: retry the wait, or cancel and start over.") + "\n"
	} else {
		s += "  " + m.spinner.View() + " Waiting for the payment to settle...\n"
		s += "  " + tui.Description.Render("This screen advances on its own once the payment goes through.") + "\n"
	}
	if m.errMsg != "" {
		s += "  " + tui.ErrorStyle.Render(m.errMsg) + "\n"
	}
	if m.note != "" {
		s += "  " + tui.Dimmed.Render(m.note) + "\n"
	}

	help := "  o open link again • c check now • esc cancel"
	if m.timedOut {
		help = "  enter retry • c check now • o open link again • esc cancel"
	}
	s += "\n" + tui.Help.Render(help)
	return s
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
