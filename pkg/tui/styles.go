// Package tui implements the interactive front-end's terminal surface:
// a live per-host status dashboard plus the pause-prompt UI a Bubble Tea
// program needs to satisfy pkg/frontend's Confirmer interface.
//
// styles.go carries the color palette and lipgloss block styles forward
// from the teacher's chat TUI, trimmed to the subset a rollout dashboard
// actually uses.
package tui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// ─── Color palette ─────────────────────────────────────────────────────

var (
	ColorPrimary   = lipgloss.Color("#cc7700") // orange – canary/active accents
	ColorSecondary = lipgloss.Color("#5599dd") // sky blue – deploying hosts
	ColorSuccess   = lipgloss.Color("#33cc33") // green – complete hosts
	ColorPanel     = lipgloss.Color("#555555") // gray – borders, pending rows
	ColorSurface   = lipgloss.Color("#111111") // near-black – prompt background
	ColorMuted     = lipgloss.Color("#888888") // muted text – footer, timestamps
	ColorWarn      = lipgloss.Color("#aaaa00") // yellow – aborts on hosts not expected alive
	ColorError     = lipgloss.Color("#cc3333") // red – unexpected aborts
	ColorText      = lipgloss.Color("#dddddd") // off-white – normal text
)

var TallBorder = lipgloss.Border{Left: "▐"}

// ─── Host row styles ───────────────────────────────────────────────────

var (
	StylePending    = lipgloss.NewStyle().Foreground(ColorPanel)
	StyleDeploying  = lipgloss.NewStyle().Bold(true).Foreground(ColorSecondary)
	StyleComplete   = lipgloss.NewStyle().Foreground(ColorSuccess)
	StyleAbortWarn  = lipgloss.NewStyle().Foreground(ColorWarn)
	StyleAbortError = lipgloss.NewStyle().Bold(true).Foreground(ColorError)
	StyleCanary     = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)

	HeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorSecondary).PaddingLeft(1).PaddingRight(1)
	CellStyle   = lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1)
	FooterStyle = lipgloss.NewStyle().Foreground(ColorMuted).MarginTop(1)
	TitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary).MarginBottom(1)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorPanel).
			Padding(0, 1)
)

// ─── Pause-prompt styles ───────────────────────────────────────────────

var (
	PromptTitleStyle = lipgloss.NewStyle().Foreground(ColorText).PaddingBottom(1)

	PromptOptionStyle = lipgloss.NewStyle().PaddingLeft(1).Foreground(ColorMuted)

	PromptOptionSelectedStyle = lipgloss.NewStyle().
					Border(TallBorder).
					BorderLeft(true).BorderTop(false).BorderBottom(false).BorderRight(false).
					BorderForeground(ColorPrimary).
					PaddingLeft(1).
					Foreground(ColorText).
					Background(lipgloss.Color("#1a1a2e"))

	PromptBoxStyle = lipgloss.NewStyle().
			Border(TallBorder).
			BorderLeft(true).BorderTop(false).BorderBottom(false).BorderRight(false).
			BorderForeground(ColorPrimary).
			PaddingLeft(1).PaddingRight(2).PaddingTop(1).PaddingBottom(1).
			Background(ColorSurface)
)

// TerminalWidth returns the current terminal width, defaulting to 80.
func TerminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}
