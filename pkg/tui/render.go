package tui

import (
	"fmt"
	"strings"

	"github.com/fleetroll/fleetroll/pkg/frontend"
)

// clampInt caps a to b when a exceeds it.
func clampInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// renderStatusCell renders one host's status cell, including the spinner
// frame for a host currently mid-deploy.
func renderStatusCell(status frontend.HostStatus, spinnerFrame string) string {
	switch status {
	case frontend.StatusPending:
		return StylePending.Render("· pending")
	case frontend.StatusDeploying:
		return StyleDeploying.Render(spinnerFrame + " deploying")
	case frontend.StatusComplete:
		return StyleComplete.Render("✓ complete")
	case frontend.StatusAborted:
		return StyleAbortError.Render("✗ aborted")
	default:
		return CellStyle.Render(string(status))
	}
}

// renderHostTable renders the dashboard's per-host rows, one line per host
// in deploy order, capped to a reasonable width.
func renderHostTable(state *frontend.HostsState, width int, spinnerFrame string) string {
	if state == nil || len(state.Order) == 0 {
		return FooterStyle.Render("  no hosts in this deploy")
	}

	var b strings.Builder
	header := fmt.Sprintf("%-24s %-16s %s",
		HeaderStyle.Render("HOST"), HeaderStyle.Render("POOL"), HeaderStyle.Render("STATUS"))
	b.WriteString(header)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("─", clampInt(width, 70)))
	b.WriteString("\n")

	for _, h := range state.Order {
		row := fmt.Sprintf("%-24s %-16s %s",
			CellStyle.Render(h.Name), CellStyle.Render(h.Pool),
			renderStatusCell(state.Status[h.ID], spinnerFrame))
		b.WriteString(row)
		b.WriteString("\n")
	}
	return b.String()
}

// promptChoice is one selectable line in a pause prompt.
type promptChoice struct {
	Key   string
	Label string
}

// renderPrompt renders a pause-prompt box with title and choices, the
// interactive analogue of pkg/frontend/headless.go's line-mode prompts.
func renderPrompt(title string, choices []promptChoice, width int) string {
	if width > 90 {
		width = 90
	}
	var inner strings.Builder
	inner.WriteString(PromptTitleStyle.Render(title))
	for _, c := range choices {
		inner.WriteString("\n")
		inner.WriteString(PromptOptionStyle.Render(fmt.Sprintf("[%s] %s", c.Key, c.Label)))
	}
	return PromptBoxStyle.Width(width).Render(inner.String())
}
