// Package tui provides the interactive front-end for a running fleetroll
// deploy using Bubble Tea: a live per-host status dashboard and the
// pause-prompt UI that implements pkg/frontend's Confirmer interface.
// The model/update/view structure follows the teacher's fleet status
// dashboard, adapted from polling a fleet store to reacting to deploy
// lifecycle events pushed in over a channel.
package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/fleetroll/fleetroll/pkg/eventbus"
	"github.com/fleetroll/fleetroll/pkg/frontend"
	"github.com/fleetroll/fleetroll/pkg/hostsource"
)

// ------------------------------------------------------------------
// Messages
// ------------------------------------------------------------------

// hostEventMsg carries one host.begin/host.end/host.abort notification
// into the Bubble Tea update loop.
type hostEventMsg struct {
	hostID        string
	status        frontend.HostStatus
	shouldBeAlive bool
}

// promptMsg asks the dashboard to show a pause prompt and deliver the
// pressed key on respond. Only one prompt is live at a time.
type promptMsg struct {
	title    string
	choices  []promptChoice
	respond  chan<- string
}

// summaryMsg is the closing banner text for deploy.end/deploy.abort.
type summaryMsg string

// quitMsg asks the program to exit after rendering the summary.
type quitMsg struct{}

// ------------------------------------------------------------------
// Model
// ------------------------------------------------------------------

// Dashboard is the Bubble Tea model for an in-flight rolling deploy. It
// owns no business logic: every field is driven by messages sent in from
// the eventbus handlers registered by Wire, or from the Confirmer.
type Dashboard struct {
	state  *frontend.HostsState
	width  int
	height int
	spin   spinner.Model

	prompt   *promptMsg
	summary  string
	quitting bool
}

// NewDashboard builds a dashboard for the given ordered host list. Pass
// the same order the rollout engine will dispatch in.
func NewDashboard(hosts []hostsource.Host) Dashboard {
	state := &frontend.HostsState{
		Order:  hosts,
		Status: make(map[string]frontend.HostStatus, len(hosts)),
		Pool:   make(map[string]string, len(hosts)),
	}
	for _, h := range hosts {
		state.Status[h.ID] = frontend.StatusPending
		state.Pool[h.ID] = h.Pool
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = StyleDeploying
	return Dashboard{state: state, width: 80, height: 24, spin: sp}
}

func (m Dashboard) Init() tea.Cmd {
	return m.spin.Tick
}

func (m Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.prompt != nil {
			key := msg.String()
			for _, c := range m.prompt.choices {
				if c.Key == key {
					m.prompt.respond <- key
					m.prompt = nil
					return m, nil
				}
			}
			return m, nil
		}
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case hostEventMsg:
		m.state.Status[msg.hostID] = msg.status
		return m, nil

	case promptMsg:
		m.prompt = &msg
		return m, nil

	case summaryMsg:
		m.summary = string(msg)
		return m, nil

	case quitMsg:
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

func (m Dashboard) View() string {
	if m.quitting && m.summary != "" {
		return FooterStyle.Render(m.summary) + "\n"
	}

	var out string
	out += TitleStyle.Render("fleetroll — rolling deploy") + "\n"
	out += BoxStyle.Render(renderHostTable(m.state, m.width, m.spin.View())) + "\n"

	if m.prompt != nil {
		out += renderPrompt(m.prompt.title, m.prompt.choices, m.width) + "\n"
	} else {
		out += FooterStyle.Render(fmt.Sprintf("  [q] quit  │  %s", time.Now().Format("15:04:05"))) + "\n"
	}
	return out
}

// ------------------------------------------------------------------
// Wiring and Confirmer
// ------------------------------------------------------------------

// Wire registers handlers on bus that push host and deploy lifecycle
// events into prog as Bubble Tea messages, so the dashboard stays in sync
// with the engine without polling. This mirrors the teacher dashboard's
// fetchNodes/fetchSummary tea.Cmds, but push- rather than poll-driven,
// since the engine already emits an event per state transition.
func Wire(bus *eventbus.Bus, prog *tea.Program) {
	send := func(status frontend.HostStatus) eventbus.Handler {
		return func(_ context.Context, p eventbus.Payload) error {
			h, ok := p["host"].(hostsource.Host)
			if !ok {
				return nil
			}
			alive, _ := p["should_be_alive"].(bool)
			prog.Send(hostEventMsg{hostID: h.ID, status: status, shouldBeAlive: alive})
			return nil
		}
	}
	bus.Register("host.begin", send(frontend.StatusDeploying))
	bus.Register("host.end", send(frontend.StatusComplete))
	bus.Register("host.abort", send(frontend.StatusAborted))

	bus.Register("deploy.end", func(_ context.Context, _ eventbus.Payload) error {
		prog.Send(summaryMsg("deploy finished"))
		prog.Send(quitMsg{})
		return nil
	})
	bus.Register("deploy.abort", func(_ context.Context, p eventbus.Payload) error {
		reason, _ := p["reason"].(string)
		prog.Send(summaryMsg(fmt.Sprintf("deploy aborted: %s", reason)))
		prog.Send(quitMsg{})
		return nil
	})
}

// Confirmer implements pkg/frontend.Confirmer by round-tripping a prompt
// through the running Bubble Tea program and waiting for a keypress.
type Confirmer struct {
	prog *tea.Program
}

// NewConfirmer builds a Confirmer bound to a running dashboard program.
func NewConfirmer(prog *tea.Program) *Confirmer {
	return &Confirmer{prog: prog}
}

func (c *Confirmer) ask(title string, choices []promptChoice) string {
	respond := make(chan string, 1)
	c.prog.Send(promptMsg{title: title, choices: choices, respond: respond})
	return <-respond
}

// ConfirmCanary implements frontend.Confirmer: prompts for health
// confirmation once every pool's canary has begun or finished.
func (c *Confirmer) ConfirmCanary(state *frontend.HostsState) (frontend.Strategy, error) {
	key := c.ask("canary complete — confirm canaries are healthy", []promptChoice{
		{Key: "c", Label: "continue"},
		{Key: "x", Label: "exit"},
	})
	if key == "x" {
		return nil, &frontend.AbortError{Reason: "operator declined canary health"}
	}
	return frontend.NewSingleHost(state), nil
}

// ChooseStrategy implements frontend.Confirmer: the regular pause menu
// offered between hosts once canaries are confirmed.
func (c *Confirmer) ChooseStrategy(state *frontend.HostsState) (frontend.Strategy, error) {
	key := c.ask("waiting for input", []promptChoice{
		{Key: "c", Label: "continue (one more host)"},
		{Key: "a", Label: "all remaining"},
		{Key: "1", Label: "10% more"},
		{Key: "2", Label: "20% more"},
		{Key: "x", Label: "exit"},
	})
	switch key {
	case "a":
		return frontend.Free{}, nil
	case "x":
		return nil, &frontend.AbortError{Reason: "operator declined to continue"}
	case "c":
		return frontend.NewSingleHost(state), nil
	case "1":
		return frontend.NewPercent(state.PercentComplete()+10, len(state.Order)), nil
	case "2":
		return frontend.NewPercent(state.PercentComplete()+20, len(state.Order)), nil
	default:
		return frontend.NewSingleHost(state), nil
	}
}
