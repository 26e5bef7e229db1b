package frontend

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/fleetroll/fleetroll/pkg/eventbus"
	"github.com/fleetroll/fleetroll/pkg/hostsource"
)

var (
	styleGood   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#33cc33"))
	styleWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("#aaaa00"))
	styleError  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#cc3333"))
	stylePrompt = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#33cccc"))
	styleSleep  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#3366cc"))
)

// LineLogger prints the headless, one-line-per-event view of a running
// deploy: a start banner, a sleep countdown, a percent-complete line per
// finished host, and a closing summary. It is the non-interactive half of
// the reference front-end; PromptConfirmer layers pausing on top of it.
type LineLogger struct {
	out   io.Writer
	total int
	done  int
}

// NewLineLogger creates a logger that writes to out, tracking progress
// against totalHosts for percent-complete reporting.
func NewLineLogger(out io.Writer, totalHosts int) *LineLogger {
	return &LineLogger{out: out, total: totalHosts}
}

func (l *LineLogger) Begin() {
	fmt.Fprintln(l.out, styleGood.Render("*** starting deploy"))
}

func (l *LineLogger) Sleep(count int) {
	fmt.Fprintln(l.out, styleSleep.Render(fmt.Sprintf("*** sleeping %d...", count)))
}

func (l *LineLogger) HostEnd(hostName string) {
	l.done++
	pct := 0
	if l.total > 0 {
		pct = (l.done * 100) / l.total
	}
	fmt.Fprintln(l.out, styleGood.Render(fmt.Sprintf("*** %d%% done (%s)", pct, hostName)))
}

func (l *LineLogger) HostAbort(hostName string, shouldBeAlive bool) {
	if shouldBeAlive {
		fmt.Fprintln(l.out, styleError.Render(fmt.Sprintf("*** unexpected error on %s", hostName)))
	} else {
		fmt.Fprintln(l.out, styleWarn.Render(fmt.Sprintf("*** error on possibly terminated host %s", hostName)))
	}
}

func (l *LineLogger) Summary(line string) {
	fmt.Fprintln(l.out, styleGood.Render(line))
}

func (l *LineLogger) Abort(reason string) {
	fmt.Fprintln(l.out, styleError.Render(fmt.Sprintf("*** deploy aborted: %s", reason)))
}

// PromptConfirmer is the interactive Confirmer: it prints the canonical
// pause prompt and reads a line of input from in. Accepted responses are
// "x" (abort), "c" (continue one more host), "a" (run the rest free), or a
// digit 1-9 (run that many more hosts before pausing again).
type PromptConfirmer struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewPromptConfirmer builds a confirmer reading one line at a time from in
// and writing prompts to out.
func NewPromptConfirmer(in io.Reader, out io.Writer) *PromptConfirmer {
	return &PromptConfirmer{in: bufio.NewScanner(in), out: out}
}

func (p *PromptConfirmer) ConfirmCanary(state *HostsState) (Strategy, error) {
	pools := strings.Join(orderedPoolSizes(state), ", ")
	fmt.Fprintln(p.out, stylePrompt.Render(fmt.Sprintf(
		"*** canary complete (%s) — waiting for input: [c]ontinue, e[x]it", pools)))
	for p.in.Scan() {
		switch strings.TrimSpace(p.in.Text()) {
		case "x":
			return nil, &AbortError{Reason: "x pressed"}
		case "c":
			return NewSingleHost(state), nil
		}
	}
	return nil, &AbortError{Reason: "input closed"}
}

func (p *PromptConfirmer) ChooseStrategy(state *HostsState) (Strategy, error) {
	fmt.Fprintln(p.out, stylePrompt.Render(
		"*** waiting for input: e[x]it, [c]ontinue, [a]ll remaining, [1-9] more hosts"))
	for p.in.Scan() {
		token := strings.TrimSpace(p.in.Text())
		switch token {
		case "a":
			return Free{}, nil
		case "x":
			return nil, &AbortError{Reason: "x pressed"}
		case "c":
			return NewSingleHost(state), nil
		default:
			n, err := strconv.Atoi(token)
			if err != nil || n <= 0 {
				continue
			}
			return NewPercent(state.PercentComplete()+percentPerHost(state)*n, len(state.Order)), nil
		}
	}
	return nil, &AbortError{Reason: "input closed"}
}

func percentPerHost(state *HostsState) int {
	if len(state.Order) == 0 {
		return 100
	}
	return 100 / len(state.Order)
}

// WireLineLogger registers l against bus's deploy and host lifecycle
// events, mirroring the reference HeadlessFrontend's event_bus.register
// call.
func WireLineLogger(bus *eventbus.Bus, l *LineLogger) {
	bus.Register("deploy.begin", func(ctx context.Context, p eventbus.Payload) error {
		l.Begin()
		return nil
	})
	bus.Register("deploy.sleep", func(ctx context.Context, p eventbus.Payload) error {
		if count, ok := p["count"].(int); ok {
			l.Sleep(count)
		}
		return nil
	})
	bus.Register("host.end", func(ctx context.Context, p eventbus.Payload) error {
		if h, ok := p["host"].(hostsource.Host); ok {
			l.HostEnd(h.Name)
		}
		return nil
	})
	bus.Register("host.abort", func(ctx context.Context, p eventbus.Payload) error {
		h, _ := p["host"].(hostsource.Host)
		alive, _ := p["should_be_alive"].(bool)
		l.HostAbort(h.Name, alive)
		return nil
	})
	bus.Register("deploy.abort", func(ctx context.Context, p eventbus.Payload) error {
		reason, _ := p["reason"].(string)
		l.Abort(reason)
		return nil
	})
}
