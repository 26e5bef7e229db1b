// Package command defines the closed set of remote commands a deploy can
// run against a host, and the post-execution continuation rule each one
// applies to its own result.
package command

import "fmt"

// Action tells the engine whether to keep running a host's command sequence.
type Action int

const (
	// Continue runs the next command in the sequence, if any.
	Continue Action = iota
	// SkipRemaining stops the sequence early for this host.
	SkipRemaining
)

func (a Action) String() string {
	if a == SkipRemaining {
		return "SKIP_REMAINING"
	}
	return "CONTINUE"
}

// Result is the arbitrary JSON-compatible map a remote command reports back.
type Result map[string]any

// Command is the closed sum type understood by the deploy engine.
// The generic variant covers user-defined commands not otherwise named.
type Command interface {
	// Name is the wire command name, e.g. "synchronize".
	Name() string
	// Args is the ordered argument list.
	Args() []string
	// Cmdline is Name() followed by Args().
	Cmdline() []string
	// CheckResult decides whether to continue the host's remaining commands.
	CheckResult(result Result) Action
}

type base struct {
	name string
	args []string
}

func (b base) Name() string      { return b.name }
func (b base) Args() []string    { return b.args }
func (b base) Cmdline() []string { return append([]string{b.name}, b.args...) }

// CheckResult defaults to Continue; only Deploy overrides it.
func (b base) CheckResult(Result) Action { return Continue }

// Synchronize runs ["synchronize", components...] against the code-host.
type Synchronize struct{ base }

// NewSynchronize builds a synchronize command for the given components.
func NewSynchronize(components []string) Synchronize {
	return Synchronize{base{name: "synchronize", args: components}}
}

// Build runs ["build", componentRefs...] against a buildhost bucket.
type Build struct{ base }

// NewBuild builds a build command for the given component@syncToken refs.
func NewBuild(componentRefs []string) Build {
	return Build{base{name: "build", args: componentRefs}}
}

// Deploy runs ["deploy", componentRefs...] on each fleet host.
// It is the only command kind that overrides CheckResult.
type Deploy struct{ base }

// NewDeploy builds a deploy command for the given component@deployToken refs.
func NewDeploy(componentRefs []string) Deploy {
	return Deploy{base{name: "deploy", args: componentRefs}}
}

// CheckResult implements the table in spec §4.4: empty/absent result means
// compatibility CONTINUE; otherwise any "repo_changed" component continues,
// and all-"repo_unchanged" skips the rest of this host's sequence.
func (d Deploy) CheckResult(result Result) Action {
	if len(result) == 0 {
		return Continue
	}
	allUnchanged := true
	for _, v := range result {
		status, _ := v.(string)
		if status == "repo_changed" {
			return Continue
		}
		if status != "repo_unchanged" {
			allUnchanged = false
		}
	}
	if allUnchanged {
		return SkipRemaining
	}
	return Continue
}

// Restart runs ["restart", target].
type Restart struct{ base }

// NewRestart builds a restart command for the given target.
func NewRestart(target string) Restart {
	return Restart{base{name: "restart", args: []string{target}}}
}

// WaitUntilComponentsReady runs ["wait-until-components-ready"].
type WaitUntilComponentsReady struct{ base }

// NewWaitUntilComponentsReady builds the synthetic post-restart wait command.
func NewWaitUntilComponentsReady() WaitUntilComponentsReady {
	return WaitUntilComponentsReady{base{name: "wait-until-components-ready"}}
}

// Components runs ["components"] to query what's currently deployed.
type Components struct{ base }

// NewComponents builds a components query command.
func NewComponents() Components {
	return Components{base{name: "components"}}
}

// Generic covers any command name not in the closed set above.
type Generic struct{ base }

// NewGeneric builds a user-defined command with the given name and args.
func NewGeneric(name string, args []string) Generic {
	return Generic{base{name: name, args: args}}
}

// IsRestart reports whether cmd is a Restart command value; used by the
// build phase to decide whether to append the synthetic ready-wait command.
func IsRestart(cmd Command) bool {
	_, ok := cmd.(Restart)
	return ok
}

// ComponentNotBuiltError names a component present in sync output but
// missing from the corresponding build-host's response.
type ComponentNotBuiltError struct {
	Component string
}

func (e *ComponentNotBuiltError) Error() string {
	return fmt.Sprintf("component not built: %s", e.Component)
}
