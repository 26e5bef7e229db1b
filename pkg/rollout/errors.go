package rollout

import "fmt"

// DeployError is the engine-internal error kind: an unexpected failure in
// the build phase, a per-host failure already surfaced via host.abort, or
// any other defect the engine itself detects. It always routes to
// deploy.abort if it escapes runDeploy.
type DeployError struct {
	Reason string
	Cause  error
}

func (e *DeployError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("deploy error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("deploy error: %s", e.Reason)
}

func (e *DeployError) Unwrap() error { return e.Cause }

// HostDeployError wraps a transport failure observed while running a
// single host's command sequence. It is a DeployError subkind. abortHost
// builds one and discards it, so it never reaches a caller; the failure is
// reported through host.abort instead.
type HostDeployError struct {
	DeployError
	HostID string
}

func newHostDeployError(hostID string, cause error) *HostDeployError {
	return &HostDeployError{
		DeployError: DeployError{Reason: fmt.Sprintf("host %s", hostID), Cause: cause},
		HostID:      hostID,
	}
}

// AbortDeploy is a clean, operator-requested or precheck-requested
// shutdown. Unlike DeployError it carries no notion of failure — it is
// always routed through deploy.abort with its Reason used verbatim.
type AbortDeploy struct {
	Reason string
}

func (e *AbortDeploy) Error() string { return e.Reason }

// NewAbortDeploy constructs an AbortDeploy with the given reason. Front-end
// pause strategies and precheck subscribers raise this from an event
// handler to cleanly stop a running deploy.
func NewAbortDeploy(reason string) *AbortDeploy {
	return &AbortDeploy{Reason: reason}
}

// signalMessages holds the canonical abort reason text for each signal the
// engine hooks, reused verbatim from the reference implementation so log
// lines and deploy summaries read identically across ports.
var signalMessages = map[string]string{
	"SIGINT": "received SIGINT",
	"SIGHUP": "received SIGHUP. tsk tsk.",
}
