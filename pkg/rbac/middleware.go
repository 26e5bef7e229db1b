// Deploy guard: permission checks a caller runs before a deploy operation;
// it does not wrap the rollout engine itself.
package rbac

import (
	"context"
	"fmt"
)

// DeployGuard wraps an RBAC enforcer to check permissions before a deploy
// operation runs.
type DeployGuard struct {
	enforcer *Enforcer
	enabled  bool
}

// NewDeployGuard creates a deploy guard. When enabled is false every check
// passes, which is the default for local/dev use without an enforcer wired
// in.
func NewDeployGuard(enforcer *Enforcer, enabled bool) *DeployGuard {
	return &DeployGuard{enforcer: enforcer, enabled: enabled}
}

// CheckTrigger authorizes starting a new deploy against hostPool.
func (g *DeployGuard) CheckTrigger(ctx context.Context, userID UserID, hostPool string) error {
	return g.check(ctx, userID, PermDeployTrigger, "deploy:trigger", hostPool)
}

// CheckAbort authorizes aborting a deploy in flight.
func (g *DeployGuard) CheckAbort(ctx context.Context, userID UserID) error {
	return g.check(ctx, userID, PermDeployAbort, "deploy:abort", "")
}

// CheckConfirmPause authorizes answering a pause prompt (continue, abort,
// run N more, run free).
func (g *DeployGuard) CheckConfirmPause(ctx context.Context, userID UserID) error {
	return g.check(ctx, userID, PermDeployConfirmPause, "deploy:pause", "")
}

// CheckHostManage authorizes editing the alias table or host inventory.
func (g *DeployGuard) CheckHostManage(ctx context.Context, userID UserID) error {
	return g.check(ctx, userID, PermHostManage, "host:manage", "")
}

func (g *DeployGuard) check(ctx context.Context, userID UserID, perm Permission, resource, hostPool string) error {
	if !g.enabled || g.enforcer == nil {
		return nil
	}

	var allowed bool
	if hostPool != "" {
		allowed = g.enforcer.CheckWithScope(ctx, userID, perm, resource, hostPool)
	} else {
		allowed = g.enforcer.Check(ctx, userID, perm, resource)
	}
	if allowed {
		return nil
	}
	return fmt.Errorf("access denied: user %s lacks permission %s for %s", userID, perm, resource)
}

// ResolveUser resolves a channel+senderID to an RBAC UserID using the
// enforcer, falling back to the raw sender ID when RBAC is disabled or the
// user is unknown.
func (g *DeployGuard) ResolveUser(channel, senderID string) UserID {
	if !g.enabled || g.enforcer == nil {
		return UserID(senderID)
	}
	user, ok := g.enforcer.ResolveUserFromChannel(channel, senderID)
	if !ok || user == nil {
		return UserID(senderID)
	}
	return user.ID
}
