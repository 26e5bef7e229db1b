// Package rbac provides role-based access control for fleetroll.
//
// It enforces who can trigger a deploy, abort one in flight, answer a
// pause prompt, or edit the alias table, with per-user and per-role
// permission boundaries. Every decision is auditable.
//
// Design principles:
//   - Deny by default: no permission = denied
//   - Least privilege: grant only what's needed
//   - Audit everything: every decision is logged
package rbac

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ------------------------------------------------------------------
// Core types
// ------------------------------------------------------------------

// UserID identifies a user across channels.
type UserID string

// RoleName is a named permission set.
type RoleName string

// Permission is a specific action that can be allowed or denied.
type Permission string

// Pre-defined permissions following resource:action pattern.
const (
	PermDeployView         Permission = "deploy:view"
	PermDeployTrigger      Permission = "deploy:trigger"
	PermDeployAbort        Permission = "deploy:abort"
	PermDeployConfirmPause Permission = "deploy:confirm_pause"
	PermHostManage         Permission = "host:manage" // register/deregister, edit aliases
	PermAuditView          Permission = "audit:view"
	PermAdmin              Permission = "admin:*"
)

// Pre-defined roles.
var (
	RoleAdmin = Role{
		Name:        "admin",
		Description: "Full access to all deploy operations",
		Permissions: []Permission{PermAdmin},
	}
	RoleOperator = Role{
		Name:        "operator",
		Description: "Can trigger, abort, and steer deploys",
		Permissions: []Permission{
			PermDeployView, PermDeployTrigger, PermDeployAbort, PermDeployConfirmPause,
			PermAuditView,
		},
	}
	RoleViewer = Role{
		Name:        "viewer",
		Description: "Read-only access to deploy status and audit history",
		Permissions: []Permission{
			PermDeployView, PermAuditView,
		},
	}
	RoleFleetAdmin = Role{
		Name:        "fleet-admin",
		Description: "Can manage host inventory and aliases in addition to operator rights",
		Permissions: []Permission{
			PermDeployView, PermDeployTrigger, PermDeployAbort, PermDeployConfirmPause,
			PermHostManage, PermAuditView,
		},
	}
)

// Role is a named collection of permissions.
type Role struct {
	Name        RoleName     `json:"name"`
	Description string       `json:"description"`
	Permissions []Permission `json:"permissions"`
}

// User represents an authenticated identity with role bindings.
type User struct {
	ID          UserID            `json:"id"`
	DisplayName string            `json:"display_name"`
	Roles       []RoleName        `json:"roles"`
	ChannelIDs  map[string]string `json:"channel_ids"` // channel → platform user ID
	Scopes      []ResourceScope   `json:"scopes,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	LastSeen    time.Time         `json:"last_seen"`
	Disabled    bool              `json:"disabled"`
}

// ResourceScope limits a user's permissions to specific host pools.
// CheckWithScope enforces HostPools only; HostIDs is not checked.
type ResourceScope struct {
	HostPools []string `json:"host_pools,omitempty"`
	HostIDs   []string `json:"host_ids,omitempty"`
}

// ------------------------------------------------------------------
// Enforcer
// ------------------------------------------------------------------

// Enforcer evaluates access control decisions.
type Enforcer struct {
	mu    sync.RWMutex
	roles map[RoleName]*Role
	users map[UserID]*User
	audit AuditLogger
}

// AuditLogger records access control decisions.
type AuditLogger interface {
	LogDecision(entry AuditEntry)
}

// AuditEntry records a single access control decision.
type AuditEntry struct {
	Timestamp  time.Time  `json:"timestamp"`
	UserID     UserID     `json:"user_id"`
	Permission Permission `json:"permission"`
	Resource   string     `json:"resource"`
	Decision   string     `json:"decision"` // "allow", "deny"
	Reason     string     `json:"reason"`
}

// NewEnforcer creates an RBAC enforcer with default roles.
func NewEnforcer(audit AuditLogger) *Enforcer {
	e := &Enforcer{
		roles: make(map[RoleName]*Role),
		users: make(map[UserID]*User),
		audit: audit,
	}
	for _, r := range []Role{RoleAdmin, RoleOperator, RoleViewer, RoleFleetAdmin} {
		e.roles[r.Name] = &r
	}
	return e
}

// Check evaluates whether a user has a specific permission.
func (e *Enforcer) Check(ctx context.Context, userID UserID, perm Permission, resource string) bool {
	e.mu.RLock()
	user, ok := e.users[userID]
	e.mu.RUnlock()

	if !ok || user.Disabled {
		e.logDeny(userID, perm, resource, "user not found or disabled")
		return false
	}

	for _, roleName := range user.Roles {
		e.mu.RLock()
		role, exists := e.roles[roleName]
		e.mu.RUnlock()
		if !exists {
			continue
		}
		for _, p := range role.Permissions {
			if matchPermission(p, perm) {
				e.logAllow(userID, perm, resource)
				return true
			}
		}
	}

	e.logDeny(userID, perm, resource, "no matching permission")
	return false
}

// CheckWithScope evaluates permission plus host-pool scope restrictions.
func (e *Enforcer) CheckWithScope(ctx context.Context, userID UserID, perm Permission, resource string, hostPool string) bool {
	if !e.Check(ctx, userID, perm, resource) {
		return false
	}

	e.mu.RLock()
	user := e.users[userID]
	e.mu.RUnlock()

	if len(user.Scopes) == 0 {
		return true
	}

	for _, scope := range user.Scopes {
		if len(scope.HostPools) > 0 && hostPool != "" {
			allowed := false
			for _, p := range scope.HostPools {
				if p == hostPool {
					allowed = true
					break
				}
			}
			if !allowed {
				e.logDeny(userID, perm, resource, "host pool not in scope: "+hostPool)
				return false
			}
		}
	}
	return true
}

// RegisterUser adds a user.
func (e *Enforcer) RegisterUser(user *User) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	e.users[user.ID] = user
}

// RegisterRole adds or updates a role.
func (e *Enforcer) RegisterRole(role *Role) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.roles[role.Name] = role
}

// ResolveUserFromChannel maps a channel + sender ID to a User.
func (e *Enforcer) ResolveUserFromChannel(channel, senderID string) (*User, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, u := range e.users {
		if cid, ok := u.ChannelIDs[channel]; ok && cid == senderID {
			return u, true
		}
	}
	return nil, false
}

// matchPermission checks if a granted permission covers the requested one.
// Supports wildcards: "admin:*" matches everything, "deploy:*" matches "deploy:trigger".
func matchPermission(granted, requested Permission) bool {
	if granted == requested {
		return true
	}
	if granted == PermAdmin {
		return true
	}
	gParts := strings.Split(string(granted), ":")
	rParts := strings.Split(string(requested), ":")
	for i, gp := range gParts {
		if gp == "*" {
			return true
		}
		if i >= len(rParts) {
			return false
		}
		if gp != rParts[i] {
			return false
		}
	}
	return len(gParts) == len(rParts)
}

func (e *Enforcer) logAllow(userID UserID, perm Permission, resource string) {
	if e.audit != nil {
		e.audit.LogDecision(AuditEntry{Timestamp: time.Now(), UserID: userID, Permission: perm, Resource: resource, Decision: "allow"})
	}
}

func (e *Enforcer) logDeny(userID UserID, perm Permission, resource, reason string) {
	if e.audit != nil {
		e.audit.LogDecision(AuditEntry{Timestamp: time.Now(), UserID: userID, Permission: perm, Resource: resource, Decision: "deny", Reason: reason})
	}
}

// ------------------------------------------------------------------
// Default audit logger (in-memory, for wiring to pkg/audit.Logger)
// ------------------------------------------------------------------

// StructuredAuditLogger keeps a bounded ring buffer of access decisions in
// memory. NewEnforcer callers that want a durable trail should instead pass
// an AuditLogger backed by pkg/audit.
type StructuredAuditLogger struct {
	mu      sync.Mutex
	entries []AuditEntry
	maxSize int
}

// NewStructuredAuditLogger creates an in-memory audit logger.
func NewStructuredAuditLogger(maxSize int) *StructuredAuditLogger {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &StructuredAuditLogger{entries: make([]AuditEntry, 0, maxSize), maxSize: maxSize}
}

func (l *StructuredAuditLogger) LogDecision(entry AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) >= l.maxSize {
		drop := l.maxSize / 10
		l.entries = l.entries[drop:]
	}
	l.entries = append(l.entries, entry)
}

// Query returns audit entries matching the filter.
func (l *StructuredAuditLogger) Query(opts AuditQueryOptions) []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []AuditEntry
	for _, e := range l.entries {
		if opts.UserID != "" && e.UserID != opts.UserID {
			continue
		}
		if opts.Decision != "" && e.Decision != opts.Decision {
			continue
		}
		if !opts.Since.IsZero() && e.Timestamp.Before(opts.Since) {
			continue
		}
		if opts.Permission != "" && e.Permission != opts.Permission {
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out
}

// AuditQueryOptions filters audit log queries.
type AuditQueryOptions struct {
	UserID     UserID
	Permission Permission
	Decision   string // "allow" or "deny"
	Since      time.Time
	Limit      int
}

// String returns a human-readable audit entry.
func (e AuditEntry) String() string {
	return fmt.Sprintf("[%s] user=%s perm=%s resource=%s decision=%s reason=%s",
		e.Timestamp.Format(time.RFC3339), e.UserID, e.Permission, e.Resource, e.Decision, e.Reason)
}
