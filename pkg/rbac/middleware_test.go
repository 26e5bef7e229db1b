package rbac

import (
	"context"
	"testing"
)

func TestDeployGuard_DisabledAllowsAll(t *testing.T) {
	guard := NewDeployGuard(nil, false)

	if err := guard.CheckTrigger(context.Background(), "alice", "web"); err != nil {
		t.Errorf("disabled guard should allow trigger: %v", err)
	}
	if err := guard.CheckAbort(context.Background(), "alice"); err != nil {
		t.Errorf("disabled guard should allow abort: %v", err)
	}
}

func TestDeployGuard_EnabledDeniesUnknownUser(t *testing.T) {
	enforcer := NewEnforcer(nil)
	guard := NewDeployGuard(enforcer, true)

	if err := guard.CheckTrigger(context.Background(), "nobody", "web"); err == nil {
		t.Error("enabled guard should deny unknown user for trigger")
	}
}

func TestDeployGuard_EnabledAllowsAdmin(t *testing.T) {
	enforcer := NewEnforcer(nil)
	enforcer.RegisterUser(&User{ID: "admin-user", Roles: []RoleName{RoleAdmin.Name}})
	guard := NewDeployGuard(enforcer, true)

	ctx := context.Background()
	if err := guard.CheckTrigger(ctx, "admin-user", "web"); err != nil {
		t.Errorf("admin should be allowed to trigger: %v", err)
	}
	if err := guard.CheckAbort(ctx, "admin-user"); err != nil {
		t.Errorf("admin should be allowed to abort: %v", err)
	}
	if err := guard.CheckConfirmPause(ctx, "admin-user"); err != nil {
		t.Errorf("admin should be allowed to confirm pause: %v", err)
	}
	if err := guard.CheckHostManage(ctx, "admin-user"); err != nil {
		t.Errorf("admin should be allowed to manage hosts: %v", err)
	}
}

func TestDeployGuard_ViewerDeniedMutatingOperations(t *testing.T) {
	enforcer := NewEnforcer(nil)
	enforcer.RegisterUser(&User{ID: "viewer", Roles: []RoleName{RoleViewer.Name}})
	guard := NewDeployGuard(enforcer, true)

	ctx := context.Background()
	if err := guard.CheckTrigger(ctx, "viewer", "web"); err == nil {
		t.Error("viewer should NOT be allowed to trigger a deploy")
	}
	if err := guard.CheckAbort(ctx, "viewer"); err == nil {
		t.Error("viewer should NOT be allowed to abort a deploy")
	}
	if err := guard.CheckHostManage(ctx, "viewer"); err == nil {
		t.Error("viewer should NOT be allowed to manage hosts")
	}
}

func TestDeployGuard_OperatorScopedToHostPool(t *testing.T) {
	enforcer := NewEnforcer(nil)
	enforcer.RegisterUser(&User{
		ID:     "scoped-operator",
		Roles:  []RoleName{RoleOperator.Name},
		Scopes: []ResourceScope{{HostPools: []string{"staging"}}},
	})
	guard := NewDeployGuard(enforcer, true)

	ctx := context.Background()
	if err := guard.CheckTrigger(ctx, "scoped-operator", "staging"); err != nil {
		t.Errorf("should allow trigger within scope: %v", err)
	}
	if err := guard.CheckTrigger(ctx, "scoped-operator", "production"); err == nil {
		t.Error("should deny trigger outside scope")
	}
}

func TestDeployGuard_ResolveUser_Disabled(t *testing.T) {
	guard := NewDeployGuard(nil, false)
	id := guard.ResolveUser("slack", "U123")
	if id != "U123" {
		t.Errorf("disabled guard should return senderID as-is: got %q", id)
	}
}

func TestDeployGuard_ResolveUser_NotFound(t *testing.T) {
	enforcer := NewEnforcer(nil)
	guard := NewDeployGuard(enforcer, true)
	id := guard.ResolveUser("slack", "U_UNKNOWN")
	if id != "U_UNKNOWN" {
		t.Errorf("expected fallback to senderID, got %q", id)
	}
}
