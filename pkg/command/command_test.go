package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCmdline(t *testing.T) {
	c := NewRestart("all")
	assert.Equal(t, []string{"restart", "all"}, c.Cmdline())
}

func TestDeployCheckResult_EmptyIsContinue(t *testing.T) {
	d := NewDeploy([]string{"svc@D1"})
	assert.Equal(t, Continue, d.CheckResult(Result{}))
	assert.Equal(t, Continue, d.CheckResult(nil))
}

func TestDeployCheckResult_AnyChangedContinues(t *testing.T) {
	d := NewDeploy([]string{"svc@D1", "other@D2"})
	result := Result{"svc": "repo_unchanged", "other": "repo_changed"}
	assert.Equal(t, Continue, d.CheckResult(result))
}

func TestDeployCheckResult_AllUnchangedSkips(t *testing.T) {
	d := NewDeploy([]string{"svc@D1"})
	result := Result{"svc": "repo_unchanged"}
	assert.Equal(t, SkipRemaining, d.CheckResult(result))
}

func TestOtherCommandsAlwaysContinue(t *testing.T) {
	cmds := []Command{
		NewSynchronize([]string{"svc"}),
		NewBuild([]string{"svc@T1"}),
		NewRestart("all"),
		NewWaitUntilComponentsReady(),
		NewComponents(),
		NewGeneric("custom", []string{"x"}),
	}
	for _, c := range cmds {
		assert.Equal(t, Continue, c.CheckResult(Result{"anything": "repo_unchanged"}))
	}
}

func TestIsRestart(t *testing.T) {
	require.True(t, IsRestart(NewRestart("all")))
	require.False(t, IsRestart(NewDeploy(nil)))
}

func TestComponentNotBuiltError(t *testing.T) {
	err := &ComponentNotBuiltError{Component: "svc"}
	assert.Contains(t, err.Error(), "svc")
}
