package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrigger_RunsHandlersInRegistrationOrder(t *testing.T) {
	b := New(nil)
	var order []int
	b.Register("deploy.begin", func(ctx context.Context, p Payload) error {
		order = append(order, 1)
		return nil
	})
	b.Register("deploy.begin", func(ctx context.Context, p Payload) error {
		order = append(order, 2)
		return nil
	})

	require.NoError(t, b.Trigger(context.Background(), "deploy.begin", nil))
	assert.Equal(t, []int{1, 2}, order)
}

func TestTrigger_HandlerErrorDoesNotAbortSiblings(t *testing.T) {
	b := New(nil)
	ran := false
	b.Register("host.abort", func(ctx context.Context, p Payload) error {
		return errors.New("boom")
	})
	b.Register("host.abort", func(ctx context.Context, p Payload) error {
		ran = true
		return nil
	})

	err := b.Trigger(context.Background(), "host.abort", nil)
	assert.NoError(t, err, "trigger never propagates handler errors")
	assert.True(t, ran)
}

func TestTrigger_AwaitsBlockingHandlerBeforeReturning(t *testing.T) {
	b := New(nil)
	gate := make(chan struct{})
	completed := false
	b.Register("deploy.enqueue", func(ctx context.Context, p Payload) error {
		<-gate
		completed = true
		return nil
	})

	done := make(chan struct{})
	go func() {
		b.Trigger(context.Background(), "deploy.enqueue", nil)
		close(done)
	}()

	close(gate)
	<-done
	assert.True(t, completed)
}

func TestTrigger_PanicIsRecoveredAndLogged(t *testing.T) {
	b := New(nil)
	b.Register("deploy.begin", func(ctx context.Context, p Payload) error {
		panic("unexpected")
	})
	assert.NotPanics(t, func() {
		b.Trigger(context.Background(), "deploy.begin", nil)
	})
}

func TestTrigger_NoHandlersIsNoop(t *testing.T) {
	b := New(nil)
	assert.NoError(t, b.Trigger(context.Background(), "deploy.sleep", Payload{"count": 3}))
}
