package hostsource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetHosts(t *testing.T) {
	s := NewMemoryStore()
	s.Register(Host{ID: "a", Name: "a", Address: "10.0.0.1", Pool: "p"})
	s.Register(Host{ID: "b", Name: "b", Address: "10.0.0.2", Pool: "p"})

	hosts, err := s.GetHosts(context.Background())
	require.NoError(t, err)
	assert.Len(t, hosts, 2)
}

func TestMemoryStore_ShouldBeAlive_DefaultsTrue(t *testing.T) {
	s := NewMemoryStore()
	h := Host{ID: "a", Name: "a", Address: "10.0.0.1", Pool: "p"}
	assert.True(t, s.ShouldBeAlive(context.Background(), h))
}

func TestMemoryStore_ShouldBeAlive_SetFalse(t *testing.T) {
	s := NewMemoryStore()
	h := Host{ID: "a", Name: "a", Address: "10.0.0.1", Pool: "p"}
	s.Register(h)
	s.SetAlive("a", false)
	assert.False(t, s.ShouldBeAlive(context.Background(), h))
}

func TestMemoryStore_ShouldBeAlive_UnknownHostFailsSafe(t *testing.T) {
	s := NewMemoryStore()
	unknown := Host{ID: "ghost", Name: "ghost", Address: "10.0.0.9", Pool: "p"}
	assert.True(t, s.ShouldBeAlive(context.Background(), unknown))
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, Host{ID: "a", Name: "a", Address: "10.0.0.1", Pool: "p"}, true))
	require.NoError(t, s.Upsert(ctx, Host{ID: "b", Name: "b", Address: "10.0.0.2", Pool: "p"}, false))

	hosts, err := s.GetHosts(ctx)
	require.NoError(t, err)
	assert.Len(t, hosts, 2)

	assert.True(t, s.ShouldBeAlive(ctx, Host{ID: "a"}))
	assert.False(t, s.ShouldBeAlive(ctx, Host{ID: "b"}))
	assert.True(t, s.ShouldBeAlive(ctx, Host{ID: "unknown"}))
}
