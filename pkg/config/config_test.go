package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
code_host: codehost.internal
`))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Parallelism)
	assert.Equal(t, "memory", cfg.HostSource.Backend)
	assert.Equal(t, "mock", cfg.Transport.Kind)
}

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(`
code_host: codehost.internal
parallelism: 8
sleep_seconds: 10
timeout_seconds: 30
dangerously_fast: true
aliases:
  web:
    - "web-*"
  canary:
    - "web-a1"
host_source:
  backend: sqlite
  sqlite_path: /var/lib/fleetroll/hosts.db
transport:
  kind: shell
  binary: /usr/local/bin/fleetroll-exec
`))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Parallelism)
	assert.Equal(t, 10*1000000000, int(cfg.Sleep()))
	assert.True(t, cfg.DangerouslyFast)
	assert.Equal(t, []string{"web-*"}, cfg.Aliases["web"])
	assert.Equal(t, "sqlite", cfg.HostSource.Backend)
	assert.Equal(t, "/var/lib/fleetroll/hosts.db", cfg.HostSource.SQLitePath)

	table := cfg.AliasTable()
	assert.Equal(t, []string{"web-*"}, table["web"])
}

func TestParse_EmptyIsError(t *testing.T) {
	_, err := Parse(nil)
	require.Error(t, err)
	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
}

func TestParse_MissingCodeHostFailsValidation(t *testing.T) {
	_, err := Parse([]byte(`parallelism: 2`))
	require.Error(t, err)
}

func TestParse_UnknownBackendFailsValidation(t *testing.T) {
	_, err := Parse([]byte(`
code_host: codehost.internal
host_source:
  backend: magic
`))
	require.Error(t, err)
}

func TestLoad_MissingFileWrapsError(t *testing.T) {
	_, err := Load("/nonexistent/fleetroll.yaml")
	require.Error(t, err)
	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
}
