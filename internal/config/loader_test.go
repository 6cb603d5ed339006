package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int64(32), cfg.Resilience.MaxConcurrentToolExecutions)
	assert.Equal(t, 256, cfg.Orchestrator.ChannelCapacity)
	assert.Equal(t, 15*time.Second, cfg.Orchestrator.HeartbeatInterval)
	assert.Equal(t, 0.85, cfg.Ontology.PublishMinConfidence)
	assert.Equal(t, 5, cfg.Ontology.PublishMaxComplexity)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9191
resilience:
  max_concurrent_tool_executions: 4
  breaker_failure_threshold: 3
orchestrator:
  channel_capacity: 16
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, int64(4), cfg.Resilience.MaxConcurrentToolExecutions)
	assert.Equal(t, uint32(3), cfg.Resilience.BreakerFailureThreshold)
	assert.Equal(t, 16, cfg.Orchestrator.ChannelCapacity)
	// Unset fields fall back to defaults.
	assert.Equal(t, 250*time.Millisecond, cfg.Resilience.PermitWait)
}

func TestLoadPerToolTimeouts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
resilience:
  default_timeout: 10s
  tool_timeouts:
    history_get: 50ms
    memory_search: 2s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Resilience.DefaultTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.Resilience.ToolTimeouts["history_get"])
	assert.Equal(t, 2*time.Second, cfg.Resilience.ToolTimeouts["memory_search"])
	// Tools without an override fall back to the default deadline.
	_, ok := cfg.Resilience.ToolTimeouts["graph_query"]
	assert.False(t, ok)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0o600))

	t.Setenv("LDM_SERVER_PORT", "7777")
	t.Setenv("LDM_TENANCY_DEFAULT_TENANT_ID", "acme")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.Port)
	assert.Equal(t, "acme", cfg.Tenancy.DefaultTenantID)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Resilience.RetryJitter = 2.0
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Server.Port = -1
	require.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Orchestrator.ChannelCapacity = 0
	require.Error(t, cfg.Validate())
}
