package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
name: beamlens-test
skills:
  - id: vm
    builtin: vm
    operator:
      max_iterations: 8
watchers:
  - name: vm-baseline
    cron_string: "*/5 * * * *"
    skill: vm
    investigate: true
schedules:
  - name: nightly-sweep
    cron_string: "0 2 * * *"
    coordinator: true
    reason: nightly health sweep
client_registry:
  primary: primary
  clients:
    - name: primary
      provider: gemini
      model: gemini-2.0-flash
      api_key: ${GEMINI_API_KEY:-test-key}
alert_handler:
  trigger: on_alert
circuit_breaker:
  failure_threshold: 3
coordinator:
  strategy: Pipeline
`

func TestLoadFromBytesAppliesDefaultsAndExpandsEnv(t *testing.T) {
	os.Unsetenv("GEMINI_API_KEY")
	cfg, err := LoadFromBytes([]byte(sampleYAML))
	require.NoError(t, err)

	require.Len(t, cfg.Skills, 1)
	assert.Equal(t, "vm", cfg.Skills[0].ID)
	assert.Equal(t, 8, cfg.Skills[0].Operator.MaxIterations)

	require.Len(t, cfg.Watchers, 1)
	assert.Equal(t, "vm", cfg.Watchers[0].Config.Skill)
	assert.True(t, cfg.Watchers[0].Config.Investigate)
	assert.Equal(t, 20, cfg.Watchers[0].Config.WindowSize, "watcher defaults must be applied")

	require.Len(t, cfg.ClientRegistry.Clients, 1)
	assert.Equal(t, "test-key", cfg.ClientRegistry.Clients[0].APIKey, "${VAR:-default} must expand when unset")
	assert.Equal(t, 3, cfg.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 2, cfg.CircuitBreaker.SuccessThreshold, "unset breaker fields still get defaults")
	assert.Equal(t, "Pipeline", cfg.Coordinator.Strategy)
	assert.Equal(t, 25, cfg.Coordinator.MaxIterations)
}

func TestLoadFromBytesEnvVarOverridesDefault(t *testing.T) {
	os.Setenv("GEMINI_API_KEY", "real-key")
	defer os.Unsetenv("GEMINI_API_KEY")

	cfg, err := LoadFromBytes([]byte(sampleYAML))
	require.NoError(t, err)
	require.Len(t, cfg.ClientRegistry.Clients, 1)
	assert.Equal(t, "real-key", cfg.ClientRegistry.Clients[0].APIKey)
}

func TestLoadFromBytesRejectsDuplicateSkillIDs(t *testing.T) {
	_, err := LoadFromBytes([]byte(`
skills:
  - id: vm
  - id: vm
`))
	assert.Error(t, err)
}

func TestLoadFromBytesRejectsWatcherMissingCron(t *testing.T) {
	_, err := LoadFromBytes([]byte(`
watchers:
  - name: broken
    skill: vm
`))
	assert.Error(t, err)
}

func TestLoadFromBytesRejectsBadAlertHandlerTrigger(t *testing.T) {
	_, err := LoadFromBytes([]byte(`
alert_handler:
  trigger: whenever
`))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/beamlens.yaml")
	assert.Error(t, err)
}

func TestLoadFromBytesPersistenceDisabledByDefault(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(sampleYAML))
	require.NoError(t, err)
	assert.False(t, cfg.Persistence.Enabled)
	assert.Empty(t, cfg.Persistence.Driver, "disabled persistence must not be defaulted to sqlite3")
}

func TestLoadFromBytesPersistenceDefaultsDriverWhenEnabled(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`
persistence:
  enabled: true
`))
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", cfg.Persistence.Driver)
	assert.NotEmpty(t, cfg.Persistence.DSN)
}

func TestLoadFromBytesRejectsUnsupportedPersistenceDriver(t *testing.T) {
	_, err := LoadFromBytes([]byte(`
persistence:
  enabled: true
  driver: oracle
`))
	assert.Error(t, err)
}
