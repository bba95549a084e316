package beamlens

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beamlens/beamlens/internal/breaker"
	"github.com/beamlens/beamlens/internal/config"
	"github.com/beamlens/beamlens/internal/llm"
	"github.com/beamlens/beamlens/internal/operator"
)

type stubClient struct{ name string }

func (c *stubClient) Generate(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (llm.Response, error) {
	return llm.Response{Content: "ok"}, nil
}
func (c *stubClient) ModelName() string { return c.name }
func (c *stubClient) Close() error      { return nil }

func stubFactory(pc llm.ProviderConfig) (llm.Client, error) {
	return &stubClient{name: pc.Name}, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Name: "test",
		Skills: []config.SkillConfig{
			{ID: "vm", Builtin: "vm"},
		},
		Watchers: []config.WatcherEntryConfig{
			{Name: "vm-watch", CronExpression: "*/5 * * * *", Skill: "vm"},
		},
		Schedules: []config.ScheduleEntryConfig{
			{Name: "nightly", CronExpression: "0 2 * * *", Coordinator: true, Reason: "nightly sweep"},
		},
		ClientRegistry: llm.RegistryConfig{
			Primary: "primary",
			Clients: []llm.ProviderConfig{{Name: "primary", Provider: "mock"}},
		},
	}
	cfg.SetDefaults()
	return cfg
}

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	sup, err := New(context.Background(), cfg, WithClientFactory(stubFactory))
	require.NoError(t, err)
	return sup
}

func TestNewBuildsSupervisorFromConfig(t *testing.T) {
	sup := newTestSupervisor(t)
	assert.ElementsMatch(t, []string{"vm-watch"}, sup.ListWatchers())
	assert.False(t, sup.PendingAlerts())
}

func TestSupervisorCircuitBreakerStateStartsClosed(t *testing.T) {
	sup := newTestSupervisor(t)
	snap := sup.CircuitBreakerState()
	assert.Equal(t, breaker.Closed, snap.State)
}

func TestSupervisorResetCircuitBreakerIsNoopWhenClosed(t *testing.T) {
	sup := newTestSupervisor(t)
	sup.ResetCircuitBreaker()
	assert.Equal(t, breaker.Closed, sup.CircuitBreakerState().State)
}

func TestSupervisorWatcherStatusUnknownName(t *testing.T) {
	sup := newTestSupervisor(t)
	_, err := sup.WatcherStatus("does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSupervisorWatcherStatusKnownName(t *testing.T) {
	sup := newTestSupervisor(t)
	status, err := sup.WatcherStatus("vm-watch")
	require.NoError(t, err)
	assert.Equal(t, "vm-watch", status.Name)
	assert.False(t, status.Running)
}

func TestSupervisorTriggerWatcherFiresTick(t *testing.T) {
	sup := newTestSupervisor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Start(ctx)
	defer sup.Stop()

	require.NoError(t, sup.TriggerWatcher("vm-watch"))

	require.Eventually(t, func() bool {
		status, ok := sup.scheduler.Status("vm-watch")
		return ok && !status.LastRun.IsZero()
	}, time.Second, 10*time.Millisecond)
}

func TestSupervisorInvestigateNoOpsWithoutPendingAlerts(t *testing.T) {
	sup := newTestSupervisor(t)
	_, ran, err := sup.Investigate(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestSupervisorRunAsyncInvokesNotifyCallback(t *testing.T) {
	sup := newTestSupervisor(t)
	notified := make(chan operator.CompletionEvent, 1)

	err := sup.RunAsync(context.Background(), "vm", "manual check", func(ev operator.CompletionEvent) {
		notified <- ev
	})
	require.NoError(t, err)

	select {
	case ev := <-notified:
		assert.Equal(t, "vm", ev.SkillID)
	case <-time.After(time.Second):
		t.Fatal("RunAsync never notified completion")
	}
}

func TestNewRejectsUnknownSkillBuiltin(t *testing.T) {
	cfg := testConfig()
	cfg.Skills = append(cfg.Skills, config.SkillConfig{ID: "custom", Builtin: "not-a-real-builtin"})
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	_, err := New(context.Background(), cfg, WithClientFactory(stubFactory))
	assert.Error(t, err)
}
