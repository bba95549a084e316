package main

import (
	"context"
	"fmt"
)

// StatusCmd prints a one-shot snapshot of the supervisor's operational
// state: circuit breaker, whether alerts are pending, and watchers.
type StatusCmd struct{}

func (c *StatusCmd) Run(cli *CLI) error {
	ctx := context.Background()
	sup, _, err := buildSupervisor(ctx, resolveConfigPath(cli.Config))
	if err != nil {
		return err
	}

	snap := sup.CircuitBreakerState()
	fmt.Printf("circuit breaker: %s (failures=%d successes=%d)\n", snap.State, snap.FailureCount, snap.SuccessCount)
	fmt.Printf("pending alerts:  %v\n", sup.PendingAlerts())
	fmt.Println("watchers:")
	for _, name := range sup.ListWatchers() {
		status, err := sup.WatcherStatus(name)
		if err != nil {
			fmt.Printf("  - %s: %v\n", name, err)
			continue
		}
		fmt.Printf("  - %s: running=%v next_fire=%s\n", name, status.Running, status.NextFire.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}

// InvestigateCmd drains the alert bus through the coordinator once,
// synchronously, and prints any produced insights.
type InvestigateCmd struct{}

func (c *InvestigateCmd) Run(cli *CLI) error {
	ctx := context.Background()
	sup, _, err := buildSupervisor(ctx, resolveConfigPath(cli.Config))
	if err != nil {
		return err
	}

	result, ran, err := sup.Investigate(ctx)
	if err != nil {
		return err
	}
	if !ran {
		fmt.Println("no pending alerts, nothing to investigate")
		return nil
	}
	fmt.Printf("produced %d insight(s)\n", len(result.Insights))
	for _, ins := range result.Insights {
		fmt.Printf("  - %s: %s\n", ins.ID, ins.Summary)
	}
	if result.Warning != "" {
		fmt.Println("warning:", result.Warning)
	}
	return nil
}

// WatchersListCmd prints every configured watcher name.
type WatchersListCmd struct{}

func (c *WatchersListCmd) Run(cli *CLI) error {
	ctx := context.Background()
	sup, _, err := buildSupervisor(ctx, resolveConfigPath(cli.Config))
	if err != nil {
		return err
	}
	for _, name := range sup.ListWatchers() {
		fmt.Println(name)
	}
	return nil
}

// WatchersStatusCmd prints one watcher's scheduler status.
type WatchersStatusCmd struct {
	Name string `arg:"" help:"Watcher name."`
}

func (c *WatchersStatusCmd) Run(cli *CLI) error {
	ctx := context.Background()
	sup, _, err := buildSupervisor(ctx, resolveConfigPath(cli.Config))
	if err != nil {
		return err
	}
	status, err := sup.WatcherStatus(c.Name)
	if err != nil {
		return err
	}
	fmt.Printf("name:      %s\n", status.Name)
	fmt.Printf("running:   %v\n", status.Running)
	fmt.Printf("next_fire: %s\n", status.NextFire.Format("2006-01-02T15:04:05Z07:00"))
	fmt.Printf("last_run:  %s\n", status.LastRun.Format("2006-01-02T15:04:05Z07:00"))
	if status.LastErr != nil {
		fmt.Printf("last_err:  %v\n", status.LastErr)
	}
	return nil
}

// WatchersTriggerCmd fires a watcher's tick immediately.
type WatchersTriggerCmd struct {
	Name string `arg:"" help:"Watcher name."`
}

func (c *WatchersTriggerCmd) Run(cli *CLI) error {
	ctx := context.Background()
	sup, _, err := buildSupervisor(ctx, resolveConfigPath(cli.Config))
	if err != nil {
		return err
	}
	if err := sup.TriggerWatcher(c.Name); err != nil {
		return err
	}
	fmt.Printf("triggered %s\n", c.Name)
	return nil
}

// BreakerStateCmd prints the circuit breaker's current snapshot.
type BreakerStateCmd struct{}

func (c *BreakerStateCmd) Run(cli *CLI) error {
	ctx := context.Background()
	sup, _, err := buildSupervisor(ctx, resolveConfigPath(cli.Config))
	if err != nil {
		return err
	}
	snap := sup.CircuitBreakerState()
	fmt.Printf("state:             %s\n", snap.State)
	fmt.Printf("failure_count:     %d\n", snap.FailureCount)
	fmt.Printf("success_count:     %d\n", snap.SuccessCount)
	fmt.Printf("failure_threshold: %d\n", snap.FailureThreshold)
	fmt.Printf("success_threshold: %d\n", snap.SuccessThreshold)
	fmt.Printf("reset_timeout:     %s\n", snap.ResetTimeout)
	if !snap.LastFailureAt.IsZero() {
		fmt.Printf("last_failure_at:   %s (%s)\n", snap.LastFailureAt.Format("2006-01-02T15:04:05Z07:00"), snap.LastFailureReason)
	}
	return nil
}

// BreakerResetCmd forces the circuit breaker back to closed.
type BreakerResetCmd struct{}

func (c *BreakerResetCmd) Run(cli *CLI) error {
	ctx := context.Background()
	sup, _, err := buildSupervisor(ctx, resolveConfigPath(cli.Config))
	if err != nil {
		return err
	}
	sup.ResetCircuitBreaker()
	fmt.Println("circuit breaker reset to closed")
	return nil
}
