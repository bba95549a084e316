// Command beamlensctl hosts a configured BeamLens supervisor and gives
// operators a way to drive it from outside the embedding process.
//
// Usage:
//
//	beamlensctl serve --config beamlens.yaml
//	beamlensctl watchers list --config beamlens.yaml
//	beamlensctl investigate --config beamlens.yaml
//	beamlensctl breaker state --config beamlens.yaml
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

// CLI defines the command-line interface.
type CLI struct {
	Config string `short:"c" help:"Path to the BeamLens config file." type:"path" default:"beamlens.yaml"`

	Serve       ServeCmd       `cmd:"" help:"Start the supervisor and its admin HTTP surface."`
	Status      StatusCmd      `cmd:"" help:"Print circuit breaker state and whether alerts are pending."`
	Investigate InvestigateCmd `cmd:"" help:"Drain pending alerts through the coordinator once."`
	Watchers    WatchersCmd    `cmd:"" help:"Inspect or trigger configured watchers."`
	Breaker     BreakerCmd     `cmd:"" help:"Inspect or reset the circuit breaker."`
}

// WatchersCmd groups the watcher-related subcommands.
type WatchersCmd struct {
	List    WatchersListCmd    `cmd:"" help:"List configured watcher names."`
	Status  WatchersStatusCmd  `cmd:"" help:"Show a watcher's scheduler status."`
	Trigger WatchersTriggerCmd `cmd:"" help:"Fire a watcher's tick immediately."`
}

// BreakerCmd groups the circuit-breaker subcommands.
type BreakerCmd struct {
	State BreakerStateCmd `cmd:"" help:"Print the circuit breaker's current state."`
	Reset BreakerResetCmd `cmd:"" help:"Force the circuit breaker back to closed."`
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("beamlensctl"),
		kong.Description("BeamLens runtime self-observation agent kernel CLI"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	if err != nil {
		fmt.Fprintln(os.Stderr, "beamlensctl:", err)
		os.Exit(1)
	}
}
