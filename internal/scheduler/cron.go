// Package scheduler implements the cron-driven worker runtime of
// spec.md §4.8: one supervised worker per schedule entry, an overlap
// guard, run_now, and start/completed/failed/skipped telemetry.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// parser implements the 5-field, minute-granular syntax spec.md §4.8
// requires ("standard 5-field syntax"), evaluated in the server's local
// time.Location (SPEC_FULL.md §10 — no per-entry timezone override).
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextFire returns the next time expr fires strictly after after, in
// after's location.
func nextFire(expr string, after time.Time) (time.Time, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: parse cron expression %q: %w", expr, err)
	}
	return schedule.Next(after), nil
}
