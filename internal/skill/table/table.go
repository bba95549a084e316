// Package table implements the "table" built-in skill (spec.md §1's
// example domain: table counts): a skill.Skill over any in-process
// collection of named counters, such as an ETS-style table or an
// in-memory cache, supplied by the embedding application as a Counter
// function rather than a concrete storage backend (spec.md treats
// metric collectors as external collaborators; this skill is the
// uniform adapter onto them).
package table

import (
	"context"
	"fmt"
	"sort"

	"github.com/beamlens/beamlens/internal/skill"
)

const systemPrompt = `You monitor the size of named in-process tables (row/entry counts). You only have
read-only tools. A growing table count alone is not an anomaly; investigate growth rate and
recent callback activity before concluding something is wrong.`

const callbackDocs = `- table_sizes(): returns the current row count of every tracked table.
- largest_tables(limit): returns the N largest tables by row count.`

// Counter reports the current row/entry count of every tracked table,
// keyed by table name. Supplied by the embedding application; this
// package has no opinion on the storage engine behind it.
type Counter func(ctx context.Context) (map[string]int, error)

// Skill wraps skill.Base with the Snapshot implementation, same pattern
// as the vm skill.
type Skill struct {
	*skill.Base
	counter Counter
}

// New constructs the table skill. counter supplies the live row counts;
// it must be cheap and side-effect free, per skill.Skill's Snapshot
// contract.
func New(counter Counter) *Skill {
	b := skill.NewBase("table", "Table Sizes", "In-process table/row counts", systemPrompt, callbackDocs)
	s := &Skill{Base: b, counter: counter}
	b.RegisterCallback("table_sizes", s.tableSizes)
	b.RegisterCallback("largest_tables", s.largestTables)
	return s
}

// Snapshot reports each tracked table's row count as a metric, prefixed
// so the shared cooldown-category derivation (prefix before the first
// underscore) groups all table-size anomalies under one "table"
// category.
func (s *Skill) Snapshot(ctx context.Context) (map[string]float64, error) {
	counts, err := s.counter(ctx)
	if err != nil {
		return nil, fmt.Errorf("table: count tables: %w", err)
	}
	out := make(map[string]float64, len(counts))
	for name, n := range counts {
		out["table_"+name] = float64(n)
	}
	return out, nil
}

func (s *Skill) tableSizes(ctx context.Context, args map[string]any) (any, error) {
	counts, err := s.counter(ctx)
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *Skill) largestTables(ctx context.Context, args map[string]any) (any, error) {
	counts, err := s.counter(ctx)
	if err != nil {
		return nil, err
	}
	limit := 5
	if raw, ok := args["limit"]; ok {
		if f, ok := raw.(float64); ok && f > 0 {
			limit = int(f)
		}
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return counts[names[i]] > counts[names[j]] })
	if len(names) > limit {
		names = names[:limit]
	}

	out := make([]map[string]any, 0, len(names))
	for _, name := range names {
		out = append(out, map[string]any{"name": name, "rows": counts[name]})
	}
	return out, nil
}
