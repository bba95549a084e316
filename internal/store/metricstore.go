// Package store implements the metric store / baseline store component of
// spec.md §2 item 3: a bounded ring buffer of per-(skill,metric) samples
// and the baselines computed and persisted from them.
package store

import (
	"sync"
	"time"
)

// Sample is a single (timestamp, skill, metric, value) reading.
type Sample struct {
	Timestamp time.Time
	Skill     string
	Metric    string
	Value     float64
}

// key identifies one (skill, metric) series.
type key struct {
	skill  string
	metric string
}

// MetricStore holds a bounded, per-(skill,metric) history of samples.
// Samples older than the configured window are pruned in insertion order,
// preserving ordering (spec.md §3, "Metric sample").
type MetricStore struct {
	mu      sync.Mutex
	window  time.Duration
	maxLen  int
	series  map[key][]Sample
}

// NewMetricStore creates a store that prunes samples older than window and
// additionally caps each series at maxLen entries (0 = unbounded count,
// still bounded by window).
func NewMetricStore(window time.Duration, maxLen int) *MetricStore {
	return &MetricStore{
		window: window,
		maxLen: maxLen,
		series: make(map[key][]Sample),
	}
}

// Append records a new sample and prunes stale entries for that series.
func (s *MetricStore) Append(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{skill: sample.Skill, metric: sample.Metric}
	series := append(s.series[k], sample)
	series = s.prune(series, sample.Timestamp)
	s.series[k] = series
}

// prune must be called with s.mu held.
func (s *MetricStore) prune(series []Sample, now time.Time) []Sample {
	if s.window > 0 {
		cutoff := now.Add(-s.window)
		start := 0
		for start < len(series) && series[start].Timestamp.Before(cutoff) {
			start++
		}
		if start > 0 {
			series = append([]Sample(nil), series[start:]...)
		}
	}
	if s.maxLen > 0 && len(series) > s.maxLen {
		series = append([]Sample(nil), series[len(series)-s.maxLen:]...)
	}
	return series
}

// History returns a copy of the current samples for (skill, metric), oldest
// first.
func (s *MetricStore) History(skill, metric string) []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	series := s.series[key{skill: skill, metric: metric}]
	out := make([]Sample, len(series))
	copy(out, series)
	return out
}

// Metrics returns the set of (skill, metric) pairs currently tracked, in no
// particular order; callers needing determinism should sort.
func (s *MetricStore) Metrics() [][2]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][2]string, 0, len(s.series))
	for k := range s.series {
		out = append(out, [2]string{k.skill, k.metric})
	}
	return out
}

// Count returns the number of samples currently buffered for (skill, metric).
func (s *MetricStore) Count(skill, metric string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.series[key{skill: skill, metric: metric}])
}
