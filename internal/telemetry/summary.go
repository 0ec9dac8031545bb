// Package telemetry times named phases in call order and exports the
// result for humans (a summary line) and machines (a Prometheus textfile).
package telemetry

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Phase is one timed step.
type Phase struct {
	Name     string
	Duration time.Duration
}

// Summary is a snapshot of a PhaseTimer.
type Summary struct {
	Total  time.Duration
	Phases []Phase
}

// Line renders the summary on one line, phases in the order they ran.
func (s Summary) Line() string {
	var parts []string
	if s.Total > 0 {
		parts = append(parts, fmt.Sprintf("total=%s", formatDuration(s.Total)))
	}
	if len(s.Phases) > 0 {
		parts = append(parts, fmt.Sprintf("stages %s", formatPhases(s.Phases)))
	}
	if len(parts) == 0 {
		return ""
	}
	return "Timings: " + strings.Join(parts, " · ")
}

func formatPhases(phases []Phase) string {
	parts := make([]string, 0, len(phases))
	for _, p := range phases {
		parts = append(parts, fmt.Sprintf("%s=%s", p.Name, formatDuration(p.Duration)))
	}
	return strings.Join(parts, ", ")
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	rounded := d.Round(10 * time.Millisecond)
	if rounded <= 0 {
		rounded = d
	}
	return rounded.String()
}

// PhaseTimer accumulates durations per phase name, remembering the order in
// which names were first seen. time.Since uses the monotonic clock.
type PhaseTimer struct {
	mu      sync.Mutex
	started time.Time
	order   []string
	phases  map[string]time.Duration
}

func NewPhaseTimer() *PhaseTimer {
	return &PhaseTimer{
		started: time.Now(),
		phases:  map[string]time.Duration{},
	}
}

// Track runs fn and adds its wall time to name, also when fn fails.
func (t *PhaseTimer) Track(name string, fn func() error) (time.Duration, error) {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	t.Add(name, elapsed)
	return elapsed, err
}

func (t *PhaseTimer) Add(name string, d time.Duration) {
	if t == nil {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	t.mu.Lock()
	if t.phases == nil {
		t.phases = map[string]time.Duration{}
	}
	if _, ok := t.phases[name]; !ok {
		t.order = append(t.order, name)
	}
	t.phases[name] += d
	t.mu.Unlock()
}

// Phases returns the accumulated phases in first-seen order.
func (t *PhaseTimer) Phases() []Phase {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Phase, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, Phase{Name: name, Duration: t.phases[name]})
	}
	return out
}

func (t *PhaseTimer) Total() time.Duration {
	if t == nil || t.started.IsZero() {
		return 0
	}
	return time.Since(t.started)
}

func (t *PhaseTimer) Summary() Summary {
	return Summary{Total: t.Total(), Phases: t.Phases()}
}
