package telemetry

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestPhaseTimerKeepsCallOrder(t *testing.T) {
	timer := NewPhaseTimer()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if _, err := timer.Track(name, func() error { return nil }); err != nil {
			t.Fatalf("track: %v", err)
		}
	}
	timer.Add("alpha", time.Second)
	phases := timer.Phases()
	if len(phases) != 3 {
		t.Fatalf("expected 3 phases, got %d", len(phases))
	}
	for i, want := range []string{"zeta", "alpha", "mid"} {
		if phases[i].Name != want {
			t.Fatalf("phase %d = %s, want %s", i, phases[i].Name, want)
		}
	}
	if phases[1].Duration < time.Second {
		t.Fatalf("durations should accumulate, got %v", phases[1].Duration)
	}
	line := timer.Summary().Line()
	if !strings.HasPrefix(line, "Timings: ") || strings.Index(line, "zeta") > strings.Index(line, "alpha") {
		t.Fatalf("unexpected summary line %q", line)
	}
}

func TestTrackRecordsFailures(t *testing.T) {
	timer := NewPhaseTimer()
	boom := errors.New("boom")
	elapsed, err := timer.Track("broken", func() error {
		time.Sleep(time.Millisecond)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected error to propagate, got %v", err)
	}
	if elapsed <= 0 || len(timer.Phases()) != 1 {
		t.Fatalf("failed phase should still be timed")
	}
	var nilTimer *PhaseTimer
	nilTimer.Add("x", time.Second)
	if nilTimer.Phases() != nil || nilTimer.Total() != 0 {
		t.Fatalf("nil timer should be inert")
	}
}

func TestWriteTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics", "gammabench.prom")
	phases := []Phase{{Name: "data_preparation", Duration: 1500 * time.Millisecond}, {Name: "writing", Duration: 0}}
	if err := WriteTextfile(path, 10, phases); err != nil {
		t.Fatalf("write: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	text := string(raw)
	for _, want := range []string{
		`gammabench_stage_duration_seconds{stage="data_preparation"} 1.5`,
		`gammabench_stage_duration_seconds{stage="writing"} 0`,
		`gammabench_observations 10`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics missing %q:\n%s", want, text)
		}
	}
}
