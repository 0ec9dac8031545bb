package bench

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/go-logr/logr"

	"github.com/example/gammabench/internal/telemetry"
)

type fakeDataset struct{ n int }

func (d fakeDataset) ObservationCount() int { return d.n }

type fakePipeline struct {
	n     int
	calls []string
	fail  string
}

func (p *fakePipeline) record(name string) error {
	p.calls = append(p.calls, name)
	if name == p.fail {
		return errors.New(name + " failed")
	}
	return nil
}

func (p *fakePipeline) PrepareData(context.Context) (Dataset, error) {
	if err := p.record("prepare"); err != nil {
		return nil, err
	}
	return fakeDataset{p.n}, nil
}

func (p *fakePipeline) WriteDataset(_ context.Context, _ Dataset, path string) error {
	if err := p.record("write"); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("dataset"), 0o644)
}

func (p *fakePipeline) ReadDataset(_ context.Context, path string) (Dataset, error) {
	if err := p.record("read"); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return fakeDataset{p.n}, nil
}

func (p *fakePipeline) FitModel(context.Context, Dataset) error { return p.record("fit") }

func (p *fakePipeline) EstimateFluxPoints(context.Context, Dataset) error { return p.record("flux") }

func newRunner(t *testing.T, p *fakePipeline) *Runner {
	dir := t.TempDir()
	return &Runner{
		Pipeline:    p,
		NObs:        p.n,
		DatasetPath: filepath.Join(dir, "stacked_3d.fits.gz"),
		ReportPath:  filepath.Join(dir, "bench.yaml"),
		Logger:      logr.Discard(),
	}
}

func TestStageNamesOrder(t *testing.T) {
	want := []string{"data_preparation", "writing", "reading", "data_fitting", "flux_point"}
	if got := StageNames(); !reflect.DeepEqual(got, want) {
		t.Fatalf("stage names %v, want %v", got, want)
	}
	r := &Runner{}
	var names []string
	for _, s := range r.Stages() {
		names = append(names, s.Name)
	}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("runner stages %v, want %v", names, want)
	}
}

func TestRunWritesOrderedReport(t *testing.T) {
	p := &fakePipeline{n: 3}
	r := newRunner(t, p)
	r.Timer = telemetry.NewPhaseTimer()
	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if want := []string{"prepare", "write", "read", "fit", "flux"}; !reflect.DeepEqual(p.calls, want) {
		t.Fatalf("pipeline calls %v, want %v", p.calls, want)
	}
	wantKeys := append([]string{"n_obs"}, StageNames()...)
	if !reflect.DeepEqual(report.Keys(), wantKeys) {
		t.Fatalf("report keys %v", report.Keys())
	}
	if len(r.Timer.Phases()) != 5 {
		t.Fatalf("timer should see every stage")
	}

	raw, err := os.ReadFile(r.ReportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 6 {
		t.Fatalf("expected six lines, got %q", raw)
	}
	for i, key := range wantKeys {
		if !strings.HasPrefix(lines[i], key+": ") {
			t.Fatalf("line %d = %q, want key %s", i, lines[i], key)
		}
	}
	if lines[0] != "n_obs: 3" {
		t.Fatalf("unexpected first line %q", lines[0])
	}
	parsed, err := ParseReport(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.NObs != 3 || len(parsed.Timings) != 5 {
		t.Fatalf("parsed report %+v", parsed)
	}
	for _, timing := range parsed.Timings {
		if timing.Seconds < 0 {
			t.Fatalf("negative timing %+v", timing)
		}
	}
}

func TestRunOverwritesPreviousOutputs(t *testing.T) {
	p := &fakePipeline{n: 1}
	r := newRunner(t, p)
	if err := os.WriteFile(r.ReportPath, []byte("stale: true\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := r.Run(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	got, err := ReadReportFile(r.ReportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if got.NObs != 1 {
		t.Fatalf("report not replaced: %+v", got)
	}
}

func TestFailedStageWritesNoReport(t *testing.T) {
	for _, stage := range []string{"prepare", "read", "fit", "flux"} {
		p := &fakePipeline{n: 2, fail: stage}
		r := newRunner(t, p)
		if _, err := r.Run(context.Background()); err == nil || !strings.Contains(err.Error(), stage+" failed") {
			t.Fatalf("%s: expected failure, got %v", stage, err)
		}
		if _, err := os.Stat(r.ReportPath); !os.IsNotExist(err) {
			t.Fatalf("%s: report must not exist after failure", stage)
		}
		if p.calls[len(p.calls)-1] != stage {
			t.Fatalf("%s: stages continued after failure: %v", stage, p.calls)
		}
	}
}

func TestRunChecksObservationCount(t *testing.T) {
	p := &fakePipeline{n: 2}
	r := newRunner(t, p)
	r.NObs = 5
	if _, err := r.Run(context.Background()); err == nil {
		t.Fatalf("expected mismatch error")
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &fakePipeline{n: 1}
	if _, err := newRunner(t, p).Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(p.calls) != 0 {
		t.Fatalf("no stage should run, got %v", p.calls)
	}
}

func TestParseReportRejectsBadDocuments(t *testing.T) {
	for _, doc := range []string{
		"- a\n- b\n",
		"writing: 1.0\nn_obs: 2\n",
		"n_obs: 2\nwriting: -1.0\n",
	} {
		if _, err := ParseReport([]byte(doc)); err == nil {
			t.Fatalf("expected error for %q", doc)
		}
	}
	var buf bytes.Buffer
	r := &Report{NObs: 4}
	r.Add("writing", 0)
	if err := r.Encode(&buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if buf.String() != "n_obs: 4\nwriting: 0.0\n" {
		t.Fatalf("unexpected encoding %q", buf.String())
	}
}
