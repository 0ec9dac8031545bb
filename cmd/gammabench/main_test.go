package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/example/gammabench/internal/bench"
	"github.com/example/gammabench/internal/config"
	"github.com/example/gammabench/internal/history"
)

// isolate points the config lookup at an empty file and clears variables
// that would otherwise leak in from the developer's shell.
func isolate(t *testing.T) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("{}\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("GAMMABENCH_CONFIG", cfgPath)
	for _, name := range []string{"GAMMAPY_DATA", "GAMMAPY_BENCH_N_OBS", "GAMMABENCH_DATA_ROOT", "GAMMABENCH_N_OBS", "GAMMABENCH_HISTORY"} {
		t.Setenv(name, "")
	}
	t.Setenv("NO_COLOR", "1")
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestRootRejectsUnknownCommand(t *testing.T) {
	isolate(t)
	_, _, err := execute(t, "desfs")
	if err == nil || !strings.Contains(err.Error(), `unknown command "desfs"`) {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestRootHelpUsesBenchmarkHeading(t *testing.T) {
	isolate(t)
	out, _, err := execute(t, "--help")
	if err != nil {
		t.Fatalf("help: %v", err)
	}
	for _, want := range []string{"Usage:", "Benchmark Flags:", "--n-obs", "simulate"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in help, got:\n%s", want, out)
		}
	}
}

func TestMissingDataRootFailsBeforeWritingAnything(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	report := filepath.Join(dir, "bench.yaml")
	output := filepath.Join(dir, "stacked.fits.gz")
	_, _, err := execute(t, "--report", report, "--output", output)
	if !errors.Is(err, config.ErrMissingDataRoot) {
		t.Fatalf("expected ErrMissingDataRoot, got %v", err)
	}
	if _, statErr := os.Stat(report); !os.IsNotExist(statErr) {
		t.Fatalf("report must not exist after a failed run, stat err %v", statErr)
	}
	if _, statErr := os.Stat(output); !os.IsNotExist(statErr) {
		t.Fatalf("dataset must not exist after a failed run, stat err %v", statErr)
	}
}

func TestZeroObservationsRejected(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, config.StoreSubdir), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	_, _, err := execute(t, "--data-root", root, "--n-obs", "0")
	if !errors.Is(err, config.ErrInvalidObsCount) {
		t.Fatalf("expected ErrInvalidObsCount, got %v", err)
	}
}

func TestLegacyEnvironmentIsHonored(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	t.Setenv("GAMMAPY_DATA", root)
	t.Setenv("GAMMAPY_BENCH_N_OBS", "0")
	// The count is read from the legacy variable, so validation fails on it
	// rather than on the missing data root.
	_, _, err := execute(t)
	if !errors.Is(err, config.ErrInvalidObsCount) {
		t.Fatalf("expected ErrInvalidObsCount from GAMMAPY_BENCH_N_OBS, got %v", err)
	}
	t.Setenv("GAMMAPY_BENCH_N_OBS", "")
	_, _, err = execute(t)
	if !errors.Is(err, config.ErrDataStoreNotFound) {
		t.Fatalf("expected ErrDataStoreNotFound below GAMMAPY_DATA, got %v", err)
	}
}

func TestSimulateThenBenchmark(t *testing.T) {
	if testing.Short() {
		t.Skip("runs the full analysis")
	}
	isolate(t)
	dataRoot := t.TempDir()
	out, _, err := execute(t, "simulate", "--data-root", dataRoot, "--livetime", "100", "--log-level", "error")
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !strings.Contains(out, "wrote 1 observation(s)") {
		t.Fatalf("unexpected simulate output %q", out)
	}

	work := t.TempDir()
	reportPath := filepath.Join(work, "bench.yaml")
	historyPath := filepath.Join(work, "history.db")
	metricsPath := filepath.Join(work, "metrics", "bench.prom")
	args := []string{
		"--data-root", dataRoot,
		"--output", filepath.Join(work, "stacked_3d.fits.gz"),
		"--report", reportPath,
		"--history", historyPath,
		"--metrics-file", metricsPath,
		"--print-level", "0",
		"--log-level", "error",
	}
	out, _, err = execute(t, append(args, "--n-obs", "1")...)
	if err != nil {
		t.Fatalf("benchmark: %v", err)
	}
	if !strings.Contains(out, "Timings:") {
		t.Fatalf("expected timing summary, got %q", out)
	}
	report, err := bench.ReadReportFile(reportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	want := append([]string{bench.KeyNObs}, bench.StageNames()...)
	if !slices.Equal(report.Keys(), want) || report.NObs != 1 {
		t.Fatalf("unexpected report keys %v (n_obs %d)", report.Keys(), report.NObs)
	}
	if b, err := os.ReadFile(metricsPath); err != nil || !bytes.Contains(b, []byte(`gammabench_stage_duration_seconds{stage="flux_point"}`)) {
		t.Fatalf("metrics textfile missing stage gauge: %v\n%s", err, b)
	}

	// A second run overwrites the report rather than appending to it.
	if _, _, err := execute(t, append(args, "--n-obs", "2", "--no-summary")...); err != nil {
		t.Fatalf("second benchmark: %v", err)
	}
	report, err = bench.ReadReportFile(reportPath)
	if err != nil {
		t.Fatalf("reread report: %v", err)
	}
	if report.NObs != 2 || len(report.Timings) != len(bench.StageNames()) {
		t.Fatalf("report not overwritten: %+v", report)
	}

	store, err := history.Open(historyPath)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer store.Close()
	runs, err := store.List(context.Background(), 0)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(runs) != 2 || runs[0].Report.NObs != 2 {
		t.Fatalf("expected two recorded runs newest first, got %d", len(runs))
	}

	out, _, err = execute(t, "history", "--history", historyPath, "--format", "json", "--limit", "1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, `"nObs": 2`) || strings.Contains(out, `"nObs": 1`) {
		t.Fatalf("unexpected history output:\n%s", out)
	}
}
