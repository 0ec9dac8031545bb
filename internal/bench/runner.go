// Package bench runs the benchmark stages in a fixed order, times each one
// and records the timings in an order-preserving report.
package bench

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/example/gammabench/internal/telemetry"
)

// Stage names, in execution order.
const (
	StageDataPreparation = "data_preparation"
	StageWriting         = "writing"
	StageReading         = "reading"
	StageDataFitting     = "data_fitting"
	StageFluxPoint       = "flux_point"
)

// StageNames returns the stage names in the order Run executes them.
func StageNames() []string {
	return []string{StageDataPreparation, StageWriting, StageReading, StageDataFitting, StageFluxPoint}
}

// Dataset is the value handed from one stage to the next.
type Dataset interface {
	ObservationCount() int
}

// Pipeline implements the work behind each stage.
type Pipeline interface {
	PrepareData(ctx context.Context) (Dataset, error)
	WriteDataset(ctx context.Context, ds Dataset, path string) error
	ReadDataset(ctx context.Context, path string) (Dataset, error)
	FitModel(ctx context.Context, ds Dataset) error
	EstimateFluxPoints(ctx context.Context, ds Dataset) error
}

// Stage is one named, timed step.
type Stage struct {
	Name string
	Run  func(ctx context.Context) error
}

// Runner drives a Pipeline through the benchmark.
type Runner struct {
	Pipeline    Pipeline
	NObs        int
	DatasetPath string
	ReportPath  string
	Logger      logr.Logger
	// Timer receives every stage duration; a fresh one is used when nil.
	Timer *telemetry.PhaseTimer
}

// Stages returns the benchmark as ordered closures sharing one dataset
// slot: prepare, write, read back, fit, flux points.
func (r *Runner) Stages() []Stage {
	var ds Dataset
	return []Stage{
		{Name: StageDataPreparation, Run: func(ctx context.Context) error {
			prepared, err := r.Pipeline.PrepareData(ctx)
			if err != nil {
				return err
			}
			if got := prepared.ObservationCount(); got != r.NObs {
				return fmt.Errorf("prepared dataset stacks %d observations, want %d", got, r.NObs)
			}
			ds = prepared
			return nil
		}},
		{Name: StageWriting, Run: func(ctx context.Context) error {
			return r.Pipeline.WriteDataset(ctx, ds, r.DatasetPath)
		}},
		{Name: StageReading, Run: func(ctx context.Context) error {
			read, err := r.Pipeline.ReadDataset(ctx, r.DatasetPath)
			if err != nil {
				return err
			}
			ds = read
			return nil
		}},
		{Name: StageDataFitting, Run: func(ctx context.Context) error {
			return r.Pipeline.FitModel(ctx, ds)
		}},
		{Name: StageFluxPoint, Run: func(ctx context.Context) error {
			return r.Pipeline.EstimateFluxPoints(ctx, ds)
		}},
	}
}

// Run executes every stage in order and, only when all succeed, writes the
// report to ReportPath (replacing any previous one).
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if r.Pipeline == nil {
		return nil, fmt.Errorf("bench: no pipeline configured")
	}
	timer := r.Timer
	if timer == nil {
		timer = telemetry.NewPhaseTimer()
	}
	report := &Report{NObs: r.NObs}
	for _, stage := range r.Stages() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("before stage %s: %w", stage.Name, err)
		}
		r.Logger.Info("stage started", "stage", stage.Name)
		elapsed, err := timer.Track(stage.Name, func() error { return stage.Run(ctx) })
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage.Name, err)
		}
		r.Logger.Info("stage finished", "stage", stage.Name, "seconds", elapsed.Seconds())
		report.Add(stage.Name, elapsed)
	}
	if r.ReportPath != "" {
		if err := report.WriteFile(r.ReportPath); err != nil {
			return nil, err
		}
	}
	return report, nil
}
