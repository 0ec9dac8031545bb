// run.go implements the default command: validate options, run every
// benchmark stage, then publish the report, metrics and history.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/example/gammabench/internal/analysis"
	"github.com/example/gammabench/internal/bench"
	"github.com/example/gammabench/internal/config"
	"github.com/example/gammabench/internal/history"
	"github.com/example/gammabench/internal/logging"
	"github.com/example/gammabench/internal/telemetry"
	"github.com/example/gammabench/internal/version"
)

func runBenchmark(cmd *cobra.Command, opts *config.Options, logLevel string) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	logger, err := logging.NewWithWriter(logLevel, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	settings := analysis.DefaultSettings(opts.StoreDir())
	settings.NObs = opts.NObs
	settings.ObsID = opts.ObsID
	settings.PrintLevel = opts.PrintLevel
	pipeline, err := analysis.New(settings, logger.WithName("analysis"))
	if err != nil {
		return err
	}

	timer := telemetry.NewPhaseTimer()
	runner := &bench.Runner{
		Pipeline:    pipeline,
		NObs:        opts.NObs,
		DatasetPath: opts.Output,
		ReportPath:  opts.Report,
		Logger:      logger.WithName("bench"),
		Timer:       timer,
	}
	started := time.Now()
	logger.Info("benchmark started", "n_obs", opts.NObs, "obs_id", opts.ObsID, "store", opts.StoreDir())
	report, err := runner.Run(cmd.Context())
	if err != nil {
		return err
	}

	if opts.MetricsFile != "" {
		if err := telemetry.WriteTextfile(opts.MetricsFile, report.NObs, timer.Phases()); err != nil {
			return err
		}
	}
	if opts.History != "" {
		if err := recordHistory(cmd, opts, report, started, logger); err != nil {
			return err
		}
	}
	if !opts.NoSummary {
		printSummary(cmd.OutOrStdout(), opts, timer.Summary())
	}
	return nil
}

func recordHistory(cmd *cobra.Command, opts *config.Options, report *bench.Report, started time.Time, logger logr.Logger) error {
	store, err := history.Open(opts.History)
	if err != nil {
		return err
	}
	defer store.Close()
	host, _ := os.Hostname()
	id, err := store.Record(cmd.Context(), history.Run{
		StartedAt: started,
		ObsID:     opts.ObsID,
		Version:   version.Get().String(),
		Host:      host,
		Report:    report,
	})
	if err != nil {
		return fmt.Errorf("record history: %w", err)
	}
	logger.V(1).Info("recorded run", "id", id, "history", opts.History)
	return nil
}

func printSummary(out io.Writer, opts *config.Options, summary telemetry.Summary) {
	ok := color.New(color.FgGreen, color.Bold)
	dim := color.New(color.Faint)
	if f, isFile := out.(*os.File); !isFile || !term.IsTerminal(int(f.Fd())) {
		ok.DisableColor()
		dim.DisableColor()
	}
	ok.Fprint(out, "✔ ")
	fmt.Fprintf(out, "report written to %s (dataset %s)\n", opts.Report, opts.Output)
	if line := summary.Line(); line != "" {
		dim.Fprintln(out, line)
	}
}
