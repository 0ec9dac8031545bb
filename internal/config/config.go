// File: internal/config/config.go
// Brief: Benchmark options, flags and validation.

// Package config defines the flag plumbing and runtime options of the
// gammabench run command, translating Cobra/Viper flag values into a typed
// struct that the analysis pipeline and the runner consume.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// ErrMissingDataRoot is returned when neither --data-root nor
	// GAMMAPY_DATA is set.
	ErrMissingDataRoot = errors.New("data root is not set (use --data-root or GAMMAPY_DATA)")
	// ErrInvalidObsCount is returned for observation counts below one.
	ErrInvalidObsCount = errors.New("observation count must be at least 1")
	// ErrDataStoreNotFound is returned when the data store directory is
	// missing below the data root.
	ErrDataStoreNotFound = errors.New("data store directory not found")
)

// StoreSubdir is the data store location relative to the data root.
var StoreSubdir = filepath.Join("cta-1dc", "index", "gps")

// LegacyEnv maps flag names to the environment variables earlier versions
// of the benchmark read. They are consulted after GAMMABENCH_<FLAG>.
var LegacyEnv = map[string]string{
	"data-root": "GAMMAPY_DATA",
	"n-obs":     "GAMMAPY_BENCH_N_OBS",
}

const (
	DefaultNObs       = 10
	DefaultObsID      = 110380
	DefaultOutput     = "stacked_3d.fits.gz"
	DefaultReport     = "bench.yaml"
	DefaultPrintLevel = 1
)

// Options holds all configuration of a benchmark run.
type Options struct {
	DataRoot    string
	NObs        int
	ObsID       int64
	Output      string
	Report      string
	PrintLevel  int
	History     string
	MetricsFile string
	NoSummary   bool
}

// NewOptions returns Options with defaults applied.
func NewOptions() *Options {
	return &Options{
		NObs:       DefaultNObs,
		ObsID:      DefaultObsID,
		Output:     DefaultOutput,
		Report:     DefaultReport,
		PrintLevel: DefaultPrintLevel,
	}
}

// AddFlags binds configuration flags to the provided Cobra command.
func (o *Options) AddFlags(cmd *cobra.Command) {
	o.BindFlags(cmd.Flags())
}

// BindFlags attaches run flags to an arbitrary FlagSet and returns the flag names.
func (o *Options) BindFlags(fs *pflag.FlagSet) []string {
	var names []string
	fs.StringVar(&o.DataRoot, "data-root", o.DataRoot, "Root of the gamma-ray data tree (env GAMMAPY_DATA)")
	names = append(names, "data-root")
	fs.IntVarP(&o.NObs, "n-obs", "n", o.NObs, "Number of times the observation is stacked (env GAMMAPY_BENCH_N_OBS)")
	names = append(names, "n-obs")
	fs.Int64Var(&o.ObsID, "obs-id", o.ObsID, "Observation id to stack")
	names = append(names, "obs-id")
	fs.StringVarP(&o.Output, "output", "o", o.Output, "Path of the stacked dataset file")
	names = append(names, "output")
	fs.StringVar(&o.Report, "report", o.Report, "Path of the YAML timing report")
	names = append(names, "report")
	fs.IntVar(&o.PrintLevel, "print-level", o.PrintLevel, "Optimizer verbosity: 0 silent, 1 iterations, 2 every evaluation")
	names = append(names, "print-level")
	fs.StringVar(&o.History, "history", "", "SQLite database that records every successful run (empty disables)")
	names = append(names, "history")
	fs.StringVar(&o.MetricsFile, "metrics-file", "", "Write stage durations as a Prometheus textfile (empty disables)")
	names = append(names, "metrics-file")
	fs.BoolVar(&o.NoSummary, "no-summary", false, "Do not print the timing summary after the run")
	names = append(names, "no-summary")
	return names
}

// Validate normalizes paths and checks the options before any stage runs.
func (o *Options) Validate() error {
	if strings.TrimSpace(o.DataRoot) == "" {
		return ErrMissingDataRoot
	}
	if o.NObs < 1 {
		return fmt.Errorf("%w, got %d", ErrInvalidObsCount, o.NObs)
	}
	if o.PrintLevel < 0 {
		return fmt.Errorf("--print-level cannot be negative")
	}
	var err error
	for _, p := range []*string{&o.DataRoot, &o.Output, &o.Report, &o.History, &o.MetricsFile} {
		if *p, err = ExpandPath(*p); err != nil {
			return err
		}
	}
	if o.Output == "" || o.Report == "" {
		return fmt.Errorf("--output and --report cannot be empty")
	}
	info, err := os.Stat(o.StoreDir())
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrDataStoreNotFound, o.StoreDir())
	}
	return nil
}

// StoreDir returns the data store directory below DataRoot.
func (o *Options) StoreDir() string {
	return filepath.Join(o.DataRoot, StoreSubdir)
}

// ExpandPath expands environment variables and a leading ~.
func ExpandPath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", nil
	}
	expanded, err := homedir.Expand(os.ExpandEnv(p))
	if err != nil {
		return "", fmt.Errorf("expand path %q: %w", p, err)
	}
	return expanded, nil
}
