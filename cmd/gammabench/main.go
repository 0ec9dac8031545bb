// main.go bootstraps gammabench: it builds the root Cobra command, wires profiling, and executes with signal-aware contexts.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/example/gammabench/internal/config"
	"github.com/example/gammabench/internal/cube"
	"github.com/example/gammabench/internal/datastore"
	"github.com/example/gammabench/internal/fits"
)

const envPrefix = "GAMMABENCH"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stopProfile := setupProfiling()
	defer stopProfile()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(err)
	if err != nil {
		stopProfile()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := config.NewOptions()
	logLevel := "info"
	cmd := &cobra.Command{
		Use:   "gammabench",
		Short: "Benchmark a stacked 3D gamma-ray analysis",
		Long: `gammabench stacks an observation N times onto a 3D map geometry, writes and
re-reads the stacked dataset, fits a point-source model and estimates flux
points, timing every stage. Timings are written to a YAML report in the
order the stages ran.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchmark(cmd, opts, logLevel)
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", logLevel, "Log level for gammabench output (debug, info, warn, error)")
	opts.BindFlags(cmd.Flags())

	simulateCmd := newSimulateCommand(&logLevel)
	historyCmd := newHistoryCommand()
	cmd.AddCommand(
		simulateCmd,
		historyCmd,
		newEnvCommand(),
		newVersionCommand(),
		newCompletionCommand(cmd),
	)
	cmd.Example = `  # Run the benchmark against a data tree
  GAMMAPY_DATA=/data/gammapy-data gammabench

  # Build a synthetic data store and stack it three times
  gammabench simulate --data-root /tmp/gp
  gammabench --data-root /tmp/gp --n-obs 3 --history ~/.cache/gammabench/history.db`
	decorateCommandHelp(cmd, "Benchmark Flags")
	applyConfig := bindViper(cmd, simulateCmd, historyCmd)
	cmd.PersistentPreRunE = func(*cobra.Command, []string) error {
		return applyConfig()
	}
	return cmd
}

// bindViper returns a hook that fills every flag the user left unset from
// GAMMABENCH_<FLAG>, the legacy variables and the config file, in that order.
func bindViper(commands ...*cobra.Command) func() error {
	if len(commands) == 0 {
		return func() error { return nil }
	}
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	for name, legacy := range config.LegacyEnv {
		key := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		if err := v.BindEnv(name, key, legacy); err != nil {
			panic(err)
		}
	}
	configFile := os.Getenv(envPrefix + "_CONFIG")
	configureConfigFile(v, configFile)

	return func() error {
		for _, cmd := range commands {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
				return err
			}
		}
		if err := readConfigFile(v, configFile != ""); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		for _, cmd := range commands {
			for _, fs := range []*pflag.FlagSet{cmd.Flags(), cmd.PersistentFlags()} {
				fs.VisitAll(func(f *pflag.Flag) {
					if f.Changed || !v.IsSet(f.Name) {
						return
					}
					if val := fmt.Sprintf("%v", v.Get(f.Name)); val != "" {
						_ = f.Value.Set(val)
					}
				})
			}
		}
		return nil
	}
}

func handleError(err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	message := err.Error()
	switch {
	case errors.Is(err, config.ErrMissingDataRoot):
		message = fmt.Sprintf("%s\nHint: export GAMMAPY_DATA or run 'gammabench simulate --data-root DIR' to create a synthetic data tree.", err)
	case errors.Is(err, config.ErrDataStoreNotFound), errors.Is(err, datastore.ErrStoreNotFound):
		message = fmt.Sprintf("%s\nHint: the data store is expected at <data-root>/%s.", err, config.StoreSubdir)
	case errors.Is(err, datastore.ErrObservationNotFound):
		message = fmt.Sprintf("%s\nHint: check --obs-id against the observation index.", err)
	case errors.Is(err, cube.ErrDatasetRead), errors.Is(err, fits.ErrMalformed):
		message = fmt.Sprintf("%s\nHint: the dataset file is unreadable; rerun the benchmark to regenerate it.", err)
	case errors.Is(err, context.Canceled):
		message = "interrupted"
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
}

func configureConfigFile(v *viper.Viper, explicitPath string) {
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		return
	}
	v.SetConfigName("config")
	for _, dir := range configSearchDirs() {
		v.AddConfigPath(dir)
	}
}

func readConfigFile(v *viper.Viper, strict bool) error {
	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if errors.As(err, &cfgErr) && !strict {
			return nil
		}
		return err
	}
	return nil
}

func configSearchDirs() []string {
	added := make(map[string]struct{})
	var dirs []string
	add := func(path string) {
		if path == "" {
			return
		}
		if _, ok := added[path]; ok {
			return
		}
		added[path] = struct{}{}
		dirs = append(dirs, path)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		add(filepath.Join(xdg, "gammabench"))
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		add(filepath.Join(home, ".config", "gammabench"))
	}
	return dirs
}

func setupProfiling() func() {
	mode := strings.ToLower(os.Getenv(envPrefix + "_PROFILE"))
	if mode != "startup" {
		return func() {}
	}
	ts := time.Now().UTC().Format("20060102-150405")
	cpuPath := fmt.Sprintf("gammabench-%s.cpu.pprof", ts)
	cpuFile, err := os.Create(cpuPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to create CPU profile %s: %v\n", cpuPath, err)
		return func() {}
	}
	if err := pprof.StartCPUProfile(cpuFile); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to start CPU profile: %v\n", err)
		cpuFile.Close()
		return func() {}
	}
	fmt.Fprintf(os.Stderr, "GAMMABENCH_PROFILE=startup: writing CPU profile to %s\n", cpuPath)
	memPath := fmt.Sprintf("gammabench-%s.mem.pprof", ts)
	stopped := false
	return func() {
		if stopped {
			return
		}
		stopped = true
		pprof.StopCPUProfile()
		cpuFile.Close()
		memFile, err := os.Create(memPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warn: unable to create heap profile %s: %v\n", memPath, err)
			return
		}
		defer memFile.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(memFile); err != nil {
			fmt.Fprintf(os.Stderr, "warn: unable to write heap profile: %v\n", err)
			return
		}
		fmt.Fprintf(os.Stderr, "GAMMABENCH_PROFILE=startup: writing heap profile to %s\n", memPath)
	}
}
