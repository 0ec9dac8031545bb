// simulate.go registers 'gammabench simulate', which writes a synthetic
// data store so the benchmark can run without the real archive.
package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/example/gammabench/internal/config"
	"github.com/example/gammabench/internal/datastore"
	"github.com/example/gammabench/internal/logging"
)

func newSimulateCommand(logLevel *string) *cobra.Command {
	cfg := datastore.DefaultSimConfig()
	var dataRoot string
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Write a synthetic data store below a data root",
		Long: `Simulate writes a deterministic CTA-like data store (observation index plus
one event file per observation) to <data-root>/cta-1dc/index/gps. The same
seed always produces the same files.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := config.ExpandPath(dataRoot)
			if err != nil {
				return err
			}
			if root == "" {
				return config.ErrMissingDataRoot
			}
			logger, err := logging.NewWithWriter(*logLevel, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			dir := filepath.Join(root, config.StoreSubdir)
			logger.Info("simulating data store", "dir", dir, "observations", cfg.ObsIDs, "livetime", cfg.Livetime)
			if err := datastore.WriteSynthetic(cmd.Context(), dir, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d observation(s) to %s\n", len(cfg.ObsIDs), dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&dataRoot, "data-root", "", "Data root to create (env GAMMAPY_DATA)")
	cmd.Flags().Int64SliceVar(&cfg.ObsIDs, "obs-id", cfg.ObsIDs, "Observation ids to simulate")
	cmd.Flags().Float64Var(&cfg.Livetime, "livetime", cfg.Livetime, "Livetime per observation in seconds")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed")
	cmd.Flags().IntVar(&cfg.Workers, "workers", cfg.Workers, "Observations simulated concurrently")
	decorateCommandHelp(cmd, "Simulation Flags")
	return cmd
}
