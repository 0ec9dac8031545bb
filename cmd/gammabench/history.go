// history.go registers 'gammabench history', which lists recorded runs.
package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/example/gammabench/internal/bench"
	"github.com/example/gammabench/internal/config"
	"github.com/example/gammabench/internal/history"
)

type historyRow struct {
	ID        string             `json:"id" yaml:"id"`
	StartedAt string             `json:"startedAt" yaml:"startedAt"`
	NObs      int                `json:"nObs" yaml:"nObs"`
	ObsID     int64              `json:"obsId,omitempty" yaml:"obsId,omitempty"`
	Version   string             `json:"version,omitempty" yaml:"version,omitempty"`
	Host      string             `json:"host,omitempty" yaml:"host,omitempty"`
	Total     float64            `json:"totalSeconds" yaml:"totalSeconds"`
	Stages    map[string]float64 `json:"stages" yaml:"stages"`
}

func newHistoryCommand() *cobra.Command {
	var path string
	var limit int
	var format string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List benchmark runs recorded with --history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.ExpandPath(path)
			if err != nil {
				return err
			}
			if p == "" {
				return fmt.Errorf("--history is required")
			}
			store, err := history.Open(p)
			if err != nil {
				return err
			}
			defer store.Close()
			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch strings.ToLower(strings.TrimSpace(format)) {
			case "", "table":
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				header := append([]string{"STARTED", "N_OBS"}, bench.StageNames()...)
				fmt.Fprintln(tw, strings.ToUpper(strings.Join(append(header, "TOTAL"), "\t")))
				for _, r := range runs {
					cells := []string{r.StartedAt.Local().Format(time.DateTime), fmt.Sprint(r.Report.NObs)}
					byStage := stageSeconds(r.Report)
					for _, name := range bench.StageNames() {
						cells = append(cells, fmt.Sprintf("%.3f", byStage[name]))
					}
					cells = append(cells, fmt.Sprintf("%.3f", r.Report.Total()))
					fmt.Fprintln(tw, strings.Join(cells, "\t"))
				}
				return tw.Flush()
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(historyRows(runs))
			case "yaml", "yml":
				b, err := yaml.Marshal(historyRows(runs))
				if err != nil {
					return err
				}
				_, err = out.Write(b)
				return err
			default:
				return fmt.Errorf("unsupported --format %q (expected table, json, or yaml)", format)
			}
		},
	}
	cmd.Flags().StringVar(&path, "history", "", "SQLite history database (env GAMMABENCH_HISTORY)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show, newest first (0 for all)")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, json, yaml")
	decorateCommandHelp(cmd, "History Flags")
	return cmd
}

func stageSeconds(r *bench.Report) map[string]float64 {
	out := make(map[string]float64, len(r.Timings))
	for _, t := range r.Timings {
		out[t.Stage] = t.Seconds
	}
	return out
}

func historyRows(runs []history.Run) []historyRow {
	rows := make([]historyRow, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, historyRow{
			ID:        r.ID,
			StartedAt: r.StartedAt.UTC().Format(time.RFC3339),
			NObs:      r.Report.NObs,
			ObsID:     r.ObsID,
			Version:   r.Version,
			Host:      r.Host,
			Total:     r.Report.Total(),
			Stages:    stageSeconds(r.Report),
		})
	}
	return rows
}
