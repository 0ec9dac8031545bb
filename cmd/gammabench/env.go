// env.go registers 'gammabench env', which reports the environment variables
// the benchmark reads and their current values.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/example/gammabench/internal/envcatalog"
)

type envEntry struct {
	Category    string `json:"category" yaml:"category"`
	Variable    string `json:"variable" yaml:"variable"`
	Value       string `json:"value,omitempty" yaml:"value,omitempty"`
	Description string `json:"description" yaml:"description"`
}

func collectEnv(includeInternal bool) []envEntry {
	vars := envcatalog.Catalog()
	entries := make([]envEntry, 0, len(vars))
	for _, v := range vars {
		if v.Internal && !includeInternal {
			continue
		}
		var value string
		if !v.Dynamic {
			value = strings.TrimSpace(os.Getenv(v.Name))
		}
		entries = append(entries, envEntry{Category: v.Category, Variable: v.Name, Value: value, Description: v.Description})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Category == entries[j].Category {
			return entries[i].Variable < entries[j].Variable
		}
		return entries[i].Category < entries[j].Category
	})
	return entries
}

func selectEnv(entries []envEntry, onlySet bool) []envEntry {
	if !onlySet {
		return entries
	}
	kept := entries[:0]
	for _, e := range entries {
		if e.Value != "" {
			kept = append(kept, e)
		}
	}
	return kept
}

func newEnvCommand() *cobra.Command {
	var format string
	var all, onlySet bool
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Show environment variables read by gammabench",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries := selectEnv(collectEnv(all), onlySet)
			out := cmd.OutOrStdout()
			switch strings.ToLower(strings.TrimSpace(format)) {
			case "", "table":
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "CATEGORY\tVARIABLE\tVALUE\tDESCRIPTION")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Category, e.Variable, e.Value, e.Description)
				}
				return tw.Flush()
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			case "yaml", "yml":
				b, err := yaml.Marshal(entries)
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
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, json, yaml")
	cmd.Flags().BoolVar(&all, "all", false, "Include internal variables")
	cmd.Flags().BoolVar(&onlySet, "set", false, "Show only variables with a value")
	decorateCommandHelp(cmd, "Env Flags")
	return cmd
}
