package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/gammabench/internal/version"
)

func newVersionCommand() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print gammabench build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, info.Version)
				return nil
			}
			fmt.Fprintf(out, "Version: %s\n", info.Version)
			for _, kv := range [][2]string{{"GitCommit", info.GitCommit}, {"BuildDate", info.BuildDate}} {
				if kv[1] != "" && kv[1] != "unknown" {
					fmt.Fprintf(out, "%s: %s\n", kv[0], kv[1])
				}
			}
			fmt.Fprintf(out, "GoVersion: %s\nPlatform: %s\n", info.GoVersion, info.Platform)
			return nil
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "Print just the version number")
	decorateCommandHelp(cmd, "Version Flags")
	return cmd
}
