// help_template.go gives every gammabench command the same help layout, with a
// per-command heading for its own flags.
package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const headingAnnotation = "gammabench/flags-heading"

const helpTemplate = `{{with or .Long .Short}}{{. | trimTrailingWhitespaces}}{{end}}

Usage:
  {{.UseLine}}
{{if .HasAvailableSubCommands}}
Commands:
{{range .Commands}}{{if (and .IsAvailableCommand (ne .Name "help"))}}  {{rpad .Name .NamePadding}} {{.Short}}
{{end}}{{end}}{{end}}{{if .HasExample}}
Examples:
{{.Example}}
{{end}}
{{index .Annotations "gammabench/flags-heading"}}:
{{if .HasAvailableLocalFlags}}{{flagUsages .LocalFlags}}{{else}}  (none){{end}}
{{if .HasAvailableInheritedFlags}}
Global Flags:
{{flagUsages .InheritedFlags}}
{{end}}`

func init() {
	cobra.AddTemplateFunc("flagUsages", formatFlagUsages)
}

func decorateCommandHelp(cmd *cobra.Command, heading string) {
	if strings.TrimSpace(heading) == "" {
		heading = "Flags"
	}
	if cmd.Annotations == nil {
		cmd.Annotations = make(map[string]string)
	}
	cmd.Annotations[headingAnnotation] = heading
	cmd.SetHelpTemplate(helpTemplate)
}

// formatFlagUsages wraps flag help at 100 columns with two-space indents.
func formatFlagUsages(fs *pflag.FlagSet) string {
	if fs == nil {
		return ""
	}
	usages := strings.ReplaceAll(fs.FlagUsagesWrapped(100), "\t", "  ")
	return strings.TrimRight(usages, "\n")
}
