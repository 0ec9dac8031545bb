// Package envcatalog lists the environment variables gammabench reads.
package envcatalog

type VarInfo struct {
	Category    string
	Name        string
	Description string
	Dynamic     bool
	Internal    bool
}

func Catalog() []VarInfo {
	return []VarInfo{
		{
			Category:    "Data",
			Name:        "GAMMAPY_DATA",
			Description: "Root of the gamma-ray data tree; the data store is read from cta-1dc/index/gps below it.",
		},
		{
			Category:    "Data",
			Name:        "GAMMAPY_BENCH_N_OBS",
			Description: "Number of times the observation is stacked (default 10).",
		},
		{
			Category:    "Config",
			Name:        "GAMMABENCH_CONFIG",
			Description: "Path to the gammabench config file.",
		},
		{
			Category:    "Config",
			Name:        "GAMMABENCH_<FLAG>",
			Dynamic:     true,
			Description: "Set any gammabench CLI flag via environment (hyphens become underscores). Example: GAMMABENCH_PRINT_LEVEL=0.",
		},
		{
			Category:    "Output",
			Name:        "NO_COLOR",
			Description: "Disable ANSI color output (any non-empty value).",
		},
		{
			Category:    "Profiling",
			Name:        "GAMMABENCH_PROFILE",
			Description: "Enable profiling of gammabench itself (startup writes CPU/heap profiles to the working directory).",
		},
		{
			Category:    "Config",
			Name:        "XDG_CONFIG_HOME",
			Internal:    true,
			Description: "Base directory searched for gammabench/config.yaml.",
		},
	}
}
