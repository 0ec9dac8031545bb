package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

// WriteTextfile writes phase durations and the observation count in the
// Prometheus text exposition format, for node_exporter's textfile
// collector. The file is replaced atomically.
func WriteTextfile(path string, nObs int, phases []Phase) error {
	reg := prometheus.NewRegistry()
	durations := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gammabench",
		Name:      "stage_duration_seconds",
		Help:      "Wall time of the last completed benchmark stage.",
	}, []string{"stage"})
	observations := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gammabench",
		Name:      "observations",
		Help:      "Number of observations stacked by the last run.",
	})
	reg.MustRegister(durations, observations)
	for _, p := range phases {
		durations.WithLabelValues(p.Name).Set(p.Duration.Seconds())
	}
	observations.Set(float64(nObs))

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create metrics directory: %w", err)
		}
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
