package bench

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// KeyNObs is the first report key.
const KeyNObs = "n_obs"

// Timing is one stage entry of a report.
type Timing struct {
	Stage   string
	Seconds float64
}

// Report holds the observation count and the stage timings in execution
// order. It encodes as a flat YAML mapping whose key order is that order.
type Report struct {
	NObs    int
	Timings []Timing
}

// Add appends a stage timing.
func (r *Report) Add(stage string, d time.Duration) {
	r.Timings = append(r.Timings, Timing{Stage: stage, Seconds: d.Seconds()})
}

// Keys returns the report keys in document order.
func (r *Report) Keys() []string {
	keys := []string{KeyNObs}
	for _, t := range r.Timings {
		keys = append(keys, t.Stage)
	}
	return keys
}

// Total returns the summed stage time in seconds.
func (r *Report) Total() float64 {
	total := 0.0
	for _, t := range r.Timings {
		total += t.Seconds
	}
	return total
}

func formatSeconds(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s
}

// Node builds the YAML mapping node. A yaml.Node keeps key order, which a
// Go map would not.
func (r *Report) Node() *yaml.Node {
	m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	add := func(key, tag, value string) {
		m.Content = append(m.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value},
		)
	}
	add(KeyNObs, "!!int", strconv.Itoa(r.NObs))
	for _, t := range r.Timings {
		add(t.Stage, "!!float", formatSeconds(t.Seconds))
	}
	return m
}

// Encode writes the report as YAML with a four space indent.
func (r *Report) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(4)
	if err := enc.Encode(r.Node()); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return enc.Close()
}

// WriteFile writes the report to path, replacing any existing file.
func (r *Report) WriteFile(path string) error {
	var buf bytes.Buffer
	if err := r.Encode(&buf); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// ParseReport decodes a report, preserving key order. The first key must
// be n_obs; every other value must be a non-negative number of seconds.
func ParseReport(data []byte) (*Report, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, errors.New("parse report: expected a mapping")
	}
	m := doc.Content[0]
	if len(m.Content) < 2 || m.Content[0].Value != KeyNObs {
		return nil, fmt.Errorf("parse report: first key must be %s", KeyNObs)
	}
	r := &Report{}
	if err := m.Content[1].Decode(&r.NObs); err != nil {
		return nil, fmt.Errorf("parse report: %s: %w", KeyNObs, err)
	}
	for i := 2; i+1 < len(m.Content); i += 2 {
		var secs float64
		if err := m.Content[i+1].Decode(&secs); err != nil {
			return nil, fmt.Errorf("parse report: %s: %w", m.Content[i].Value, err)
		}
		if secs < 0 {
			return nil, fmt.Errorf("parse report: %s is negative", m.Content[i].Value)
		}
		r.Timings = append(r.Timings, Timing{Stage: m.Content[i].Value, Seconds: secs})
	}
	return r, nil
}

// ReadReportFile reads and parses the report at path.
func ReadReportFile(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseReport(data)
}
