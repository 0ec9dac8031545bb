// Package modeling defines parametric sky models, the Poisson likelihood of
// a binned dataset given a model, and a maximum-likelihood fitter.
package modeling

import (
	"fmt"
	"math"
	"strings"
)

// Parameter is a model parameter. Fitting works on Value/Scale so that
// parameters of very different magnitude share one optimizer step size.
type Parameter struct {
	Name   string
	Value  float64
	Unit   string
	Scale  float64
	Min    float64
	Max    float64
	Frozen bool
	// Error is the 1-sigma uncertainty from the last fit, in Value units.
	Error float64
}

// NewParameter returns a free, unbounded parameter with unit scale.
func NewParameter(name string, value float64, unit string) *Parameter {
	return &Parameter{Name: name, Value: value, Unit: unit, Scale: 1, Min: math.NaN(), Max: math.NaN()}
}

// WithScale sets the optimizer scale.
func (p *Parameter) WithScale(scale float64) *Parameter {
	p.Scale = scale
	return p
}

// WithBounds sets inclusive bounds; NaN leaves a side open.
func (p *Parameter) WithBounds(min, max float64) *Parameter {
	p.Min, p.Max = min, max
	return p
}

// InBounds reports whether v satisfies the parameter bounds.
func (p *Parameter) InBounds(v float64) bool {
	if !math.IsNaN(p.Min) && v < p.Min {
		return false
	}
	if !math.IsNaN(p.Max) && v > p.Max {
		return false
	}
	return true
}

func (p *Parameter) factor() float64 {
	if p.Scale == 0 {
		return p.Value
	}
	return p.Value / p.Scale
}

func (p *Parameter) setFactor(f float64) {
	if p.Scale == 0 {
		p.Value = f
		return
	}
	p.Value = f * p.Scale
}

func (p *Parameter) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s=%.4g", p.Name, p.Value)
	if p.Error > 0 {
		fmt.Fprintf(&b, "±%.2g", p.Error)
	}
	if p.Unit != "" {
		b.WriteString(" " + p.Unit)
	}
	if p.Frozen {
		b.WriteString(" (frozen)")
	}
	return b.String()
}

// Parameters is an ordered parameter list.
type Parameters []*Parameter

// Free returns the parameters that are not frozen.
func (ps Parameters) Free() Parameters {
	var out Parameters
	for _, p := range ps {
		if !p.Frozen {
			out = append(out, p)
		}
	}
	return out
}

// ByName returns the named parameter or nil.
func (ps Parameters) ByName(name string) *Parameter {
	for _, p := range ps {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Snapshot captures values and frozen flags so they can be restored.
func (ps Parameters) Snapshot() func() {
	type state struct {
		value, err float64
		frozen     bool
	}
	saved := make([]state, len(ps))
	for i, p := range ps {
		saved[i] = state{value: p.Value, err: p.Error, frozen: p.Frozen}
	}
	return func() {
		for i, p := range ps {
			p.Value, p.Error, p.Frozen = saved[i].value, saved[i].err, saved[i].frozen
		}
	}
}
