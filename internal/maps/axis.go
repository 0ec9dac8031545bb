// Package maps provides the energy axis, sky geometry and binned map types
// shared by the data reduction and modeling packages.
package maps

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrInvalidGeometry is returned when an axis or geometry cannot be built.
var ErrInvalidGeometry = errors.New("invalid map geometry")

// EnergyAxis is an immutable, strictly increasing sequence of energy bin
// edges in TeV.
type EnergyAxis struct {
	edges []float64
}

// NewLogEnergyAxis builds nbin log-spaced bins between lo and hi (TeV).
func NewLogEnergyAxis(lo, hi float64, nbin int) (*EnergyAxis, error) {
	if nbin < 1 {
		return nil, fmt.Errorf("%w: energy axis needs at least one bin", ErrInvalidGeometry)
	}
	if lo <= 0 || hi <= lo {
		return nil, fmt.Errorf("%w: energy bounds %g..%g", ErrInvalidGeometry, lo, hi)
	}
	edges := make([]float64, nbin+1)
	llo, lhi := math.Log(lo), math.Log(hi)
	for i := range edges {
		edges[i] = math.Exp(llo + (lhi-llo)*float64(i)/float64(nbin))
	}
	edges[0], edges[nbin] = lo, hi
	return &EnergyAxis{edges: edges}, nil
}

// NewEnergyAxisFromEdges builds an axis from explicit edges.
func NewEnergyAxisFromEdges(edges []float64) (*EnergyAxis, error) {
	if len(edges) < 2 {
		return nil, fmt.Errorf("%w: need at least two edges", ErrInvalidGeometry)
	}
	for i := 1; i < len(edges); i++ {
		if !(edges[i] > edges[i-1]) || edges[i-1] <= 0 {
			return nil, fmt.Errorf("%w: edges must be positive and strictly increasing", ErrInvalidGeometry)
		}
	}
	return &EnergyAxis{edges: append([]float64(nil), edges...)}, nil
}

// Name returns the axis name.

// NBin returns the number of bins.
func (a *EnergyAxis) NBin() int { return len(a.edges) - 1 }

// Edges returns a copy of the bin edges.
func (a *EnergyAxis) Edges() []float64 { return append([]float64(nil), a.edges...) }

// Lo and Hi return the edges of bin i.
func (a *EnergyAxis) Lo(i int) float64 { return a.edges[i] }
func (a *EnergyAxis) Hi(i int) float64 { return a.edges[i+1] }

// Center returns the log centre of bin i.
func (a *EnergyAxis) Center(i int) float64 {
	return math.Sqrt(a.edges[i] * a.edges[i+1])
}

// Index returns the bin containing e, or -1 when e is outside the axis.
// The upper edge belongs to the last bin.
func (a *EnergyAxis) Index(e float64) int {
	n := a.NBin()
	if e < a.edges[0] || e > a.edges[n] || math.IsNaN(e) {
		return -1
	}
	if e == a.edges[n] {
		return n - 1
	}
	i := sort.SearchFloat64s(a.edges, e)
	if a.edges[i] == e {
		return i
	}
	return i - 1
}

// NearestEdge returns the index of the edge closest to e in log space.
func (a *EnergyAxis) NearestEdge(e float64) int {
	best, bestDist := 0, math.Inf(1)
	le := math.Log(e)
	for i, edge := range a.edges {
		if d := math.Abs(math.Log(edge) - le); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// Equal reports whether two axes have identical edges within rtol.
func (a *EnergyAxis) Equal(b *EnergyAxis, rtol float64) bool {
	if a == nil || b == nil || len(a.edges) != len(b.edges) {
		return false
	}
	for i := range a.edges {
		if math.Abs(a.edges[i]-b.edges[i]) > rtol*math.Abs(a.edges[i]) {
			return false
		}
	}
	return true
}
