// File: internal/cube/kernels.go
// Brief: Coarse response maps and the kernels derived from them.

package cube

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/gammabench/internal/irf"
	"github.com/example/gammabench/internal/maps"
)

// irfBinFactor is the ratio between response-map pixels and data pixels.
const irfBinFactor = 10

func irfGeom(g *maps.WcsGeom) *maps.WcsGeom {
	return g.Downsample(irfBinFactor)
}

// IRFMap accumulates an exposure-weighted response width (PSF sigma in deg
// or EDISP sigma in ln E) on a coarse grid, per true-energy bin.
type IRFMap struct {
	Weight *maps.Map
	Sum    *maps.Map
}

// NewIRFMap allocates an empty response map.
func NewIRFMap(g *maps.WcsGeom) *IRFMap {
	return &IRFMap{Weight: maps.NewMap(g), Sum: maps.NewMap(g)}
}

// Fill adds value with weight at voxel (ix, iy, ie).
func (m *IRFMap) Fill(ix, iy, ie int, value, weight float64) {
	m.Weight.Add(ix, iy, ie, weight)
	m.Sum.Add(ix, iy, ie, weight*value)
}

// Stack adds other into m.
func (m *IRFMap) Stack(other *IRFMap) error {
	if !m.Weight.Geom.Equal(other.Weight.Geom) {
		return fmt.Errorf("%w: response maps", ErrGeometryMismatch)
	}
	for i := range m.Weight.Data {
		m.Weight.Data[i] += other.Weight.Data[i]
		m.Sum.Data[i] += other.Sum.Data[i]
	}
	return nil
}

// Values returns the weighted mean width per energy bin at position. When
// the nearest coarse pixel has no exposure in a bin, the map-wide mean for
// that bin is used instead.
func (m *IRFMap) Values(position maps.SkyCoord) ([]float64, error) {
	g := m.Weight.Geom
	nbin := g.Axis().NBin()
	ix, iy, inside := g.Index(position)
	out := make([]float64, nbin)
	nx, ny := g.Shape()
	for ie := 0; ie < nbin; ie++ {
		if inside {
			if w := m.Weight.At(ix, iy, ie); w > 0 {
				out[ie] = m.Sum.At(ix, iy, ie) / w
				continue
			}
		}
		var w, s float64
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				w += m.Weight.At(x, y, ie)
				s += m.Sum.At(x, y, ie)
			}
		}
		if w <= 0 {
			return nil, fmt.Errorf("no exposure in energy bin %d to evaluate response", ie)
		}
		out[ie] = s / w
	}
	return out, nil
}

// EnergyDispersion evaluates the dispersion matrix at position for the
// given reconstructed-energy axis. True energies use the map's own axis.
func (m *IRFMap) EnergyDispersion(position maps.SkyCoord, reco *maps.EnergyAxis) (*EDispKernel, error) {
	sigmas, err := m.Values(position)
	if err != nil {
		return nil, fmt.Errorf("energy dispersion: %w", err)
	}
	return NewEDispKernel(m.Weight.Geom.Axis(), reco, sigmas), nil
}

// PSFKernel evaluates a PSF kernel at position, sampled on g's pixel size
// and truncated at maxRadius degrees.
func (m *IRFMap) PSFKernel(position maps.SkyCoord, g *maps.WcsGeom, maxRadius float64) (*PSFKernel, error) {
	sigmas, err := m.Values(position)
	if err != nil {
		return nil, fmt.Errorf("psf kernel: %w", err)
	}
	return NewPSFKernel(sigmas, g.Binsz(), maxRadius)
}

// EDispKernel is a true×reco energy redistribution matrix.
type EDispKernel struct {
	ETrue *maps.EnergyAxis
	EReco *maps.EnergyAxis
	// Data is row-major: Data[i*nReco+j] is P(reco bin j | true bin i).
	Data []float64
}

// NewEDispKernel builds a log-normal dispersion matrix with one width per
// true-energy bin.
func NewEDispKernel(eTrue, eReco *maps.EnergyAxis, sigmas []float64) *EDispKernel {
	nt, nr := eTrue.NBin(), eReco.NBin()
	k := &EDispKernel{ETrue: eTrue, EReco: eReco, Data: make([]float64, nt*nr)}
	for i := 0; i < nt; i++ {
		for j := 0; j < nr; j++ {
			k.Data[i*nr+j] = irf.BinProbability(sigmas[i], eTrue.Center(i), eReco.Lo(j), eReco.Hi(j))
		}
	}
	return k
}

// Apply redistributes per-true-bin values into reco bins.
func (k *EDispKernel) Apply(trueValues []float64) []float64 {
	nt, nr := k.ETrue.NBin(), k.EReco.NBin()
	out := make([]float64, nr)
	for i := 0; i < nt && i < len(trueValues); i++ {
		v := trueValues[i]
		if v == 0 {
			continue
		}
		row := k.Data[i*nr : (i+1)*nr]
		for j, p := range row {
			out[j] += v * p
		}
	}
	return out
}

// PSFKernel holds one normalised Gaussian kernel per energy bin.
type PSFKernel struct {
	Binsz     float64
	MaxRadius float64
	Sigmas    []float64
	Half      int
	Data      []float64
}

// NewPSFKernel samples Gaussian kernels of the given widths on a square
// grid of binsz pixels, zeroing pixels beyond maxRadius.
func NewPSFKernel(sigmas []float64, binsz, maxRadius float64) (*PSFKernel, error) {
	if binsz <= 0 || maxRadius <= 0 {
		return nil, errors.New("psf kernel needs positive pixel size and radius")
	}
	half := int(math.Ceil(maxRadius / binsz))
	size := 2*half + 1
	k := &PSFKernel{
		Binsz:     binsz,
		MaxRadius: maxRadius,
		Sigmas:    append([]float64(nil), sigmas...),
		Half:      half,
		Data:      make([]float64, len(sigmas)*size*size),
	}
	for ie, sigma := range sigmas {
		if sigma <= 0 {
			return nil, fmt.Errorf("psf kernel: non-positive width in bin %d", ie)
		}
		plane := k.Plane(ie)
		total := 0.0
		for y := -half; y <= half; y++ {
			for x := -half; x <= half; x++ {
				r := math.Hypot(float64(x), float64(y)) * binsz
				if r > maxRadius {
					continue
				}
				v := math.Exp(-r * r / (2 * sigma * sigma))
				plane[(y+half)*size+x+half] = v
				total += v
			}
		}
		for i := range plane {
			plane[i] /= total
		}
	}
	return k, nil
}

// Size returns the kernel edge length in pixels.
func (k *PSFKernel) Size() int { return 2*k.Half + 1 }

// Plane returns the kernel for energy bin ie.
func (k *PSFKernel) Plane(ie int) []float64 {
	n := k.Size() * k.Size()
	return k.Data[ie*n : (ie+1)*n]
}
