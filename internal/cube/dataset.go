// File: internal/cube/dataset.go
// Brief: Binned 3D dataset and stacking.

// Package cube reduces observations into binned 3D datasets (counts,
// exposure, background and response maps on a common geometry), stacks
// them, evaluates response kernels and persists the result.
package cube

import (
	"errors"
	"fmt"

	"github.com/example/gammabench/internal/maps"
)

// ErrGeometryMismatch is returned when stacking datasets on different grids.
var ErrGeometryMismatch = errors.New("dataset geometries differ")

// MapDataset is a binned dataset on a WcsGeom. The response maps (PSFMap,
// EDispMap) are replaced by kernels when the dataset is finalized.
type MapDataset struct {
	Name       string
	Geom       *maps.WcsGeom
	Counts     *maps.Map
	Exposure   *maps.Map // cm^2 s, per true-energy bin
	Background *maps.Map // expected background counts
	MaskSafe   []bool

	PSFMap   *IRFMap
	EDispMap *IRFMap
	PSF      *PSFKernel
	EDisp    *EDispKernel

	NObs     int
	Livetime float64
}

// Create returns an empty dataset on g, ready to be stacked into.
func Create(name string, g *maps.WcsGeom) *MapDataset {
	return &MapDataset{
		Name:       name,
		Geom:       g,
		Counts:     maps.NewMap(g),
		Exposure:   maps.NewMap(g),
		Background: maps.NewMap(g),
		MaskSafe:   make([]bool, g.Size()),
		PSFMap:     NewIRFMap(irfGeom(g)),
		EDispMap:   NewIRFMap(irfGeom(g)),
	}
}

// ObservationCount returns the number of observations stacked into d.
func (d *MapDataset) ObservationCount() int { return d.NObs }

// Finalized reports whether response kernels have been attached.
func (d *MapDataset) Finalized() bool { return d.PSF != nil && d.EDisp != nil }

// Stack adds other into d. Counts, exposure and background of other are
// only accumulated where other's safe mask is set; d's mask becomes the
// union of both.
func (d *MapDataset) Stack(other *MapDataset) error {
	if !d.Geom.Equal(other.Geom) {
		return fmt.Errorf("%w: cannot stack %q into %q", ErrGeometryMismatch, other.Name, d.Name)
	}
	if d.Finalized() {
		return fmt.Errorf("cannot stack into finalized dataset %q", d.Name)
	}
	for i, safe := range d.MaskSafe {
		if !safe {
			d.Counts.Data[i] = 0
			d.Exposure.Data[i] = 0
			d.Background.Data[i] = 0
		}
	}
	for i, safe := range other.MaskSafe {
		if !safe {
			continue
		}
		d.Counts.Data[i] += other.Counts.Data[i]
		d.Exposure.Data[i] += other.Exposure.Data[i]
		d.Background.Data[i] += other.Background.Data[i]
		d.MaskSafe[i] = true
	}
	if other.PSFMap != nil {
		if err := d.PSFMap.Stack(other.PSFMap); err != nil {
			return err
		}
	}
	if other.EDispMap != nil {
		if err := d.EDispMap.Stack(other.EDispMap); err != nil {
			return err
		}
	}
	d.NObs += other.NObs
	d.Livetime += other.Livetime
	return nil
}

// Finalize replaces the response maps by kernels evaluated at position.
func (d *MapDataset) Finalize(position maps.SkyCoord, maxRadius float64) error {
	if d.PSFMap == nil || d.EDispMap == nil {
		return errors.New("dataset has no response maps to evaluate")
	}
	edisp, err := d.EDispMap.EnergyDispersion(position, d.Geom.Axis())
	if err != nil {
		return err
	}
	psf, err := d.PSFMap.PSFKernel(position, d.Geom, maxRadius)
	if err != nil {
		return err
	}
	d.EDisp, d.PSF = edisp, psf
	d.PSFMap, d.EDispMap = nil, nil
	return nil
}

// MaskedCounts returns the sum of counts inside the safe mask.
func (d *MapDataset) MaskedCounts() float64 {
	total := 0.0
	for i, safe := range d.MaskSafe {
		if safe {
			total += d.Counts.Data[i]
		}
	}
	return total
}
