package maps

import (
	"fmt"

	"github.com/example/gammabench/internal/fits"
)

// Map is a 3D array of values on a WcsGeom, laid out energy-major then
// row-major (ix varies fastest), matching the FITS NAXIS order.
type Map struct {
	Geom *WcsGeom
	Data []float64
}

// NewMap allocates a zero-filled map.
func NewMap(g *WcsGeom) *Map {
	return &Map{Geom: g, Data: make([]float64, g.Size())}
}

// Offset returns the flat index of voxel (ix, iy, ie).
func (m *Map) Offset(ix, iy, ie int) int {
	nx, ny := m.Geom.Shape()
	return (ie*ny+iy)*nx + ix
}

// At returns the value at (ix, iy, ie).
func (m *Map) At(ix, iy, ie int) float64 {
	return m.Data[m.Offset(ix, iy, ie)]
}

// Set stores v at (ix, iy, ie).
func (m *Map) Set(ix, iy, ie int, v float64) {
	m.Data[m.Offset(ix, iy, ie)] = v
}

// Add accumulates v at (ix, iy, ie).
func (m *Map) Add(ix, iy, ie int, v float64) {
	m.Data[m.Offset(ix, iy, ie)] += v
}

// Sum returns the sum over all voxels.
func (m *Map) Sum() float64 {
	total := 0.0
	for _, v := range m.Data {
		total += v
	}
	return total
}

// Copy returns a deep copy sharing the (immutable) geometry.
func (m *Map) Copy() *Map {
	return &Map{Geom: m.Geom, Data: append([]float64(nil), m.Data...)}
}

// ToImage converts the map into a FITS image with WCS keywords.
func (m *Map) ToImage(name string, bitpix int) *fits.HDU {
	nx, ny := m.Geom.Shape()
	im := fits.NewImage(bitpix, nx, ny, m.Geom.Axis().NBin())
	copy(im.Data, m.Data)
	h := fits.NewHeader()
	m.Geom.WriteHeader(h)
	return &fits.HDU{Name: name, Header: h, Image: im}
}

// FromImage loads map data from a FITS image whose shape must match g.
func FromImage(hdu *fits.HDU, g *WcsGeom) (*Map, error) {
	if hdu == nil || hdu.Image == nil {
		return nil, fmt.Errorf("%w: HDU has no image data", fits.ErrMalformed)
	}
	nx, ny := g.Shape()
	axes := hdu.Image.Axes
	if len(axes) != 3 || axes[0] != nx || axes[1] != ny || axes[2] != g.Axis().NBin() {
		return nil, fmt.Errorf("%w: %s shape %v does not match geometry %dx%dx%d",
			fits.ErrMalformed, hdu.Name, axes, nx, ny, g.Axis().NBin())
	}
	return &Map{Geom: g, Data: append([]float64(nil), hdu.Image.Data...)}, nil
}
