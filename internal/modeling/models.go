package modeling

import (
	"math"

	"github.com/example/gammabench/internal/maps"
)

// SpectralModel is a differential flux dN/dE in cm^-2 s^-1 TeV^-1.
type SpectralModel interface {
	DNDE(e float64) float64
	Parameters() Parameters
}

// Integral integrates m over [lo, hi] TeV with Simpson's rule in log
// energy.
func Integral(m SpectralModel, lo, hi float64) float64 {
	const n = 16
	a, b := math.Log(lo), math.Log(hi)
	h := (b - a) / n
	f := func(x float64) float64 {
		e := math.Exp(x)
		return m.DNDE(e) * e
	}
	sum := f(a) + f(b)
	for i := 1; i < n; i++ {
		w := 2.0
		if i%2 == 1 {
			w = 4
		}
		sum += w * f(a+float64(i)*h)
	}
	return sum * h / 3
}

// ExpCutoffPowerLaw is dN/dE = amplitude (E/reference)^-index exp(-lambda E).
type ExpCutoffPowerLaw struct {
	Index     *Parameter
	Amplitude *Parameter
	Reference *Parameter
	Lambda    *Parameter
}

// NewExpCutoffPowerLaw builds the model; reference is frozen.
func NewExpCutoffPowerLaw(index, amplitude, reference, lambda float64) *ExpCutoffPowerLaw {
	ref := NewParameter("reference", reference, "TeV")
	ref.Frozen = true
	return &ExpCutoffPowerLaw{
		Index:     NewParameter("index", index, "").WithBounds(-1, 6),
		Amplitude: NewParameter("amplitude", amplitude, "cm-2 s-1 TeV-1").WithScale(1e-12),
		Reference: ref,
		Lambda:    NewParameter("lambda_", lambda, "TeV-1").WithBounds(0, 10),
	}
}

// DNDE evaluates the model at e TeV.
func (m *ExpCutoffPowerLaw) DNDE(e float64) float64 {
	return m.Amplitude.Value * math.Pow(e/m.Reference.Value, -m.Index.Value) * math.Exp(-m.Lambda.Value*e)
}

// Parameters returns index, amplitude, reference and lambda_.
func (m *ExpCutoffPowerLaw) Parameters() Parameters {
	return Parameters{m.Index, m.Amplitude, m.Reference, m.Lambda}
}

// PointSpatialModel is a point source at (lon_0, lat_0).
type PointSpatialModel struct {
	Lon0  *Parameter
	Lat0  *Parameter
	Frame string
}

// NewPointSpatialModel builds a point source in the given frame.
func NewPointSpatialModel(lon, lat float64, frame string) *PointSpatialModel {
	return &PointSpatialModel{
		Lon0:  NewParameter("lon_0", lon, "deg"),
		Lat0:  NewParameter("lat_0", lat, "deg").WithBounds(-90, 90),
		Frame: frame,
	}
}

// Position returns the source position.
func (m *PointSpatialModel) Position() maps.SkyCoord {
	return maps.Galactic(m.Lon0.Value, m.Lat0.Value)
}

// Parameters returns lon_0 and lat_0.
func (m *PointSpatialModel) Parameters() Parameters {
	return Parameters{m.Lon0, m.Lat0}
}

// SkyModel couples a spatial and a spectral model under a source name.
type SkyModel struct {
	Name     string
	Spatial  *PointSpatialModel
	Spectral SpectralModel
}

// Parameters returns spatial then spectral parameters.
func (m *SkyModel) Parameters() Parameters {
	return append(m.Spatial.Parameters(), m.Spectral.Parameters()...)
}
