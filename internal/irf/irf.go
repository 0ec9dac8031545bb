// File: internal/irf/irf.go
// Brief: Parametric instrument response functions.

// Package irf models the instrument response of one observation with a
// small set of analytic functions: an offset-dependent effective area, a
// Gaussian PSF whose width shrinks with energy, a log-normal energy
// dispersion and a power-law background with radial acceptance.
package irf

import (
	"fmt"
	"math"

	"github.com/example/gammabench/internal/fits"
)

// Params holds the response parameters stored alongside each observation.
type Params struct {
	AeffMax       float64 // cm^2
	AeffThreshold float64 // TeV
	OffsetSigma   float64 // deg, radial acceptance width
	PSFSigma0     float64 // deg at 1 TeV
	PSFIndex      float64
	PSFSigmaMin   float64 // deg
	EDispSigma    float64 // width of ln(E_reco/E_true)
	BkgRate       float64 // s^-1 sr^-1 TeV^-1 at 1 TeV, on axis
	BkgIndex      float64
}

// CTALike returns parameters loosely matching a CTA south array.
func CTALike() Params {
	return Params{
		AeffMax:       1.5e10,
		AeffThreshold: 0.08,
		OffsetSigma:   2.5,
		PSFSigma0:     0.05,
		PSFIndex:      0.3,
		PSFSigmaMin:   0.02,
		EDispSigma:    0.12,
		BkgRate:       200,
		BkgIndex:      2.7,
	}
}

// Validate rejects parameter sets that would produce degenerate responses.
func (p Params) Validate() error {
	switch {
	case p.AeffMax <= 0:
		return fmt.Errorf("irf: AEFF_MAX must be positive")
	case p.AeffThreshold <= 0:
		return fmt.Errorf("irf: AEFF_THR must be positive")
	case p.OffsetSigma <= 0:
		return fmt.Errorf("irf: OFF_SIG must be positive")
	case p.PSFSigma0 <= 0 || p.PSFSigmaMin <= 0:
		return fmt.Errorf("irf: PSF widths must be positive")
	case p.EDispSigma <= 0:
		return fmt.Errorf("irf: EDISP_SG must be positive")
	case p.BkgRate < 0:
		return fmt.Errorf("irf: BKG_RATE must not be negative")
	}
	return nil
}

func (p Params) acceptance(offset float64) float64 {
	return math.Exp(-offset * offset / (2 * p.OffsetSigma * p.OffsetSigma))
}

// EffectiveArea returns the effective area in cm^2 at true energy e (TeV)
// and field-of-view offset (deg).
func (p Params) EffectiveArea(e, offset float64) float64 {
	x := e / p.AeffThreshold
	return p.AeffMax * (1 - math.Exp(-x*x)) * p.acceptance(offset)
}

// PSFSigma returns the Gaussian PSF width in degrees.
func (p Params) PSFSigma(e, offset float64) float64 {
	s := p.PSFSigma0 * math.Pow(e, -p.PSFIndex)
	s = math.Max(s, p.PSFSigmaMin)
	return s * (1 + 0.05*offset)
}

// EDispProbability returns the probability that an event of true energy
// eTrue is reconstructed in [lo, hi).
func (p Params) EDispProbability(eTrue, lo, hi float64) float64 {
	return BinProbability(p.EDispSigma, eTrue, lo, hi)
}

// BinProbability integrates a log-normal dispersion of width sigma centred
// on eTrue over [lo, hi).
func BinProbability(sigma, eTrue, lo, hi float64) float64 {
	if sigma <= 0 {
		if eTrue >= lo && eTrue < hi {
			return 1
		}
		return 0
	}
	z := func(e float64) float64 {
		return math.Log(e/eTrue) / (sigma * math.Sqrt2)
	}
	return 0.5 * (math.Erf(z(hi)) - math.Erf(z(lo)))
}

// BackgroundRate returns the differential background rate at energy e and
// offset in s^-1 sr^-1 TeV^-1.
func (p Params) BackgroundRate(e, offset float64) float64 {
	return p.BkgRate * math.Pow(e, -p.BkgIndex) * p.acceptance(offset)
}

// BackgroundIntegral integrates BackgroundRate over [lo, hi] analytically.
func (p Params) BackgroundIntegral(lo, hi, offset float64) float64 {
	return PowerLawIntegral(p.BkgRate, p.BkgIndex, lo, hi) * p.acceptance(offset)
}

// PowerLawIntegral returns ∫ amp * E^-index dE over [lo, hi].
func PowerLawIntegral(amp, index, lo, hi float64) float64 {
	if math.Abs(index-1) < 1e-12 {
		return amp * math.Log(hi/lo)
	}
	g := 1 - index
	return amp * (math.Pow(hi, g) - math.Pow(lo, g)) / g
}

// WriteHeader stores the parameters as FITS keywords.
func (p Params) WriteHeader(h *fits.Header) {
	h.Set("AEFF_MAX", p.AeffMax, "cm2")
	h.Set("AEFF_THR", p.AeffThreshold, "TeV")
	h.Set("OFF_SIG", p.OffsetSigma, "deg")
	h.Set("PSF_SIG0", p.PSFSigma0, "deg at 1 TeV")
	h.Set("PSF_IDX", p.PSFIndex, "")
	h.Set("PSF_SMIN", p.PSFSigmaMin, "deg")
	h.Set("EDISP_SG", p.EDispSigma, "ln(E) width")
	h.Set("BKG_RATE", p.BkgRate, "s-1 sr-1 TeV-1")
	h.Set("BKG_IDX", p.BkgIndex, "")
}

// FromHeader reads parameters written by WriteHeader.
func FromHeader(h *fits.Header) (Params, error) {
	var p Params
	fields := []struct {
		key string
		dst *float64
	}{
		{"AEFF_MAX", &p.AeffMax},
		{"AEFF_THR", &p.AeffThreshold},
		{"OFF_SIG", &p.OffsetSigma},
		{"PSF_SIG0", &p.PSFSigma0},
		{"PSF_IDX", &p.PSFIndex},
		{"PSF_SMIN", &p.PSFSigmaMin},
		{"EDISP_SG", &p.EDispSigma},
		{"BKG_RATE", &p.BkgRate},
		{"BKG_IDX", &p.BkgIndex},
	}
	for _, f := range fields {
		v, err := h.Float(f.key)
		if err != nil {
			return Params{}, err
		}
		*f.dst = v
	}
	return p, p.Validate()
}
