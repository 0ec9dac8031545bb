package irf

import (
	"math"
	"testing"

	"github.com/example/gammabench/internal/fits"
)

func TestEffectiveAreaFallsWithOffset(t *testing.T) {
	p := CTALike()
	onAxis := p.EffectiveArea(1, 0)
	if onAxis <= 0.99*p.AeffMax {
		t.Fatalf("1 TeV on-axis area %g should be close to max %g", onAxis, p.AeffMax)
	}
	if off := p.EffectiveArea(1, 4); off >= onAxis {
		t.Fatalf("area at 4 deg (%g) should be below on-axis (%g)", off, onAxis)
	}
	if low := p.EffectiveArea(0.01, 0); low >= 0.05*p.AeffMax {
		t.Fatalf("area below threshold should be suppressed, got %g", low)
	}
}

func TestEDispProbabilitiesSumToOne(t *testing.T) {
	p := CTALike()
	edges := []float64{0.01, 0.1, 0.3, 1, 3, 10, 100}
	total := 0.0
	for i := 0; i+1 < len(edges); i++ {
		total += p.EDispProbability(1, edges[i], edges[i+1])
	}
	if math.Abs(total-1) > 1e-9 {
		t.Fatalf("probabilities sum to %v", total)
	}
	if BinProbability(0, 1, 0.5, 2) != 1 || BinProbability(0, 3, 0.5, 2) != 0 {
		t.Fatalf("zero-width dispersion should be a delta function")
	}
}

func TestPowerLawIntegral(t *testing.T) {
	if got := PowerLawIntegral(1, 2, 1, 2); math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("integral of E^-2 over [1,2] = %v", got)
	}
	if got := PowerLawIntegral(2, 1, 1, math.E); math.Abs(got-2) > 1e-12 {
		t.Fatalf("integral of 2/E over [1,e] = %v", got)
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	p := CTALike()
	h := fits.NewHeader()
	p.WriteHeader(h)
	got, err := FromHeader(h)
	if err != nil {
		t.Fatalf("from header: %v", err)
	}
	if got != p {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, p)
	}
	h.Set("PSF_SIG0", 0.0, "")
	if _, err := FromHeader(h); err == nil {
		t.Fatalf("expected validation error for zero PSF width")
	}
}
