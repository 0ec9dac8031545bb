// File: internal/datastore/simulate.go
// Brief: Deterministic synthetic data store writer.

package datastore

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/example/gammabench/internal/fits"
	"github.com/example/gammabench/internal/irf"
	"github.com/example/gammabench/internal/maps"
)

// SourceSpec describes a point source with an exponential-cutoff power law
// spectrum used when simulating events.
type SourceSpec struct {
	Position  maps.SkyCoord
	Amplitude float64 // cm^-2 s^-1 TeV^-1 at Reference
	Reference float64 // TeV
	Index     float64
	Lambda    float64 // TeV^-1
}

// DNDE evaluates the differential flux at e (TeV).
func (s SourceSpec) DNDE(e float64) float64 {
	return s.Amplitude * math.Pow(e/s.Reference, -s.Index) * math.Exp(-s.Lambda*e)
}

// SimConfig controls WriteSynthetic.
type SimConfig struct {
	ObsIDs   []int64
	Pointing maps.SkyCoord
	Livetime float64 // s
	IRF      irf.Params
	Source   SourceSpec
	// Radius bounds the simulated field of view in degrees.
	Radius float64
	EMin   float64
	EMax   float64
	Seed   int64
	// Workers bounds how many observation files are written concurrently.
	Workers int
}

// DefaultSimConfig returns a configuration resembling observation 110380
// of the CTA first data challenge: a Galactic-centre pointing with a
// bright point source.
func DefaultSimConfig() SimConfig {
	params := irf.CTALike()
	params.BkgRate = 50
	return SimConfig{
		ObsIDs:   []int64{110380},
		Pointing: maps.Galactic(0, -1),
		Livetime: 1764,
		IRF:      params,
		Source: SourceSpec{
			Position:  maps.Galactic(-0.056, -0.046),
			Amplitude: 2.8e-12,
			Reference: 1,
			Index:     2.3,
			Lambda:    0.08,
		},
		Radius:  5,
		EMin:    0.05,
		EMax:    20,
		Seed:    1,
		Workers: 4,
	}
}

// Validate checks the simulation configuration.
func (c SimConfig) Validate() error {
	switch {
	case len(c.ObsIDs) == 0:
		return fmt.Errorf("simulate: at least one observation id is required")
	case c.Livetime <= 0:
		return fmt.Errorf("simulate: livetime must be positive")
	case c.Radius <= 0:
		return fmt.Errorf("simulate: radius must be positive")
	case c.EMin <= 0 || c.EMax <= c.EMin:
		return fmt.Errorf("simulate: invalid energy range %g..%g", c.EMin, c.EMax)
	}
	return c.IRF.Validate()
}

// ObsFileName returns the file name used for an observation.
func ObsFileName(id int64) string {
	return fmt.Sprintf("obs_%06d.fits.gz", id)
}

// WriteSynthetic writes a complete data store into dir. Each observation
// is simulated from its own seed so the output does not depend on Workers.
func WriteSynthetic(ctx context.Context, dir string, cfg SimConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data store directory: %w", err)
	}
	ids := append([]int64(nil), cfg.ObsIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	g, gctx := errgroup.WithContext(ctx)
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	g.SetLimit(workers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(cfg.Seed*1_000_003 + id))
			events := simulateEvents(rng, cfg)
			return writeObservation(filepath.Join(dir, ObsFileName(id)), id, cfg, events)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	n := len(ids)
	lon := make([]float64, n)
	lat := make([]float64, n)
	live := make([]float64, n)
	files := make([]string, n)
	for i, id := range ids {
		lon[i], lat[i], live[i] = cfg.Pointing.Lon, cfg.Pointing.Lat, cfg.Livetime
		files[i] = ObsFileName(id)
	}
	table := fits.NewTable(n).
		AddInt64("OBS_ID", ids).
		AddFloat64("GLON_PNT", "deg", lon).
		AddFloat64("GLAT_PNT", "deg", lat).
		AddFloat64("LIVETIME", "s", live).
		AddString("FILE_NAME", 32, files)
	return fits.WriteFile(filepath.Join(dir, IndexFile), []*fits.HDU{
		{Header: fits.NewHeader()},
		{Name: "OBS_INDEX", Table: table},
	})
}

func writeObservation(path string, id int64, cfg SimConfig, ev *Events) error {
	evHeader := fits.NewHeader()
	evHeader.Set("OBS_ID", id, "")
	evHeader.Set("GLON_PNT", cfg.Pointing.Lon, "deg")
	evHeader.Set("GLAT_PNT", cfg.Pointing.Lat, "deg")
	evHeader.Set("LIVETIME", cfg.Livetime, "s")
	table := fits.NewTable(ev.Len()).
		AddFloat64("GLON", "deg", ev.Lon).
		AddFloat64("GLAT", "deg", ev.Lat).
		AddFloat64("ENERGY", "TeV", ev.Energy)
	irfHeader := fits.NewHeader()
	cfg.IRF.WriteHeader(irfHeader)
	primary := fits.NewHeader()
	primary.Set("OBS_ID", id, "")
	return fits.WriteFile(path, []*fits.HDU{
		{Header: primary},
		{Name: "EVENTS", Header: evHeader, Table: table},
		{Name: "IRF", Header: irfHeader},
	})
}

func simulateEvents(rng *rand.Rand, cfg SimConfig) *Events {
	ev := &Events{}
	p := cfg.IRF
	sig := p.OffsetSigma
	r2 := cfg.Radius * cfg.Radius
	truncation := 1 - math.Exp(-r2/(2*sig*sig))
	diskSr := 2 * math.Pi * sig * sig * truncation * math.Pow(math.Pi/180, 2)
	nBkg := cfg.Livetime * irf.PowerLawIntegral(p.BkgRate, p.BkgIndex, cfg.EMin, cfg.EMax) * diskSr
	cosLat := math.Cos(cfg.Pointing.Lat * math.Pi / 180)
	for i, n := 0, poisson(rng, nBkg); i < n; i++ {
		r := sig * math.Sqrt(-2*math.Log(1-rng.Float64()*truncation))
		theta := 2 * math.Pi * rng.Float64()
		ev.Lon = append(ev.Lon, maps.WrapLon(cfg.Pointing.Lon+r*math.Cos(theta)/cosLat))
		ev.Lat = append(ev.Lat, cfg.Pointing.Lat+r*math.Sin(theta))
		ev.Energy = append(ev.Energy, samplePowerLaw(rng, p.BkgIndex, cfg.EMin, cfg.EMax))
	}

	src := cfg.Source
	if src.Amplitude > 0 {
		offset := maps.Separation(src.Position, cfg.Pointing)
		grid, cdf := spectrumCDF(func(e float64) float64 {
			return src.DNDE(e) * p.EffectiveArea(e, offset)
		}, cfg.EMin, cfg.EMax, 400)
		nSrc := cfg.Livetime * cdf[len(cdf)-1]
		for i, n := 0, poisson(rng, nSrc); i < n; i++ {
			eTrue := sampleCDF(rng, grid, cdf)
			eReco := eTrue * math.Exp(p.EDispSigma*rng.NormFloat64())
			if eReco < cfg.EMin || eReco > cfg.EMax {
				continue
			}
			sigma := p.PSFSigma(eTrue, offset)
			dLon := sigma * rng.NormFloat64() / math.Cos(src.Position.Lat*math.Pi/180)
			dLat := sigma * rng.NormFloat64()
			ev.Lon = append(ev.Lon, maps.WrapLon(src.Position.Lon+dLon))
			ev.Lat = append(ev.Lat, src.Position.Lat+dLat)
			ev.Energy = append(ev.Energy, eReco)
		}
	}
	return ev
}

// spectrumCDF tabulates the cumulative integral of f on a log grid using
// the trapezoidal rule.
func spectrumCDF(f func(float64) float64, lo, hi float64, n int) ([]float64, []float64) {
	grid := make([]float64, n)
	cdf := make([]float64, n)
	for i := range grid {
		grid[i] = lo * math.Pow(hi/lo, float64(i)/float64(n-1))
	}
	prev := f(grid[0])
	for i := 1; i < n; i++ {
		cur := f(grid[i])
		cdf[i] = cdf[i-1] + 0.5*(prev+cur)*(grid[i]-grid[i-1])
		prev = cur
	}
	return grid, cdf
}

func sampleCDF(rng *rand.Rand, grid, cdf []float64) float64 {
	target := rng.Float64() * cdf[len(cdf)-1]
	i := sort.SearchFloat64s(cdf, target)
	if i <= 0 {
		return grid[0]
	}
	if i >= len(cdf) {
		return grid[len(grid)-1]
	}
	span := cdf[i] - cdf[i-1]
	if span <= 0 {
		return grid[i]
	}
	frac := (target - cdf[i-1]) / span
	return grid[i-1] * math.Pow(grid[i]/grid[i-1], frac)
}

func samplePowerLaw(rng *rand.Rand, index, lo, hi float64) float64 {
	u := rng.Float64()
	if math.Abs(index-1) < 1e-12 {
		return math.Min(lo*math.Pow(hi/lo, u), hi)
	}
	g := 1 - index
	a, b := math.Pow(lo, g), math.Pow(hi, g)
	e := math.Pow(a+u*(b-a), 1/g)
	return math.Min(math.Max(e, lo), hi)
}

func poisson(rng *rand.Rand, mean float64) int {
	if mean <= 0 {
		return 0
	}
	if mean > 30 {
		n := math.Round(mean + math.Sqrt(mean)*rng.NormFloat64())
		if n < 0 {
			return 0
		}
		return int(n)
	}
	limit := math.Exp(-mean)
	k, prod := 0, rng.Float64()
	for prod > limit {
		k++
		prod *= rng.Float64()
	}
	return k
}
