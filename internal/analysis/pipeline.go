// Package analysis is the 3D analysis the benchmark times: reduce and
// stack observations, persist the stacked dataset, read it back, fit a
// point source and derive its flux points.
package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/example/gammabench/internal/bench"
	"github.com/example/gammabench/internal/cube"
	"github.com/example/gammabench/internal/datastore"
	"github.com/example/gammabench/internal/estimators"
	"github.com/example/gammabench/internal/maps"
	"github.com/example/gammabench/internal/modeling"
)

// SourceName is the name of the fitted source model.
const SourceName = "gc-source"

// Settings fixes every input of the analysis.
type Settings struct {
	StoreDir string
	ObsID    int64
	NObs     int

	EnergyMin, EnergyMax float64
	EnergyBins           int
	SkyDir               maps.SkyCoord
	Binsz                float64
	Width, Height        float64

	OffsetMax    float64
	PSFMaxRadius float64

	PrintLevel     int
	MaxEvaluations int
	FluxEdges      []float64
}

// DefaultSettings returns the benchmark configuration for the data store
// in storeDir.
func DefaultSettings(storeDir string) Settings {
	return Settings{
		StoreDir:     storeDir,
		ObsID:        110380,
		NObs:         10,
		EnergyMin:    0.1,
		EnergyMax:    10,
		EnergyBins:   10,
		SkyDir:       maps.Galactic(0, 0),
		Binsz:        0.05,
		Width:        10,
		Height:       8,
		OffsetMax:    4,
		PSFMaxRadius: 0.3,
		PrintLevel:   1,
		FluxEdges:    []float64{0.3, 1, 3, 10},
	}
}

// Geometry builds the analysis geometry.
func (s Settings) Geometry() (*maps.WcsGeom, error) {
	axis, err := maps.NewLogEnergyAxis(s.EnergyMin, s.EnergyMax, s.EnergyBins)
	if err != nil {
		return nil, err
	}
	return maps.NewWcsGeom(s.SkyDir, s.Binsz, s.Width, s.Height, axis)
}

// NewSkyModel returns the start model for the fit: a point source near the
// Galactic centre with an exponential-cutoff power law spectrum.
func NewSkyModel() *modeling.SkyModel {
	return &modeling.SkyModel{
		Name:     SourceName,
		Spatial:  modeling.NewPointSpatialModel(0.01, 0.01, "galactic"),
		Spectral: modeling.NewExpCutoffPowerLaw(2, 3e-12, 1, 0.1),
	}
}

// Dataset is what the pipeline passes between stages.
type Dataset struct {
	Stacked    *cube.MapDataset
	Fit        *modeling.Dataset
	FitResult  *modeling.FitResult
	FluxPoints *estimators.FluxPoints
}

// ObservationCount returns the number of stacked observations.
func (d *Dataset) ObservationCount() int { return d.Stacked.ObservationCount() }

// Pipeline implements bench.Pipeline.
type Pipeline struct {
	settings Settings
	logger   logr.Logger
}

var _ bench.Pipeline = (*Pipeline)(nil)

// New validates settings and returns a pipeline.
func New(settings Settings, logger logr.Logger) (*Pipeline, error) {
	if settings.NObs < 1 {
		return nil, fmt.Errorf("need at least one observation, got %d", settings.NObs)
	}
	if settings.StoreDir == "" {
		return nil, errors.New("data store directory is required")
	}
	if _, err := settings.Geometry(); err != nil {
		return nil, err
	}
	return &Pipeline{settings: settings, logger: logger}, nil
}

func (p *Pipeline) dataset(ds bench.Dataset) (*Dataset, error) {
	d, ok := ds.(*Dataset)
	if !ok || d == nil || d.Stacked == nil {
		return nil, fmt.Errorf("unexpected dataset %T", ds)
	}
	return d, nil
}

// PrepareData reduces NObs references to the configured observation onto
// the analysis geometry, stacks them and evaluates the response kernels at
// the geometry centre.
func (p *Pipeline) PrepareData(ctx context.Context) (bench.Dataset, error) {
	s := p.settings
	store, err := datastore.FromDir(s.StoreDir)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, s.NObs)
	for i := range ids {
		ids[i] = s.ObsID
	}
	observations, err := store.GetObservations(ctx, ids)
	if err != nil {
		return nil, err
	}
	geom, err := s.Geometry()
	if err != nil {
		return nil, err
	}

	stacked := cube.Create("stacked", geom)
	maker := cube.MapDatasetMaker{OffsetMax: s.OffsetMax}
	safe := cube.SafeMaskMaker{Methods: []string{cube.MethodOffsetMax}, OffsetMax: s.OffsetMax}
	for i, obs := range observations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		reduced, err := maker.Run(geom, obs)
		if err != nil {
			return nil, fmt.Errorf("reduce observation %d: %w", obs.ObsID, err)
		}
		if reduced, err = safe.Run(reduced, obs); err != nil {
			return nil, err
		}
		if err := stacked.Stack(reduced); err != nil {
			return nil, err
		}
		p.logger.V(1).Info("stacked observation", "obs_id", obs.ObsID, "index", i, "counts", reduced.MaskedCounts())
	}
	if err := stacked.Finalize(s.SkyDir, s.PSFMaxRadius); err != nil {
		return nil, err
	}
	p.logger.Info("prepared dataset", "n_obs", stacked.NObs, "counts", stacked.MaskedCounts(), "livetime", stacked.Livetime)
	return &Dataset{Stacked: stacked}, nil
}

// WriteDataset writes the stacked dataset, replacing path.
func (p *Pipeline) WriteDataset(_ context.Context, ds bench.Dataset, path string) error {
	d, err := p.dataset(ds)
	if err != nil {
		return err
	}
	return d.Stacked.Write(path)
}

// ReadDataset loads a dataset written by WriteDataset.
func (p *Pipeline) ReadDataset(_ context.Context, path string) (bench.Dataset, error) {
	stacked, err := cube.Read(path)
	if err != nil {
		return nil, err
	}
	return &Dataset{Stacked: stacked}, nil
}

// FitModel attaches a fresh source model and fits it by maximum likelihood.
// Non-convergence is logged, not fatal.
func (p *Pipeline) FitModel(ctx context.Context, ds bench.Dataset) error {
	d, err := p.dataset(ds)
	if err != nil {
		return err
	}
	if d.Fit, err = modeling.NewDataset(d.Stacked, NewSkyModel()); err != nil {
		return err
	}
	fit := &modeling.Fit{
		Datasets:       []*modeling.Dataset{d.Fit},
		Logger:         p.logger.WithName("fit"),
		MaxEvaluations: p.settings.MaxEvaluations,
	}
	res, err := fit.Run(ctx, modeling.Options{PrintLevel: p.settings.PrintLevel})
	if err != nil {
		return err
	}
	d.FitResult = res
	if !res.Success {
		p.logger.Info("fit did not converge", "message", res.Message, "nfev", res.NFev)
	}
	return nil
}

// EstimateFluxPoints computes flux points of the fitted source.
func (p *Pipeline) EstimateFluxPoints(ctx context.Context, ds bench.Dataset) error {
	d, err := p.dataset(ds)
	if err != nil {
		return err
	}
	if d.Fit == nil {
		return errors.New("flux points need a fitted model")
	}
	est := &estimators.FluxPointsEstimator{
		EnergyEdges: p.settings.FluxEdges,
		Source:      SourceName,
		Logger:      p.logger.WithName("flux-points"),
	}
	fp, err := est.Run(ctx, []*modeling.Dataset{d.Fit})
	if err != nil {
		return err
	}
	d.FluxPoints = fp
	for _, pt := range fp.Points {
		p.logger.Info("flux point", "e_ref", pt.ERef, "dnde", pt.DNDE, "dnde_err", pt.DNDEErr, "ts", pt.TS)
	}
	return nil
}
