// Package estimators derives secondary quantities from fitted datasets.
package estimators

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/go-logr/logr"
	"gonum.org/v1/gonum/floats"

	"github.com/example/gammabench/internal/modeling"
)

// ErrNoData is returned when no requested energy bin contains counts.
var ErrNoData = errors.New("no data in flux point energy range")

// FluxPoint is the spectral measurement in one energy bin.
type FluxPoint struct {
	EMin, EMax, ERef float64
	Norm, NormErr    float64
	DNDE, DNDEErr    float64
	TS, SqrtTS       float64
	Counts, NPred    float64
	Success          bool
}

// FluxPoints holds one point per energy bin, lowest energy first.
type FluxPoints struct {
	Source string
	Points []FluxPoint
}

// FluxPointsEstimator fits the normalisation of one source independently
// in each energy bin, all other parameters frozen at their current values.
type FluxPointsEstimator struct {
	EnergyEdges []float64
	Source      string
	Logger      logr.Logger
}

// Run estimates flux points over datasets. Model parameters are restored
// afterwards.
func (e *FluxPointsEstimator) Run(ctx context.Context, datasets []*modeling.Dataset) (*FluxPoints, error) {
	if len(e.EnergyEdges) < 2 || !sort.Float64sAreSorted(e.EnergyEdges) {
		return nil, fmt.Errorf("flux points need at least two increasing energy edges, got %v", e.EnergyEdges)
	}
	var selected []*modeling.Dataset
	for _, d := range datasets {
		if d.Model != nil && d.Model.Name == e.Source {
			selected = append(selected, d)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: source %q not in any dataset model", ErrNoData, e.Source)
	}
	model := selected[0].Model
	amplitude := model.Parameters().ByName("amplitude")
	if amplitude == nil || amplitude.Value == 0 {
		return nil, fmt.Errorf("source %q has no usable amplitude parameter", e.Source)
	}

	out := &FluxPoints{Source: e.Source}
	hasData := false
	for i := 0; i+1 < len(e.EnergyEdges); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := e.estimateBin(ctx, selected, model, amplitude, e.EnergyEdges[i], e.EnergyEdges[i+1])
		if err != nil {
			return nil, err
		}
		hasData = hasData || p.Counts > 0
		out.Points = append(out.Points, p)
		e.Logger.V(1).Info("flux point", "e_min", p.EMin, "e_max", p.EMax, "norm", p.Norm, "ts", p.TS)
	}
	if !hasData {
		return nil, ErrNoData
	}
	return out, nil
}

func (e *FluxPointsEstimator) estimateBin(ctx context.Context, datasets []*modeling.Dataset, model *modeling.SkyModel,
	amplitude *modeling.Parameter, emin, emax float64) (FluxPoint, error) {
	axis := datasets[0].Data.Geom.Axis()
	lo, hi := axis.NearestEdge(emin), axis.NearestEdge(emax)
	edges := axis.Edges()
	p := FluxPoint{
		EMin: edges[lo], EMax: edges[hi],
		Norm: math.NaN(), NormErr: math.NaN(), DNDE: math.NaN(), DNDEErr: math.NaN(),
		TS: math.NaN(), SqrtTS: math.NaN(),
	}
	p.ERef = math.Sqrt(p.EMin * p.EMax)
	if hi <= lo {
		return p, nil
	}

	params := model.Parameters()
	restore := params.Snapshot()
	defer func() {
		restore()
		for _, d := range datasets {
			d.SetEnergyBins(0, 0)
		}
	}()
	for _, d := range datasets {
		d.SetEnergyBins(lo, hi)
	}
	counts := make([]float64, len(datasets))
	for i, d := range datasets {
		counts[i] = d.Counts()
	}
	p.Counts = floats.Sum(counts)
	if p.Counts == 0 {
		return p, nil
	}

	ref := amplitude.Value
	refDNDE := model.Spectral.DNDE(p.ERef)
	for _, q := range params {
		q.Frozen = q != amplitude
	}
	fit := &modeling.Fit{Datasets: datasets, Logger: e.Logger}
	res, err := fit.Run(ctx, modeling.Options{})
	if err != nil {
		return p, fmt.Errorf("flux point %.3g-%.3g TeV: %w", p.EMin, p.EMax, err)
	}
	best := res.TotalStat
	p.Success = res.Success
	p.Norm = amplitude.Value / ref
	p.NormErr = amplitude.Error / ref
	p.DNDE = p.Norm * refDNDE
	p.DNDEErr = p.NormErr * refDNDE
	npred := make([]float64, len(datasets))
	for i, d := range datasets {
		npred[i] = d.NPredSource()
	}
	p.NPred = floats.Sum(npred)

	fitted := amplitude.Value
	amplitude.Value = 0
	p.TS = fit.TotalStat() - best
	amplitude.Value = fitted
	p.SqrtTS = math.Copysign(math.Sqrt(math.Abs(p.TS)), p.Norm)
	return p, nil
}
