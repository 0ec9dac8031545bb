package modeling

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/go-logr/logr"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// ErrFitFailed is returned when the likelihood cannot be minimized at all.
// A fit that merely fails to converge returns a result with Success unset.
var ErrFitFailed = errors.New("fit failed")

// outOfBounds is the statistic reported for parameter vectors outside the
// declared bounds.
const outOfBounds = 1e30

// Fit minimizes the summed Cash statistic of one or more datasets.
type Fit struct {
	Datasets []*Dataset
	Logger   logr.Logger
	// MaxEvaluations caps objective evaluations; zero uses 5000.
	MaxEvaluations int
}

// Options control a single optimization.
type Options struct {
	// PrintLevel 0 is silent, 1 logs each optimizer iteration, 2 also
	// logs every function evaluation at V(1).
	PrintLevel int
}

// FitResult summarizes an optimization.
type FitResult struct {
	Success    bool
	Message    string
	Iterations int
	NFev       int
	TotalStat  float64
	Parameters Parameters
	// Covariance over free parameters in Value units; nil when the
	// Hessian is not positive definite.
	Covariance *mat.SymDense
}

// Parameters returns the union of model parameters across datasets.
func (f *Fit) Parameters() Parameters {
	seen := make(map[*Parameter]bool)
	var out Parameters
	for _, d := range f.Datasets {
		for _, p := range d.Model.Parameters() {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// TotalStat sums the statistic of every dataset at the current parameters.
func (f *Fit) TotalStat() float64 {
	total := 0.0
	for _, d := range f.Datasets {
		total += d.Stat()
	}
	return total
}

func (f *Fit) objective(free Parameters) func(x []float64) float64 {
	return func(x []float64) float64 {
		for i, p := range free {
			p.setFactor(x[i])
			if !p.InBounds(p.Value) {
				return outOfBounds
			}
		}
		stat := f.TotalStat()
		if math.IsNaN(stat) || math.IsInf(stat, 0) {
			return outOfBounds
		}
		return stat
	}
}

// Run optimizes the free parameters in place and estimates their errors
// from the numerical Hessian of the statistic.
func (f *Fit) Run(ctx context.Context, opts Options) (*FitResult, error) {
	if len(f.Datasets) == 0 {
		return nil, fmt.Errorf("%w: no datasets", ErrFitFailed)
	}
	all := f.Parameters()
	free := all.Free()
	if len(free) == 0 {
		return nil, fmt.Errorf("%w: no free parameters", ErrFitFailed)
	}
	x0 := make([]float64, len(free))
	for i, p := range free {
		x0[i] = p.factor()
	}
	obj := f.objective(free)
	if start := obj(x0); start >= outOfBounds {
		return nil, fmt.Errorf("%w: statistic is not finite at the start values", ErrFitFailed)
	}

	maxEval := f.MaxEvaluations
	if maxEval <= 0 {
		maxEval = 5000
	}
	settings := &optimize.Settings{
		FuncEvaluations: maxEval,
		Converger:       &optimize.FunctionConverge{Absolute: 1e-4, Iterations: 60},
		Recorder:        &fitRecorder{ctx: ctx, log: f.Logger, level: opts.PrintLevel, free: free},
	}
	res, err := optimize.Minimize(optimize.Problem{Func: obj}, x0, settings, &optimize.NelderMead{})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if res == nil {
			return nil, fmt.Errorf("%w: %w", ErrFitFailed, err)
		}
	}
	obj(res.X)

	out := &FitResult{
		Success:    err == nil && converged(res.Status),
		Message:    res.Status.String(),
		Iterations: res.MajorIterations,
		NFev:       res.FuncEvaluations,
		TotalStat:  f.TotalStat(),
		Parameters: all,
	}
	if err != nil {
		out.Message = err.Error()
	}
	out.Covariance = f.covariance(obj, free, res.X)
	if out.Covariance == nil {
		f.Logger.Info("covariance unavailable: Hessian is not positive definite")
	}
	obj(res.X)

	if opts.PrintLevel > 0 {
		f.Logger.Info("fit finished", "success", out.Success, "message", out.Message,
			"nfev", out.NFev, "stat", out.TotalStat)
		for _, p := range free {
			f.Logger.Info("parameter", "value", p.String())
		}
	}
	return out, nil
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.FunctionConvergence, optimize.MethodConverge,
		optimize.StepConvergence, optimize.FunctionThreshold:
		return true
	}
	return false
}

// covariance inverts half the Hessian of the statistic and stores the
// resulting errors on the free parameters.
func (f *Fit) covariance(obj func([]float64) float64, free Parameters, x []float64) *mat.SymDense {
	n := len(free)
	h := mat.NewSymDense(n, nil)
	fd.Hessian(h, obj, x, &fd.Settings{Formula: fd.Central, Step: 1e-3})
	var chol mat.Cholesky
	if ok := chol.Factorize(h); !ok {
		return nil
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil
	}
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, 2*inv.At(i, j)*scaleOf(free[i])*scaleOf(free[j]))
		}
	}
	for i, p := range free {
		if v := cov.At(i, i); v > 0 {
			p.Error = math.Sqrt(v)
		}
	}
	return cov
}

func scaleOf(p *Parameter) float64 {
	if p.Scale == 0 {
		return 1
	}
	return p.Scale
}

// fitRecorder reports optimizer progress and aborts on cancellation.
type fitRecorder struct {
	ctx   context.Context
	log   logr.Logger
	level int
	free  Parameters
}

func (r *fitRecorder) Init() error { return nil }

func (r *fitRecorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	switch {
	case op == optimize.MajorIteration && r.level > 0:
		kv := []any{"iter", stats.MajorIterations, "nfev", stats.FuncEvaluations, "stat", loc.F}
		for i, p := range r.free {
			kv = append(kv, p.Name, loc.X[i]*scaleOf(p))
		}
		r.log.Info("fit iteration", kv...)
	case op&optimize.FuncEvaluation != 0 && r.level > 1:
		r.log.V(1).Info("fit evaluation", "nfev", stats.FuncEvaluations, "stat", loc.F)
	}
	return nil
}
