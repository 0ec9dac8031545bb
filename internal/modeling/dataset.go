package modeling

import (
	"errors"
	"math"

	"github.com/example/gammabench/internal/cube"
	"github.com/example/gammabench/internal/maps"
)

// truncation keeps log(mu) finite for empty model voxels.
const truncation = 1e-25

// Dataset pairs a binned dataset with the model used to describe it and
// evaluates the Cash statistic.
type Dataset struct {
	Data  *cube.MapDataset
	Model *SkyModel

	bins []bool
	base float64
	ok   bool
}

// NewDataset attaches model to data.
func NewDataset(data *cube.MapDataset, model *SkyModel) (*Dataset, error) {
	if data == nil || model == nil {
		return nil, errors.New("dataset and model are required")
	}
	return &Dataset{Data: data, Model: model}, nil
}

// SetEnergyBins restricts the statistic to reconstructed energy bins
// [lo, hi). A nil range (lo == hi == 0) restores all bins.
func (d *Dataset) SetEnergyBins(lo, hi int) {
	d.ok = false
	if lo == 0 && hi == 0 {
		d.bins = nil
		return
	}
	n := d.Data.Geom.Axis().NBin()
	d.bins = make([]bool, n)
	for ie := max(lo, 0); ie < min(hi, n); ie++ {
		d.bins[ie] = true
	}
}

func (d *Dataset) binEnabled(ie int) bool {
	return d.bins == nil || d.bins[ie]
}

func cashTerm(n, mu float64) float64 {
	if mu < truncation {
		mu = truncation
	}
	return mu - n*math.Log(mu)
}

// sourceVoxel is one voxel of the source footprint.
type sourceVoxel struct {
	index  int
	counts float64
}

// trueCounts returns the predicted source counts per true-energy bin.
func (d *Dataset) trueCounts() []float64 {
	g := d.Data.Geom
	axis := g.Axis()
	fx, fy := g.CoordToPix(d.Model.Spatial.Position())
	out := make([]float64, axis.NBin())
	for ie := range out {
		expo := interpolate(d.Data.Exposure, fx, fy, ie)
		if expo <= 0 {
			continue
		}
		out[ie] = Integral(d.Model.Spectral, axis.Lo(ie), axis.Hi(ie)) * expo
	}
	return out
}

// interpolate bilinearly samples plane ie of m at fractional pixel (fx, fy),
// treating pixels outside the map as empty.
func interpolate(m *maps.Map, fx, fy float64, ie int) float64 {
	nx, ny := m.Geom.Shape()
	x0, y0 := int(math.Floor(fx)), int(math.Floor(fy))
	tx, ty := fx-float64(x0), fy-float64(y0)
	v := 0.0
	for dy := 0; dy <= 1; dy++ {
		for dx := 0; dx <= 1; dx++ {
			x, y := x0+dx, y0+dy
			if x < 0 || y < 0 || x >= nx || y >= ny {
				continue
			}
			w := (1 - tx) * (1 - ty)
			switch {
			case dx == 1 && dy == 0:
				w = tx * (1 - ty)
			case dx == 0 && dy == 1:
				w = (1 - tx) * ty
			case dx == 1 && dy == 1:
				w = tx * ty
			}
			v += w * m.At(x, y, ie)
		}
	}
	return v
}

// footprint spreads the reconstructed source counts over the pixels around
// the source position.
func (d *Dataset) footprint() []sourceVoxel {
	g := d.Data.Geom
	nx, ny := g.Shape()
	reco := d.trueCounts()
	if d.Data.EDisp != nil {
		reco = d.Data.EDisp.Apply(reco)
	}
	fx, fy := g.CoordToPix(d.Model.Spatial.Position())
	cx, cy := int(math.Round(fx)), int(math.Round(fy))

	var out []sourceVoxel
	for ie, total := range reco {
		if total == 0 {
			continue
		}
		if d.Data.PSF == nil || ie >= len(d.Data.PSF.Sigmas) {
			if cx >= 0 && cy >= 0 && cx < nx && cy < ny {
				out = append(out, sourceVoxel{d.Data.Counts.Offset(cx, cy, ie), total})
			}
			continue
		}
		sigma := d.Data.PSF.Sigmas[ie]
		radius := d.Data.PSF.MaxRadius
		half := int(math.Ceil(radius/g.Binsz())) + 1
		type pix struct {
			x, y int
			w    float64
		}
		var window []pix
		norm := 0.0
		for y := cy - half; y <= cy+half; y++ {
			for x := cx - half; x <= cx+half; x++ {
				r := math.Hypot(float64(x)-fx, float64(y)-fy) * g.Binsz()
				if r > radius {
					continue
				}
				w := math.Exp(-r * r / (2 * sigma * sigma))
				norm += w
				if x >= 0 && y >= 0 && x < nx && y < ny {
					window = append(window, pix{x, y, w})
				}
			}
		}
		if norm == 0 {
			if cx >= 0 && cy >= 0 && cx < nx && cy < ny {
				out = append(out, sourceVoxel{d.Data.Counts.Offset(cx, cy, ie), total})
			}
			continue
		}
		for _, p := range window {
			if p.w == 0 {
				continue
			}
			out = append(out, sourceVoxel{d.Data.Counts.Offset(p.x, p.y, ie), total * p.w / norm})
		}
	}
	return out
}

// NPred returns the predicted counts cube: background plus source.
func (d *Dataset) NPred() *maps.Map {
	m := d.Data.Background.Copy()
	for _, v := range d.footprint() {
		m.Data[v.index] += v.counts
	}
	return m
}

// NPredSource returns the predicted source counts inside the safe mask and
// the enabled energy bins.
func (d *Dataset) NPredSource() float64 {
	total := 0.0
	for _, v := range d.footprint() {
		if d.included(v.index) {
			total += v.counts
		}
	}
	return total
}

// Counts returns observed counts inside the safe mask and enabled bins.
func (d *Dataset) Counts() float64 {
	total := 0.0
	for i, n := range d.Data.Counts.Data {
		if d.included(i) {
			total += n
		}
	}
	return total
}

func (d *Dataset) included(i int) bool {
	if !d.Data.MaskSafe[i] {
		return false
	}
	if d.bins == nil {
		return true
	}
	return d.binEnabled(i / d.Data.Geom.NPix())
}

func (d *Dataset) background() float64 {
	if d.ok {
		return d.base
	}
	sum := 0.0
	counts, bkg := d.Data.Counts.Data, d.Data.Background.Data
	for i := range counts {
		if d.included(i) {
			sum += cashTerm(counts[i], bkg[i])
		}
	}
	d.base, d.ok = sum, true
	return sum
}

// Stat returns the Cash statistic 2 Σ (mu - n ln mu) of the current model
// over the safe mask and enabled energy bins.
func (d *Dataset) Stat() float64 {
	sum := d.background()
	counts, bkg := d.Data.Counts.Data, d.Data.Background.Data
	// Merge repeated voxels, keeping footprint order so the sum is
	// reproducible between evaluations.
	var merged []sourceVoxel
	slot := map[int]int{}
	for _, v := range d.footprint() {
		if !d.included(v.index) {
			continue
		}
		if j, ok := slot[v.index]; ok {
			merged[j].counts += v.counts
			continue
		}
		slot[v.index] = len(merged)
		merged = append(merged, v)
	}
	for _, v := range merged {
		i := v.index
		sum += cashTerm(counts[i], bkg[i]+v.counts) - cashTerm(counts[i], bkg[i])
	}
	return 2 * sum
}
