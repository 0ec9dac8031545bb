// File: internal/cube/maker.go
// Brief: Per-observation dataset reduction and safe-mask makers.

package cube

import (
	"fmt"

	"github.com/example/gammabench/internal/datastore"
	"github.com/example/gammabench/internal/maps"
)

// MapDatasetMaker bins one observation onto a geometry.
type MapDatasetMaker struct {
	// OffsetMax drops data further than this many degrees from the
	// pointing position. Zero disables the cut.
	OffsetMax float64
}

// Run reduces obs onto geom. The returned dataset has every voxel inside
// the offset cut marked safe; use SafeMaskMaker to restrict it further.
func (m MapDatasetMaker) Run(geom *maps.WcsGeom, obs *datastore.Observation) (*MapDataset, error) {
	events, err := obs.Events()
	if err != nil {
		return nil, err
	}
	params, err := obs.IRF()
	if err != nil {
		return nil, err
	}
	ds := Create(fmt.Sprintf("obs_%d", obs.ObsID), geom)
	ds.NObs = 1
	ds.Livetime = obs.Livetime

	axis := geom.Axis()
	nx, ny := geom.Shape()
	nbin := axis.NBin()
	offsets := pixelOffsets(geom, obs.Pointing)
	within := func(offset float64) bool {
		return m.OffsetMax <= 0 || offset <= m.OffsetMax
	}

	for iy := 0; iy < ny; iy++ {
		for ix := 0; ix < nx; ix++ {
			offset := offsets[iy*nx+ix]
			if !within(offset) {
				continue
			}
			omega := geom.SolidAngle(ix, iy)
			for ie := 0; ie < nbin; ie++ {
				i := ds.Counts.Offset(ix, iy, ie)
				ds.Exposure.Data[i] = params.EffectiveArea(axis.Center(ie), offset) * obs.Livetime
				ds.Background.Data[i] = params.BackgroundIntegral(axis.Lo(ie), axis.Hi(ie), offset) * obs.Livetime * omega
				ds.MaskSafe[i] = true
			}
		}
	}

	for k := 0; k < events.Len(); k++ {
		ie := axis.Index(events.Energy[k])
		if ie < 0 {
			continue
		}
		ix, iy, ok := geom.Index(maps.Galactic(events.Lon[k], events.Lat[k]))
		if !ok || !within(offsets[iy*nx+ix]) {
			continue
		}
		ds.Counts.Add(ix, iy, ie, 1)
	}

	cg := ds.PSFMap.Weight.Geom
	cnx, cny := cg.Shape()
	for iy := 0; iy < cny; iy++ {
		for ix := 0; ix < cnx; ix++ {
			offset := maps.Separation(cg.PixToCoord(float64(ix), float64(iy)), obs.Pointing)
			if !within(offset) {
				continue
			}
			for ie := 0; ie < nbin; ie++ {
				e := axis.Center(ie)
				w := params.EffectiveArea(e, offset) * obs.Livetime
				ds.PSFMap.Fill(ix, iy, ie, params.PSFSigma(e, offset), w)
				ds.EDispMap.Fill(ix, iy, ie, params.EDispSigma, w)
			}
		}
	}
	return ds, nil
}

func pixelOffsets(geom *maps.WcsGeom, pointing maps.SkyCoord) []float64 {
	nx, ny := geom.Shape()
	out := make([]float64, nx*ny)
	for iy := 0; iy < ny; iy++ {
		for ix := 0; ix < nx; ix++ {
			out[iy*nx+ix] = maps.Separation(geom.PixToCoord(float64(ix), float64(iy)), pointing)
		}
	}
	return out
}

// SafeMaskMaker restricts a dataset's safe mask.
type SafeMaskMaker struct {
	Methods   []string
	OffsetMax float64
}

// MethodOffsetMax masks pixels beyond OffsetMax from the pointing.
const MethodOffsetMax = "offset-max"

// Run applies the configured methods to ds in place and returns it.
func (m SafeMaskMaker) Run(ds *MapDataset, obs *datastore.Observation) (*MapDataset, error) {
	for _, method := range m.Methods {
		switch method {
		case MethodOffsetMax:
			if m.OffsetMax <= 0 {
				return nil, fmt.Errorf("safe mask %s requires a positive offset", method)
			}
			nx, ny := ds.Geom.Shape()
			offsets := pixelOffsets(ds.Geom, obs.Pointing)
			nbin := ds.Geom.Axis().NBin()
			for iy := 0; iy < ny; iy++ {
				for ix := 0; ix < nx; ix++ {
					if offsets[iy*nx+ix] <= m.OffsetMax {
						continue
					}
					for ie := 0; ie < nbin; ie++ {
						ds.MaskSafe[ds.Counts.Offset(ix, iy, ie)] = false
					}
				}
			}
		default:
			return nil, fmt.Errorf("unsupported safe mask method %q", method)
		}
	}
	return ds, nil
}
