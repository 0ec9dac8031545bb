// File: internal/cube/io.go
// Brief: Dataset persistence as a (gzip) FITS container.

package cube

import (
	"errors"
	"fmt"

	"github.com/example/gammabench/internal/fits"
	"github.com/example/gammabench/internal/maps"
)

// ErrDatasetRead wraps every failure to load a dataset file.
var ErrDatasetRead = errors.New("read dataset")

// Write serializes d to path, replacing any existing file.
func (d *MapDataset) Write(path string) error {
	primary := fits.NewHeader()
	primary.Set("NAME", d.Name, "dataset name")
	primary.Set("N_OBS", int64(d.NObs), "number of stacked observations")
	primary.Set("LIVETIME", d.Livetime, "s")
	d.Geom.WriteHeader(primary)

	axis := d.Geom.Axis()
	n := axis.NBin()
	channels := make([]int64, n)
	lo := make([]float64, n)
	hi := make([]float64, n)
	for i := 0; i < n; i++ {
		channels[i], lo[i], hi[i] = int64(i), axis.Lo(i), axis.Hi(i)
	}

	mask := maps.NewMap(d.Geom)
	for i, safe := range d.MaskSafe {
		if safe {
			mask.Data[i] = 1
		}
	}

	hdus := []*fits.HDU{
		{Header: primary},
		d.Counts.ToImage("COUNTS", fits.BitpixInt32),
		d.Exposure.ToImage("EXPOSURE", fits.BitpixFloat64),
		d.Background.ToImage("BACKGROUND", fits.BitpixFloat64),
		mask.ToImage("MASK_SAFE", fits.BitpixUint8),
		{Name: "ENERGIES", Table: fits.NewTable(n).
			AddInt32("CHANNEL", channels).
			AddFloat64("E_MIN", "TeV", lo).
			AddFloat64("E_MAX", "TeV", hi)},
	}
	if d.EDisp != nil {
		nt, nr := d.EDisp.ETrue.NBin(), d.EDisp.EReco.NBin()
		im := fits.NewImage(fits.BitpixFloat64, nr, nt)
		copy(im.Data, d.EDisp.Data)
		hdus = append(hdus, &fits.HDU{Name: "EDISP_MATRIX", Image: im})
	}
	if d.PSF != nil {
		size := d.PSF.Size()
		im := fits.NewImage(fits.BitpixFloat64, size, size, len(d.PSF.Sigmas))
		copy(im.Data, d.PSF.Data)
		h := fits.NewHeader()
		h.Set("BINSZ", d.PSF.Binsz, "deg")
		h.Set("MAXRAD", d.PSF.MaxRadius, "deg")
		hdus = append(hdus,
			&fits.HDU{Name: "PSF_KERNEL", Header: h, Image: im},
			&fits.HDU{Name: "PSF_SIGMA", Table: fits.NewTable(len(d.PSF.Sigmas)).
				AddFloat64("SIGMA", "deg", d.PSF.Sigmas)},
		)
	}
	if d.PSFMap != nil {
		hdus = append(hdus, irfMapHDUs("PSF", d.PSFMap)...)
	}
	if d.EDispMap != nil {
		hdus = append(hdus, irfMapHDUs("EDISP", d.EDispMap)...)
	}
	if err := fits.WriteFile(path, hdus); err != nil {
		return fmt.Errorf("write dataset %s: %w", path, err)
	}
	return nil
}

func irfMapHDUs(prefix string, m *IRFMap) []*fits.HDU {
	return []*fits.HDU{
		m.Weight.ToImage(prefix+"_WEIGHT", fits.BitpixFloat64),
		m.Sum.ToImage(prefix+"_SUM", fits.BitpixFloat64),
	}
}

// Read loads a dataset written by Write.
func Read(path string) (*MapDataset, error) {
	d, err := read(path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrDatasetRead, path, err)
	}
	return d, nil
}

func read(path string) (*MapDataset, error) {
	hdus, err := fits.ReadFile(path)
	if err != nil {
		return nil, err
	}
	primary := hdus[0].Header

	energies, err := fits.Find(hdus, "ENERGIES")
	if err != nil || energies.Table == nil {
		return nil, fmt.Errorf("%w: missing ENERGIES table", fits.ErrMalformed)
	}
	loCol, err := energies.Table.Column("E_MIN")
	if err != nil {
		return nil, err
	}
	hiCol, err := energies.Table.Column("E_MAX")
	if err != nil {
		return nil, err
	}
	if len(hiCol.Floats) == 0 {
		return nil, fmt.Errorf("%w: empty ENERGIES table", fits.ErrMalformed)
	}
	edges := append(append([]float64(nil), loCol.Floats...), hiCol.Floats[len(hiCol.Floats)-1])
	axis, err := maps.NewEnergyAxisFromEdges(edges)
	if err != nil {
		return nil, err
	}

	countsHDU, err := fits.Find(hdus, "COUNTS")
	if err != nil || countsHDU.Image == nil || len(countsHDU.Image.Axes) != 3 {
		return nil, fmt.Errorf("%w: missing COUNTS cube", fits.ErrMalformed)
	}
	geom, err := maps.GeomFromHeader(countsHDU.Header, countsHDU.Image.Axes[0], countsHDU.Image.Axes[1], axis)
	if err != nil {
		return nil, err
	}

	d := &MapDataset{Geom: geom}
	if d.Name, err = primary.String("NAME"); err != nil {
		return nil, err
	}
	nobs, err := primary.Int("N_OBS")
	if err != nil {
		return nil, err
	}
	d.NObs = int(nobs)
	if d.Livetime, err = primary.Float("LIVETIME"); err != nil {
		return nil, err
	}

	loadMap := func(name string) (*maps.Map, error) {
		hdu, err := fits.Find(hdus, name)
		if err != nil {
			return nil, err
		}
		return maps.FromImage(hdu, geom)
	}
	if d.Counts, err = loadMap("COUNTS"); err != nil {
		return nil, err
	}
	if d.Exposure, err = loadMap("EXPOSURE"); err != nil {
		return nil, err
	}
	if d.Background, err = loadMap("BACKGROUND"); err != nil {
		return nil, err
	}
	mask, err := loadMap("MASK_SAFE")
	if err != nil {
		return nil, err
	}
	d.MaskSafe = make([]bool, len(mask.Data))
	for i, v := range mask.Data {
		d.MaskSafe[i] = v != 0
	}

	if hdu, err := fits.Find(hdus, "EDISP_MATRIX"); err == nil {
		n := axis.NBin()
		if hdu.Image == nil || len(hdu.Image.Data) != n*n {
			return nil, fmt.Errorf("%w: EDISP_MATRIX shape does not match energy axis", fits.ErrMalformed)
		}
		d.EDisp = &EDispKernel{ETrue: axis, EReco: axis, Data: append([]float64(nil), hdu.Image.Data...)}
	}
	if hdu, err := fits.Find(hdus, "PSF_KERNEL"); err == nil {
		sigmaHDU, err := fits.Find(hdus, "PSF_SIGMA")
		if err != nil || sigmaHDU.Table == nil {
			return nil, fmt.Errorf("%w: PSF_KERNEL without PSF_SIGMA", fits.ErrMalformed)
		}
		sigmas, err := sigmaHDU.Table.Column("SIGMA")
		if err != nil {
			return nil, err
		}
		binsz, err := hdu.Header.Float("BINSZ")
		if err != nil {
			return nil, err
		}
		maxRadius, err := hdu.Header.Float("MAXRAD")
		if err != nil {
			return nil, err
		}
		if hdu.Image == nil || len(hdu.Image.Axes) != 3 || hdu.Image.Axes[0] != hdu.Image.Axes[1] ||
			hdu.Image.Axes[2] != len(sigmas.Floats) {
			return nil, fmt.Errorf("%w: PSF_KERNEL shape", fits.ErrMalformed)
		}
		d.PSF = &PSFKernel{
			Binsz:     binsz,
			MaxRadius: maxRadius,
			Sigmas:    append([]float64(nil), sigmas.Floats...),
			Half:      (hdu.Image.Axes[0] - 1) / 2,
			Data:      append([]float64(nil), hdu.Image.Data...),
		}
	}
	cg := irfGeom(geom)
	for _, pair := range []struct {
		prefix string
		dst    **IRFMap
	}{{"PSF", &d.PSFMap}, {"EDISP", &d.EDispMap}} {
		wHDU, err := fits.Find(hdus, pair.prefix+"_WEIGHT")
		if err != nil {
			continue
		}
		sHDU, err := fits.Find(hdus, pair.prefix+"_SUM")
		if err != nil {
			return nil, err
		}
		w, err := maps.FromImage(wHDU, cg)
		if err != nil {
			return nil, err
		}
		s, err := maps.FromImage(sHDU, cg)
		if err != nil {
			return nil, err
		}
		*pair.dst = &IRFMap{Weight: w, Sum: s}
	}
	return d, nil
}
