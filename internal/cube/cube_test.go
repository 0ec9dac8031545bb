package cube

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/gammabench/internal/datastore"
	"github.com/example/gammabench/internal/fits"
	"github.com/example/gammabench/internal/maps"
)

func testStore(t *testing.T) *datastore.DataStore {
	t.Helper()
	dir := t.TempDir()
	cfg := datastore.DefaultSimConfig()
	cfg.Livetime = 120
	cfg.Radius = 3
	if err := datastore.WriteSynthetic(context.Background(), dir, cfg); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	store, err := datastore.FromDir(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func testGeom(t *testing.T) *maps.WcsGeom {
	t.Helper()
	axis, err := maps.NewLogEnergyAxis(0.1, 10, 4)
	if err != nil {
		t.Fatalf("axis: %v", err)
	}
	g, err := maps.NewWcsGeom(maps.Galactic(0, 0), 0.1, 4, 3, axis)
	if err != nil {
		t.Fatalf("geom: %v", err)
	}
	return g
}

func stackN(t *testing.T, store *datastore.DataStore, g *maps.WcsGeom, n int, offsetMax float64) *MapDataset {
	t.Helper()
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = 110380
	}
	obs, err := store.GetObservations(context.Background(), ids)
	if err != nil {
		t.Fatalf("observations: %v", err)
	}
	stacked := Create("stacked", g)
	maker := MapDatasetMaker{OffsetMax: offsetMax}
	safe := SafeMaskMaker{Methods: []string{MethodOffsetMax}, OffsetMax: offsetMax}
	for _, o := range obs {
		ds, err := maker.Run(g, o)
		if err != nil {
			t.Fatalf("maker: %v", err)
		}
		if ds, err = safe.Run(ds, o); err != nil {
			t.Fatalf("safe mask: %v", err)
		}
		if err := stacked.Stack(ds); err != nil {
			t.Fatalf("stack: %v", err)
		}
	}
	return stacked
}

func TestStackCountsObservations(t *testing.T) {
	store := testStore(t)
	g := testGeom(t)
	one := stackN(t, store, g, 1, 4)
	three := stackN(t, store, g, 3, 4)
	if three.ObservationCount() != 3 || one.ObservationCount() != 1 {
		t.Fatalf("observation counts %d/%d", one.ObservationCount(), three.ObservationCount())
	}
	if one.MaskedCounts() == 0 {
		t.Fatalf("expected counts in the stacked dataset")
	}
	if got, want := three.MaskedCounts(), 3*one.MaskedCounts(); got != want {
		t.Fatalf("stacking identical observations: counts %v, want %v", got, want)
	}
	if math.Abs(three.Exposure.Sum()-3*one.Exposure.Sum()) > 1e-6*three.Exposure.Sum() {
		t.Fatalf("exposure did not scale with the number of observations")
	}
	if three.Livetime != 3*one.Livetime {
		t.Fatalf("livetime %v, want %v", three.Livetime, 3*one.Livetime)
	}
}

func TestSafeMaskExcludesLargeOffsets(t *testing.T) {
	store := testStore(t)
	g := testGeom(t)
	ds := stackN(t, store, g, 1, 0.5)
	nx, ny := g.Shape()
	for iy := 0; iy < ny; iy++ {
		for ix := 0; ix < nx; ix++ {
			off := maps.Separation(g.PixToCoord(float64(ix), float64(iy)), maps.Galactic(0, -1))
			i := ds.Counts.Offset(ix, iy, 0)
			if off > 0.5 && ds.MaskSafe[i] {
				t.Fatalf("pixel (%d,%d) at offset %.2f should be masked", ix, iy, off)
			}
			if off > 0.5 && (ds.Exposure.Data[i] != 0 || ds.Counts.Data[i] != 0) {
				t.Fatalf("masked pixel (%d,%d) carries data", ix, iy)
			}
		}
	}
	if _, err := (SafeMaskMaker{Methods: []string{"aeff-max"}}).Run(ds, nil); err == nil {
		t.Fatalf("expected unsupported method error")
	}
}

func TestFinalizeAttachesKernels(t *testing.T) {
	store := testStore(t)
	g := testGeom(t)
	ds := stackN(t, store, g, 2, 4)
	if err := ds.Finalize(maps.Galactic(0, 0), 0.3); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !ds.Finalized() || ds.PSFMap != nil || ds.EDispMap != nil {
		t.Fatalf("finalize should swap maps for kernels")
	}
	n := g.Axis().NBin()
	for i := 0; i < n; i++ {
		row := ds.EDisp.Data[i*n : (i+1)*n]
		sum := 0.0
		for _, p := range row {
			sum += p
		}
		if sum > 1+1e-9 || sum < 0.5 {
			t.Fatalf("edisp row %d sums to %v", i, sum)
		}
	}
	if ds.PSF.Half != 3 {
		t.Fatalf("0.3 deg kernel on 0.1 deg pixels should have half width 3, got %d", ds.PSF.Half)
	}
	for ie := 0; ie < n; ie++ {
		sum := 0.0
		for _, v := range ds.PSF.Plane(ie) {
			sum += v
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Fatalf("psf kernel %d sums to %v", ie, sum)
		}
	}
	if ds.PSF.Sigmas[n-1] >= ds.PSF.Sigmas[0] {
		t.Fatalf("psf should narrow with energy: %v", ds.PSF.Sigmas)
	}
	if err := ds.Stack(Create("x", g)); err == nil {
		t.Fatalf("expected error stacking into a finalized dataset")
	}
}

func TestStackRejectsOtherGeometry(t *testing.T) {
	g := testGeom(t)
	other, _ := maps.NewWcsGeom(maps.Galactic(0, 0), 0.2, 4, 3, g.Axis())
	if err := Create("a", g).Stack(Create("b", other)); !errors.Is(err, ErrGeometryMismatch) {
		t.Fatalf("expected ErrGeometryMismatch, got %v", err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	store := testStore(t)
	g := testGeom(t)
	ds := stackN(t, store, g, 2, 4)
	path := filepath.Join(t.TempDir(), "stacked_3d.fits.gz")

	unfinalized := filepath.Join(t.TempDir(), "maps.fits.gz")
	if err := ds.Write(unfinalized); err != nil {
		t.Fatalf("write unfinalized: %v", err)
	}
	partial, err := Read(unfinalized)
	if err != nil {
		t.Fatalf("read unfinalized: %v", err)
	}
	if partial.PSFMap == nil || partial.EDispMap == nil || partial.Finalized() {
		t.Fatalf("response maps should survive a round trip")
	}

	if err := ds.Finalize(maps.Galactic(0, 0), 0.3); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if err := ds.Write(path); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ds.Write(path); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	back, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !back.Geom.Equal(ds.Geom) {
		t.Fatalf("geometry changed on round trip")
	}
	if !back.Geom.Axis().Equal(ds.Geom.Axis(), 1e-12) {
		t.Fatalf("energy axis changed on round trip")
	}
	if back.NObs != 2 || back.Livetime != ds.Livetime || back.Name != ds.Name {
		t.Fatalf("metadata changed: %+v", back)
	}
	for i := range ds.Counts.Data {
		if back.Counts.Data[i] != ds.Counts.Data[i] || back.MaskSafe[i] != ds.MaskSafe[i] {
			t.Fatalf("voxel %d changed on round trip", i)
		}
		if back.Exposure.Data[i] != ds.Exposure.Data[i] {
			t.Fatalf("exposure voxel %d changed", i)
		}
	}
	if !back.Finalized() || back.PSF.Half != ds.PSF.Half || back.EDisp.Data[0] != ds.EDisp.Data[0] {
		t.Fatalf("kernels not preserved")
	}
}

func TestReadFailures(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "absent.fits.gz"))
	if !errors.Is(err, ErrDatasetRead) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrDatasetRead wrapping not-exist, got %v", err)
	}
	bad := filepath.Join(t.TempDir(), "bad.fits.gz")
	if err := os.WriteFile(bad, []byte("SIMPLE"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Read(bad); !errors.Is(err, ErrDatasetRead) {
		t.Fatalf("expected ErrDatasetRead, got %v", err)
	}

	primary := headerBlock("SIMPLE", "T", "BITPIX", "8", "NAXIS", "0")
	table := func(bitpix, tfields string) []byte {
		return headerBlock("XTENSION", "'BINTABLE'", "BITPIX", bitpix, "NAXIS", "2", "NAXIS1", "8",
			"NAXIS2", "1", "PCOUNT", "0", "GCOUNT", "1", "TFIELDS", tfields)
	}
	for name, raw := range map[string][]byte{
		"negnaxis.fits":   headerBlock("SIMPLE", "T", "BITPIX", "-64", "NAXIS", "-1"),
		"bitpix0.fits":    append(append([]byte(nil), primary...), table("0", "1")...),
		"negtfields.fits": append(append([]byte(nil), primary...), table("8", "-4")...),
	} {
		path := filepath.Join(t.TempDir(), name)
		if err := os.WriteFile(path, raw, 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		_, err := Read(path)
		if !errors.Is(err, ErrDatasetRead) || !errors.Is(err, fits.ErrMalformed) {
			t.Fatalf("%s: expected ErrDatasetRead wrapping ErrMalformed, got %v", name, err)
		}
	}
}

// headerBlock renders key/value pairs as one 2880-byte FITS header block.
func headerBlock(kv ...string) []byte {
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, "%-8s= %20s%50s", kv[i], kv[i+1], "")
	}
	fmt.Fprintf(&b, "%-80s", "END")
	for b.Len()%2880 != 0 {
		b.WriteByte(' ')
	}
	return []byte(b.String())
}
