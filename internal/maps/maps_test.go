package maps

import (
	"errors"
	"math"
	"testing"

	"github.com/example/gammabench/internal/fits"
)

func TestLogEnergyAxis(t *testing.T) {
	axis, err := NewLogEnergyAxis(0.1, 10, 10)
	if err != nil {
		t.Fatalf("axis: %v", err)
	}
	if axis.NBin() != 10 {
		t.Fatalf("nbin = %d", axis.NBin())
	}
	edges := axis.Edges()
	if edges[0] != 0.1 || edges[10] != 10 {
		t.Fatalf("unexpected bounds %v", edges)
	}
	if math.Abs(edges[5]-1) > 1e-12 {
		t.Fatalf("middle edge should be 1 TeV, got %v", edges[5])
	}
	for i := 1; i < len(edges); i++ {
		ratio := edges[i] / edges[i-1]
		if math.Abs(ratio-math.Pow(10, 0.2)) > 1e-9 {
			t.Fatalf("bin %d ratio %v is not log-uniform", i, ratio)
		}
	}
	cases := map[float64]int{0.1: 0, 0.15: 0, 1.001: 5, 10: 9, 9.99: 9, 0.05: -1, 11: -1}
	for e, want := range cases {
		if got := axis.Index(e); got != want {
			t.Fatalf("Index(%v) = %d, want %d", e, got, want)
		}
	}
	if got := axis.NearestEdge(0.3); got != 2 {
		t.Fatalf("NearestEdge(0.3) = %d, want 2 (0.251 TeV)", got)
	}
}

func TestEnergyAxisRejectsBadInput(t *testing.T) {
	if _, err := NewLogEnergyAxis(0, 10, 10); !errors.Is(err, ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry, got %v", err)
	}
	if _, err := NewLogEnergyAxis(1, 10, 0); !errors.Is(err, ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry, got %v", err)
	}
	if _, err := NewEnergyAxisFromEdges([]float64{1, 1}); !errors.Is(err, ErrInvalidGeometry) {
		t.Fatalf("expected ErrInvalidGeometry, got %v", err)
	}
}

func TestWcsGeomShapeAndRoundTrip(t *testing.T) {
	axis, _ := NewLogEnergyAxis(0.1, 10, 10)
	g, err := NewWcsGeom(Galactic(0, 0), 0.05, 10, 8, axis)
	if err != nil {
		t.Fatalf("geom: %v", err)
	}
	nx, ny := g.Shape()
	if nx != 200 || ny != 160 {
		t.Fatalf("shape = %dx%d, want 200x160", nx, ny)
	}
	c := Galactic(-1.2, 0.7)
	fx, fy := g.CoordToPix(c)
	back := g.PixToCoord(fx, fy)
	if math.Abs(back.Lon-c.Lon) > 1e-9 || math.Abs(back.Lat-c.Lat) > 1e-9 {
		t.Fatalf("round trip %v -> %v", c, back)
	}
	left := g.PixToCoord(0, 0)
	if left.Lon <= 0 {
		t.Fatalf("pixel 0 should be at positive longitude, got %v", left.Lon)
	}
	if _, _, ok := g.Index(Galactic(6, 0)); ok {
		t.Fatalf("lon=6 should be outside a 10 degree wide map")
	}
	omega := g.SolidAngle(100, 80)
	want := math.Pow(0.05*math.Pi/180, 2)
	if math.Abs(omega-want)/want > 1e-3 {
		t.Fatalf("solid angle %v, want about %v", omega, want)
	}
}

func TestSeparation(t *testing.T) {
	if d := Separation(Galactic(0, 0), Galactic(0, 4)); math.Abs(d-4) > 1e-9 {
		t.Fatalf("separation = %v", d)
	}
	if d := Separation(Galactic(359.5, 0), Galactic(0.5, 0)); math.Abs(d-1) > 1e-9 {
		t.Fatalf("wrapped separation = %v", d)
	}
}

func TestMapImageRoundTrip(t *testing.T) {
	axis, _ := NewLogEnergyAxis(1, 10, 2)
	g, _ := NewWcsGeom(Galactic(0, 0), 0.5, 2, 1.5, axis)
	m := NewMap(g)
	m.Set(3, 2, 1, 7)
	hdu := m.ToImage("COUNTS", fits.BitpixFloat64)

	g2, err := GeomFromHeader(hdu.Header, hdu.Image.Axes[0], hdu.Image.Axes[1], axis)
	if err != nil {
		t.Fatalf("geom from header: %v", err)
	}
	if !g.Equal(g2) {
		t.Fatalf("geometry not preserved")
	}
	back, err := FromImage(hdu, g2)
	if err != nil {
		t.Fatalf("from image: %v", err)
	}
	if back.At(3, 2, 1) != 7 || back.Sum() != 7 {
		t.Fatalf("data not preserved")
	}
	small, _ := NewWcsGeom(Galactic(0, 0), 0.5, 1, 1, axis)
	if _, err := FromImage(hdu, small); !errors.Is(err, fits.ErrMalformed) {
		t.Fatalf("expected shape mismatch error, got %v", err)
	}
}
