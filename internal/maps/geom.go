package maps

import (
	"fmt"
	"math"

	"github.com/example/gammabench/internal/fits"
)

const deg = math.Pi / 180

// SkyCoord is a Galactic position in degrees.
type SkyCoord struct {
	Lon float64
	Lat float64
}

// Galactic returns a Galactic sky coordinate.
func Galactic(lon, lat float64) SkyCoord {
	return SkyCoord{Lon: lon, Lat: lat}
}

// Separation returns the great-circle distance between a and b in degrees.
func Separation(a, b SkyCoord) float64 {
	dlon := (b.Lon - a.Lon) * deg
	lat1, lat2 := a.Lat*deg, b.Lat*deg
	sdlat := math.Sin((lat2 - lat1) / 2)
	sdlon := math.Sin(dlon / 2)
	h := sdlat*sdlat + math.Cos(lat1)*math.Cos(lat2)*sdlon*sdlon
	return 2 * math.Asin(math.Min(1, math.Sqrt(h))) / deg
}

// WrapLon maps a longitude into (-180, 180].
func WrapLon(lon float64) float64 {
	lon = math.Mod(lon, 360)
	if lon > 180 {
		lon -= 360
	}
	if lon <= -180 {
		lon += 360
	}
	return lon
}

// WcsGeom is a plate-carrée (CAR) Galactic pixel grid combined with an
// energy axis. Longitude increases to the left, as on the sky.
type WcsGeom struct {
	center SkyCoord
	binsz  float64
	nx, ny int
	axis   *EnergyAxis
}

// NewWcsGeom creates a geometry centred on skydir, width×height degrees in
// size with square pixels of binsz degrees.
func NewWcsGeom(skydir SkyCoord, binsz, width, height float64, axis *EnergyAxis) (*WcsGeom, error) {
	if binsz <= 0 || width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: binsz=%g width=%g height=%g", ErrInvalidGeometry, binsz, width, height)
	}
	if axis == nil {
		return nil, fmt.Errorf("%w: energy axis is required", ErrInvalidGeometry)
	}
	nx := int(math.Round(width / binsz))
	ny := int(math.Round(height / binsz))
	if nx < 1 || ny < 1 {
		return nil, fmt.Errorf("%w: geometry has no pixels", ErrInvalidGeometry)
	}
	return &WcsGeom{center: skydir, binsz: binsz, nx: nx, ny: ny, axis: axis}, nil
}

// Center returns the reference sky position.
func (g *WcsGeom) Center() SkyCoord { return g.center }

// Binsz returns the pixel size in degrees.
func (g *WcsGeom) Binsz() float64 { return g.binsz }

// Shape returns the spatial dimensions (nx, ny).
func (g *WcsGeom) Shape() (int, int) { return g.nx, g.ny }

// Axis returns the energy axis.
func (g *WcsGeom) Axis() *EnergyAxis { return g.axis }

// NPix returns the number of spatial pixels.
func (g *WcsGeom) NPix() int { return g.nx * g.ny }

// Size returns the number of voxels including the energy axis.
func (g *WcsGeom) Size() int { return g.nx * g.ny * g.axis.NBin() }

// Width returns the angular extent in degrees.
func (g *WcsGeom) Width() (float64, float64) {
	return float64(g.nx) * g.binsz, float64(g.ny) * g.binsz
}

// PixToCoord converts 0-based (fractional) pixel coordinates to a sky
// position.
func (g *WcsGeom) PixToCoord(x, y float64) SkyCoord {
	cx := float64(g.nx-1) / 2
	cy := float64(g.ny-1) / 2
	return SkyCoord{
		Lon: WrapLon(g.center.Lon - (x-cx)*g.binsz),
		Lat: g.center.Lat + (y-cy)*g.binsz,
	}
}

// CoordToPix converts a sky position to fractional 0-based pixels.
func (g *WcsGeom) CoordToPix(c SkyCoord) (float64, float64) {
	cx := float64(g.nx-1) / 2
	cy := float64(g.ny-1) / 2
	dlon := WrapLon(c.Lon - g.center.Lon)
	return cx - dlon/g.binsz, cy + (c.Lat-g.center.Lat)/g.binsz
}

// Index returns the nearest pixel for c and whether it lies on the grid.
func (g *WcsGeom) Index(c SkyCoord) (int, int, bool) {
	fx, fy := g.CoordToPix(c)
	ix, iy := int(math.Round(fx)), int(math.Round(fy))
	if ix < 0 || iy < 0 || ix >= g.nx || iy >= g.ny {
		return ix, iy, false
	}
	return ix, iy, true
}

// SolidAngle returns the solid angle of pixel (ix, iy) in steradians.
func (g *WcsGeom) SolidAngle(ix, iy int) float64 {
	c := g.PixToCoord(float64(ix), float64(iy))
	b := g.binsz * deg
	lat := c.Lat * deg
	return b * (math.Sin(lat+b/2) - math.Sin(lat-b/2))
}

// Downsample returns a coarser geometry covering the same area with pixels
// factor times larger (rounded up).
func (g *WcsGeom) Downsample(factor int) *WcsGeom {
	if factor <= 1 {
		return g
	}
	nx := (g.nx + factor - 1) / factor
	ny := (g.ny + factor - 1) / factor
	return &WcsGeom{center: g.center, binsz: g.binsz * float64(factor), nx: nx, ny: ny, axis: g.axis}
}

// Equal reports whether two geometries describe the same grid.
func (g *WcsGeom) Equal(o *WcsGeom) bool {
	if g == nil || o == nil {
		return false
	}
	return g.nx == o.nx && g.ny == o.ny &&
		math.Abs(g.binsz-o.binsz) < 1e-12 &&
		math.Abs(g.center.Lon-o.center.Lon) < 1e-9 &&
		math.Abs(g.center.Lat-o.center.Lat) < 1e-9 &&
		g.axis.Equal(o.axis, 1e-9)
}

// WriteHeader stores the spatial WCS keywords in h.
func (g *WcsGeom) WriteHeader(h *fits.Header) {
	h.Set("CTYPE1", "GLON-CAR", "")
	h.Set("CTYPE2", "GLAT-CAR", "")
	h.Set("CRPIX1", float64(g.nx+1)/2, "")
	h.Set("CRPIX2", float64(g.ny+1)/2, "")
	h.Set("CRVAL1", g.center.Lon, "deg")
	h.Set("CRVAL2", g.center.Lat, "deg")
	h.Set("CDELT1", -g.binsz, "deg")
	h.Set("CDELT2", g.binsz, "deg")
	h.Set("CUNIT1", "deg", "")
	h.Set("CUNIT2", "deg", "")
}

// GeomFromHeader rebuilds a geometry from WCS keywords, spatial shape and
// an energy axis.
func GeomFromHeader(h *fits.Header, nx, ny int, axis *EnergyAxis) (*WcsGeom, error) {
	ctype, err := h.String("CTYPE1")
	if err != nil {
		return nil, err
	}
	if ctype != "GLON-CAR" {
		return nil, fmt.Errorf("%w: unsupported projection %q", ErrInvalidGeometry, ctype)
	}
	lon, err := h.Float("CRVAL1")
	if err != nil {
		return nil, err
	}
	lat, err := h.Float("CRVAL2")
	if err != nil {
		return nil, err
	}
	cdelt, err := h.Float("CDELT2")
	if err != nil {
		return nil, err
	}
	if cdelt <= 0 || nx < 1 || ny < 1 || axis == nil {
		return nil, fmt.Errorf("%w: bad WCS header", ErrInvalidGeometry)
	}
	return &WcsGeom{center: SkyCoord{Lon: lon, Lat: lat}, binsz: cdelt, nx: nx, ny: ny, axis: axis}, nil
}
