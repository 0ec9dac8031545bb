// File: internal/datastore/datastore.go
// Brief: Indexed, read-only archive of observations.

// Package datastore opens an indexed archive of gamma-ray observations. The
// archive is a directory holding obs-index.fits.gz, a table that maps each
// observation id to its pointing, livetime and data file, plus one FITS
// file per observation with an EVENTS table and an IRF header unit.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/example/gammabench/internal/fits"
	"github.com/example/gammabench/internal/irf"
	"github.com/example/gammabench/internal/maps"
)

// IndexFile is the observation index file name inside a data store.
const IndexFile = "obs-index.fits.gz"

var (
	// ErrStoreNotFound is returned when the directory has no index file.
	ErrStoreNotFound = errors.New("data store index not found")
	// ErrObservationNotFound is returned for ids absent from the index.
	ErrObservationNotFound = errors.New("observation not found in data store")
)

type indexRow struct {
	obsID    int64
	pointing maps.SkyCoord
	livetime float64
	file     string
}

// DataStore resolves observation ids to observation handles.
type DataStore struct {
	dir  string
	rows map[int64]indexRow
	ids  []int64
}

// FromDir opens the data store rooted at dir.
func FromDir(dir string) (*DataStore, error) {
	indexPath := filepath.Join(dir, IndexFile)
	if _, err := os.Stat(indexPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrStoreNotFound, indexPath)
		}
		return nil, err
	}
	hdus, err := fits.ReadFile(indexPath)
	if err != nil {
		return nil, fmt.Errorf("read observation index: %w", err)
	}
	hdu, err := fits.Find(hdus, "OBS_INDEX")
	if err != nil || hdu.Table == nil {
		return nil, fmt.Errorf("%w: %s has no OBS_INDEX table", fits.ErrMalformed, indexPath)
	}
	cols := map[string]*fits.Column{}
	for _, name := range []string{"OBS_ID", "GLON_PNT", "GLAT_PNT", "LIVETIME", "FILE_NAME"} {
		c, err := hdu.Table.Column(name)
		if err != nil {
			return nil, fmt.Errorf("observation index: %w", err)
		}
		cols[name] = c
	}
	store := &DataStore{dir: dir, rows: make(map[int64]indexRow, hdu.Table.Rows())}
	for i := 0; i < hdu.Table.Rows(); i++ {
		row := indexRow{
			obsID:    cols["OBS_ID"].Ints[i],
			pointing: maps.Galactic(cols["GLON_PNT"].Floats[i], cols["GLAT_PNT"].Floats[i]),
			livetime: cols["LIVETIME"].Floats[i],
			file:     cols["FILE_NAME"].Strings[i],
		}
		if _, dup := store.rows[row.obsID]; !dup {
			store.ids = append(store.ids, row.obsID)
		}
		store.rows[row.obsID] = row
	}
	sort.Slice(store.ids, func(i, j int) bool { return store.ids[i] < store.ids[j] })
	return store, nil
}

// Dir returns the store root.
func (s *DataStore) Dir() string { return s.dir }

// ObsIDs returns the indexed observation ids in ascending order.
func (s *DataStore) ObsIDs() []int64 {
	return append([]int64(nil), s.ids...)
}

// GetObservations returns one handle per requested id, in request order.
// Repeated ids yield independent handles onto the same record; event data
// is loaded lazily by each handle.
func (s *DataStore) GetObservations(ctx context.Context, ids []int64) ([]*Observation, error) {
	out := make([]*Observation, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, ok := s.rows[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrObservationNotFound, id)
		}
		path := filepath.Join(s.dir, row.file)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("observation %d: %w", id, err)
		}
		out = append(out, &Observation{
			ObsID:    row.obsID,
			Pointing: row.pointing,
			Livetime: row.livetime,
			path:     path,
		})
	}
	return out, nil
}

// Events is an event list in Galactic coordinates with reconstructed
// energies in TeV.
type Events struct {
	Lon    []float64
	Lat    []float64
	Energy []float64
}

// Len returns the number of events.
func (e *Events) Len() int { return len(e.Energy) }

// Observation is a handle onto one observation record.
type Observation struct {
	ObsID    int64
	Pointing maps.SkyCoord
	Livetime float64

	path   string
	events *Events
	irf    *irf.Params
}

// Load reads the event list and response parameters if not already done.
func (o *Observation) Load() error {
	if o.events != nil {
		return nil
	}
	hdus, err := fits.ReadFile(o.path)
	if err != nil {
		return fmt.Errorf("observation %d: %w", o.ObsID, err)
	}
	evHDU, err := fits.Find(hdus, "EVENTS")
	if err != nil || evHDU.Table == nil {
		return fmt.Errorf("observation %d: %w: no EVENTS table", o.ObsID, fits.ErrMalformed)
	}
	var cols [3]*fits.Column
	for i, name := range []string{"GLON", "GLAT", "ENERGY"} {
		if cols[i], err = evHDU.Table.Column(name); err != nil {
			return fmt.Errorf("observation %d: %w", o.ObsID, err)
		}
	}
	irfHDU, err := fits.Find(hdus, "IRF")
	if err != nil {
		return fmt.Errorf("observation %d: %w", o.ObsID, err)
	}
	params, err := irf.FromHeader(irfHDU.Header)
	if err != nil {
		return fmt.Errorf("observation %d: %w", o.ObsID, err)
	}
	o.events = &Events{Lon: cols[0].Floats, Lat: cols[1].Floats, Energy: cols[2].Floats}
	o.irf = &params
	return nil
}

// Events returns the event list, loading it on first use.
func (o *Observation) Events() (*Events, error) {
	if err := o.Load(); err != nil {
		return nil, err
	}
	return o.events, nil
}

// IRF returns the response parameters, loading them on first use.
func (o *Observation) IRF() (irf.Params, error) {
	if err := o.Load(); err != nil {
		return irf.Params{}, err
	}
	return *o.irf, nil
}
