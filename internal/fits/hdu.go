// File: internal/fits/hdu.go
// Brief: Image and binary table HDU types.

package fits

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed is returned for any stream that does not decode as FITS.
var ErrMalformed = errors.New("malformed FITS data")

// Supported BITPIX values for images.
const (
	BitpixUint8   = 8
	BitpixInt16   = 16
	BitpixInt32   = 32
	BitpixInt64   = 64
	BitpixFloat32 = -32
	BitpixFloat64 = -64
)

// HDU is one header/data unit. At most one of Image or Table is set; an
// HDU with neither carries a header only.
type HDU struct {
	Name   string
	Header *Header
	Image  *Image
	Table  *Table
}

// Image holds an N-dimensional array. Axes[0] varies fastest, matching
// NAXIS1. Data is always held as float64 and converted on write.
type Image struct {
	Bitpix int
	Axes   []int
	Data   []float64
}

// NewImage allocates a zeroed image.
func NewImage(bitpix int, axes ...int) *Image {
	im := &Image{Bitpix: bitpix, Axes: append([]int(nil), axes...)}
	im.Data = make([]float64, im.Len())
	return im
}

// Len returns the number of elements implied by Axes.
func (im *Image) Len() int {
	if im == nil || len(im.Axes) == 0 {
		return 0
	}
	n := 1
	for _, a := range im.Axes {
		n *= a
	}
	return n
}

func (im *Image) validate() error {
	switch im.Bitpix {
	case BitpixUint8, BitpixInt16, BitpixInt32, BitpixInt64, BitpixFloat32, BitpixFloat64:
	default:
		return fmt.Errorf("unsupported BITPIX %d", im.Bitpix)
	}
	for _, a := range im.Axes {
		if a < 0 {
			return fmt.Errorf("negative image axis in %v", im.Axes)
		}
	}
	if len(im.Data) != im.Len() {
		return fmt.Errorf("image data length %d does not match axes %v", len(im.Data), im.Axes)
	}
	return nil
}

// ColumnKind is the element type of a table column.
type ColumnKind int

const (
	KindFloat64 ColumnKind = iota
	KindInt64
	KindInt32
	KindString
)

// Column is one scalar BINTABLE column; string columns have a fixed Width.
type Column struct {
	Name    string
	Unit    string
	Kind    ColumnKind
	Width   int
	Floats  []float64
	Ints    []int64
	Strings []string
}

// Table is a binary table.
type Table struct {
	Columns []*Column
	rows    int
}

// NewTable creates a table with the given number of rows.
func NewTable(rows int) *Table {
	return &Table{rows: rows}
}

// Rows returns the number of rows.
func (t *Table) Rows() int {
	return t.rows
}

// AddFloat64 appends a float column.
func (t *Table) AddFloat64(name, unit string, values []float64) *Table {
	t.Columns = append(t.Columns, &Column{Name: name, Unit: unit, Kind: KindFloat64, Floats: values})
	return t
}

// AddInt64 appends an int64 column.
func (t *Table) AddInt64(name string, values []int64) *Table {
	t.Columns = append(t.Columns, &Column{Name: name, Kind: KindInt64, Ints: values})
	return t
}

// AddInt32 appends an int32 column; values are held as int64.
func (t *Table) AddInt32(name string, values []int64) *Table {
	t.Columns = append(t.Columns, &Column{Name: name, Kind: KindInt32, Ints: values})
	return t
}

// AddString appends a fixed-width string column.
func (t *Table) AddString(name string, width int, values []string) *Table {
	t.Columns = append(t.Columns, &Column{Name: name, Kind: KindString, Width: width, Strings: values})
	return t
}

// Column returns the column with the given (case-insensitive) name.
func (t *Table) Column(name string) (*Column, error) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: table has no column %q", ErrMalformed, name)
}

func (c *Column) format() string {
	switch c.Kind {
	case KindFloat64:
		return "D"
	case KindInt64:
		return "K"
	case KindInt32:
		return "J"
	default:
		return strconv.Itoa(c.Width) + "A"
	}
}

func (c *Column) validate(rows int) error {
	n := len(c.Ints)
	switch c.Kind {
	case KindFloat64:
		n = len(c.Floats)
	case KindString:
		if c.Width < 1 {
			return fmt.Errorf("column %s: string width %d", c.Name, c.Width)
		}
		for _, s := range c.Strings {
			if len(s) > c.Width {
				return fmt.Errorf("column %s: value %q wider than %d", c.Name, s, c.Width)
			}
		}
		n = len(c.Strings)
	}
	if n != rows {
		return fmt.Errorf("column %s: %d values for %d rows", c.Name, n, rows)
	}
	return nil
}

// columnKind maps a TFORM to the scalar kinds this package reads.
func columnKind(tform string) (ColumnKind, int, error) {
	tform = strings.ToUpper(strings.TrimSpace(tform))
	i := 0
	for i < len(tform) && tform[i] >= '0' && tform[i] <= '9' {
		i++
	}
	repeat := 1
	if i > 0 {
		r, err := strconv.Atoi(tform[:i])
		if err != nil {
			return 0, 0, fmt.Errorf("%w: TFORM %q", ErrMalformed, tform)
		}
		repeat = r
	}
	if i >= len(tform) {
		return 0, 0, fmt.Errorf("%w: TFORM %q has no type code", ErrMalformed, tform)
	}
	code := tform[i]
	if code == 'A' {
		return KindString, repeat, nil
	}
	if repeat != 1 {
		return 0, 0, fmt.Errorf("%w: vector column TFORM %q is not supported", ErrMalformed, tform)
	}
	switch code {
	case 'D':
		return KindFloat64, 1, nil
	case 'K':
		return KindInt64, 1, nil
	case 'J':
		return KindInt32, 1, nil
	}
	return 0, 0, fmt.Errorf("%w: unsupported TFORM %q", ErrMalformed, tform)
}
