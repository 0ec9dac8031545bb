// File: internal/fits/codec.go
// Brief: FITS stream encoding/decoding through fitsio and gzip-wrapped file helpers.

package fits

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/astrogo/fitsio"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Encode writes hdus as a FITS stream. The first HDU becomes the primary
// HDU and must not be a table; pass a header-only HDU when the first data
// unit is tabular.
func Encode(w io.Writer, hdus []*HDU) error {
	if len(hdus) == 0 {
		return errors.New("fits: no HDUs to encode")
	}
	if hdus[0].Table != nil {
		return errors.New("fits: primary HDU cannot hold a table")
	}
	bw := bufio.NewWriter(w)
	f, err := fitsio.Create(bw)
	if err != nil {
		return errors.Wrap(err, "create FITS stream")
	}
	for i, hdu := range hdus {
		if err := encodeHDU(f, hdu, i == 0); err != nil {
			f.Close()
			return errors.Wrapf(err, "encode HDU %d (%s)", i, hdu.Name)
		}
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "close FITS stream")
	}
	return bw.Flush()
}

func encodeHDU(f *fitsio.File, hdu *HDU, primary bool) error {
	cards, err := hdu.Header.fitsioCards()
	if err != nil {
		return err
	}
	if hdu.Table != nil {
		return encodeTable(f, hdu.Name, hdu.Table, cards)
	}
	im := hdu.Image
	if im == nil {
		im = &Image{Bitpix: BitpixUint8}
	}
	if err := im.validate(); err != nil {
		return err
	}
	if hdu.Name != "" {
		cards = append(cards, fitsio.Card{Name: "EXTNAME", Value: hdu.Name})
	}
	if primary {
		phdu, err := fitsio.NewPrimaryHDU(fitsio.NewHeader(cards, fitsio.IMAGE_HDU, im.Bitpix, im.Axes))
		if err != nil {
			return err
		}
		defer phdu.Close()
		if im.Len() > 0 {
			if err := phdu.Write(typedData(im)); err != nil {
				return err
			}
		}
		return f.Write(phdu)
	}
	img := fitsio.NewImage(im.Bitpix, im.Axes)
	defer img.Close()
	if err := img.Header().Append(cards...); err != nil {
		return err
	}
	if im.Len() > 0 {
		if err := img.Write(typedData(im)); err != nil {
			return err
		}
	}
	return f.Write(img)
}

// typedData converts the float64 pixels to the Go type fitsio expects for
// the image BITPIX.
func typedData(im *Image) any {
	switch im.Bitpix {
	case BitpixUint8:
		out := make([]byte, len(im.Data))
		for i, v := range im.Data {
			out[i] = byte(math.Round(v))
		}
		return out
	case BitpixInt16:
		out := make([]int16, len(im.Data))
		for i, v := range im.Data {
			out[i] = int16(math.Round(v))
		}
		return out
	case BitpixInt32:
		out := make([]int32, len(im.Data))
		for i, v := range im.Data {
			out[i] = int32(math.Round(v))
		}
		return out
	case BitpixInt64:
		out := make([]int64, len(im.Data))
		for i, v := range im.Data {
			out[i] = int64(math.Round(v))
		}
		return out
	case BitpixFloat32:
		out := make([]float32, len(im.Data))
		for i, v := range im.Data {
			out[i] = float32(v)
		}
		return out
	default:
		return append([]float64(nil), im.Data...)
	}
}

func encodeTable(f *fitsio.File, name string, t *Table, cards []fitsio.Card) error {
	cols := make([]fitsio.Column, len(t.Columns))
	for i, c := range t.Columns {
		if err := c.validate(t.rows); err != nil {
			return err
		}
		cols[i] = fitsio.Column{Name: c.Name, Format: c.format(), Unit: c.Unit}
	}
	tbl, err := fitsio.NewTable(name, cols, fitsio.BINARY_TBL)
	if err != nil {
		return err
	}
	defer tbl.Close()
	if err := tbl.Header().Append(cards...); err != nil {
		return err
	}
	row := make([]any, len(t.Columns))
	for r := 0; r < t.rows; r++ {
		for i, c := range t.Columns {
			switch c.Kind {
			case KindFloat64:
				v := c.Floats[r]
				row[i] = &v
			case KindInt64:
				v := c.Ints[r]
				row[i] = &v
			case KindInt32:
				v := int32(c.Ints[r])
				row[i] = &v
			default:
				v := c.Strings[r]
				row[i] = &v
			}
		}
		if err := tbl.Write(row...); err != nil {
			return errors.Wrapf(err, "row %d", r)
		}
	}
	return f.Write(tbl)
}

// Decode reads every HDU of a FITS stream. The stream layout is checked
// before any HDU is handed to fitsio, so header values that would size
// buffers beyond the data actually present fail with ErrMalformed.
func Decode(r io.Reader) (hdus []*HDU, err error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if err := checkLayout(raw); err != nil {
		return nil, err
	}
	defer func() {
		if p := recover(); p != nil {
			hdus, err = nil, fmt.Errorf("%w: %v", ErrMalformed, p)
		}
	}()
	f, err := fitsio.Open(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer f.Close()
	for i, h := range f.HDUs() {
		hdu, err := decodeHDU(h)
		if err != nil {
			return nil, errors.Wrapf(err, "decode HDU %d", i)
		}
		hdus = append(hdus, hdu)
	}
	if len(hdus) == 0 {
		return nil, fmt.Errorf("%w: no HDUs", ErrMalformed)
	}
	return hdus, nil
}

func decodeHDU(h fitsio.HDU) (*HDU, error) {
	hdr := h.Header()
	hdu := &HDU{Name: strings.TrimSpace(h.Name()), Header: headerFrom(hdr)}
	switch h.Type() {
	case fitsio.IMAGE_HDU:
		axes := hdr.Axes()
		if len(axes) == 0 {
			return hdu, nil
		}
		img, ok := h.(fitsio.Image)
		if !ok {
			return nil, fmt.Errorf("%w: image HDU %s has no data", ErrMalformed, hdu.Name)
		}
		im := &Image{Bitpix: hdr.Bitpix(), Axes: append([]int(nil), axes...)}
		data, err := readPixels(img, im.Bitpix, im.Len())
		if err != nil {
			return nil, err
		}
		im.Data = data
		hdu.Image = im
	case fitsio.BINARY_TBL:
		tbl, ok := h.(*fitsio.Table)
		if !ok {
			return nil, fmt.Errorf("%w: table HDU %s", ErrMalformed, hdu.Name)
		}
		t, err := decodeTable(tbl)
		if err != nil {
			return nil, err
		}
		hdu.Table = t
	default:
		return nil, fmt.Errorf("%w: unsupported HDU type %v", ErrMalformed, h.Type())
	}
	return hdu, nil
}

func readPixels(img fitsio.Image, bitpix, n int) ([]float64, error) {
	out := make([]float64, n)
	var err error
	switch bitpix {
	case BitpixUint8:
		v := make([]byte, n)
		if err = img.Read(&v); err == nil {
			for i := range v {
				out[i] = float64(v[i])
			}
		}
	case BitpixInt16:
		v := make([]int16, n)
		if err = img.Read(&v); err == nil {
			for i := range v {
				out[i] = float64(v[i])
			}
		}
	case BitpixInt32:
		v := make([]int32, n)
		if err = img.Read(&v); err == nil {
			for i := range v {
				out[i] = float64(v[i])
			}
		}
	case BitpixInt64:
		v := make([]int64, n)
		if err = img.Read(&v); err == nil {
			for i := range v {
				out[i] = float64(v[i])
			}
		}
	case BitpixFloat32:
		v := make([]float32, n)
		if err = img.Read(&v); err == nil {
			for i := range v {
				out[i] = float64(v[i])
			}
		}
	case BitpixFloat64:
		err = img.Read(&out)
	default:
		return nil, fmt.Errorf("%w: unsupported BITPIX %d", ErrMalformed, bitpix)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read pixels: %v", ErrMalformed, err)
	}
	if len(out) != n {
		return nil, fmt.Errorf("%w: %d pixels, want %d", ErrMalformed, len(out), n)
	}
	return out, nil
}

func decodeTable(tbl *fitsio.Table) (*Table, error) {
	nrows := tbl.NumRows()
	t := &Table{rows: int(nrows)}
	dst := make([]any, len(tbl.Cols()))
	for i, fc := range tbl.Cols() {
		kind, width, err := columnKind(fc.Format)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", fc.Name, err)
		}
		c := &Column{Name: strings.TrimSpace(fc.Name), Unit: strings.TrimSpace(fc.Unit), Kind: kind}
		switch kind {
		case KindFloat64:
			c.Floats = make([]float64, 0, nrows)
			dst[i] = new(float64)
		case KindInt64:
			c.Ints = make([]int64, 0, nrows)
			dst[i] = new(int64)
		case KindInt32:
			c.Ints = make([]int64, 0, nrows)
			dst[i] = new(int32)
		case KindString:
			c.Width = width
			c.Strings = make([]string, 0, nrows)
			dst[i] = new(string)
		}
		t.Columns = append(t.Columns, c)
	}
	rows, err := tbl.Read(0, nrows)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := rows.Scan(dst...); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		for i, c := range t.Columns {
			switch v := dst[i].(type) {
			case *float64:
				c.Floats = append(c.Floats, *v)
			case *int64:
				c.Ints = append(c.Ints, *v)
			case *int32:
				c.Ints = append(c.Ints, int64(*v))
			case *string:
				c.Strings = append(c.Strings, strings.TrimRight(*v, " \x00"))
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return t, nil
}

// WriteFile encodes hdus to path, truncating any existing file. Paths
// ending in .gz are gzip-compressed.
func WriteFile(path string, hdus []*HDU) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create output directory")
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	var w io.Writer = f
	var zw *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		zw = gzip.NewWriter(f)
		w = zw
	}
	if err := Encode(w, hdus); err != nil {
		f.Close()
		return err
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			f.Close()
			return errors.Wrap(err, "finish gzip stream")
		}
	}
	return f.Close()
}

// ReadFile decodes all HDUs from path. Gzip input is detected by its magic
// bytes rather than by extension.
func ReadFile(path string) ([]*HDU, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	br := bufio.NewReader(f)
	magic, err := br.Peek(2)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	var r io.Reader = br
	if magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
		}
		defer zr.Close()
		r = zr
	}
	hdus, err := Decode(r)
	if err != nil {
		if !errors.Is(err, ErrMalformed) {
			err = fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return hdus, nil
}

// Find returns the HDU with the given EXTNAME.
func Find(hdus []*HDU, name string) (*HDU, error) {
	for _, h := range hdus {
		if strings.EqualFold(h.Name, name) {
			return h, nil
		}
	}
	return nil, fmt.Errorf("%w: no HDU named %s", ErrMalformed, name)
}
