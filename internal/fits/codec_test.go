package fits

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEncodeDecodeImageAndTable(t *testing.T) {
	primary := &HDU{Header: NewHeader()}
	primary.Header.Set("N_OBS", int64(3), "stacked observations")
	primary.Header.Set("OBJECT", "gc", "")
	primary.Header.Set("LIVETIME", 1800.5, "s")
	primary.Header.Set("STACKED", true, "")

	im := NewImage(BitpixFloat64, 4, 3, 2)
	for i := range im.Data {
		im.Data[i] = float64(i) * 0.5
	}
	mask := NewImage(BitpixUint8, 4, 3)
	mask.Data[5] = 1

	table := NewTable(2).
		AddInt64("OBS_ID", []int64{110380, 110381}).
		AddFloat64("LIVETIME", "s", []float64{1764, 1800}).
		AddInt32("CHANNEL", []int64{0, 1}).
		AddString("FILE_NAME", 24, []string{"obs_110380.fits.gz", "it's"})

	var buf bytes.Buffer
	err := Encode(&buf, []*HDU{
		primary,
		{Name: "COUNTS", Image: im},
		{Name: "MASK", Image: mask},
		{Name: "OBS_INDEX", Table: table},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if buf.Len()%blockSize != 0 {
		t.Fatalf("stream length %d is not a multiple of %d", buf.Len(), blockSize)
	}

	hdus, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(hdus) != 4 {
		t.Fatalf("expected 4 HDUs, got %d", len(hdus))
	}
	if n, err := hdus[0].Header.Int("N_OBS"); err != nil || n != 3 {
		t.Fatalf("N_OBS = %d, %v", n, err)
	}
	if v, err := hdus[0].Header.Float("LIVETIME"); err != nil || v != 1800.5 {
		t.Fatalf("LIVETIME = %v, %v", v, err)
	}
	if v, ok := hdus[0].Header.Get("STACKED"); !ok || v != true {
		t.Fatalf("STACKED = %v", v)
	}

	counts, err := Find(hdus, "counts")
	if err != nil {
		t.Fatalf("find counts: %v", err)
	}
	if got := counts.Image.Axes; len(got) != 3 || got[0] != 4 || got[1] != 3 || got[2] != 2 {
		t.Fatalf("unexpected axes %v", got)
	}
	for i, v := range counts.Image.Data {
		if v != float64(i)*0.5 {
			t.Fatalf("pixel %d = %v", i, v)
		}
	}
	maskHDU, _ := Find(hdus, "MASK")
	if maskHDU.Image.Data[5] != 1 || maskHDU.Image.Data[4] != 0 {
		t.Fatalf("mask not preserved: %v", maskHDU.Image.Data)
	}

	idx, err := Find(hdus, "OBS_INDEX")
	if err != nil || idx.Table == nil {
		t.Fatalf("obs index missing: %v", err)
	}
	ids, _ := idx.Table.Column("OBS_ID")
	if ids.Ints[1] != 110381 {
		t.Fatalf("OBS_ID = %v", ids.Ints)
	}
	live, _ := idx.Table.Column("LIVETIME")
	if live.Floats[1] != 1800 || live.Unit != "s" {
		t.Fatalf("LIVETIME = %+v", live)
	}
	channels, _ := idx.Table.Column("CHANNEL")
	if channels.Kind != KindInt32 || channels.Ints[1] != 1 {
		t.Fatalf("CHANNEL = %+v", channels)
	}
	names, _ := idx.Table.Column("FILE_NAME")
	if names.Strings[0] != "obs_110380.fits.gz" || names.Strings[1] != "it's" {
		t.Fatalf("FILE_NAME = %q", names.Strings)
	}
}

func TestWriteFileGzipOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data.fits.gz")
	write := func(v float64) {
		im := NewImage(BitpixFloat32, 2)
		im.Data[0], im.Data[1] = v, v
		if err := WriteFile(path, []*HDU{{Image: im}}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write(1)
	write(2)

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read raw: %v", err)
	}
	if raw[0] != 0x1f || raw[1] != 0x8b {
		t.Fatalf("expected gzip magic, got % x", raw[:2])
	}
	hdus, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if hdus[0].Image.Data[0] != 2 {
		t.Fatalf("expected overwritten value 2, got %v", hdus[0].Image.Data[0])
	}
}

func TestReadFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.fits")
	if err := os.WriteFile(path, []byte("definitely not fits"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadFile(path); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "absent.fits.gz"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestPrimaryTableRejected(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, []*HDU{{Table: NewTable(0)}})
	if err == nil {
		t.Fatalf("expected error for tabular primary HDU")
	}
}

// rawHeader builds one padded header block from "KEY = value" cards.
func rawHeader(cards ...string) []byte {
	var b strings.Builder
	for _, c := range cards {
		key, value, _ := strings.Cut(c, "=")
		fmt.Fprintf(&b, "%-8s= %20s", strings.TrimSpace(key), strings.TrimSpace(value))
		b.WriteString(strings.Repeat(" ", cardSize-30))
	}
	b.WriteString(fmt.Sprintf("%-80s", "END"))
	for b.Len()%blockSize != 0 {
		b.WriteByte(' ')
	}
	return []byte(b.String())
}

func TestDecodeRejectsBadLayout(t *testing.T) {
	primary := rawHeader("SIMPLE = T", "BITPIX = 8", "NAXIS = 0")
	cases := map[string][]byte{
		"negative NAXIS": rawHeader("SIMPLE = T", "BITPIX = -64", "NAXIS = -3"),
		"negative axis":  rawHeader("SIMPLE = T", "BITPIX = -64", "NAXIS = 1", "NAXIS1 = -10"),
		"bad BITPIX":     rawHeader("SIMPLE = T", "BITPIX = 0", "NAXIS = 0"),
		"huge image":     rawHeader("SIMPLE = T", "BITPIX = -64", "NAXIS = 3", "NAXIS1 = 4000000000", "NAXIS2 = 4000000000", "NAXIS3 = 4000000000"),
		"truncated data": rawHeader("SIMPLE = T", "BITPIX = -64", "NAXIS = 1", "NAXIS1 = 1000"),
		"BINTABLE BITPIX 0": append(append([]byte(nil), primary...), rawHeader("XTENSION = 'BINTABLE'", "BITPIX = 0",
			"NAXIS = 2", "NAXIS1 = 8", "NAXIS2 = 1", "PCOUNT = 0", "GCOUNT = 1", "TFIELDS = 1")...),
		"negative TFIELDS": append(append([]byte(nil), primary...), rawHeader("XTENSION = 'BINTABLE'", "BITPIX = 8",
			"NAXIS = 2", "NAXIS1 = 0", "NAXIS2 = 0", "PCOUNT = 0", "GCOUNT = 1", "TFIELDS = -2")...),
		"short table": append(append([]byte(nil), primary...), rawHeader("XTENSION = 'BINTABLE'", "BITPIX = 8",
			"NAXIS = 2", "NAXIS1 = 8", "NAXIS2 = 1000", "PCOUNT = 0", "GCOUNT = 1", "TFIELDS = 1")...),
		"no END": bytes.Repeat([]byte(" "), blockSize),
	}
	for name, raw := range cases {
		if _, err := Decode(bytes.NewReader(raw)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}
