package fits

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	blockSize = 2880
	cardSize  = 80
	maxAxes   = 999
)

// hduLayout is the structural part of one header.
type hduLayout struct {
	xtension string
	ints     map[string]int64
}

func (l hduLayout) get(key string, def int64, required bool) (int64, error) {
	v, ok := l.ints[key]
	if !ok {
		if required {
			return 0, fmt.Errorf("%w: missing keyword %s", ErrMalformed, key)
		}
		return def, nil
	}
	return v, nil
}

// checkLayout walks the header blocks of raw and verifies that every
// structural keyword is in range and that each data unit fits in the bytes
// that follow its header.
func checkLayout(raw []byte) error {
	if len(raw) == 0 || len(raw)%blockSize != 0 {
		return fmt.Errorf("%w: stream length %d is not a multiple of %d", ErrMalformed, len(raw), blockSize)
	}
	for off, index := 0, 0; off < len(raw); index++ {
		layout, n, err := scanHeader(raw[off:], index == 0)
		if err != nil {
			return fmt.Errorf("HDU %d: %w", index, err)
		}
		off += n
		size, err := layout.dataSize(int64(len(raw) - off))
		if err != nil {
			return fmt.Errorf("HDU %d: %w", index, err)
		}
		off += int((size + blockSize - 1) / blockSize * blockSize)
	}
	return nil
}

func scanHeader(raw []byte, primary bool) (hduLayout, int, error) {
	l := hduLayout{ints: map[string]int64{}}
	for pos := 0; pos+cardSize <= len(raw); pos += cardSize {
		card := string(raw[pos : pos+cardSize])
		key := strings.TrimSpace(card[:8])
		if pos == 0 {
			switch {
			case primary && key != "SIMPLE", !primary && key != "XTENSION":
				return l, 0, fmt.Errorf("%w: header starts with %q", ErrMalformed, key)
			}
		}
		if key == "END" {
			end := pos + cardSize
			return l, (end + blockSize - 1) / blockSize * blockSize, nil
		}
		if card[8:10] != "= " {
			continue
		}
		value := strings.TrimSpace(card[10:])
		if key == "XTENSION" {
			l.xtension = strings.TrimSpace(strings.Trim(strings.SplitN(value, "/", 2)[0], " '"))
			continue
		}
		if !structuralInt(key) {
			continue
		}
		if i := strings.Index(value, "/"); i >= 0 {
			value = strings.TrimSpace(value[:i])
		}
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return l, 0, fmt.Errorf("%w: keyword %s is not an integer: %q", ErrMalformed, key, value)
		}
		l.ints[key] = v
	}
	return l, 0, fmt.Errorf("%w: header has no END card", ErrMalformed)
}

func structuralInt(key string) bool {
	switch key {
	case "BITPIX", "NAXIS", "PCOUNT", "GCOUNT", "TFIELDS":
		return true
	}
	return strings.HasPrefix(key, "NAXIS")
}

// dataSize returns the byte length of the data unit, failing when it would
// exceed remaining.
func (l hduLayout) dataSize(remaining int64) (int64, error) {
	bitpix, err := l.get("BITPIX", 0, true)
	if err != nil {
		return 0, err
	}
	switch bitpix {
	case 8, 16, 32, 64, -32, -64:
	default:
		return 0, fmt.Errorf("%w: BITPIX %d", ErrMalformed, bitpix)
	}
	naxis, err := l.get("NAXIS", 0, true)
	if err != nil {
		return 0, err
	}
	if naxis < 0 || naxis > maxAxes {
		return 0, fmt.Errorf("%w: NAXIS %d", ErrMalformed, naxis)
	}
	elemBytes := bitpix / 8
	if elemBytes < 0 {
		elemBytes = -elemBytes
	}
	limit := remaining / elemBytes

	var elems int64
	if naxis > 0 {
		elems = 1
		for i := int64(1); i <= naxis; i++ {
			a, err := l.get("NAXIS"+strconv.FormatInt(i, 10), 0, true)
			if err != nil {
				return 0, err
			}
			if a < 0 {
				return 0, fmt.Errorf("%w: NAXIS%d is %d", ErrMalformed, i, a)
			}
			if a != 0 && elems > limit/a {
				return 0, fmt.Errorf("%w: data unit larger than the %d bytes present", ErrMalformed, remaining)
			}
			elems *= a
		}
	}
	pcount, err := l.get("PCOUNT", 0, false)
	if err != nil {
		return 0, err
	}
	gcount, err := l.get("GCOUNT", 1, false)
	if err != nil {
		return 0, err
	}
	if pcount < 0 || gcount < 1 {
		return 0, fmt.Errorf("%w: PCOUNT %d GCOUNT %d", ErrMalformed, pcount, gcount)
	}
	switch l.xtension {
	case "BINTABLE":
		if bitpix != 8 || naxis != 2 {
			return 0, fmt.Errorf("%w: BINTABLE with BITPIX %d NAXIS %d", ErrMalformed, bitpix, naxis)
		}
		tfields, err := l.get("TFIELDS", 0, true)
		if err != nil {
			return 0, err
		}
		if tfields < 0 || tfields > maxAxes {
			return 0, fmt.Errorf("%w: TFIELDS %d", ErrMalformed, tfields)
		}
	case "", "IMAGE":
	default:
		return 0, fmt.Errorf("%w: unsupported XTENSION %q", ErrMalformed, l.xtension)
	}
	if elems > limit-pcount || gcount != 1 {
		return 0, fmt.Errorf("%w: data unit larger than the %d bytes present", ErrMalformed, remaining)
	}
	return (elems + pcount) * elemBytes, nil
}
