// File: internal/fits/header.go
// Brief: User keywords of an HDU and typed access to them.

// Package fits adapts github.com/astrogo/fitsio to the containers used by
// gammabench: a header-only or image primary HDU followed by IMAGE and
// BINTABLE extensions with scalar columns, optionally wrapped in gzip.
package fits

import (
	"fmt"
	"math"
	"strings"

	"github.com/astrogo/fitsio"
)

// Card is one user keyword.
type Card struct {
	Key     string
	Value   any
	Comment string
}

// Header is an ordered list of user keywords. Structural keywords are
// generated on write and stripped on read.
type Header struct {
	cards []Card
}

// NewHeader returns an empty header.
func NewHeader() *Header {
	return &Header{}
}

// Set adds or replaces a keyword. Supported value types are string, bool,
// int, int64 and float64.
func (h *Header) Set(key string, value any, comment string) {
	key = strings.ToUpper(strings.TrimSpace(key))
	for i := range h.cards {
		if h.cards[i].Key == key {
			h.cards[i].Value = value
			h.cards[i].Comment = comment
			return
		}
	}
	h.cards = append(h.cards, Card{Key: key, Value: value, Comment: comment})
}

// Get returns the raw value for key.
func (h *Header) Get(key string) (any, bool) {
	if h == nil {
		return nil, false
	}
	key = strings.ToUpper(key)
	for _, c := range h.cards {
		if c.Key == key {
			return c.Value, true
		}
	}
	return nil, false
}

// Int returns an integer keyword.
func (h *Header) Int(key string) (int64, error) {
	v, ok := h.Get(key)
	if !ok {
		return 0, fmt.Errorf("%w: missing keyword %s", ErrMalformed, key)
	}
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case float64:
		if t == math.Trunc(t) {
			return int64(t), nil
		}
	}
	return 0, fmt.Errorf("%w: keyword %s is not an integer (%v)", ErrMalformed, key, v)
}

// Float returns a numeric keyword as float64.
func (h *Header) Float(key string) (float64, error) {
	v, ok := h.Get(key)
	if !ok {
		return 0, fmt.Errorf("%w: missing keyword %s", ErrMalformed, key)
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int:
		return float64(t), nil
	}
	return 0, fmt.Errorf("%w: keyword %s is not numeric (%v)", ErrMalformed, key, v)
}

// String returns a string keyword.
func (h *Header) String(key string) (string, error) {
	v, ok := h.Get(key)
	if !ok {
		return "", fmt.Errorf("%w: missing keyword %s", ErrMalformed, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: keyword %s is not a string (%v)", ErrMalformed, key, v)
	}
	return s, nil
}

var structuralKeys = map[string]struct{}{
	"SIMPLE": {}, "XTENSION": {}, "BITPIX": {}, "NAXIS": {}, "EXTEND": {},
	"PCOUNT": {}, "GCOUNT": {}, "TFIELDS": {}, "EXTNAME": {}, "END": {},
}

func isStructural(key string) bool {
	if _, ok := structuralKeys[key]; ok {
		return true
	}
	for _, prefix := range []string{"NAXIS", "TTYPE", "TFORM", "TUNIT", "TDIM", "TNULL", "TSCAL", "TZERO", "TDISP"} {
		if strings.HasPrefix(key, prefix) && len(key) > len(prefix) {
			return true
		}
	}
	return false
}

// fitsioCards converts user keywords to fitsio cards. int64 values are
// narrowed to int, the integer type fitsio formats.
func (h *Header) fitsioCards() ([]fitsio.Card, error) {
	if h == nil {
		return nil, nil
	}
	out := make([]fitsio.Card, 0, len(h.cards))
	for _, c := range h.cards {
		if isStructural(c.Key) {
			continue
		}
		if len(c.Key) > 8 {
			return nil, fmt.Errorf("keyword %q longer than 8 characters", c.Key)
		}
		value := c.Value
		switch v := value.(type) {
		case int64:
			value = int(v)
		case string, bool, int, float64:
		default:
			return nil, fmt.Errorf("keyword %s has unsupported value type %T", c.Key, c.Value)
		}
		out = append(out, fitsio.Card{Name: c.Key, Value: value, Comment: c.Comment})
	}
	return out, nil
}

func headerFrom(hdr *fitsio.Header) *Header {
	h := NewHeader()
	for _, key := range hdr.Keys() {
		key = strings.ToUpper(strings.TrimSpace(key))
		if key == "" || key == "COMMENT" || key == "HISTORY" || isStructural(key) {
			continue
		}
		c := hdr.Get(key)
		if c == nil {
			continue
		}
		value := c.Value
		if s, ok := value.(string); ok {
			value = strings.TrimRight(s, " ")
		}
		h.Set(key, value, c.Comment)
	}
	return h
}
