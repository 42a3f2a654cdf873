package session

import (
	"math"
	"strconv"
	"strings"
)

// Reading is an optional measurement reported by the engine. The zero value
// means "not measured yet", which engines used to signal with an empty string.
type Reading struct {
	text      string
	value     float64
	valid     bool
	malformed bool
}

// Measured wraps a numeric value. NaN, infinite and negative values produce
// an invalid reading flagged as malformed.
func Measured(v float64) Reading {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return Reading{malformed: true}
	}
	return Reading{value: v, valid: true}
}

// ParseReading converts engine text into a Reading. Empty text is "not
// measured"; text that does not parse as a non-negative finite number is
// reported as malformed.
func ParseReading(s string) Reading {
	s = strings.TrimSpace(s)
	if s == "" {
		return Reading{}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Reading{malformed: true}
	}
	r := Measured(v)
	if r.valid && isPlainDecimal(s) {
		r.text = s
	}
	return r
}

func (r Reading) Valid() bool { return r.valid }

// Malformed reports whether the engine supplied a value that had to be
// discarded.
func (r Reading) Malformed() bool { return r.malformed }

// Value returns the measured value, or 0 when the reading is not valid.
func (r Reading) Value() float64 {
	if !r.valid {
		return 0
	}
	return r.value
}

// Label renders the reading for display. Engine text is kept verbatim when it
// is a plain decimal; numeric readings are formatted with the given precision.
func (r Reading) Label(fallback string, precision int) string {
	if !r.valid {
		return fallback
	}
	if r.text != "" {
		return r.text
	}
	return strconv.FormatFloat(r.value, 'f', precision, 64)
}

func (r Reading) String() string {
	switch {
	case r.malformed:
		return "malformed"
	case !r.valid:
		return "unmeasured"
	default:
		return r.Label("", 2)
	}
}

func isPlainDecimal(s string) bool {
	dot := false
	digits := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '.' && !dot:
			dot = true
		default:
			return false
		}
	}
	return digits > 0
}
