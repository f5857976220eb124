package utils // helpers for canonical money formatting

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ToDecimalString converts an arbitrary numeric or numeric-string
// value into the canonical fixed-point form used for persistence,
// always two decimal places ("100" -> "100.00", "99.5" -> "99.50").
// Nil, empty and non-numeric inputs collapse to "0.00" so a bad
// provider payload can never poison a stored amount.  Every write
// boundary that touches a fee or charged amount must go through
// this function; raw floats are never persisted.
func ToDecimalString(v interface{}) string {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return "0.00"
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// toFloat coerces the supported input kinds into a float64.  JSON
// decoding hands us float64 or json.Number for numbers and string
// for quoted amounts, but callers also pass plain Go integers.
func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case nil:
		return 0, true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	default:
		return 0, false
	}
}
