package device

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// asBool accepts only a real boolean. Numbers and strings such as 1 or "true"
// are rejected.
func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

// asInt converts v to an int when it represents an integer exactly.
//
// Accepted: Go integer types, integral floats (JSON numbers decode to
// float64), json.Number and decimal strings. Booleans are rejected.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case bool:
		return 0, false
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		if n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case float32:
		return integral(float64(n))
	case float64:
		return integral(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func integral(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

// asFloat converts numbers and numeric strings to a finite float64.
func asFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case bool:
		return 0, false
	case float64:
		f = n
	case float32:
		f = float64(n)
	case json.Number:
		var err error
		if f, err = n.Float64(); err != nil {
			return 0, false
		}
	case string:
		var err error
		if f, err = strconv.ParseFloat(strings.TrimSpace(n), 64); err != nil {
			return 0, false
		}
	default:
		i, ok := asInt(v)
		if !ok {
			return 0, false
		}
		f = float64(i)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func intInRange(v any, lo, hi int) (int, bool) {
	i, ok := asInt(v)
	if !ok || i < lo || i > hi {
		return 0, false
	}
	return i, true
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}

func clamp(f, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, f))
}
