package protocol

import (
	"encoding/json"
	"strconv"
)

// FlattenSeries turns a decoded JSON value into a flat numeric sequence.
// Nested arrays are walked depth first; values that are not numbers are skipped.
func FlattenSeries(v any) []float64 {
	out := []float64{}
	flattenInto(&out, v)
	return out
}

func flattenInto(out *[]float64, v any) {
	switch val := v.(type) {
	case []any:
		for _, item := range val {
			flattenInto(out, item)
		}
	case []float64:
		*out = append(*out, val...)
	case float64:
		*out = append(*out, val)
	case int:
		*out = append(*out, float64(val))
	case json.Number:
		if f, err := val.Float64(); err == nil {
			*out = append(*out, f)
		}
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*out = append(*out, f)
		}
	}
}
