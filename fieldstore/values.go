package fieldstore

// elements spreads an array value into per-index values. It reports false
// for anything that is not an array; []byte is a raw scalar, not an array.
func elements(v any) ([]any, bool) {
	switch a := v.(type) {
	case []any:
		return a, true
	case []bool:
		return spread(a), true
	case []int64:
		return spread(a), true
	case []float64:
		return spread(a), true
	case []float32:
		return spread(a), true
	case []string:
		return spread(a), true
	default:
		return nil, false
	}
}

func spread[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

// schemaText extracts schema text published as raw bytes or a string.
func schemaText(v any) (string, bool) {
	switch s := v.(type) {
	case []byte:
		return string(s), true
	case string:
		return s, true
	default:
		return "", false
	}
}
