package algorithms

import (
	"fmt"
	"strconv"
	"strings"

	"ForeCrypt/internal/domain/models"
)

// Parameter values arrive from YAML (int, float64, []any) or back from msgpack
// (any integer width), so every accessor accepts the whole numeric family.

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func intParam(p models.Params, key string, def int) (int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("param %s: expected integer, got %T", key, v)
	}
	return int(f), nil
}

func floatParam(p models.Params, key string, def float64) (float64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("param %s: expected number, got %T", key, v)
	}
	return f, nil
}

func stringParam(p models.Params, key, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	return strings.ToLower(fmt.Sprint(v))
}

func boolParam(p models.Params, key string, def bool) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

func intsParam(p models.Params, key string, def []int) ([]int, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return def, nil
	}
	var raw []any
	switch s := v.(type) {
	case []any:
		raw = s
	case []int:
		return s, nil
	case []int64:
		out := make([]int, len(s))
		for i, n := range s {
			out[i] = int(n)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("param %s: expected list, got %T", key, v)
	}
	out := make([]int, len(raw))
	for i, r := range raw {
		f, ok := toFloat(r)
		if !ok {
			return nil, fmt.Errorf("param %s[%d]: expected integer, got %T", key, i, r)
		}
		out[i] = int(f)
	}
	return out, nil
}
