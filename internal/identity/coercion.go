package identity

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/legacymind/cogmem/internal/cogerr"
)

// coercionType is the declared shape for a (category, field) pair.
type coercionType int

const (
	coercePassthrough coercionType = iota
	coerceNumeric
	coerceArray
)

// coercionTable centralizes every (category, field) that needs numeric or
// array coercion. Unknown pairs pass through unchanged.
var coercionTable = map[Category]map[string]coercionType{
	TechnicalProfile: {
		"preferred_languages": coerceArray,
		"frameworks":          coerceArray,
		"tools":                coerceArray,
		"years_experience":    coerceNumeric,
	},
	BehavioralPatterns: {
		"strengths":       coerceArray,
		"growth_areas":    coerceArray,
		"work_style_tags": coerceArray,
	},
	WorkPreferences: {
		"active_goals":       coerceArray,
		"preferred_hours":    coerceArray,
		"focus_score":        coerceNumeric,
	},
	Communication: {
		"tags": coerceArray,
	},
	ContextAwareness: {
		"tags":              coerceArray,
		"recent_topics":     coerceArray,
		"attention_span_ms": coerceNumeric,
	},
	MemoryPreferences: {
		"tags":          coerceArray,
		"retention_days": coerceNumeric,
	},
}

// arrayAppendFields is the set of (category, field) pairs that append to
// an array on add rather than replacing the whole value.
var arrayAppendFields = map[Category]map[string]bool{
	TechnicalProfile:   {"preferred_languages": true, "frameworks": true, "tools": true},
	BehavioralPatterns: {"strengths": true, "growth_areas": true, "work_style_tags": true},
	WorkPreferences:    {"active_goals": true, "preferred_hours": true},
	Communication:      {"tags": true},
	ContextAwareness:   {"tags": true, "recent_topics": true},
	MemoryPreferences:  {"tags": true},
}

func typeOf(category Category, field string) coercionType {
	if m, ok := coercionTable[category]; ok {
		if t, ok := m[field]; ok {
			return t
		}
	}
	return coercePassthrough
}

// IsArrayAppendField reports whether add() should push onto this field's
// array instead of replacing it.
func IsArrayAppendField(category Category, field string) bool {
	if m, ok := arrayAppendFields[category]; ok {
		return m[field]
	}
	return false
}

// coerce applies the declared type for (category, field) to a raw value
// supplied by a caller (typically a string from a tool call).
func coerce(category Category, field string, value interface{}) (interface{}, error) {
	switch typeOf(category, field) {
	case coerceNumeric:
		return coerceNumericValue(value)
	case coerceArray:
		return coerceArrayValue(value)
	default:
		return value, nil
	}
}

// coerceNumericValue coerces value to float32 where the shape makes that
// unambiguous. A string that parses as f32 is coerced; a string that
// doesn't parse passes through unchanged rather than erroring, so a
// non-numeric note written to a numeric-typed field isn't rejected
// outright. A non-finite parse (NaN/Inf) is still rejected.
func coerceNumericValue(value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case float32:
		return v, nil
	case float64:
		return float32(v), nil
	case int:
		return float32(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 32)
		if err != nil {
			return v, nil
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, cogerr.New(cogerr.KindValidation, "identity", "value", fmt.Errorf("non-finite number: %q", v))
		}
		return float32(f), nil
	default:
		return nil, cogerr.New(cogerr.KindValidation, "identity", "value", fmt.Errorf("cannot coerce %T to number", value))
	}
}

// coerceArrayValue accepts a JSON array string, a comma-separated string,
// or an already-valid array/slice, and always returns a []string.
func coerceArrayValue(value interface{}) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out, nil
	case string:
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "[") {
			var arr []interface{}
			if err := json.Unmarshal([]byte(trimmed), &arr); err == nil {
				out := make([]string, 0, len(arr))
				for _, item := range arr {
					out = append(out, fmt.Sprintf("%v", item))
				}
				return out, nil
			}
		}
		parts := strings.Split(trimmed, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	default:
		return nil, cogerr.New(cogerr.KindValidation, "identity", "value", fmt.Errorf("cannot coerce %T to array", value))
	}
}
