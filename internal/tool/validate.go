package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"sort"
)

// validate checks params against def and returns a copy with defaults
// filled in for absent optional parameters. All problems are reported
// together, each naming the parameter concerned.
func validate(def Definition, params map[string]any) (map[string]any, error) {
	var errs []error

	unknown := make([]string, 0)
	for name := range params {
		if _, ok := def.Param(name); !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		errs = append(errs, fmt.Errorf("unknown parameter %q", name))
	}

	out := make(map[string]any, len(def.Params))
	for _, p := range def.Params {
		v, present := params[p.Name]
		if !present || v == nil {
			if p.Required {
				errs = append(errs, fmt.Errorf("missing required parameter %q", p.Name))
				continue
			}
			if p.Default != nil {
				out[p.Name] = p.Default
			}
			continue
		}
		if !matchesType(v, p.Type) {
			errs = append(errs, fmt.Errorf("parameter %q must be of type %s, got %s", p.Name, p.Type, typeName(v)))
			continue
		}
		if len(p.Enum) > 0 && !inEnum(v, p.Enum) {
			errs = append(errs, fmt.Errorf("parameter %q must be one of %v, got %v", p.Name, p.Enum, v))
			continue
		}
		out[p.Name] = v
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrValidation, errors.Join(errs...))
	}
	return out, nil
}

// matchesType reports whether v, as produced by JSON decoding or by Go
// callers, satisfies the semantic type t.
func matchesType(v any, t ParamType) bool {
	switch t {
	case TypeAny, "":
		return true
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeInteger:
		f, ok := asFloat(v)
		return ok && f == math.Trunc(f) && !math.IsInf(f, 0)
	case TypeNumber:
		_, ok := asFloat(v)
		return ok
	case TypeObject:
		if _, ok := v.(map[string]any); ok {
			return true
		}
		rv := reflect.ValueOf(v)
		return rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String
	case TypeArray:
		if _, ok := v.([]any); ok {
			return true
		}
		k := reflect.ValueOf(v).Kind()
		return k == reflect.Slice || k == reflect.Array
	default:
		return false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// inEnum compares through asFloat for numbers so that 1 and 1.0 match.
func inEnum(v any, enum []any) bool {
	if f, ok := asFloat(v); ok {
		return slices.ContainsFunc(enum, func(e any) bool {
			g, ok := asFloat(e)
			return ok && f == g
		})
	}
	return slices.ContainsFunc(enum, func(e any) bool { return reflect.DeepEqual(e, v) })
}

func typeName(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	if _, ok := asFloat(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}
