package validation

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/harrison/taskgraph/internal/models"
)

// Compare evaluates `actual op expected`. The type of expected decides the
// comparison: numbers compare numerically, booleans and nil by equality, and
// anything else as strings. metric only labels errors.
func Compare(metric string, actual any, op string, expected any) error {
	if !models.ValidOperator(op) {
		return fmt.Errorf("unsupported operator %q", op)
	}

	var ok bool
	switch want := expected.(type) {
	case nil:
		if op != models.OpEqual && op != models.OpNotEqual {
			return &TypeMismatchError{Metric: metric, Value: actual, Want: "null"}
		}
		ok = (actual == nil) == (op == models.OpEqual)
	case bool:
		got, isBool := toBool(actual)
		if !isBool {
			return &TypeMismatchError{Metric: metric, Value: actual, Want: "bool"}
		}
		switch op {
		case models.OpEqual:
			ok = got == want
		case models.OpNotEqual:
			ok = got != want
		default:
			return fmt.Errorf("operator %q cannot compare booleans", op)
		}
	default:
		if wantNum, isNum := toFloat(expected); isNum {
			gotNum, coerced := toFloat(actual)
			if !coerced {
				return &TypeMismatchError{Metric: metric, Value: actual, Want: "number"}
			}
			ok = compareOrdered(gotNum, op, wantNum)
		} else {
			ok = compareOrdered(fmt.Sprint(actual), op, fmt.Sprint(expected))
		}
	}

	if !ok {
		return &TargetNotMetError{Metric: metric, Actual: actual, Operator: op, Expected: expected}
	}
	return nil
}

func compareOrdered[T float64 | string](a T, op string, b T) bool {
	switch op {
	case models.OpGreaterEqual:
		return a >= b
	case models.OpLessEqual:
		return a <= b
	case models.OpGreater:
		return a > b
	case models.OpLess:
		return a < b
	case models.OpEqual:
		return a == b
	case models.OpNotEqual:
		return a != b
	}
	return false
}

// toFloat coerces numeric values and numeric strings. Booleans are not numbers.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
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
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return parsed, err == nil
	}
	return false, false
}

// Lookup finds a field in a decoded result. The exact key is tried first,
// then a dot path through nested maps and list indices.
func Lookup(data any, field string) (any, bool) {
	if v, ok := mapGet(data, field); ok {
		return v, true
	}
	if !strings.Contains(field, ".") {
		return nil, false
	}

	current := data
	for _, part := range strings.Split(field, ".") {
		if v, ok := mapGet(current, part); ok {
			current = v
			continue
		}
		idx, err := strconv.Atoi(part)
		if err != nil {
			return nil, false
		}
		rv := reflect.ValueOf(current)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, false
		}
		if idx < 0 || idx >= rv.Len() {
			return nil, false
		}
		current = rv.Index(idx).Interface()
	}
	return current, true
}

// mapGet reads key from any map with string keys.
func mapGet(data any, key string) (any, bool) {
	switch m := data.(type) {
	case map[string]any:
		v, ok := m[key]
		return v, ok
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(data)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	v := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
	if !v.IsValid() {
		return nil, false
	}
	return v.Interface(), true
}

// isMapping reports whether v is a map with string keys.
func isMapping(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String
}
