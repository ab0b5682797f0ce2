package stage

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Kwargs are the resolved keyword arguments handed to a stage entry point,
// keyed by the stage's local parameter names.
type Kwargs map[string]any

// Keys returns the kwarg names sorted.
func (kw Kwargs) Keys() []string {
	keys := make([]string, 0, len(kw))
	for k := range kw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Float returns kw[key] as a float64.
func (kw Kwargs) Float(key string) (float64, error) {
	v, ok := kw[key]
	if !ok {
		return 0, fmt.Errorf("stage: kwarg %s not set", key)
	}
	return toFloat(key, v)
}

// Int returns kw[key] as an int.
func (kw Kwargs) Int(key string) (int, error) {
	v, ok := kw[key]
	if !ok {
		return 0, fmt.Errorf("stage: kwarg %s not set", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case int32:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("stage: kwarg %s=%v is not an integer", key, v)
		}
		return int(n), nil
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("stage: kwarg %s: %w", key, err)
		}
		return parsed, nil
	}
	return 0, fmt.Errorf("stage: kwarg %s has type %T, want int", key, v)
}

// String returns kw[key] formatted as a string.
func (kw Kwargs) String(key string) string {
	v, ok := kw[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Decode copies kwargs into the exported fields of the struct pointed to by
// into, using the same naming rules as StructFields. Values are weakly typed:
// numbers convert between kinds and strings from command line overrides are
// parsed.
func (kw Kwargs) Decode(into any) error {
	rv := reflect.ValueOf(into)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("stage: decode target must be a non-nil struct pointer, got %T", into)
	}
	fields, err := StructFields(rv.Elem().Interface())
	if err != nil {
		return err
	}
	for _, f := range fields {
		if _, ok := kw[f.Name]; !ok && f.Required {
			return fmt.Errorf("stage: required kwarg %s not set", f.Name)
		}
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "kwarg",
		WeaklyTypedInput: true,
		MatchName:        matchKwarg,
		Result:           into,
	})
	if err != nil {
		return fmt.Errorf("stage: %w", err)
	}
	if err := dec.Decode(map[string]any(kw)); err != nil {
		return fmt.Errorf("stage: decode kwargs: %w", err)
	}
	return nil
}

// matchKwarg pairs a kwarg name with a tag name or a Go field name.
func matchKwarg(key, field string) bool {
	return key == field || key == snakeCase(field) || strings.EqualFold(key, field)
}

func toFloat(key string, v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("stage: kwarg %s: %w", key, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("stage: kwarg %s has type %T, want float", key, v)
}
