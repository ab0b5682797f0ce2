package stage

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"
)

// Field is one kwarg extracted from an argument prototype struct.
type Field struct {
	Name     string
	Default  any
	Required bool
	Help     string
	index    []int
}

// StructFields introspects an argument prototype. Every exported field is a
// kwarg; its value in the prototype is the default. The name comes from the
// `kwarg` tag (snake_case of the field name otherwise); `kwarg:"name,required"`
// declares a kwarg without a default and `help` carries its help text.
// Fields tagged `kwarg:"-"` are skipped.
func StructFields(proto any) ([]Field, error) {
	if proto == nil {
		return nil, nil
	}
	v := reflect.ValueOf(proto)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v = reflect.New(v.Type().Elem()).Elem()
			break
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("stage: argument prototype must be a struct, got %s", v.Kind())
	}
	t := v.Type()
	fields := make([]Field, 0, t.NumField())
	seen := map[string]struct{}{}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, required, skip := parseKwargTag(sf)
		if skip {
			continue
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("stage: duplicate kwarg %s in %s", name, t.Name())
		}
		seen[name] = struct{}{}
		field := Field{
			Name:     name,
			Required: required,
			Help:     strings.TrimSpace(sf.Tag.Get("help")),
			index:    sf.Index,
		}
		if !required {
			field.Default = v.Field(i).Interface()
		}
		fields = append(fields, field)
	}
	return fields, nil
}

func parseKwargTag(sf reflect.StructField) (name string, required bool, skip bool) {
	tag := sf.Tag.Get("kwarg")
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	name = strings.TrimSpace(parts[0])
	for _, opt := range parts[1:] {
		if strings.TrimSpace(opt) == "required" {
			required = true
		}
	}
	if name == "" {
		name = snakeCase(sf.Name)
	}
	return name, required, false
}

func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
