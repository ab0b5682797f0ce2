package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"gopkg.in/yaml.v3"
)

const goBlueprintFunc = "Blueprints"

// LoadGoBlueprintDir interprets every .go file in dir with yaegi and collects
// what its Blueprints function returns. The function may return either
// []map[string]any or a YAML string holding one or more documents, optionally
// followed by an error.
func LoadGoBlueprintDir(dir string) ([]BlueprintFile, error) {
	paths, err := blueprintSources(dir, func(name string) bool { return filepath.Ext(name) == ".go" })
	if err != nil {
		return nil, err
	}
	var files []BlueprintFile
	for _, path := range paths {
		loaded, err := loadGoBlueprintFile(path)
		if err != nil {
			return nil, err
		}
		files = append(files, loaded...)
	}
	return files, nil
}

func loadGoBlueprintFile(path string) ([]BlueprintFile, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("blueprint: read %s: %w", path, err)
	}
	if strings.TrimSpace(string(code)) == "" {
		return nil, fmt.Errorf("blueprint: %s is empty", path)
	}
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("blueprint: load stdlib symbols: %w", err)
	}
	if _, err := i.EvalPath(path); err != nil {
		return nil, fmt.Errorf("blueprint: interpret %s: %w", path, err)
	}
	fn, err := i.Eval(goBlueprintFunc)
	if err != nil {
		return nil, fmt.Errorf("blueprint: %s must define %s(): %w", path, goBlueprintFunc, err)
	}
	payload, err := callBlueprintFunc(fn)
	if err != nil {
		return nil, fmt.Errorf("blueprint: %s: %w", path, err)
	}
	bps, err := ParseBlueprintStream(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sourced(filepath.Clean(path), bps), nil
}

// callBlueprintFunc calls fn and renders its result as a YAML stream.
func callBlueprintFunc(fn reflect.Value) ([]byte, error) {
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		return nil, fmt.Errorf("%s is not a function", goBlueprintFunc)
	}
	if fn.Type().NumIn() != 0 {
		return nil, fmt.Errorf("%s must take no arguments", goBlueprintFunc)
	}
	out := fn.Call(nil)
	switch len(out) {
	case 1:
	case 2:
		if !out[1].IsNil() {
			if e, ok := out[1].Interface().(error); ok {
				return nil, e
			}
			return nil, fmt.Errorf("%s returned a non-error second value", goBlueprintFunc)
		}
	default:
		return nil, fmt.Errorf("%s must return one value and an optional error", goBlueprintFunc)
	}

	result := out[0]
	if result.Kind() == reflect.String {
		return []byte(result.String()), nil
	}
	if result.Kind() != reflect.Slice {
		return nil, fmt.Errorf("%s returned %s, want []map[string]any or string", goBlueprintFunc, result.Type())
	}
	var stream strings.Builder
	for idx := 0; idx < result.Len(); idx++ {
		entry, ok := result.Index(idx).Interface().(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is not map[string]any", goBlueprintFunc, idx)
		}
		doc, err := yaml.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", goBlueprintFunc, idx, err)
		}
		if idx > 0 {
			stream.WriteString("---\n")
		}
		stream.Write(doc)
	}
	return []byte(stream.String()), nil
}
