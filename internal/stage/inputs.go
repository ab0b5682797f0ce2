package stage

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

type absent struct{}

func (absent) String() string { return "<absent>" }

// Absent marks an optional input that was not available when the routine
// was wired. It is distinct from a nil value produced upstream.
var Absent any = absent{}

// IsAbsent reports whether v is the absent marker.
func IsAbsent(v any) bool {
	_, ok := v.(absent)
	return ok
}

// Inputs holds the values wired into a routine for the current step.
type Inputs map[string]any

// Get returns the wired value for name; ok is false when the input is
// missing or carries the absent marker.
func (in Inputs) Get(name string) (any, bool) {
	v, ok := in[name]
	if !ok || IsAbsent(v) {
		return nil, false
	}
	return v, true
}

// List returns a list-valued input.
func (in Inputs) List(name string) ([]any, bool) {
	v, ok := in.Get(name)
	if !ok {
		return nil, false
	}
	list, ok := v.([]any)
	return list, ok
}

// InputRef names the value pool entry (or ordered list of entries) a routine
// input is wired to.
type InputRef struct {
	Keys []string
	List bool
}

// Key wires an input to a single value pool key.
func Key(key string) InputRef {
	return InputRef{Keys: []string{key}}
}

// KeyList wires an input to an ordered list of value pool keys.
func KeyList(keys ...string) InputRef {
	return InputRef{Keys: append([]string(nil), keys...), List: true}
}

// String renders the reference for diagnostics.
func (ref InputRef) String() string {
	if ref.List {
		return "[" + strings.Join(ref.Keys, ", ") + "]"
	}
	if len(ref.Keys) == 0 {
		return ""
	}
	return ref.Keys[0]
}

// UnmarshalYAML accepts either a scalar key or a sequence of keys.
func (ref *InputRef) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var key string
		if err := node.Decode(&key); err != nil {
			return err
		}
		*ref = Key(strings.TrimSpace(key))
		return nil
	case yaml.SequenceNode:
		var keys []string
		if err := node.Decode(&keys); err != nil {
			return err
		}
		for i := range keys {
			keys[i] = strings.TrimSpace(keys[i])
		}
		*ref = KeyList(keys...)
		return nil
	}
	return fmt.Errorf("stage: input reference must be a string or a list of strings")
}

// MarshalYAML mirrors UnmarshalYAML.
func (ref InputRef) MarshalYAML() (any, error) {
	if ref.List {
		return ref.Keys, nil
	}
	return ref.String(), nil
}
