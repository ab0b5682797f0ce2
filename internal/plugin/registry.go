package plugin

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kingrea/cortex/internal/stage"
)

var (
	ErrDuplicateName            = errors.New("plugin: name already registered")
	ErrProtectedAttribute       = errors.New("plugin: protected attribute")
	ErrMissingRequiredAttribute = errors.New("plugin: missing required attribute")
	ErrUnknownKind              = errors.New("plugin: unknown kind")
	ErrNotFound                 = errors.New("plugin: not found")
)

// protected names are reserved for the stage runtime and may not be used as
// parameters or roles.
var protected = []string{"name", "kwargs", "nets", "vars", "help", "inputs", "results", "losses"}

// Registry maintains plugin descriptors per kind.
type Registry struct {
	mu     sync.RWMutex
	tables map[stage.Kind]map[string]*Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tables: map[stage.Kind]map[string]*Descriptor{
		stage.KindBuild:   {},
		stage.KindRoutine: {},
		stage.KindModel:   {},
	}}
}

// Register validates desc and stores a private copy under its name in kind's
// table. Later changes to desc's slices or maps do not reach the registry.
func (r *Registry) Register(kind stage.Kind, desc Descriptor) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	desc = desc.Clone()
	desc.Name = strings.TrimSpace(desc.Name)
	desc.Kind = kind
	if err := checkRequired(&desc); err != nil {
		return err
	}
	if err := desc.introspect(); err != nil {
		return err
	}
	if err := checkProtected(&desc); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	table := r.tables[kind]
	if _, exists := table[desc.Name]; exists {
		return fmt.Errorf("%w: %s plugin %s", ErrDuplicateName, kind, desc.Name)
	}
	stored := desc
	table[desc.Name] = &stored
	return nil
}

// RegisterBuild registers a build plugin.
func (r *Registry) RegisterBuild(desc Descriptor) error {
	return r.Register(stage.KindBuild, desc)
}

// RegisterRoutine registers a routine plugin.
func (r *Registry) RegisterRoutine(desc Descriptor) error {
	return r.Register(stage.KindRoutine, desc)
}

// RegisterModel registers a model plugin.
func (r *Registry) RegisterModel(desc Descriptor) error {
	return r.Register(stage.KindModel, desc)
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(kind stage.Kind, desc Descriptor) {
	if err := r.Register(kind, desc); err != nil {
		panic(err)
	}
}

// Lookup returns a copy of the descriptor registered under name in kind's
// table.
func (r *Registry) Lookup(kind stage.Kind, name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table, ok := r.tables[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	desc, ok := table[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s plugin %s", ErrNotFound, kind, name)
	}
	out := desc.Clone()
	return &out, nil
}

// Find returns the first descriptor named name, searching builds, routines
// and models in that order.
func (r *Registry) Find(name string) (*Descriptor, error) {
	for _, kind := range []stage.Kind{stage.KindBuild, stage.KindRoutine, stage.KindModel} {
		if desc, err := r.Lookup(kind, name); err == nil {
			return desc, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Names returns the sorted plugin names registered for kind.
func (r *Registry) Names(kind stage.Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	table := r.tables[kind]
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func checkRequired(d *Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("%w: %s plugin name is required", ErrMissingRequiredAttribute, d.Kind)
	}
	switch d.Kind {
	case stage.KindBuild:
		if d.Build == nil {
			return fmt.Errorf("%w: build plugin %s must set Build", ErrMissingRequiredAttribute, d.Name)
		}
	case stage.KindRoutine:
		if d.Run == nil {
			return fmt.Errorf("%w: routine plugin %s must set Run", ErrMissingRequiredAttribute, d.Name)
		}
	case stage.KindModel:
		if d.Compose == nil {
			return fmt.Errorf("%w: model plugin %s must set Compose", ErrMissingRequiredAttribute, d.Name)
		}
	}
	return nil
}

func checkProtected(d *Descriptor) error {
	groups := map[string][]string{
		"param":          d.ParamNames(),
		"input":          d.Inputs,
		"optional input": d.OptionalInputs,
		"net":            d.Nets,
		"var":            d.Vars,
	}
	for label, names := range groups {
		for _, name := range names {
			for _, reserved := range protected {
				if name == reserved {
					return fmt.Errorf("%w: %s plugin %s declares %s %q", ErrProtectedAttribute, d.Kind, d.Name, label, name)
				}
			}
		}
	}
	for _, net := range d.Trains {
		found := false
		for _, declared := range d.Nets {
			if declared == net {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: routine plugin %s trains undeclared net %s", ErrMissingRequiredAttribute, d.Name, net)
		}
	}
	return nil
}
