package plugin

import (
	"fmt"

	"github.com/kingrea/cortex/internal/stage"
)

// Param is a declared plugin parameter.
type Param struct {
	Name       string
	Default    any
	HasDefault bool
	Help       string
}

// Composer is the assembly surface a model plugin receives. It is
// implemented by the model composition.
type Composer interface {
	AttachBuild(key string, b *stage.Build) error
	AttachRoutine(key string, r *stage.Routine) error
	AddTrainProcedure(name string, steps ...stage.Step)
	AddEvalProcedure(name string, steps ...stage.Step)
	SetDefaults(section string, values map[string]any)
}

// ComposeFunc assembles a composition from registered build and routine
// plugins.
type ComposeFunc func(reg *Registry, c Composer) error

// Descriptor describes a plugin. It is immutable once registered.
type Descriptor struct {
	Name        string
	Kind        stage.Kind
	Description string

	// Args is the argument prototype introspected at registration. When nil,
	// Params is used as declared.
	Args   any
	Params []Param
	Help   map[string]string

	Inputs         []string
	OptionalInputs []string
	Nets           []string
	Vars           []string
	Trains         []string

	Build   stage.BuildFunc
	Run     stage.RunFunc
	Compose ComposeFunc
}

// Clone returns a copy that shares no slices or maps with d.
func (d Descriptor) Clone() Descriptor {
	out := d
	out.Params = append([]Param(nil), d.Params...)
	out.Inputs = append([]string(nil), d.Inputs...)
	out.OptionalInputs = append([]string(nil), d.OptionalInputs...)
	out.Nets = append([]string(nil), d.Nets...)
	out.Vars = append([]string(nil), d.Vars...)
	out.Trains = append([]string(nil), d.Trains...)
	out.Help = cloneAliases(d.Help)
	return out
}

// ParamNames returns the declared parameter names in order.
func (d *Descriptor) ParamNames() []string {
	names := make([]string, len(d.Params))
	for i, p := range d.Params {
		names[i] = p.Name
	}
	return names
}

// Defaults returns the declared parameters that carry a default value.
func (d *Descriptor) Defaults() []Param {
	out := make([]Param, 0, len(d.Params))
	for _, p := range d.Params {
		if p.HasDefault {
			out = append(out, p)
		}
	}
	return out
}

// Roles returns the declared names per namespace.
func (d *Descriptor) Roles() stage.Roles {
	return stage.Roles{
		Params:         d.ParamNames(),
		Nets:           d.Nets,
		Vars:           d.Vars,
		Inputs:         d.Inputs,
		OptionalInputs: d.OptionalInputs,
		Trains:         d.Trains,
	}.Clone()
}

// NewBuild instantiates the descriptor as a build stage. Aliases map the
// build's local names to canonical ones and are validated when a
// composition attaches the instance.
func (d *Descriptor) NewBuild(aliases map[string]string) *stage.Build {
	return &stage.Build{
		Plugin:    d.Name,
		Kind:      d.Kind,
		Roles:     d.Roles(),
		Func:      d.Build,
		Aliases:   cloneAliases(aliases),
		Defaults:  d.defaultKwargs(),
		ParamHelp: cloneAliases(d.Help),
	}
}

// NewRoutine instantiates the descriptor as a routine stage named name (the
// plugin name when empty).
func (d *Descriptor) NewRoutine(name string, aliases map[string]string, names map[string]stage.InputRef) *stage.Routine {
	if name == "" {
		name = d.Name
	}
	r := &stage.Routine{
		Name:      name,
		Plugin:    d.Name,
		Kind:      d.Kind,
		Roles:     d.Roles(),
		Func:      d.Run,
		Aliases:   cloneAliases(aliases),
		Defaults:  d.defaultKwargs(),
		ParamHelp: cloneAliases(d.Help),
	}
	if len(names) > 0 {
		r.Names = make(map[string]stage.InputRef, len(names))
		for k, v := range names {
			r.Names[k] = v
		}
	}
	for _, net := range d.Trains {
		r.MarkTrained(net)
	}
	r.Reset()
	return r
}

func (d *Descriptor) defaultKwargs() stage.Kwargs {
	kw := stage.Kwargs{}
	for _, p := range d.Defaults() {
		kw[p.Name] = p.Default
	}
	return kw
}

func (d *Descriptor) introspect() error {
	if d.Args == nil {
		if d.Help == nil {
			d.Help = map[string]string{}
		}
		for _, p := range d.Params {
			if p.Help != "" {
				d.Help[p.Name] = p.Help
			}
		}
		return nil
	}
	fields, err := stage.StructFields(d.Args)
	if err != nil {
		return fmt.Errorf("plugin %s: %w", d.Name, err)
	}
	params := make([]Param, 0, len(fields))
	help := make(map[string]string, len(fields))
	for _, f := range fields {
		params = append(params, Param{
			Name:       f.Name,
			Default:    f.Default,
			HasDefault: !f.Required,
			Help:       f.Help,
		})
		if f.Help != "" {
			help[f.Name] = f.Help
		}
	}
	d.Params = params
	d.Help = help
	return nil
}

func cloneAliases(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
