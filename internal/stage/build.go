package stage

import (
	"fmt"

	"github.com/kingrea/cortex/internal/namespace"
)

// Roles lists the names a stage declares for each namespace.
type Roles struct {
	Params         []string
	Nets           []string
	Vars           []string
	Inputs         []string
	OptionalInputs []string
	// Trains lists the net roles a routine is declared to train.
	Trains []string
}

// Clone returns a deep copy of the roles.
func (r Roles) Clone() Roles {
	return Roles{
		Params:         cloneStrings(r.Params),
		Nets:           cloneStrings(r.Nets),
		Vars:           cloneStrings(r.Vars),
		Inputs:         cloneStrings(r.Inputs),
		OptionalInputs: cloneStrings(r.OptionalInputs),
		Trains:         cloneStrings(r.Trains),
	}
}

// HasParam reports whether name is a declared parameter.
func (r Roles) HasParam(name string) bool { return containsString(r.Params, name) }

// HasNet reports whether name is a declared net role.
func (r Roles) HasNet(name string) bool { return containsString(r.Nets, name) }

// HasVar reports whether name is a declared var role.
func (r Roles) HasVar(name string) bool { return containsString(r.Vars, name) }

// BuildFunc is the computation entry point of a build plugin.
type BuildFunc func(b *Build, kw Kwargs) error

// Build constructs shared resources from kwargs.
type Build struct {
	Plugin  string
	Kind    Kind
	Roles   Roles
	Func    BuildFunc
	Aliases map[string]string

	// Defaults and ParamHelp are keyed by local parameter name.
	Defaults  Kwargs
	ParamHelp map[string]string

	Kwargs *namespace.Alias
	Nets   *namespace.Alias
	Help   *namespace.Alias
}

// Attached reports whether a composition has bound the namespaces.
func (b *Build) Attached() bool {
	return b != nil && b.Kwargs != nil && b.Nets != nil
}

// ResolvedKwargs reads every declared parameter through the kwargs alias.
func (b *Build) ResolvedKwargs() (Kwargs, error) {
	if !b.Attached() {
		return nil, fmt.Errorf("stage: build %s is not attached", b.Plugin)
	}
	return resolveParams(b.Kwargs, b.Roles.Params)
}

// SetNet stores a constructed resource under the canonical name for role.
func (b *Build) SetNet(role string, r any) error {
	if !b.Attached() {
		return fmt.Errorf("stage: build %s is not attached", b.Plugin)
	}
	if !b.Roles.HasNet(role) {
		return fmt.Errorf("stage: build %s has no net role %s", b.Plugin, role)
	}
	b.Nets.Set(role, r)
	return nil
}

// Run invokes the entry point with kw.
func (b *Build) Run(kw Kwargs) error {
	if b.Func == nil {
		return fmt.Errorf("stage: build %s has no entry point", b.Plugin)
	}
	return b.Func(b, kw)
}

func resolveParams(kwargs *namespace.Alias, params []string) (Kwargs, error) {
	out := make(Kwargs, len(params))
	for _, p := range params {
		v, err := kwargs.Get(p)
		if err != nil {
			return nil, fmt.Errorf("stage: kwarg %s: %w", p, err)
		}
		out[p] = v
	}
	return out, nil
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
