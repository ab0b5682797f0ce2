package stage

import (
	"fmt"

	"github.com/kingrea/cortex/internal/namespace"
)

// RunFunc is the computation entry point of a routine plugin.
type RunFunc func(r *Routine, kw Kwargs) (Outputs, error)

// LossEntry pairs a net role with the loss a routine produced for it. Loss
// may be nil.
type LossEntry struct {
	Net  string
	Loss Loss
}

// Routine consumes wired inputs, invokes computation and produces named
// outputs, per-net losses and scalar results.
type Routine struct {
	Name    string
	Plugin  string
	Kind    Kind
	Roles   Roles
	Func    RunFunc
	Aliases map[string]string

	// Defaults and ParamHelp are keyed by local parameter name.
	Defaults  Kwargs
	ParamHelp map[string]string

	// Names remaps declared inputs to value pool keys. Inputs without an
	// entry are looked up under their own name.
	Names map[string]InputRef

	Kwargs *namespace.Alias
	Nets   *namespace.Alias
	Vars   *namespace.Alias
	Help   *namespace.Alias

	Inputs  Inputs
	Outputs Outputs

	losses      []LossEntry
	resultKeys  []string
	results     map[string]float64
	trained     []string
	trainedSeen map[string]struct{}
}

// Attached reports whether a composition has bound the namespaces.
func (r *Routine) Attached() bool {
	return r != nil && r.Kwargs != nil && r.Nets != nil && r.Vars != nil
}

// Reset drops the state captured by the previous step. The trained set is
// kept for the lifetime of the run.
func (r *Routine) Reset() {
	r.Inputs = Inputs{}
	r.Outputs = nil
	r.losses = nil
	r.resultKeys = nil
	r.results = map[string]float64{}
}

// InputRef returns the value pool reference for a declared input.
func (r *Routine) InputRef(input string) InputRef {
	if ref, ok := r.Names[input]; ok && len(ref.Keys) > 0 {
		return ref
	}
	return Key(input)
}

// ResolvedKwargs reads every declared parameter through the kwargs alias.
func (r *Routine) ResolvedKwargs() (Kwargs, error) {
	if !r.Attached() {
		return nil, fmt.Errorf("stage: routine %s is not attached", r.Name)
	}
	return resolveParams(r.Kwargs, r.Roles.Params)
}

// Net returns the resource bound to a declared net role.
func (r *Routine) Net(role string) (Resource, error) {
	v, err := r.Nets.Get(role)
	if err != nil {
		return nil, err
	}
	res, ok := v.(Resource)
	if !ok {
		return nil, fmt.Errorf("stage: net %s of routine %s is %T, not a resource", role, r.Name, v)
	}
	return res, nil
}

// NetKey returns the canonical name of a net role.
func (r *Routine) NetKey(role string) string {
	return r.Nets.Resolve(role)
}

// AddLoss records the loss produced for a declared net role. A nil loss is
// kept as a placeholder and never backpropagated.
func (r *Routine) AddLoss(net string, loss Loss) error {
	if !r.Roles.HasNet(net) {
		return fmt.Errorf("stage: routine %s has no net role %s", r.Name, net)
	}
	for i := range r.losses {
		if r.losses[i].Net == net {
			r.losses[i].Loss = loss
			return nil
		}
	}
	r.losses = append(r.losses, LossEntry{Net: net, Loss: loss})
	return nil
}

// Losses returns the losses recorded during the current step.
func (r *Routine) Losses() []LossEntry {
	out := make([]LossEntry, len(r.losses))
	copy(out, r.losses)
	return out
}

// AddResult records a scalar result for the current step.
func (r *Routine) AddResult(key string, value float64) {
	if r.results == nil {
		r.results = map[string]float64{}
	}
	if _, ok := r.results[key]; !ok {
		r.resultKeys = append(r.resultKeys, key)
	}
	r.results[key] = value
}

// Results returns the scalar results of the current step.
func (r *Routine) Results() map[string]float64 {
	out := make(map[string]float64, len(r.results))
	for k, v := range r.results {
		out[k] = v
	}
	return out
}

// ResultKeys returns result keys in the order they were first recorded.
func (r *Routine) ResultKeys() []string {
	return cloneStrings(r.resultKeys)
}

// MarkTrained adds net to the run-wide trained set. It never removes entries.
func (r *Routine) MarkTrained(net string) {
	if r.trainedSeen == nil {
		r.trainedSeen = map[string]struct{}{}
	}
	if _, ok := r.trainedSeen[net]; ok {
		return
	}
	r.trainedSeen[net] = struct{}{}
	r.trained = append(r.trained, net)
}

// Trained returns the net roles this routine trains, starting from the
// declared Trains roles and growing with every non-nil loss.
func (r *Routine) Trained() []string {
	return cloneStrings(r.trained)
}

// CheckBindings verifies that every explicit alias target exists in its
// canonical namespace.
func (r *Routine) CheckBindings() error {
	if !r.Attached() {
		return fmt.Errorf("stage: routine %s is not attached", r.Name)
	}
	for _, view := range []struct {
		label string
		alias *namespace.Alias
	}{{"nets", r.Nets}, {"vars", r.Vars}, {"kwargs", r.Kwargs}} {
		for _, local := range view.alias.AliasNames() {
			if !view.alias.Contains(local) {
				return fmt.Errorf("stage: routine %s %s alias %s -> %s: %w",
					r.Name, view.label, local, view.alias.Resolve(local), namespace.ErrKeyNotFound)
			}
		}
	}
	return nil
}

// Perform invokes the entry point with kw and captures its outputs.
func (r *Routine) Perform(kw Kwargs) (Outputs, error) {
	if r.Func == nil {
		return nil, fmt.Errorf("stage: routine %s has no entry point", r.Name)
	}
	out, err := r.Func(r, kw)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = Outputs{}
	}
	r.Outputs = out
	return out, nil
}
