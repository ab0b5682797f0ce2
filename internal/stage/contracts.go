package stage

// Kind enumerates plugin stage kinds.
type Kind string

const (
	KindBuild   Kind = "build"
	KindRoutine Kind = "routine"
	KindModel   Kind = "model"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindBuild, KindRoutine, KindModel:
		return true
	}
	return false
}

// Parameter is a trainable tensor owned by a resource.
type Parameter interface {
	SetRequiresGrad(bool)
	RequiresGrad() bool
}

// Resource is a shared computation module constructed by a build and stored
// in the nets namespace.
type Resource interface {
	Parameters() []Parameter
}

// ModeSetter is implemented by resources that behave differently while
// training and evaluating.
type ModeSetter interface {
	Train()
	Eval()
}

// Loss is a differentiable scalar produced by a routine for one resource.
type Loss interface {
	Backward() error
	Item() float64
}

// Detacher is implemented by values that can hand out a gradient-free
// snapshot of themselves.
type Detacher interface {
	Detach() any
}

// Detach returns the detached form of v when it supports one.
func Detach(v any) any {
	if d, ok := v.(Detacher); ok {
		return d.Detach()
	}
	return v
}

// Outputs maps output names to the values produced by one routine call.
type Outputs map[string]any

// Step schedules one routine inside a procedure.
type Step struct {
	Routine string `json:"routine" yaml:"routine" toml:"routine"`
	Repeat  int    `json:"repeat,omitempty" yaml:"repeat,omitempty" toml:"repeat"`
}

// Times returns the configured repeat count, at least one.
func (s Step) Times() int {
	if s.Repeat <= 0 {
		return 1
	}
	return s.Repeat
}
