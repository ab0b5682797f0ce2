package composition

import (
	"github.com/kingrea/cortex/internal/stage"
)

// Procedure is an ordered schedule of routine steps.
type Procedure struct {
	Name  string
	Steps []stage.Step
}

// Clone returns a deep copy of the procedure.
func (p Procedure) Clone() Procedure {
	return Procedure{Name: p.Name, Steps: append([]stage.Step(nil), p.Steps...)}
}

// AddTrainProcedure appends a training procedure.
func (c *Composition) AddTrainProcedure(name string, steps ...stage.Step) {
	c.train = append(c.train, Procedure{Name: name, Steps: append([]stage.Step(nil), steps...)})
}

// AddEvalProcedure appends an evaluation procedure. Compositions without
// evaluation procedures evaluate with their training procedures.
func (c *Composition) AddEvalProcedure(name string, steps ...stage.Step) {
	c.eval = append(c.eval, Procedure{Name: name, Steps: append([]stage.Step(nil), steps...)})
}

// Procedures returns the procedures used in train or eval mode.
func (c *Composition) Procedures(train bool) []Procedure {
	source := c.train
	if !train && len(c.eval) > 0 {
		source = c.eval
	}
	out := make([]Procedure, len(source))
	for i, p := range source {
		out[i] = p.Clone()
	}
	return out
}

// Procedure returns the i-th procedure for the mode.
func (c *Composition) Procedure(i int, train bool) (Procedure, bool) {
	source := c.train
	if !train && len(c.eval) > 0 {
		source = c.eval
	}
	if i < 0 || i >= len(source) {
		return Procedure{}, false
	}
	return source[i].Clone(), true
}
