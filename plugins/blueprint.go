package plugins

import (
	"fmt"
	"strings"

	"github.com/kingrea/cortex/internal/plugin"
	"github.com/kingrea/cortex/internal/stage"
)

// Blueprint describes a model plugin assembled from registered build and
// routine plugins. It mirrors the on-disk schema of blueprint YAML files.
type Blueprint struct {
	Name        string                    `json:"name" yaml:"name"`
	Description string                    `json:"description,omitempty" yaml:"description,omitempty"`
	Builds      []StageBinding            `json:"builds,omitempty" yaml:"builds,omitempty"`
	Routines    []StageBinding            `json:"routines" yaml:"routines"`
	Train       []ProcedureDefinition     `json:"train" yaml:"train"`
	Eval        []ProcedureDefinition     `json:"eval,omitempty" yaml:"eval,omitempty"`
	Defaults    map[string]map[string]any `json:"defaults,omitempty" yaml:"defaults,omitempty"`
}

// StageBinding instantiates one registered plugin inside a blueprint.
type StageBinding struct {
	Key     string                    `json:"key,omitempty" yaml:"key,omitempty"`
	Plugin  string                    `json:"plugin" yaml:"plugin"`
	Name    string                    `json:"name,omitempty" yaml:"name,omitempty"`
	Aliases map[string]string         `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Inputs  map[string]stage.InputRef `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// ProcedureDefinition is a named list of routine steps.
type ProcedureDefinition struct {
	Name  string       `json:"name" yaml:"name"`
	Steps []stage.Step `json:"steps" yaml:"steps"`
}

// Normalized returns a trimmed copy of the blueprint.
func (bp Blueprint) Normalized() Blueprint {
	clone := Blueprint{
		Name:        strings.TrimSpace(bp.Name),
		Description: strings.TrimSpace(bp.Description),
	}
	for _, b := range bp.Builds {
		clone.Builds = append(clone.Builds, b.normalized())
	}
	for _, r := range bp.Routines {
		clone.Routines = append(clone.Routines, r.normalized())
	}
	for _, p := range bp.Train {
		clone.Train = append(clone.Train, p.normalized())
	}
	for _, p := range bp.Eval {
		clone.Eval = append(clone.Eval, p.normalized())
	}
	if len(bp.Defaults) > 0 {
		clone.Defaults = make(map[string]map[string]any, len(bp.Defaults))
		for section, values := range bp.Defaults {
			trimmed := strings.TrimSpace(section)
			if trimmed == "" {
				continue
			}
			clone.Defaults[trimmed] = values
		}
	}
	return clone
}

// Validate checks the blueprint's structure. Plugin references are resolved
// when the blueprint is composed.
func (bp Blueprint) Validate() error {
	normalized := bp.Normalized()
	if normalized.Name == "" {
		return fmt.Errorf("blueprint: name is required")
	}
	if len(normalized.Routines) == 0 {
		return fmt.Errorf("blueprint %s: at least one routine is required", normalized.Name)
	}
	if len(normalized.Train) == 0 {
		return fmt.Errorf("blueprint %s: at least one train procedure is required", normalized.Name)
	}
	if err := validateBindings("builds", normalized.Builds); err != nil {
		return fmt.Errorf("blueprint %s: %w", normalized.Name, err)
	}
	if err := validateBindings("routines", normalized.Routines); err != nil {
		return fmt.Errorf("blueprint %s: %w", normalized.Name, err)
	}
	for _, group := range []struct {
		label string
		procs []ProcedureDefinition
	}{{"train", normalized.Train}, {"eval", normalized.Eval}} {
		for idx, p := range group.procs {
			if len(p.Steps) == 0 {
				return fmt.Errorf("blueprint %s: %s[%d]: at least one step is required", normalized.Name, group.label, idx)
			}
			for _, step := range p.Steps {
				if step.Routine == "" {
					return fmt.Errorf("blueprint %s: %s[%d]: step routine is required", normalized.Name, group.label, idx)
				}
				if step.Repeat < 0 {
					return fmt.Errorf("blueprint %s: %s[%d]: negative repeat for %s", normalized.Name, group.label, idx, step.Routine)
				}
			}
		}
	}
	return nil
}

// Descriptor turns the blueprint into a model plugin descriptor.
func (bp Blueprint) Descriptor() plugin.Descriptor {
	normalized := bp.Normalized()
	return plugin.Descriptor{
		Name:        normalized.Name,
		Description: normalized.Description,
		Compose:     normalized.compose,
	}
}

// compose resolves plugins by name in any kind; a plugin bound in the wrong
// section is reported by the composition check.
func (bp Blueprint) compose(reg *plugin.Registry, c plugin.Composer) error {
	for _, binding := range bp.Builds {
		desc, err := reg.Find(binding.Plugin)
		if err != nil {
			return fmt.Errorf("build %s: %w", binding.key(), err)
		}
		if err := c.AttachBuild(binding.key(), desc.NewBuild(binding.Aliases)); err != nil {
			return err
		}
	}
	for _, binding := range bp.Routines {
		desc, err := reg.Find(binding.Plugin)
		if err != nil {
			return fmt.Errorf("routine %s: %w", binding.key(), err)
		}
		r := desc.NewRoutine(binding.instanceName(), binding.Aliases, binding.Inputs)
		if err := c.AttachRoutine(binding.key(), r); err != nil {
			return err
		}
	}
	for _, p := range bp.Train {
		c.AddTrainProcedure(p.Name, p.Steps...)
	}
	for _, p := range bp.Eval {
		c.AddEvalProcedure(p.Name, p.Steps...)
	}
	for section, values := range bp.Defaults {
		c.SetDefaults(section, values)
	}
	return nil
}

func (b StageBinding) normalized() StageBinding {
	clone := StageBinding{
		Key:    strings.TrimSpace(b.Key),
		Plugin: strings.TrimSpace(b.Plugin),
		Name:   strings.TrimSpace(b.Name),
	}
	if len(b.Aliases) > 0 {
		clone.Aliases = make(map[string]string, len(b.Aliases))
		for local, canonical := range b.Aliases {
			trimmed := strings.TrimSpace(local)
			if trimmed == "" {
				continue
			}
			clone.Aliases[trimmed] = strings.TrimSpace(canonical)
		}
	}
	if len(b.Inputs) > 0 {
		clone.Inputs = make(map[string]stage.InputRef, len(b.Inputs))
		for input, ref := range b.Inputs {
			clone.Inputs[strings.TrimSpace(input)] = ref
		}
	}
	return clone
}

func (b StageBinding) instanceName() string {
	if b.Name != "" {
		return b.Name
	}
	return b.Plugin
}

func (b StageBinding) key() string {
	if b.Key != "" {
		return b.Key
	}
	return b.instanceName()
}

func (p ProcedureDefinition) normalized() ProcedureDefinition {
	clone := ProcedureDefinition{Name: strings.TrimSpace(p.Name)}
	for _, step := range p.Steps {
		step.Routine = strings.TrimSpace(step.Routine)
		clone.Steps = append(clone.Steps, step)
	}
	if clone.Name == "" {
		clone.Name = "main"
	}
	return clone
}

func validateBindings(label string, bindings []StageBinding) error {
	seen := make(map[string]struct{}, len(bindings))
	for idx, binding := range bindings {
		if binding.Plugin == "" {
			return fmt.Errorf("%s[%d]: plugin is required", label, idx)
		}
		key := binding.key()
		if _, exists := seen[key]; exists {
			return fmt.Errorf("%s[%d]: duplicate key %s", label, idx, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}
