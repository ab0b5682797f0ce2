package composition

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/kingrea/cortex/internal/namespace"
	"github.com/kingrea/cortex/internal/stage"
)

// Unpacked holds kwargs routed to each stage, keyed by the stage's local
// parameter names.
type Unpacked struct {
	Builds   map[string]stage.Kwargs
	Routines map[string]stage.Kwargs
}

// CollectKwargs merges every stage's declared defaults into the canonical
// kwargs table, builds first. A conflicting default keeps the value seen
// first.
func (c *Composition) CollectKwargs() {
	for _, key := range c.buildKeys {
		b := c.builds[key]
		c.mergeFirst("kwarg", key, b.Kwargs, b.Roles.Params, b.Defaults)
	}
	for _, key := range c.routineKeys {
		r := c.routines[key]
		c.mergeFirst("kwarg", key, r.Kwargs, r.Roles.Params, r.Defaults)
	}
}

// CollectHelp merges every stage's parameter help into the canonical help
// table with the same keep-first rule as CollectKwargs.
func (c *Composition) CollectHelp() {
	for _, key := range c.buildKeys {
		b := c.builds[key]
		c.mergeFirst("help", key, b.Help, b.Roles.Params, helpKwargs(b.ParamHelp))
	}
	for _, key := range c.routineKeys {
		r := c.routines[key]
		c.mergeFirst("help", key, r.Help, r.Roles.Params, helpKwargs(r.ParamHelp))
	}
}

func (c *Composition) mergeFirst(label, stageKey string, view *namespace.Alias, params []string, values stage.Kwargs) {
	for _, local := range params {
		v, ok := values[local]
		if !ok {
			continue
		}
		if existing, err := view.Get(local); err == nil {
			if !reflect.DeepEqual(existing, v) {
				c.logger.Warn().
					Str("stage", stageKey).
					Str(label, view.Resolve(local)).
					Interface("kept", existing).
					Interface("ignored", v).
					Msg("multiple default values found; keeping the first")
			}
			continue
		}
		view.Set(local, v)
	}
}

func helpKwargs(help map[string]string) stage.Kwargs {
	out := make(stage.Kwargs, len(help))
	for k, v := range help {
		out[k] = v
	}
	return out
}

// SetArgs writes flat overrides into the canonical kwargs table.
func (c *Composition) SetArgs(flat map[string]any) {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c.Kwargs.Set(k, flat[k])
	}
}

// KwargsMap returns the canonical kwargs as a flat map.
func (c *Composition) KwargsMap() map[string]any {
	return flatten(c.Kwargs)
}

// NetsMap returns the canonical resources as a flat map.
func (c *Composition) NetsMap() map[string]any {
	return flatten(c.Nets)
}

// HelpMap returns the canonical help text as a flat map.
func (c *Composition) HelpMap() map[string]string {
	out := map[string]string{}
	c.Help.Range(func(k string, v any) bool {
		out[k] = fmt.Sprint(v)
		return true
	})
	return out
}

// UnpackArgs routes canonical keys of flat to every stage that declares
// them. A key declared by several stages reaches all of them.
func (c *Composition) UnpackArgs(flat map[string]any) Unpacked {
	out := Unpacked{Builds: map[string]stage.Kwargs{}, Routines: map[string]stage.Kwargs{}}
	for _, key := range c.buildKeys {
		b := c.builds[key]
		if kw := route(flat, b.Kwargs, b.Roles.Params); len(kw) > 0 {
			out.Builds[key] = kw
		}
	}
	for _, key := range c.routineKeys {
		r := c.routines[key]
		if kw := route(flat, r.Kwargs, r.Roles.Params); len(kw) > 0 {
			out.Routines[key] = kw
		}
	}
	return out
}

func route(flat map[string]any, view *namespace.Alias, params []string) stage.Kwargs {
	kw := stage.Kwargs{}
	for _, local := range params {
		if v, ok := flat[view.Resolve(local)]; ok {
			kw[local] = v
		}
	}
	return kw
}

// BuildResources invokes every build in attach order. Each build receives
// its unpacked kwargs, completed from the canonical table for declared
// parameters the flat arguments did not carry.
func (c *Composition) BuildResources(args Unpacked) error {
	for _, key := range c.buildKeys {
		b := c.builds[key]
		kw := stage.Kwargs{}
		for k, v := range args.Builds[key] {
			kw[k] = v
		}
		for _, local := range b.Roles.Params {
			if _, ok := kw[local]; ok {
				continue
			}
			if v, err := b.Kwargs.Get(local); err == nil {
				kw[local] = v
			}
		}
		c.logger.Debug().Str("build", key).Interface("args", map[string]any(kw)).Msg("build args")
		if err := b.Run(kw); err != nil {
			return fmt.Errorf("composition: build %s: %w", key, err)
		}
	}
	return nil
}

func flatten(m *namespace.Map) map[string]any {
	out := make(map[string]any, m.Len())
	m.Range(func(k string, v any) bool {
		out[k] = v
		return true
	})
	return out
}
