package composition

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kingrea/cortex/internal/plugin"
	"github.com/kingrea/cortex/internal/stage"
)

var _ plugin.Composer = (*Composition)(nil)

// Compose assembles the model plugin registered under name and checks it.
func Compose(reg *plugin.Registry, name string, logger zerolog.Logger) (*Composition, error) {
	desc, err := reg.Lookup(stage.KindModel, name)
	if err != nil {
		return nil, err
	}
	c := New(name, WithLogger(logger))
	if err := desc.Compose(reg, c); err != nil {
		return nil, fmt.Errorf("composition: compose %s: %w", name, err)
	}
	if err := c.Check(); err != nil {
		return nil, err
	}
	return c, nil
}

// Discover composes every registered model plugin. A model that fails to
// compose or check is dropped with a warning; the others are kept.
func Discover(reg *plugin.Registry, logger zerolog.Logger) map[string]*Composition {
	found := map[string]*Composition{}
	for _, name := range reg.Names(stage.KindModel) {
		c, err := Compose(reg, name, logger)
		if err != nil {
			logger.Warn().Err(err).Str("model", name).Msg("model checks failed; dropping")
			continue
		}
		found[name] = c
	}
	return found
}
