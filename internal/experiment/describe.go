package experiment

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rs/zerolog"

	"github.com/kingrea/cortex/internal/composition"
	"github.com/kingrea/cortex/internal/plugin"
)

// Kwarg is one canonical model argument with its default and help text.
type Kwarg struct {
	Name    string
	Default any
	Help    string
}

// Describe composes the model plugin name and lists its canonical kwargs in
// collection order.
func Describe(reg *plugin.Registry, name string, logger zerolog.Logger) ([]Kwarg, error) {
	comp, err := composition.Compose(reg, name, logger)
	if err != nil {
		return nil, err
	}
	comp.CollectKwargs()
	comp.CollectHelp()
	help := comp.HelpMap()
	out := make([]Kwarg, 0, comp.Kwargs.Len())
	for _, key := range comp.Kwargs.Keys() {
		v, _ := comp.Kwargs.Get(key)
		out = append(out, Kwarg{Name: key, Default: v, Help: help[key]})
	}
	// Params with help but no default still belong in the listing.
	for _, key := range comp.Help.Keys() {
		if !comp.Kwargs.Has(key) {
			out = append(out, Kwarg{Name: key, Help: help[key]})
		}
	}
	return out, nil
}

// WriteKwargs prints kwargs as an aligned table.
func WriteKwargs(w io.Writer, kwargs []Kwarg) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KWARG\tDEFAULT\tHELP")
	for _, k := range kwargs {
		def := "(required)"
		if k.Default != nil {
			def = fmt.Sprint(k.Default)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", k.Name, def, k.Help)
	}
	return tw.Flush()
}
