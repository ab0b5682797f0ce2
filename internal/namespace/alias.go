package namespace

import (
	"fmt"
	"sort"
)

// Alias is a per-instance view over a canonical Map. Names without an alias
// are treated as already canonical.
type Alias struct {
	base    *Map
	aliases map[string]string
}

// NewAlias wraps base with an empty alias table.
func NewAlias(base *Map) *Alias {
	if base == nil {
		base = NewMap()
	}
	return &Alias{base: base, aliases: map[string]string{}}
}

// Base returns the canonical map shared by this view.
func (a *Alias) Base() *Map {
	return a.base
}

// SetAlias redirects local to canonical for every subsequent access.
func (a *Alias) SetAlias(local, canonical string) {
	if local == "" || canonical == "" {
		return
	}
	a.aliases[local] = canonical
}

// Resolve returns the canonical name for local.
func (a *Alias) Resolve(local string) string {
	if canonical, ok := a.aliases[local]; ok {
		return canonical
	}
	return local
}

// IsAliased reports whether local has an explicit redirection.
func (a *Alias) IsAliased(local string) bool {
	_, ok := a.aliases[local]
	return ok
}

// Get returns the canonical value for local.
func (a *Alias) Get(local string) (any, error) {
	canonical := a.Resolve(local)
	v, ok := a.base.Get(canonical)
	if !ok {
		if canonical != local {
			return nil, fmt.Errorf("%w: %s (alias of %s)", ErrKeyNotFound, canonical, local)
		}
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, canonical)
	}
	return v, nil
}

// Set writes value under the canonical name for local.
func (a *Alias) Set(local string, value any) {
	a.base.Set(a.Resolve(local), value)
}

// Contains reports whether local resolves to a present canonical entry.
func (a *Alias) Contains(local string) bool {
	return a.base.Has(a.Resolve(local))
}

// Keys returns the canonical keys in order, rewritten to the local alias
// when one points at them.
func (a *Alias) Keys() []string {
	reverse := make(map[string]string, len(a.aliases))
	for local, canonical := range a.aliases {
		if existing, ok := reverse[canonical]; ok && existing < local {
			continue
		}
		reverse[canonical] = local
	}
	keys := a.base.Keys()
	for i, k := range keys {
		if local, ok := reverse[k]; ok {
			keys[i] = local
		}
	}
	return keys
}

// Aliases returns a copy of the local -> canonical table.
func (a *Alias) Aliases() map[string]string {
	out := make(map[string]string, len(a.aliases))
	for k, v := range a.aliases {
		out[k] = v
	}
	return out
}

// AliasNames returns the local names with an explicit alias, sorted.
func (a *Alias) AliasNames() []string {
	names := make([]string, 0, len(a.aliases))
	for k := range a.aliases {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
