package scheduler

import (
	"fmt"
	"sort"
	"strings"
)

const dataPrefix = "data."

// ValuePool holds the values available to routines during one step, keyed
// "<source>.<field>".
type ValuePool struct {
	values map[string]any
}

// NewValuePool returns an empty pool.
func NewValuePool() *ValuePool {
	return &ValuePool{values: map[string]any{}}
}

// Get returns the value stored under key.
func (p *ValuePool) Get(key string) (any, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Set stores v under key. A key may be written once per step.
func (p *ValuePool) Set(key string, v any) error {
	if _, exists := p.values[key]; exists {
		return fmt.Errorf("%w: %s already in inputs; use a different name", ErrDuplicateOutputKey, key)
	}
	p.values[key] = v
	return nil
}

// SeedData replaces every "data.*" entry with the fields of batch. Other
// entries are kept.
func (p *ValuePool) SeedData(batch map[string]any) {
	for key := range p.values {
		if strings.HasPrefix(key, dataPrefix) {
			delete(p.values, key)
		}
	}
	for field, v := range batch {
		p.values[dataPrefix+field] = v
	}
}

// Keys returns the stored keys, sorted.
func (p *ValuePool) Keys() []string {
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored values.
func (p *ValuePool) Len() int { return len(p.values) }
