// Package results accumulates per-step scalar results into ordered histories
// and persists finished runs.
package results

import (
	"fmt"
	"sort"
	"sync"
)

// Snapshot is a point-in-time copy of an accumulator.
type Snapshot struct {
	Values map[string][]float64            `json:"values"`
	Groups map[string]map[string][]float64 `json:"groups,omitempty"`
}

// Accumulator maps result keys to ordered histories. One level of named
// groups (for example "losses" and "time") is kept alongside the top-level
// keys. Readers may run concurrently with a single writer.
type Accumulator struct {
	mu     sync.RWMutex
	values *series
	groups map[string]*series
	order  []string
}

type series struct {
	keys    []string
	history map[string][]float64
}

func newSeries() *series {
	return &series{history: map[string][]float64{}}
}

func (s *series) append(key string, v float64) {
	if _, ok := s.history[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.history[key] = append(s.history[key], v)
}

func (s *series) copy() map[string][]float64 {
	out := make(map[string][]float64, len(s.history))
	for k, v := range s.history {
		out[k] = append([]float64(nil), v...)
	}
	return out
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{values: newSeries(), groups: map[string]*series{}}
}

// Append adds v to the history of key.
func (a *Accumulator) Append(key string, v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values.append(key, v)
}

// UpdateGroup appends every value of values to the histories of group.
func (a *Accumulator) UpdateGroup(group string, values map[string]float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	g := a.group(group)
	for _, k := range sortedFloatKeys(values) {
		g.append(k, values[k])
	}
}

// Update appends each scalar in values to its key's history. A nested map
// is merged into the group of the same name.
func (a *Accumulator) Update(values map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := values[k].(type) {
		case map[string]float64:
			g := a.group(k)
			for _, sub := range sortedFloatKeys(v) {
				g.append(sub, v[sub])
			}
		case map[string]any:
			g := a.group(k)
			subs := make([]string, 0, len(v))
			for sub := range v {
				subs = append(subs, sub)
			}
			sort.Strings(subs)
			for _, sub := range subs {
				f, err := scalar(v[sub])
				if err != nil {
					return fmt.Errorf("results: %s.%s: %w", k, sub, err)
				}
				g.append(sub, f)
			}
		default:
			f, err := scalar(v)
			if err != nil {
				return fmt.Errorf("results: %s: %w", k, err)
			}
			a.values.append(k, f)
		}
	}
	return nil
}

func (a *Accumulator) group(name string) *series {
	g, ok := a.groups[name]
	if !ok {
		g = newSeries()
		a.groups[name] = g
		a.order = append(a.order, name)
	}
	return g
}

// History returns a copy of the top-level history of key.
func (a *Accumulator) History(key string) []float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]float64(nil), a.values.history[key]...)
}

// Last returns the most recent value recorded under key.
func (a *Accumulator) Last(key string) (float64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	h := a.values.history[key]
	if len(h) == 0 {
		return 0, false
	}
	return h[len(h)-1], true
}

// Group returns a copy of every history in group.
func (a *Accumulator) Group(name string) map[string][]float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	g, ok := a.groups[name]
	if !ok {
		return map[string][]float64{}
	}
	return g.copy()
}

// Keys returns the top-level keys in first-seen order.
func (a *Accumulator) Keys() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.values.keys...)
}

// Groups returns group names in first-seen order.
func (a *Accumulator) Groups() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.order...)
}

// Snapshot copies the whole accumulator.
func (a *Accumulator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	snap := Snapshot{Values: a.values.copy()}
	if len(a.groups) > 0 {
		snap.Groups = make(map[string]map[string][]float64, len(a.groups))
		for name, g := range a.groups {
			snap.Groups[name] = g.copy()
		}
	}
	return snap
}

// Clear drops every history and group.
func (a *Accumulator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values = newSeries()
	a.groups = map[string]*series{}
	a.order = nil
}

func scalar(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case interface{ Item() float64 }:
		return n.Item(), nil
	default:
		return 0, fmt.Errorf("unsupported result value %T", v)
	}
}

func sortedFloatKeys(values map[string]float64) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
