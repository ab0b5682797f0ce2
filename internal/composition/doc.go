// Package composition assembles build and routine stages into a model
// composition. The composition owns the canonical kwargs, nets, vars and
// help namespaces; every attached stage reads and writes them through its
// own alias view.
package composition
