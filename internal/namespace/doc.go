// Package namespace implements the two-level namespaces shared by every
// stage attached to a model composition. A Map owns canonical names and
// values; an Alias is a per-instance view that redirects local names to
// canonical ones so independently written stages can be wired to shared
// resources without editing their code.
package namespace
