// Package builtins registers the reference plugins: a linear resource, a
// regression routine that trains it, a scoring routine and the
// linear_regression model that composes them.
package builtins
