// Package scheduler executes procedures over a model composition. One call
// to RunProcedure is one step: fetch a batch, run every scheduled routine in
// order with its wired inputs, drive gradients and optimizers in training
// mode, and merge routine results into the composition's accumulator.
//
// A Scheduler is not safe for concurrent use.
package scheduler
