// Package stage defines the runtime instances of build and routine plugins
// together with the contracts they share with the scheduler: resources and
// their parameters, losses, detachable values and wired inputs.
//
// Instances are created from plugin descriptors and only become usable once a
// model composition attaches them, which binds their kwargs, nets, vars and
// help accessors to the composition's canonical namespaces.
package stage
