// Package launcher implements the application lifecycle coordinator.
//
// The coordinator receives start requests, consults the registry for the
// application's current status and activation method, and either
// deduplicates the request, re-activates a running application, or
// delegates to exactly one activation backend. Backend started/terminated
// events are republished unchanged to registered subscribers.
//
// Single-instance semantics: a start request for an application that is
// not Inactive never reaches a backend, so at most one process, bus
// activation or unit exists per application at any time.
package launcher
