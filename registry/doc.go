// Package registry implements the concurrent service registry: provider
// registrations keyed by contract type, with synchronous, in-order change
// events.
//
// Registrations are immutable snapshots owned exclusively by the registry.
// Updates are always remove+add, never in-place edits. Subscribers (the
// selection cache among them) are notified before the mutating call
// returns, so no caller that observed a successful mutation can be served
// a selection computed before it.
package registry
