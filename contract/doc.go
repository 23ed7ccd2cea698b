// Package contract holds the shared types that cross the plugin boundary:
// the canonical Service interface, provider specifications, entry-point
// factories, and the optional quiesce/state-transfer capabilities.
//
// Types in this package (and in any module whose import path carries a
// "contracts", "models" or "abstractions" marker) form the host's shared
// namespace: loaders resolve them against the host's own copy and never
// load a second identity for them.
package contract
