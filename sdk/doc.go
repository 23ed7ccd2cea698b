// Package sdk is the runtime for subprocess plugins. A plugin's main
// function hands its entry factories to Serve, which announces them to the
// host and then serves the module protocol until shutdown.
//
// Providers exposed by a subprocess plugin must implement
// contract.Service; richer Go interfaces cannot cross the process
// boundary. The optional quiesce and state-transfer interfaces are
// detected per provider and announced to the host, which skips operations
// a provider does not support.
//
// Stdout belongs to the protocol. The sdk logs to stderr, and so should
// the plugin.
package sdk
