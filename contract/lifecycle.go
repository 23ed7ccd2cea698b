package contract

import "context"

// Quiescer is optionally implemented by entry points and providers that
// support graceful drain: stop accepting new work, let in-flight work
// finish. Hosts call it before unregistering during deactivation and
// soft-swap.
type Quiescer interface {
	Quiesce(ctx context.Context) error
}

// StatePayload is the opaque, versioned state handed from an outgoing
// provider to its replacement during a swap.
type StatePayload struct {
	Version int
	Data    []byte
}

// StateExporter is optionally implemented by providers whose state should
// survive a swap.
type StateExporter interface {
	ExportState(ctx context.Context) (StatePayload, error)
}

// StateImporter is optionally implemented by replacement providers that
// can absorb an exported payload.
type StateImporter interface {
	ImportState(ctx context.Context, payload StatePayload) error
}
