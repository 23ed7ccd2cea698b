package loader

import (
	"github.com/kbukum/plugkit/capability"
)

// ProtocolVersion is the module protocol spoken over stdin/stdout. The
// host rejects modules announcing a different version.
const ProtocolVersion = 1

// Protocol operations. Each request line names one.
const (
	OpNew         = "new"
	OpProviders   = "providers"
	OpInvoke      = "invoke"
	OpQuiesce     = "quiesce"
	OpStateExport = "state-export"
	OpStateImport = "state-import"
	OpShutdown    = "shutdown"
)

// Optional provider capabilities a module announces per provider, so the
// host can skip operations the provider does not support.
const (
	CapQuiesce     = "quiesce"
	CapStateExport = "state-export"
	CapStateImport = "state-import"
)

// Hello is the first line a module process writes to stdout: its name, the
// protocol version it speaks, and the entry types it can instantiate.
type Hello struct {
	Module   string   `json:"module"`
	Protocol int      `json:"protocol"`
	Entries  []string `json:"entries,omitempty"`
}

// Request is one host-to-module protocol line.
type Request struct {
	ID uint64 `json:"id"`
	Op string `json:"op"`
	// Type names the entry type for "new".
	Type string `json:"type,omitempty"`
	// Instance targets a previously created instance.
	Instance string `json:"instance,omitempty"`
	// Method names the service method for "invoke".
	Method string `json:"method,omitempty"`
	// Args carries instantiation arguments for "new".
	Args map[string]any `json:"args,omitempty"`
	// Payload carries the opaque body for "invoke" and "state-import".
	Payload []byte `json:"payload,omitempty"`
	// StateVersion versions the payload for "state-import".
	StateVersion int `json:"stateVersion,omitempty"`
	// Deadline is the caller's deadline in Unix milliseconds, zero when
	// unbounded.
	Deadline int64 `json:"deadline,omitempty"`
}

// Response is one module-to-host protocol line, correlated by request id.
type Response struct {
	ID    uint64 `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	// Code carries the platform error code of a failure, so typed errors
	// survive the process boundary.
	Code string `json:"code,omitempty"`
	// Instance is the id of the instance created by "new".
	Instance string `json:"instance,omitempty"`
	// Providers answers "providers".
	Providers []WireProvider `json:"providers,omitempty"`
	// Payload carries the result body for "invoke" and "state-export".
	Payload []byte `json:"payload,omitempty"`
	// StateVersion versions the payload for "state-export".
	StateVersion int `json:"stateVersion,omitempty"`
}

// WireProvider describes one provider exposed by an entry instance.
type WireProvider struct {
	Instance     string           `json:"instance"`
	Contract     string           `json:"contract"`
	Capabilities WireCapabilities `json:"capabilities"`
	// Capable lists the optional operations the provider supports.
	Capable []string `json:"capable,omitempty"`
}

// WireCapabilities flattens capability metadata for transport. The
// registration timestamp is deliberately absent: it is assigned host-side
// at registration.
type WireCapabilities struct {
	ProviderID string            `json:"providerId"`
	Platform   string            `json:"platform,omitempty"`
	Priority   string            `json:"priority,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// FlattenCapabilities converts capability metadata to wire form.
func FlattenCapabilities(caps capability.Capabilities) WireCapabilities {
	return WireCapabilities{
		ProviderID: caps.ProviderID(),
		Platform:   caps.Platform(),
		Priority:   caps.Priority().String(),
		Tags:       caps.Tags(),
		Metadata:   caps.Metadata(),
	}
}

// Capabilities rebuilds capability metadata from wire form.
func (w WireCapabilities) Capabilities() (capability.Capabilities, error) {
	caps, err := capability.New(w.ProviderID)
	if err != nil {
		return capability.Capabilities{}, err
	}
	return caps.
		WithPlatform(w.Platform).
		WithPriority(capability.ParsePriority(w.Priority)).
		WithTags(w.Tags...).
		WithMetadata(w.Metadata), nil
}
