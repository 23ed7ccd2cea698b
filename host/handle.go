package host

import (
	"time"

	"github.com/kbukum/plugkit/contract"
	"github.com/kbukum/plugkit/loader"
	"github.com/kbukum/plugkit/manifest"
	"github.com/kbukum/plugkit/registry"
)

// Handle is a host's record of one loaded plugin. It is owned by exactly
// one host; all fields are guarded by the owning host's mutex and external
// reads go through HandleView snapshots.
type Handle struct {
	id         string
	descriptor *manifest.Descriptor
	ld         loader.Loader
	grace      time.Duration

	state State
	err   error
	entry contract.EntryPoint
	specs []contract.ProviderSpec
	regs  []*registry.Registration

	loadedAt      time.Time
	activatedAt   time.Time
	deactivatedAt time.Time
	quiescedAt    time.Time
	// deadline is when a quiescing handle becomes eligible for release.
	deadline time.Time
}

// HandleView is a point-in-time snapshot of a handle.
type HandleView struct {
	ID              string
	Name            string
	Version         string
	ContractVersion string
	State           State
	// Err is the last recorded lifecycle error, nil unless State is
	// StateFailed or a release failed during teardown.
	Err error
	// Providers lists the provider ids currently registered for the
	// plugin.
	Providers []string

	LoadedAt      time.Time
	ActivatedAt   time.Time
	DeactivatedAt time.Time
	QuiescedAt    time.Time
}

// snapshot copies the handle's observable state. Caller holds the owning
// host's mutex.
func (hd *Handle) snapshot() HandleView {
	v := HandleView{
		ID:              hd.id,
		Name:            hd.descriptor.Name,
		Version:         hd.descriptor.Version,
		ContractVersion: hd.descriptor.ContractVersion,
		State:           hd.state,
		Err:             hd.err,
		LoadedAt:        hd.loadedAt,
		ActivatedAt:     hd.activatedAt,
		DeactivatedAt:   hd.deactivatedAt,
		QuiescedAt:      hd.quiescedAt,
	}
	if len(hd.regs) > 0 {
		v.Providers = make([]string, 0, len(hd.regs))
		for _, reg := range hd.regs {
			v.Providers = append(v.Providers, reg.Capabilities().ProviderID())
		}
	}
	return v
}
