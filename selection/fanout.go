package selection

import (
	"github.com/kbukum/plugkit/registry"
)

// FanOut selects every matching candidate in provider-id order. Results are
// never cached; each selection reflects the registry as it stands.
type FanOut struct{}

// NewFanOut creates a fan-out strategy.
func NewFanOut() *FanOut { return &FanOut{} }

func (f *FanOut) Kind() Kind      { return KindFanOut }
func (f *FanOut) Cacheable() bool { return false }

func (f *FanOut) Select(req Request, candidates []*registry.Registration) ([]*registry.Registration, error) {
	if len(candidates) == 0 {
		return nil, noCandidates(req.Contract)
	}
	out := make([]*registry.Registration, len(candidates))
	copy(out, candidates)
	return out, nil
}
