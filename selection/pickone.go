package selection

import (
	"github.com/cespare/xxhash/v2"

	"github.com/kbukum/plugkit/registry"
)

// PickOne selects the single highest-priority candidate. Ties break on a
// stable hash of the provider id, then on registration time, so the winner
// never depends on registration order.
type PickOne struct{}

// NewPickOne creates a pick-one strategy.
func NewPickOne() *PickOne { return &PickOne{} }

func (p *PickOne) Kind() Kind      { return KindPickOne }
func (p *PickOne) Cacheable() bool { return true }

func (p *PickOne) Select(req Request, candidates []*registry.Registration) ([]*registry.Registration, error) {
	if len(candidates) == 0 {
		return nil, noCandidates(req.Contract)
	}

	best := candidates[0]
	bestHash := xxhash.Sum64String(best.ProviderID())

	for _, c := range candidates[1:] {
		switch {
		case c.Capabilities().Priority() > best.Capabilities().Priority():
			best, bestHash = c, xxhash.Sum64String(c.ProviderID())
		case c.Capabilities().Priority() < best.Capabilities().Priority():
			continue
		default:
			h := xxhash.Sum64String(c.ProviderID())
			if h > bestHash {
				best, bestHash = c, h
				continue
			}
			// Same provider id: the earlier registration wins.
			if h == bestHash && c.Capabilities().RegisteredAt().Before(best.Capabilities().RegisteredAt()) {
				best = c
			}
		}
	}

	return []*registry.Registration{best}, nil
}
