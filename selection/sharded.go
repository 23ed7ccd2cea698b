package selection

import (
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"

	apperrors "github.com/kbukum/plugkit/errors"
	"github.com/kbukum/plugkit/registry"
)

// KeyExtractor derives the shard key from a selection request.
type KeyExtractor func(req Request) string

// DefaultKeyExtractor reads the explicit shard key, falling back to the
// event name's segment before the first dot.
func DefaultKeyExtractor(req Request) string {
	if key := strings.TrimSpace(req.Meta(MetaShardKey)); key != "" {
		return key
	}
	event := strings.TrimSpace(req.Meta(MetaEventName))
	if event == "" {
		return ""
	}
	if i := strings.IndexByte(event, '.'); i >= 0 {
		return event[:i]
	}
	return event
}

// Sharded routes each shard key to one provider. An explicit shard map wins
// when it names a live candidate; every other key lands on a provider via
// rendezvous hashing, so adding or removing one provider only moves the
// keys that hashed to it.
type Sharded struct {
	shardMap map[string]string
	extract  KeyExtractor
}

// NewSharded creates a sharded strategy. shardMap maps shard keys to
// provider ids and may be nil; a nil extract uses DefaultKeyExtractor.
func NewSharded(shardMap map[string]string, extract KeyExtractor) *Sharded {
	m := make(map[string]string, len(shardMap))
	for k, v := range shardMap {
		m[k] = v
	}
	if extract == nil {
		extract = DefaultKeyExtractor
	}
	return &Sharded{shardMap: m, extract: extract}
}

func (s *Sharded) Kind() Kind      { return KindSharded }
func (s *Sharded) Cacheable() bool { return true }

func (s *Sharded) Select(req Request, candidates []*registry.Registration) ([]*registry.Registration, error) {
	if len(candidates) == 0 {
		return nil, noCandidates(req.Contract)
	}

	key := s.extract(req)
	if key == "" {
		return nil, apperrors.MissingArgument("shard key")
	}

	// One registration per provider id; the earlier registration wins when
	// a provider appears twice during a swap.
	byID := make(map[string]*registry.Registration, len(candidates))
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		id := c.ProviderID()
		if prev, ok := byID[id]; ok {
			if c.Capabilities().RegisteredAt().Before(prev.Capabilities().RegisteredAt()) {
				byID[id] = c
			}
			continue
		}
		byID[id] = c
		ids = append(ids, id)
	}

	if pinned, ok := s.shardMap[key]; ok {
		if reg, live := byID[pinned]; live {
			return []*registry.Registration{reg}, nil
		}
	}

	ring := rendezvous.New(ids, xxhash.Sum64String)
	return []*registry.Registration{byID[ring.Lookup(key)]}, nil
}
