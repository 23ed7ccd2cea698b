package selection

import (
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/kbukum/plugkit/registry"
)

// CacheConfig configures the selection result cache.
type CacheConfig struct {
	// TTL is how long a cached result stays valid.
	TTL time.Duration
	// SweepInterval is how often expired entries are removed in the
	// background. Expired entries are also dropped on read.
	SweepInterval time.Duration
}

// ApplyDefaults fills in default values.
func (c *CacheConfig) ApplyDefaults() {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
}

type cacheEntry struct {
	kind      Kind
	providers []*registry.Registration
	expiresAt time.Time
}

// Cache holds selection results per contract with a TTL. Registry changes
// invalidate a contract's entries through Invalidate; the TTL only bounds
// staleness against invalidation bugs, it is not the consistency mechanism.
type Cache struct {
	config CacheConfig

	mu      sync.RWMutex
	entries map[reflect.Type]map[uint64]cacheEntry

	stop     chan struct{}
	stopOnce sync.Once
}

// NewCache creates a cache and starts its background sweeper.
func NewCache(config CacheConfig) *Cache {
	config.ApplyDefaults()
	c := &Cache{
		config:  config,
		entries: make(map[reflect.Type]map[uint64]cacheEntry),
		stop:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Get returns the cached result for a contract and key. Expired entries are
// removed and reported as a miss.
func (c *Cache) Get(contract reflect.Type, key uint64) (Result, bool) {
	c.mu.RLock()
	entry, ok := c.entries[contract][key]
	c.mu.RUnlock()

	if !ok {
		return Result{}, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		if cur, still := c.entries[contract][key]; still && cur.expiresAt.Equal(entry.expiresAt) {
			delete(c.entries[contract], key)
			if len(c.entries[contract]) == 0 {
				delete(c.entries, contract)
			}
		}
		c.mu.Unlock()
		return Result{}, false
	}

	providers := make([]*registry.Registration, len(entry.providers))
	copy(providers, entry.providers)
	return Result{Kind: entry.kind, Providers: providers, FromCache: true}, true
}

// Put stores a result for a contract and key.
func (c *Cache) Put(contract reflect.Type, key uint64, res Result) {
	providers := make([]*registry.Registration, len(res.Providers))
	copy(providers, res.Providers)

	c.mu.Lock()
	defer c.mu.Unlock()
	perContract, ok := c.entries[contract]
	if !ok {
		perContract = make(map[uint64]cacheEntry)
		c.entries[contract] = perContract
	}
	perContract[key] = cacheEntry{
		kind:      res.Kind,
		providers: providers,
		expiresAt: time.Now().Add(c.config.TTL),
	}
}

// Invalidate removes every entry for a contract.
func (c *Cache) Invalidate(contract reflect.Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, contract)
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[reflect.Type]map[uint64]cacheEntry)
}

// Len returns the number of live entries across all contracts.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, perContract := range c.entries {
		n += len(perContract)
	}
	return n
}

// Close stops the background sweeper.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) sweep() {
	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for contract, perContract := range c.entries {
				for key, entry := range perContract {
					if now.After(entry.expiresAt) {
						delete(perContract, key)
					}
				}
				if len(perContract) == 0 {
					delete(c.entries, contract)
				}
			}
			c.mu.Unlock()
		}
	}
}

// cacheKey digests the selection inputs: the host platform, the candidate
// set, and the call metadata, ids and keys sorted so neither registration
// nor map order can change the digest. Hashing the candidate ids means a
// changed provider set can never hit a stale entry even if an invalidation
// were missed.
func cacheKey(platform string, regs []*registry.Registration, meta map[string]string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(platform)
	_, _ = d.Write([]byte{0})

	ids := make([]string, 0, len(regs))
	for _, reg := range regs {
		ids = append(ids, reg.ProviderID())
	}
	sort.Strings(ids)
	for _, id := range ids {
		_, _ = d.WriteString(id)
		_, _ = d.Write([]byte{0})
	}

	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = d.WriteString(k)
		_, _ = d.Write([]byte{1})
		_, _ = d.WriteString(meta[k])
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}
