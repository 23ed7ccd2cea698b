package selection

import (
	"reflect"
	"sort"
	"strings"

	apperrors "github.com/kbukum/plugkit/errors"
	"github.com/kbukum/plugkit/registry"
)

// Kind identifies a selection strategy.
type Kind int

const (
	// KindPickOne selects a single provider by priority.
	KindPickOne Kind = iota
	// KindFanOut selects every matching provider.
	KindFanOut
	// KindSharded selects one provider per shard key.
	KindSharded
)

// String returns the strategy name.
func (k Kind) String() string {
	switch k {
	case KindPickOne:
		return "pick_one"
	case KindFanOut:
		return "fan_out"
	case KindSharded:
		return "sharded"
	default:
		return "unknown"
	}
}

// ParseKind parses a strategy name.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pick_one":
		return KindPickOne, nil
	case "fan_out":
		return KindFanOut, nil
	case "sharded":
		return KindSharded, nil
	}
	return KindPickOne, apperrors.InvalidArgument("kind", "unknown selection strategy: "+s)
}

// Metadata keys recognized during selection.
const (
	// MetaRequiredTags lists capability tags a candidate must carry,
	// comma-separated.
	MetaRequiredTags = "requiredTags"
	// MetaShardKey is the explicit shard key for sharded selection.
	MetaShardKey = "shardKey"
	// MetaEventName is an event name whose segment before the first dot
	// serves as the shard key when no explicit key is given.
	MetaEventName = "eventName"
)

// Request carries the inputs of one selection.
type Request struct {
	// Contract is the interface type being selected for.
	Contract reflect.Type
	// Platform is the host platform candidates must match.
	Platform string
	// Metadata carries selection hints such as required tags or shard keys.
	Metadata map[string]string
}

// Meta returns the metadata value for key, or "".
func (r Request) Meta(key string) string {
	return r.Metadata[key]
}

// Result is the outcome of a selection.
type Result struct {
	// Kind is the strategy that produced the result.
	Kind Kind
	// Providers are the selected registrations, in selection order.
	Providers []*registry.Registration
	// FromCache reports whether the result was served from the cache.
	FromCache bool
}

// Provider returns the first selected registration, or nil.
func (r Result) Provider() *registry.Registration {
	if len(r.Providers) == 0 {
		return nil
	}
	return r.Providers[0]
}

// Strategy selects providers from a filtered candidate list. Candidates
// arrive active, platform-matched, tag-matched, and ordered by provider id.
type Strategy interface {
	Kind() Kind
	// Cacheable reports whether results may be served from the TTL cache.
	Cacheable() bool
	Select(req Request, candidates []*registry.Registration) ([]*registry.Registration, error)
}

// requiredTags parses the comma-separated tag list from request metadata.
func requiredTags(meta map[string]string) []string {
	raw, ok := meta[MetaRequiredTags]
	if !ok {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}

// filterCandidates narrows registrations to active candidates carrying the
// required tags on a matching platform, ordered by provider id so every
// strategy sees the same sequence.
func filterCandidates(regs []*registry.Registration, platform string, tags []string) []*registry.Registration {
	out := make([]*registry.Registration, 0, len(regs))
	for _, reg := range regs {
		if !reg.Active() {
			continue
		}
		caps := reg.Capabilities()
		if !caps.HasTags(tags...) {
			continue
		}
		if !caps.MatchesPlatform(platform) {
			continue
		}
		out = append(out, reg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ProviderID() < out[j].ProviderID()
	})
	return out
}

// noCandidates builds the not-found error for a selection that matched
// nothing.
func noCandidates(contract reflect.Type) error {
	name := "contract"
	if contract != nil {
		name = contract.String()
	}
	return apperrors.NotFound("provider", name)
}
