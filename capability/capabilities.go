package capability

import (
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/kbukum/plugkit/errors"
)

// PlatformAny matches every host platform.
const PlatformAny = "any"

// HostPlatform returns the platform string of the running host.
func HostPlatform() string {
	return runtime.GOOS
}

// Matches reports whether a candidate platform declaration is compatible
// with the given host platform. A candidate matches on exact equality or by
// declaring "any".
func Matches(candidate, host string) bool {
	if strings.EqualFold(candidate, PlatformAny) || candidate == "" {
		return true
	}
	return candidate == host
}

// Capabilities describes a provider: identity, platform, priority, tags and
// free-form metadata. Values are immutable; the With* methods return
// modified copies.
type Capabilities struct {
	providerID   string
	platform     string
	priority     Priority
	tags         []string
	metadata     map[string]string
	registeredAt time.Time
}

// New creates capabilities for the given provider id with platform "any",
// normal priority, and the current time as registration timestamp.
func New(providerID string) (Capabilities, error) {
	if strings.TrimSpace(providerID) == "" {
		return Capabilities{}, errors.MissingArgument("providerID")
	}
	return Capabilities{
		providerID:   providerID,
		platform:     PlatformAny,
		priority:     PriorityNormal,
		registeredAt: time.Now().UTC(),
	}, nil
}

// MustNew is New for statically known provider ids; it panics on a blank id.
func MustNew(providerID string) Capabilities {
	c, err := New(providerID)
	if err != nil {
		panic(err)
	}
	return c
}

// ProviderID returns the unique provider id.
func (c Capabilities) ProviderID() string { return c.providerID }

// Platform returns the declared platform, or "any".
func (c Capabilities) Platform() string { return c.platform }

// Priority returns the declared priority.
func (c Capabilities) Priority() Priority { return c.priority }

// Tags returns a copy of the sorted tag set.
func (c Capabilities) Tags() []string {
	if len(c.tags) == 0 {
		return nil
	}
	out := make([]string, len(c.tags))
	copy(out, c.tags)
	return out
}

// Metadata returns a copy of the metadata map.
func (c Capabilities) Metadata() map[string]string {
	out := make(map[string]string, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}

// Meta returns a single metadata value.
func (c Capabilities) Meta(key string) (string, bool) {
	v, ok := c.metadata[key]
	return v, ok
}

// RegisteredAt returns the registration timestamp.
func (c Capabilities) RegisteredAt() time.Time { return c.registeredAt }

// WithPlatform returns a copy with the platform replaced.
func (c Capabilities) WithPlatform(platform string) Capabilities {
	if strings.TrimSpace(platform) == "" {
		platform = PlatformAny
	}
	c.platform = platform
	return c
}

// WithPriority returns a copy with the priority replaced.
func (c Capabilities) WithPriority(p Priority) Capabilities {
	c.priority = p
	return c
}

// WithTags returns a copy with the tag set replaced. Tags are trimmed,
// de-duplicated and sorted; blanks are dropped.
func (c Capabilities) WithTags(tags ...string) Capabilities {
	c.tags = normalizeTags(tags)
	return c
}

// WithMeta returns a copy with one metadata entry added or replaced.
func (c Capabilities) WithMeta(key, value string) Capabilities {
	meta := make(map[string]string, len(c.metadata)+1)
	for k, v := range c.metadata {
		meta[k] = v
	}
	meta[key] = value
	c.metadata = meta
	return c
}

// WithMetadata returns a copy with the metadata map replaced.
func (c Capabilities) WithMetadata(meta map[string]string) Capabilities {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	c.metadata = out
	return c
}

// WithRegisteredAt returns a copy with the registration timestamp replaced.
func (c Capabilities) WithRegisteredAt(t time.Time) Capabilities {
	c.registeredAt = t
	return c
}

// HasTags reports whether every required tag is present. An empty
// requirement always matches.
func (c Capabilities) HasTags(required ...string) bool {
	for _, want := range required {
		want = strings.TrimSpace(want)
		if want == "" {
			continue
		}
		found := false
		for _, tag := range c.tags {
			if tag == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// MatchesPlatform reports whether this provider can run on the given host
// platform.
func (c Capabilities) MatchesPlatform(host string) bool {
	return Matches(c.platform, host)
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
