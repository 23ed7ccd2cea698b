package manifest

import (
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/kbukum/plugkit/capability"
	apperrors "github.com/kbukum/plugkit/errors"
	"github.com/kbukum/plugkit/validation"
)

// DefaultQuiesceSeconds is the drain grace applied when a manifest does not
// declare one.
const DefaultQuiesceSeconds = 5

// Descriptor is a plugin manifest. Manifests are JSON documents named
// <plugin>.plugin.json next to the module files they describe.
type Descriptor struct {
	// ID uniquely identifies the plugin.
	ID string `json:"id" validate:"required"`
	// Name is the human-readable plugin name.
	Name string `json:"name,omitempty"`
	// Version is the plugin's semantic version.
	Version string `json:"version" validate:"required,semver"`
	// Description describes what the plugin provides.
	Description string `json:"description,omitempty"`
	// Author names the plugin's author.
	Author string `json:"author,omitempty"`
	// ContractVersion is the contract version the plugin was built against.
	// Empty means unspecified.
	ContractVersion string `json:"contractVersion,omitempty" validate:"omitempty,semver"`
	// EntryType names the entry point type inside the plugin's modules.
	EntryType string `json:"entryType" validate:"required"`
	// Modules lists the module files to load, in load order. The manifest
	// key is "assemblies".
	Modules []string `json:"assemblies" validate:"required,min=1,dive,required"`
	// Capabilities declares the providers the plugin exposes.
	Capabilities []CapabilitySpec `json:"capabilities,omitempty" validate:"omitempty,dive"`
	// Dependencies lists plugins that must be active before this one.
	Dependencies []Dependency `json:"dependencies,omitempty" validate:"omitempty,dive"`
	// QuiesceSeconds is the drain grace during deactivation and swaps.
	// Zero means DefaultQuiesceSeconds.
	QuiesceSeconds int `json:"quiesceSeconds,omitempty" validate:"gte=0"`

	// Dir is the directory the manifest was loaded from. It is not part of
	// the manifest document.
	Dir string `json:"-"`
	// Path is the manifest file the descriptor was loaded from, when it
	// came from a file at all.
	Path string `json:"-"`
}

// CapabilitySpec declares one provider in a manifest.
type CapabilitySpec struct {
	// ProviderID uniquely identifies the provider.
	ProviderID string `json:"providerId" validate:"required"`
	// Contract names the contract interface the provider serves.
	Contract string `json:"contract,omitempty"`
	// Platform restricts the provider to a platform; empty means any.
	Platform string `json:"platform,omitempty"`
	// Priority orders providers during selection.
	Priority string `json:"priority,omitempty" validate:"omitempty,oneof=low normal high critical"`
	// Tags carry capability tags selection can require.
	Tags []string `json:"tags,omitempty"`
	// Metadata carries free-form provider metadata.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Capabilities converts the declaration into capability metadata.
func (c CapabilitySpec) Capabilities() (capability.Capabilities, error) {
	caps, err := capability.New(c.ProviderID)
	if err != nil {
		return capability.Capabilities{}, err
	}
	caps = caps.
		WithPlatform(c.Platform).
		WithPriority(capability.ParsePriority(c.Priority)).
		WithTags(c.Tags...).
		WithMetadata(c.Metadata)
	return caps, nil
}

// Dependency names another plugin this plugin needs active.
type Dependency struct {
	// ID is the required plugin's id.
	ID string `json:"id" validate:"required"`
	// MinVersion is the lowest acceptable version; empty accepts any.
	MinVersion string `json:"minVersion,omitempty" validate:"omitempty,semver"`
}

// Validate checks the descriptor against its declared constraints.
func (d *Descriptor) Validate() error {
	return validation.Validate(d)
}

// SemVersion parses the descriptor's version.
func (d *Descriptor) SemVersion() (*semver.Version, error) {
	return ParseVersion(d.Version)
}

// QuiesceGrace returns the drain grace as a duration.
func (d *Descriptor) QuiesceGrace() time.Duration {
	secs := d.QuiesceSeconds
	if secs <= 0 {
		secs = DefaultQuiesceSeconds
	}
	return time.Duration(secs) * time.Second
}

// ModulePaths returns the plugin's module files resolved against the
// manifest's directory.
func (d *Descriptor) ModulePaths() []string {
	paths := make([]string, len(d.Modules))
	for i, m := range d.Modules {
		if d.Dir != "" && !filepath.IsAbs(m) {
			paths[i] = filepath.Join(d.Dir, m)
			continue
		}
		paths[i] = m
	}
	return paths
}

// Tags returns the union of every declared capability's tags.
func (d *Descriptor) Tags() []string {
	seen := make(map[string]bool)
	var tags []string
	for _, c := range d.Capabilities {
		for _, tag := range c.Tags {
			if !seen[tag] {
				seen[tag] = true
				tags = append(tags, tag)
			}
		}
	}
	return tags
}

// HasTags reports whether the plugin declares every required tag. Blank
// requirements are ignored.
func (d *Descriptor) HasTags(required ...string) bool {
	declared := make(map[string]bool)
	for _, tag := range d.Tags() {
		declared[tag] = true
	}
	for _, tag := range required {
		if tag == "" {
			continue
		}
		if !declared[tag] {
			return false
		}
	}
	return true
}

// ParseVersion parses a strict semantic version (MAJOR.MINOR.PATCH, no "v"
// prefix).
func ParseVersion(s string) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		return nil, apperrors.InvalidArgument("version", "not a semantic version: "+s)
	}
	return v, nil
}
