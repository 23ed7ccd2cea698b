package manifest

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	apperrors "github.com/kbukum/plugkit/errors"
)

// Suffix is the file name suffix identifying plugin manifests.
const Suffix = ".plugin.json"

// Parse decodes and validates a manifest document.
func Parse(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, apperrors.InvalidArgument("manifest", "malformed JSON").WithCause(err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Load reads a manifest file. The descriptor remembers the file's directory
// so module paths resolve relative to it.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.NotFound("manifest", path).WithCause(err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, err
	}
	d.Dir = filepath.Dir(path)
	d.Path = path
	return d, nil
}

// Filter narrows a discovery result. Filters exclude, they never fail.
type Filter func(*Descriptor) bool

// WithMinVersion keeps plugins at or above min.
func WithMinVersion(min *semver.Version) Filter {
	return func(d *Descriptor) bool {
		if min == nil {
			return true
		}
		v, err := d.SemVersion()
		if err != nil {
			return false
		}
		return !v.LessThan(min)
	}
}

// WithRequiredTags keeps plugins declaring every given tag.
func WithRequiredTags(tags ...string) Filter {
	return func(d *Descriptor) bool {
		return d.HasTags(tags...)
	}
}

// WithContractVersion keeps plugins built against the given contract
// version. Plugins that declare no contract version pass; activation
// decides their fate.
func WithContractVersion(version string) Filter {
	return func(d *Descriptor) bool {
		return d.ContractVersion == "" || d.ContractVersion == version
	}
}

// Discover walks root for *.plugin.json manifests, skipping files that do
// not parse or validate. Results pass every filter and come back ordered by
// plugin id, then version.
func Discover(root string, filters ...Filter) ([]*Descriptor, error) {
	var found []*Descriptor

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), Suffix) {
			return nil
		}

		d, err := Load(path)
		if err != nil {
			// Malformed manifests don't abort discovery.
			return nil
		}
		for _, keep := range filters {
			if !keep(d) {
				return nil
			}
		}
		found = append(found, d)
		return nil
	})
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].ID != found[j].ID {
			return found[i].ID < found[j].ID
		}
		return found[i].Version < found[j].Version
	})
	return found, nil
}
