package loader

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/kbukum/plugkit/contract"
	"github.com/kbukum/plugkit/errors"
	"github.com/kbukum/plugkit/logger"
	"github.com/kbukum/plugkit/manifest"
)

// sharedObjectExt marks a module file as a Go shared object.
const sharedObjectExt = ".so"

// FactoryConfig configures NewFactory.
type FactoryConfig struct {
	// Namespace is the shared namespace every produced loader resolves
	// contract names against. Nil gets a fresh one.
	Namespace *contract.Namespace
	// ContractVersion is the platform's contract version, enforced against
	// shared-object exports at load time.
	ContractVersion string
	// Grace bounds process-module shutdown escalation.
	Grace time.Duration
	// Env is extra environment passed to process modules.
	Env []string
	// Open replaces the shared-object opener.
	Open OpenFunc
	// Logger is passed to produced loaders.
	Logger *logger.Logger
}

// NewFactory returns a Factory choosing a loader per plugin by the primary
// module's file extension: shared objects get the persistent in-process
// loader, anything else runs as a subprocess. The choice is explicit and
// per-manifest; nothing is scanned.
func NewFactory(cfg FactoryConfig) Factory {
	ns := cfg.Namespace
	if ns == nil {
		ns = contract.NewNamespace()
	}
	return func(d *manifest.Descriptor) (Loader, error) {
		if d == nil {
			return nil, errors.MissingArgument("descriptor")
		}
		paths := d.ModulePaths()
		if len(paths) == 0 {
			return nil, errors.InvalidArgument("descriptor", "declares no modules")
		}
		if strings.EqualFold(filepath.Ext(paths[0]), sharedObjectExt) {
			return NewSharedObjectLoader(ns, SharedObjectConfig{
				ContractVersion: cfg.ContractVersion,
				Open:            cfg.Open,
			}, cfg.Logger), nil
		}
		return NewProcessLoader(ns, ProcessConfig{
			Grace: cfg.Grace,
			Env:   cfg.Env,
			Dir:   d.Dir,
		}, cfg.Logger), nil
	}
}
