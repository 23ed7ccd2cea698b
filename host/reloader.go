package host

import (
	"context"
	"sync"
	"time"

	"github.com/kbukum/plugkit/errors"
	"github.com/kbukum/plugkit/logger"
	"github.com/kbukum/plugkit/manifest"
)

// reloadTimeout bounds one watcher-driven lifecycle operation. Swapping a
// subprocess plugin includes a spawn and handshake, so the bound is
// generous.
const reloadTimeout = 30 * time.Second

// ReloaderConfig configures hot reload over a plugin directory.
type ReloaderConfig struct {
	// Dir is the directory holding *.plugin.json manifests.
	Dir string
	// Debounce is the quiet window before a manifest change applies.
	// Zero means the watcher default.
	Debounce time.Duration
	// Filters narrow which manifests the reloader manages. A manifest
	// failing a filter is ignored; if its plugin is live it is unloaded.
	Filters []manifest.Filter
}

// Reloader keeps a soft-swap host in sync with the manifests in a
// directory: a new manifest loads and activates its plugin, a rewritten
// manifest soft-swaps it, a removed manifest unloads it. Reload failures
// are logged and leave the previous generation serving.
type Reloader struct {
	host    *SoftSwapHost
	config  ReloaderConfig
	log     *logger.Logger
	watcher *manifest.Watcher

	mu     sync.Mutex
	byPath map[string]string
}

// NewReloader creates a reloader for the host. Call Start to sync the
// directory and begin watching; Stop ends the watch.
func NewReloader(h *SoftSwapHost, config ReloaderConfig, log *logger.Logger) (*Reloader, error) {
	if h == nil {
		return nil, errors.MissingArgument("host")
	}
	if log == nil {
		log = logger.Nop()
	}
	r := &Reloader{
		host:   h,
		config: config,
		log:    log.WithComponent("reloader"),
		byPath: make(map[string]string),
	}

	w, err := manifest.NewWatcher(manifest.WatcherConfig{
		Dir:      config.Dir,
		Debounce: config.Debounce,
	}, r.apply, log)
	if err != nil {
		return nil, err
	}
	r.watcher = w
	return r, nil
}

// Start loads and activates every eligible manifest already in the
// directory, then begins applying changes. Manifests that fail to load or
// activate are logged and skipped; Start only fails when discovery itself
// cannot walk the directory.
func (r *Reloader) Start(ctx context.Context) error {
	found, err := manifest.Discover(r.config.Dir, r.config.Filters...)
	if err != nil {
		return err
	}
	for _, d := range found {
		if err := r.bringUp(ctx, d); err != nil {
			r.log.Warn("plugin skipped during initial sync", logger.Fields(
				logger.FieldPlugin, d.ID,
				"path", d.Path,
				logger.FieldError, err.Error(),
			))
			continue
		}
		r.track(d.Path, d.ID)
	}
	r.watcher.Start()
	return nil
}

// Stop ends the watch. Live plugins keep serving; closing the host is the
// caller's decision.
func (r *Reloader) Stop() {
	r.watcher.Stop()
}

// apply reacts to one debounced manifest change. It runs on the watcher's
// timer goroutines; per-plugin ordering comes from the host's keyed locks.
func (r *Reloader) apply(ch manifest.Change) {
	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()

	switch ch.Kind {
	case manifest.ChangeRemoved:
		r.drop(ctx, ch.Path)
	case manifest.ChangeModified:
		d, err := manifest.Load(ch.Path)
		if err != nil {
			r.log.Warn("ignoring unreadable manifest", logger.Fields(
				"path", ch.Path,
				logger.FieldError, err.Error(),
			))
			return
		}
		if !r.eligible(d) {
			r.drop(ctx, ch.Path)
			return
		}
		// A manifest rewritten under a new plugin id retires the id it
		// used to declare.
		if prev, ok := r.tracked(ch.Path); ok && prev != d.ID {
			r.drop(ctx, ch.Path)
		}
		if err := r.reload(ctx, d); err != nil {
			r.log.Error("plugin reload failed", logger.Fields(
				logger.FieldPlugin, d.ID,
				"path", ch.Path,
				logger.FieldError, err.Error(),
			))
			return
		}
		r.track(ch.Path, d.ID)
	}
}

// reload brings a descriptor live: a swap when its plugin is active, a
// fresh load otherwise. A live handle in any other state is unloaded
// first; swapping can only replace a serving generation.
func (r *Reloader) reload(ctx context.Context, d *manifest.Descriptor) error {
	if view, ok := r.host.Get(d.ID); ok {
		if view.State == StateActive {
			_, err := r.host.SoftSwap(ctx, d.ID, d)
			return err
		}
		if err := r.host.Unload(ctx, d.ID); err != nil {
			return err
		}
	}
	return r.bringUp(ctx, d)
}

func (r *Reloader) bringUp(ctx context.Context, d *manifest.Descriptor) error {
	if _, err := r.host.Load(ctx, d); err != nil {
		return err
	}
	return r.host.Activate(ctx, d.ID)
}

// drop unloads whatever plugin the path last declared.
func (r *Reloader) drop(ctx context.Context, path string) {
	r.mu.Lock()
	id, ok := r.byPath[path]
	delete(r.byPath, path)
	r.mu.Unlock()
	if !ok {
		return
	}

	if err := r.host.Unload(ctx, id); err != nil && !errors.IsNotFound(err) {
		r.log.Warn("unloading removed plugin failed", logger.Fields(
			logger.FieldPlugin, id,
			"path", path,
			logger.FieldError, err.Error(),
		))
	}
}

func (r *Reloader) eligible(d *manifest.Descriptor) bool {
	for _, keep := range r.config.Filters {
		if !keep(d) {
			return false
		}
	}
	return true
}

func (r *Reloader) track(path, id string) {
	r.mu.Lock()
	r.byPath[path] = id
	r.mu.Unlock()
}

func (r *Reloader) tracked(path string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byPath[path]
	return id, ok
}
