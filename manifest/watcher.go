package manifest

import (
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	apperrors "github.com/kbukum/plugkit/errors"
	"github.com/kbukum/plugkit/logger"
)

// ChangeKind classifies a manifest change.
type ChangeKind int

const (
	// ChangeModified means the manifest was created or rewritten.
	ChangeModified ChangeKind = iota
	// ChangeRemoved means the manifest was deleted or renamed away.
	ChangeRemoved
)

// String returns the change kind name.
func (k ChangeKind) String() string {
	switch k {
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one debounced manifest change.
type Change struct {
	Path string
	Kind ChangeKind
}

// WatcherConfig configures a manifest watcher.
type WatcherConfig struct {
	// Dir is the directory to watch for *.plugin.json changes.
	Dir string
	// Debounce is how long a path must stay quiet before its change is
	// reported. Editors and copies touch files several times in a burst.
	Debounce time.Duration
}

// ApplyDefaults fills in default values.
func (c *WatcherConfig) ApplyDefaults() {
	if c.Debounce <= 0 {
		c.Debounce = 500 * time.Millisecond
	}
}

// Watcher reports debounced manifest changes in a directory.
type Watcher struct {
	config   WatcherConfig
	watcher  *fsnotify.Watcher
	onChange func(Change)
	log      *logger.Logger

	mu      sync.Mutex
	pending map[string]Change
	timers  map[string]*time.Timer

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher that calls onChange for each debounced
// manifest change. Call Start to begin watching; Stop releases the watch.
func NewWatcher(config WatcherConfig, onChange func(Change), log *logger.Logger) (*Watcher, error) {
	if config.Dir == "" {
		return nil, apperrors.MissingArgument("dir")
	}
	if onChange == nil {
		return nil, apperrors.MissingArgument("onChange")
	}
	config.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if err := fsw.Add(config.Dir); err != nil {
		_ = fsw.Close()
		return nil, apperrors.NotFound("watch directory", config.Dir).WithCause(err)
	}

	return &Watcher{
		config:   config,
		watcher:  fsw,
		onChange: onChange,
		log:      log.WithComponent("manifest-watcher"),
		pending:  make(map[string]Change),
		timers:   make(map[string]*time.Timer),
		stopChan: make(chan struct{}),
	}, nil
}

// Start begins delivering changes.
func (w *Watcher) Start() {
	go w.watchLoop()
	w.log.Info("watching for manifest changes", map[string]interface{}{"dir": w.config.Dir})
}

// Stop ends the watch. Pending debounced changes are dropped.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		_ = w.watcher.Close()
	})
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, Suffix) {
				continue
			}

			var kind ChangeKind
			switch {
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				kind = ChangeModified
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				kind = ChangeRemoved
			default:
				continue
			}
			w.schedule(Change{Path: event.Name, Kind: kind})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("manifest watch error", map[string]interface{}{"error": err.Error()})
		}
	}
}

// schedule arms (or re-arms) the debounce timer for a path. The last kind
// seen during the quiet window wins.
func (w *Watcher) schedule(change Change) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[change.Path] = change
	if timer, exists := w.timers[change.Path]; exists {
		timer.Stop()
	}
	w.timers[change.Path] = time.AfterFunc(w.config.Debounce, func() {
		w.fire(change.Path)
	})
}

func (w *Watcher) fire(path string) {
	w.mu.Lock()
	change, ok := w.pending[path]
	delete(w.pending, path)
	delete(w.timers, path)
	w.mu.Unlock()

	if !ok {
		return
	}
	select {
	case <-w.stopChan:
		return
	default:
	}
	w.onChange(change)
}
