package manifest

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type changeCollector struct {
	mu      sync.Mutex
	changes []Change
}

func (c *changeCollector) record(ch Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, ch)
}

func (c *changeCollector) snapshot() []Change {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Change, len(c.changes))
	copy(out, c.changes)
	return out
}

func (c *changeCollector) waitFor(t *testing.T, n int) []Change {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		got := c.snapshot()
		if len(got) >= n {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d changes, have %d", n, len(got))
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func startWatcher(t *testing.T, dir string) *changeCollector {
	t.Helper()
	collector := &changeCollector{}
	w, err := NewWatcher(WatcherConfig{Dir: dir, Debounce: 50 * time.Millisecond}, collector.record, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	w.Start()
	t.Cleanup(w.Stop)
	return collector
}

func TestWatcher_ReportsNewManifest(t *testing.T) {
	dir := t.TempDir()
	collector := startWatcher(t, dir)

	path := filepath.Join(dir, "cache.plugin.json")
	if err := os.WriteFile(path, []byte(minimalManifest("cache", "1.0.0", "")), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	changes := collector.waitFor(t, 1)
	if changes[0].Path != path {
		t.Errorf("expected path %s, got %s", path, changes[0].Path)
	}
	if changes[0].Kind != ChangeModified {
		t.Errorf("expected modified, got %s", changes[0].Kind)
	}
}

func TestWatcher_ReportsRemoval(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.plugin.json")
	if err := os.WriteFile(path, []byte(minimalManifest("cache", "1.0.0", "")), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	collector := startWatcher(t, dir)

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	changes := collector.waitFor(t, 1)
	last := changes[len(changes)-1]
	if last.Kind != ChangeRemoved {
		t.Errorf("expected removed, got %s", last.Kind)
	}
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	collector := startWatcher(t, dir)

	path := filepath.Join(dir, "burst.plugin.json")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte(minimalManifest("burst", "1.0.0", "")), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	collector.waitFor(t, 1)
	time.Sleep(200 * time.Millisecond)

	if got := collector.snapshot(); len(got) != 1 {
		t.Errorf("expected one debounced change, got %d", len(got))
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	collector := startWatcher(t, dir)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if got := collector.snapshot(); len(got) != 0 {
		t.Errorf("expected no changes for non-manifest files, got %d", len(got))
	}
}

func TestNewWatcher_Validation(t *testing.T) {
	if _, err := NewWatcher(WatcherConfig{}, func(Change) {}, nil); err == nil {
		t.Error("expected error for missing dir")
	}
	if _, err := NewWatcher(WatcherConfig{Dir: t.TempDir()}, nil, nil); err == nil {
		t.Error("expected error for missing callback")
	}
	if _, err := NewWatcher(WatcherConfig{Dir: filepath.Join(t.TempDir(), "absent")}, func(Change) {}, nil); err == nil {
		t.Error("expected error for unwatchable dir")
	}
}
