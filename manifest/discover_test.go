package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, name, doc string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func minimalManifest(id, version, tags string) string {
	caps := ""
	if tags != "" {
		caps = `, "capabilities": [{"providerId": "` + id + `-provider", "tags": [` + tags + `]}]`
	}
	return `{"id": "` + id + `", "version": "` + version + `", "entryType": "Entry", "assemblies": ["` + id + `.bin"]` + caps + `}`
}

func TestLoad_RecordsDirectory(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "cache.plugin.json", minimalManifest("cache", "1.0.0", ""))

	d, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Dir != dir {
		t.Errorf("expected dir %s, got %s", dir, d.Dir)
	}
	if got := d.ModulePaths()[0]; got != filepath.Join(dir, "cache.bin") {
		t.Errorf("unexpected module path %s", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.plugin.json"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDiscover_FindsNestedManifests(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "b.plugin.json", minimalManifest("beta", "1.0.0", ""))
	writeManifest(t, dir, filepath.Join("nested", "a.plugin.json"), minimalManifest("alpha", "2.0.0", ""))
	writeManifest(t, dir, "notes.json", `{"not": "a manifest"}`)

	found, err := Discover(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 manifests, got %d", len(found))
	}
	if found[0].ID != "alpha" || found[1].ID != "beta" {
		t.Errorf("expected ordering [alpha beta], got [%s %s]", found[0].ID, found[1].ID)
	}
}

func TestDiscover_SkipsMalformed(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "good.plugin.json", minimalManifest("good", "1.0.0", ""))
	writeManifest(t, dir, "broken.plugin.json", `{"id": "broken",`)
	writeManifest(t, dir, "invalid.plugin.json", `{"id": "invalid", "version": "nope", "entryType": "E", "assemblies": ["m"]}`)

	found, err := Discover(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 1 || found[0].ID != "good" {
		t.Fatalf("expected only the valid manifest, got %d", len(found))
	}
}

func TestDiscover_MinVersionFilter(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "old.plugin.json", minimalManifest("old", "0.9.0", ""))
	writeManifest(t, dir, "new.plugin.json", minimalManifest("new", "1.2.0", ""))

	min, err := ParseVersion("1.0.0")
	if err != nil {
		t.Fatalf("parse min: %v", err)
	}

	found, err := Discover(dir, WithMinVersion(min))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 1 || found[0].ID != "new" {
		t.Fatalf("expected only the newer plugin, got %d", len(found))
	}
}

func TestDiscover_RequiredTagsFilter(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "tagged.plugin.json", minimalManifest("tagged", "1.0.0", `"json", "fast"`))
	writeManifest(t, dir, "plain.plugin.json", minimalManifest("plain", "1.0.0", ""))

	found, err := Discover(dir, WithRequiredTags("json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 1 || found[0].ID != "tagged" {
		t.Fatalf("expected only the tagged plugin, got %d", len(found))
	}
}

func TestDiscover_ContractVersionFilter(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "match.plugin.json",
		`{"id": "match", "version": "1.0.0", "contractVersion": "1.0.0", "entryType": "E", "assemblies": ["m"]}`)
	writeManifest(t, dir, "mismatch.plugin.json",
		`{"id": "mismatch", "version": "1.0.0", "contractVersion": "2.0.0", "entryType": "E", "assemblies": ["m"]}`)
	writeManifest(t, dir, "silent.plugin.json", minimalManifest("silent", "1.0.0", ""))

	found, err := Discover(dir, WithContractVersion("1.0.0"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 manifests, got %d", len(found))
	}
	// Unspecified contract versions pass the filter.
	if found[0].ID != "match" || found[1].ID != "silent" {
		t.Errorf("unexpected result: [%s %s]", found[0].ID, found[1].ID)
	}
}

func TestDiscover_EmptyDir(t *testing.T) {
	found, err := Discover(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("expected no manifests, got %d", len(found))
	}
}
