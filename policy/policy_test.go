package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kbukum/plugkit/config"
	"github.com/kbukum/plugkit/contract"
	"github.com/kbukum/plugkit/errors"
	"github.com/kbukum/plugkit/selection"
)

// fakeFS backs the filesystem seam with an in-memory file set.
type fakeFS struct {
	files    map[string]bool
	envCalls []string
	envErr   error
	onEnv    func()
}

func (f *fakeFS) Exists(path string) bool { return f.files[path] }

func (f *fakeFS) LoadEnv(path string) error {
	f.envCalls = append(f.envCalls, path)
	if f.envErr != nil {
		return f.envErr
	}
	if f.onEnv != nil {
		f.onEnv()
	}
	return nil
}

func (f *fakeFS) Getwd() (string, error) { return "/", nil }

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// missingEnvFile keeps Load from picking up a real .env during tests.
func missingEnvFile(t *testing.T) config.LoaderOption {
	t.Helper()
	return config.WithEnvFile(filepath.Join(t.TempDir(), ".env"))
}

type kvStore interface {
	Get(key string) (string, error)
}

type feed interface {
	Next() ([]byte, error)
}

func TestLoadDefaultsWhenNothingFound(t *testing.T) {
	p, err := Load(config.WithFileSystem(&fakeFS{files: map[string]bool{}}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Default != "" || len(p.Categories) != 0 || len(p.Contracts) != 0 {
		t.Errorf("expected zero policy, got %+v", p)
	}
	if p.Grace() != 0 {
		t.Errorf("expected zero grace, got %v", p.Grace())
	}
	cc := p.CacheConfig()
	if cc.TTL != 0 || cc.SweepInterval != 0 {
		t.Errorf("expected zero cache config, got %+v", cc)
	}
}

func TestLoadReadsYAMLFile(t *testing.T) {
	path := writeFile(t, "policy.yaml", `
default: fan_out
categories:
  media: fan_out
  storage: pick_one
contracts:
  cache.Store:
    strategy: sharded
    shard_map:
      eu: store-eu
      us: store-us
  media.Transcoder:
    category: media
cache:
  ttl_seconds: 120
  sweep_seconds: 30
quiesce_seconds: 8
`)

	p, err := Load(config.WithConfigFile(path), missingEnvFile(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Default != "fan_out" {
		t.Errorf("default = %q, want fan_out", p.Default)
	}
	if p.Categories["media"] != "fan_out" || p.Categories["storage"] != "pick_one" {
		t.Errorf("unexpected categories: %+v", p.Categories)
	}
	store, ok := p.Contracts["cache.store"]
	if !ok {
		t.Fatalf("missing cache.store override, got keys %v", contractKeys(p))
	}
	if store.Strategy != "sharded" {
		t.Errorf("strategy = %q, want sharded", store.Strategy)
	}
	if store.ShardMap["eu"] != "store-eu" || store.ShardMap["us"] != "store-us" {
		t.Errorf("unexpected shard map: %+v", store.ShardMap)
	}
	if tc := p.Contracts["media.transcoder"]; tc.Category != "media" {
		t.Errorf("transcoder category = %q, want media", tc.Category)
	}
	if p.Cache.TTLSeconds != 120 || p.Cache.SweepSeconds != 30 {
		t.Errorf("unexpected cache policy: %+v", p.Cache)
	}
	if p.QuiesceSeconds != 8 {
		t.Errorf("quiesce_seconds = %d, want 8", p.QuiesceSeconds)
	}
	if p.Grace() != 8*time.Second {
		t.Errorf("grace = %v, want 8s", p.Grace())
	}
	cc := p.CacheConfig()
	if cc.TTL != 2*time.Minute || cc.SweepInterval != 30*time.Second {
		t.Errorf("unexpected cache config: %+v", cc)
	}
}

func contractKeys(p *Policy) []string {
	keys := make([]string, 0, len(p.Contracts))
	for k := range p.Contracts {
		keys = append(keys, k)
	}
	return keys
}

func TestLoadReadsJSONFile(t *testing.T) {
	path := writeFile(t, "policy.json", `{
  "default": "pick_one",
  "cache": {"ttl_seconds": 60},
  "quiesce_seconds": 3
}`)

	p, err := Load(config.WithConfigFile(path), missingEnvFile(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Default != "pick_one" || p.Cache.TTLSeconds != 60 || p.QuiesceSeconds != 3 {
		t.Errorf("unexpected policy: %+v", p)
	}
}

func TestLoadSearchOrder(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// ./policy.json comes before ./config/policy.yaml on the search path.
	if err := os.WriteFile(filepath.Join(dir, "policy.json"), []byte(`{"default": "pick_one"}`), 0o644); err != nil {
		t.Fatalf("write policy.json: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config", "policy.yaml"), []byte("default: fan_out\n"), 0o644); err != nil {
		t.Fatalf("write config/policy.yaml: %v", err)
	}
	t.Chdir(dir)

	p, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Default != "pick_one" {
		t.Errorf("default = %q, want pick_one from ./policy.json", p.Default)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "policy.yaml", `
default: pick_one
cache:
  ttl_seconds: 10
`)
	t.Setenv("PLUGKIT_DEFAULT", "sharded")
	t.Setenv("PLUGKIT_CACHE_TTL_SECONDS", "120")
	t.Setenv("PLUGKIT_QUIESCE_SECONDS", "9")

	p, err := Load(config.WithConfigFile(path), missingEnvFile(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Default != "sharded" {
		t.Errorf("default = %q, want sharded from env", p.Default)
	}
	if p.Cache.TTLSeconds != 120 {
		t.Errorf("ttl_seconds = %d, want 120 from env", p.Cache.TTLSeconds)
	}
	if p.QuiesceSeconds != 9 {
		t.Errorf("quiesce_seconds = %d, want 9 from env", p.QuiesceSeconds)
	}
}

func TestLoadEnvFileThroughSeam(t *testing.T) {
	t.Setenv("PLUGKIT_DEFAULT", "")
	fs := &fakeFS{files: map[string]bool{"./.env": true}}
	fs.onEnv = func() { os.Setenv("PLUGKIT_DEFAULT", "fan_out") }

	p, err := Load(config.WithFileSystem(fs))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(fs.envCalls) != 1 || fs.envCalls[0] != "./.env" {
		t.Errorf("env calls = %v, want [./.env]", fs.envCalls)
	}
	if p.Default != "fan_out" {
		t.Errorf("default = %q, want fan_out from .env", p.Default)
	}
}

func TestLoadEnvFileFailureIsNotFatal(t *testing.T) {
	fs := &fakeFS{
		files:  map[string]bool{"./.env": true},
		envErr: os.ErrPermission,
	}
	p, err := Load(config.WithFileSystem(fs))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Default != "" {
		t.Errorf("expected zero policy, got %+v", p)
	}
}

func TestLoadMalformedFileFails(t *testing.T) {
	path := writeFile(t, "policy.yaml", "default: [unclosed")
	_, err := Load(config.WithConfigFile(path), missingEnvFile(t))
	if err == nil {
		t.Fatal("expected error for malformed policy file")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadRejectsUnknownKind(t *testing.T) {
	path := writeFile(t, "policy.yaml", "default: round_robin\n")
	_, err := Load(config.WithConfigFile(path), missingEnvFile(t))
	if err == nil {
		t.Fatal("expected error for unknown strategy kind")
	}
	if !errors.IsArgument(err) {
		t.Errorf("expected argument error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{name: "zero policy", policy: Policy{}},
		{
			name: "all kinds valid",
			policy: Policy{
				Default:    "sharded",
				Categories: map[string]string{"media": "fan_out"},
				Contracts: map[string]ContractPolicy{
					"cache.store": {Strategy: "pick_one"},
				},
			},
		},
		{
			name:    "unknown default kind",
			policy:  Policy{Default: "best_effort"},
			wantErr: true,
		},
		{
			name:    "unknown category kind",
			policy:  Policy{Categories: map[string]string{"media": "broadcast"}},
			wantErr: true,
		},
		{
			name: "unknown contract kind",
			policy: Policy{Contracts: map[string]ContractPolicy{
				"cache.store": {Strategy: "random"},
			}},
			wantErr: true,
		},
		{
			name: "shard map with non-sharded strategy",
			policy: Policy{Contracts: map[string]ContractPolicy{
				"cache.store": {Strategy: "pick_one", ShardMap: map[string]string{"eu": "a"}},
			}},
			wantErr: true,
		},
		{
			name: "shard map alone is allowed",
			policy: Policy{Contracts: map[string]ContractPolicy{
				"cache.store": {ShardMap: map[string]string{"eu": "a"}},
			}},
		},
		{
			name:    "negative quiesce seconds",
			policy:  Policy{QuiesceSeconds: -1},
			wantErr: true,
		},
		{
			name:    "negative cache ttl",
			policy:  Policy{Cache: CachePolicy{TTLSeconds: -5}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr && !errors.IsArgument(err) {
				t.Errorf("expected argument error, got %v", err)
			}
		})
	}
}

func TestApplyBindsStrategies(t *testing.T) {
	ns := contract.NewNamespace()
	if err := contract.RegisterShared[kvStore](ns); err != nil {
		t.Fatalf("register kvStore: %v", err)
	}
	if err := contract.RegisterShared[feed](ns); err != nil {
		t.Fatalf("register feed: %v", err)
	}
	f := selection.NewFactory()

	p := Policy{
		Default:    "fan_out",
		Categories: map[string]string{"media": "fan_out"},
		Contracts: map[string]ContractPolicy{
			"policy.kvStore": {Strategy: "sharded", ShardMap: map[string]string{"eu": "store-eu"}},
			"policy.feed":    {Category: "media"},
		},
	}
	if err := p.Apply(f, ns); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if kind := f.StrategyFor(contract.TypeOf[kvStore]()).Kind(); kind != selection.KindSharded {
		t.Errorf("kvStore strategy = %v, want sharded", kind)
	}
	if kind := f.StrategyFor(contract.TypeOf[feed]()).Kind(); kind != selection.KindFanOut {
		t.Errorf("feed strategy = %v, want fan_out via category", kind)
	}
	if kind := f.StrategyFor(contract.TypeOf[contract.Service]()).Kind(); kind != selection.KindFanOut {
		t.Errorf("unbound contract strategy = %v, want fan_out default", kind)
	}
}

func TestApplyImpliesShardedFromShardMap(t *testing.T) {
	ns := contract.NewNamespace()
	if err := contract.RegisterShared[kvStore](ns); err != nil {
		t.Fatalf("register: %v", err)
	}
	f := selection.NewFactory()

	p := Policy{Contracts: map[string]ContractPolicy{
		"policy.kvStore": {ShardMap: map[string]string{"eu": "store-eu"}},
	}}
	if err := p.Apply(f, ns); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if kind := f.StrategyFor(contract.TypeOf[kvStore]()).Kind(); kind != selection.KindSharded {
		t.Errorf("strategy = %v, want sharded implied by shard map", kind)
	}
}

func TestApplyResolvesLowercasedNames(t *testing.T) {
	ns := contract.NewNamespace()
	if err := contract.RegisterShared[kvStore](ns); err != nil {
		t.Fatalf("register: %v", err)
	}
	f := selection.NewFactory()

	// Config file keys arrive lowercased.
	p := Policy{Contracts: map[string]ContractPolicy{
		"policy.kvstore": {Strategy: "fan_out"},
	}}
	if err := p.Apply(f, ns); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if kind := f.StrategyFor(contract.TypeOf[kvStore]()).Kind(); kind != selection.KindFanOut {
		t.Errorf("strategy = %v, want fan_out", kind)
	}
}

func TestApplyUnknownContractName(t *testing.T) {
	ns := contract.NewNamespace()
	f := selection.NewFactory()

	p := Policy{Contracts: map[string]ContractPolicy{
		"nosuch.Thing": {Strategy: "pick_one"},
	}}
	err := p.Apply(f, ns)
	if err == nil {
		t.Fatal("expected error for unknown contract name")
	}
	if !errors.IsCompatibility(err) {
		t.Errorf("expected compatibility error, got %v", err)
	}
}

func TestApplyArgumentChecks(t *testing.T) {
	ns := contract.NewNamespace()
	f := selection.NewFactory()
	p := Policy{}

	if err := p.Apply(nil, ns); !errors.IsArgument(err) {
		t.Errorf("nil factory: expected argument error, got %v", err)
	}
	if err := p.Apply(f, nil); !errors.IsArgument(err) {
		t.Errorf("nil namespace: expected argument error, got %v", err)
	}

	bad := Policy{Default: "round_robin"}
	if err := bad.Apply(f, ns); !errors.IsArgument(err) {
		t.Errorf("invalid policy: expected argument error, got %v", err)
	}
}
