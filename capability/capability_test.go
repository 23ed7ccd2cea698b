package capability

import (
	"runtime"
	"testing"
	"time"

	"github.com/kbukum/plugkit/errors"
)

func TestNew_BlankID(t *testing.T) {
	if _, err := New(""); !errors.IsArgument(err) {
		t.Errorf("expected argument error for blank id, got %v", err)
	}
	if _, err := New("   "); !errors.IsArgument(err) {
		t.Errorf("expected argument error for whitespace id, got %v", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	caps, err := New("cache-redis")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if caps.ProviderID() != "cache-redis" {
		t.Errorf("expected provider id 'cache-redis', got %q", caps.ProviderID())
	}
	if caps.Platform() != PlatformAny {
		t.Errorf("expected platform 'any', got %q", caps.Platform())
	}
	if caps.Priority() != PriorityNormal {
		t.Errorf("expected normal priority, got %v", caps.Priority())
	}
	if caps.RegisteredAt().IsZero() {
		t.Error("expected non-zero registration time")
	}
}

func TestCapabilities_WithCopiesDoNotAlias(t *testing.T) {
	base := MustNew("p1").WithTags("a", "b").WithMeta("k", "v")

	changed := base.WithPriority(PriorityCritical).WithMeta("k", "changed").WithTags("c")

	if base.Priority() != PriorityNormal {
		t.Errorf("base priority mutated: %v", base.Priority())
	}
	if v, _ := base.Meta("k"); v != "v" {
		t.Errorf("base metadata mutated: %q", v)
	}
	if got := base.Tags(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("base tags mutated: %v", got)
	}
	if changed.Priority() != PriorityCritical {
		t.Errorf("expected critical, got %v", changed.Priority())
	}
	if v, _ := changed.Meta("k"); v != "changed" {
		t.Errorf("expected changed metadata, got %q", v)
	}
}

func TestCapabilities_AccessorCopies(t *testing.T) {
	caps := MustNew("p1").WithTags("a").WithMeta("k", "v")

	tags := caps.Tags()
	tags[0] = "hacked"
	if got := caps.Tags(); got[0] != "a" {
		t.Errorf("tags leaked internal slice: %v", got)
	}

	meta := caps.Metadata()
	meta["k"] = "hacked"
	if v, _ := caps.Meta("k"); v != "v" {
		t.Errorf("metadata leaked internal map: %q", v)
	}
}

func TestCapabilities_TagNormalization(t *testing.T) {
	caps := MustNew("p1").WithTags("b", " a ", "b", "", "c")
	got := caps.Tags()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}
}

func TestCapabilities_HasTags(t *testing.T) {
	caps := MustNew("p1").WithTags("persistent", "shared")

	if !caps.HasTags() {
		t.Error("empty requirement should always match")
	}
	if !caps.HasTags("persistent") {
		t.Error("expected single tag match")
	}
	if !caps.HasTags("persistent", "shared") {
		t.Error("expected full tag match")
	}
	if caps.HasTags("persistent", "encrypted") {
		t.Error("expected miss when any required tag is absent")
	}
	if !caps.HasTags("", "persistent") {
		t.Error("blank requirements are ignored")
	}
}

func TestMatches_Platform(t *testing.T) {
	host := runtime.GOOS
	tests := []struct {
		name      string
		candidate string
		want      bool
	}{
		{"exact", host, true},
		{"any", "any", true},
		{"any uppercase", "ANY", true},
		{"empty defaults to any", "", true},
		{"other platform", "plan9box", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Matches(tc.candidate, host); got != tc.want {
				t.Errorf("Matches(%q, %q) = %v, expected %v", tc.candidate, host, got, tc.want)
			}
		})
	}
}

func TestCapabilities_MatchesPlatform(t *testing.T) {
	if !MustNew("p1").MatchesPlatform("linux") {
		t.Error("default platform 'any' should match")
	}
	if MustNew("p1").WithPlatform("windows").MatchesPlatform("linux") {
		t.Error("expected mismatch for a different platform")
	}
	if !MustNew("p1").WithPlatform("").MatchesPlatform("linux") {
		t.Error("blank platform normalizes to 'any'")
	}
}

func TestPriority_Ordering(t *testing.T) {
	if !(PriorityLow < PriorityNormal && PriorityNormal < PriorityHigh && PriorityHigh < PriorityCritical) {
		t.Error("priority ordering must be Low < Normal < High < Critical")
	}
}

func TestPriority_String(t *testing.T) {
	tests := []struct {
		p    Priority
		want string
	}{
		{PriorityLow, "low"},
		{PriorityNormal, "normal"},
		{PriorityHigh, "high"},
		{PriorityCritical, "critical"},
		{Priority(42), "unknown"},
	}
	for _, tc := range tests {
		if got := tc.p.String(); got != tc.want {
			t.Errorf("expected %q, got %q", tc.want, got)
		}
	}
}

func TestParsePriority(t *testing.T) {
	if ParsePriority("critical") != PriorityCritical {
		t.Error("expected critical")
	}
	if ParsePriority("") != PriorityNormal {
		t.Error("expected empty to default to normal")
	}
	if ParsePriority("bogus") != PriorityNormal {
		t.Error("expected unknown to default to normal")
	}
}

func TestCapabilities_WithRegisteredAt(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	caps := MustNew("p1").WithRegisteredAt(at)
	if !caps.RegisteredAt().Equal(at) {
		t.Errorf("expected %v, got %v", at, caps.RegisteredAt())
	}
}
