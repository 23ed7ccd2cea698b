package loader_test

import (
	"testing"

	apperrors "github.com/kbukum/plugkit/errors"
	"github.com/kbukum/plugkit/loader"
	"github.com/kbukum/plugkit/manifest"
)

func TestNewFactory_ChoosesByExtension(t *testing.T) {
	factory := loader.NewFactory(loader.FactoryConfig{})

	shared, err := factory(&manifest.Descriptor{
		ID:        "cache",
		Version:   "1.0.0",
		EntryType: "CacheEntry",
		Modules:   []string{"cache.so"},
		Dir:       "/plugins/cache",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := shared.(*loader.SharedObjectLoader); !ok {
		t.Fatalf("expected SharedObjectLoader for .so module, got %T", shared)
	}

	proc, err := factory(&manifest.Descriptor{
		ID:        "billing",
		Version:   "1.0.0",
		EntryType: "BillingEntry",
		Modules:   []string{"billing-plugin"},
		Dir:       "/plugins/billing",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := proc.(*loader.ProcessLoader); !ok {
		t.Fatalf("expected ProcessLoader for executable module, got %T", proc)
	}
}

func TestNewFactory_NilDescriptor(t *testing.T) {
	factory := loader.NewFactory(loader.FactoryConfig{})
	if _, err := factory(nil); !apperrors.IsArgument(err) {
		t.Fatalf("expected argument error, got %v", err)
	}
}

func TestNewFactory_NoModules(t *testing.T) {
	factory := loader.NewFactory(loader.FactoryConfig{})
	_, err := factory(&manifest.Descriptor{ID: "empty", Version: "1.0.0", EntryType: "E"})
	if !apperrors.IsArgument(err) {
		t.Fatalf("expected argument error, got %v", err)
	}
}
