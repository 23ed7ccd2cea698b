package registry

import (
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/kbukum/plugkit/capability"
	"github.com/kbukum/plugkit/contract"
	"github.com/kbukum/plugkit/errors"
)

// Store is the contract used throughout these tests.
type Store interface {
	Get(key string) (string, bool)
}

type memStore struct {
	name string
}

func (s *memStore) Get(string) (string, bool) { return s.name, true }

type notAStore struct{}

func storeType() reflect.Type { return contract.TypeOf[Store]() }

func caps(t *testing.T, id string) capability.Capabilities {
	t.Helper()
	c, err := capability.New(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func TestRegistry_Register_Success(t *testing.T) {
	r := New(nil)
	reg, err := r.Register(storeType(), &memStore{name: "a"}, caps(t, "store-a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.ID() == "" {
		t.Error("expected a registration id")
	}
	if reg.Contract() != storeType() {
		t.Errorf("expected contract %v, got %v", storeType(), reg.Contract())
	}
	if !reg.Active() {
		t.Error("expected new registrations to be active")
	}
	if reg.ProviderID() != "store-a" {
		t.Errorf("expected provider id store-a, got %q", reg.ProviderID())
	}
}

func TestRegistry_Register_Validation(t *testing.T) {
	r := New(nil)
	valid := caps(t, "store-a")

	tests := []struct {
		name     string
		contract reflect.Type
		provider any
		caps     capability.Capabilities
	}{
		{"nil contract", nil, &memStore{}, valid},
		{"non-interface contract", reflect.TypeOf(memStore{}), &memStore{}, valid},
		{"nil provider", storeType(), nil, valid},
		{"non-implementing provider", storeType(), &notAStore{}, valid},
		{"blank provider id", storeType(), &memStore{}, capability.Capabilities{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Register(tc.contract, tc.provider, tc.caps)
			if !errors.IsArgument(err) {
				t.Errorf("expected argument error, got %v", err)
			}
		})
	}
	if r.HasRegistrations(storeType()) {
		t.Error("failed registrations must not be stored")
	}
}

func TestRegistry_GetRegistrations_ActiveOnlyAndOrdered(t *testing.T) {
	r := New(nil)
	a, _ := r.Register(storeType(), &memStore{name: "a"}, caps(t, "store-a"))
	b, _ := r.Register(storeType(), &memStore{name: "b"}, caps(t, "store-b"))
	c, _ := r.Register(storeType(), &memStore{name: "c"}, caps(t, "store-c"))

	if !r.SetActive(b.ID(), false) {
		t.Fatal("expected SetActive to find the registration")
	}

	got := r.GetRegistrations(storeType())
	if len(got) != 2 {
		t.Fatalf("expected 2 active registrations, got %d", len(got))
	}
	if got[0].ID() != a.ID() || got[1].ID() != c.ID() {
		t.Error("expected registration order to be preserved")
	}
}

func TestRegistry_GetRegistrations_ReturnsCopy(t *testing.T) {
	r := New(nil)
	r.Register(storeType(), &memStore{name: "a"}, caps(t, "store-a"))
	r.Register(storeType(), &memStore{name: "b"}, caps(t, "store-b"))

	got := r.GetRegistrations(storeType())
	got[0] = nil
	again := r.GetRegistrations(storeType())
	if again[0] == nil {
		t.Error("expected GetRegistrations to return an independent slice")
	}
}

func TestRegistry_Unregister(t *testing.T) {
	r := New(nil)
	reg, _ := r.Register(storeType(), &memStore{name: "a"}, caps(t, "store-a"))

	if !r.Unregister(reg) {
		t.Error("expected first unregister to succeed")
	}
	if r.Unregister(reg) {
		t.Error("expected second unregister to report false")
	}
	if r.Unregister(nil) {
		t.Error("expected nil unregister to report false")
	}
}

func TestRegistry_SlotCleanup(t *testing.T) {
	r := New(nil)
	reg, _ := r.Register(storeType(), &memStore{name: "a"}, caps(t, "store-a"))
	r.Unregister(reg)

	if r.HasRegistrations(storeType()) {
		t.Error("expected no registrations after removal")
	}
	if got := len(r.Contracts()); got != 0 {
		t.Errorf("expected per-type slot to be cleaned up, still have %d contracts", got)
	}
}

func TestRegistry_ClearRegistrations(t *testing.T) {
	r := New(nil)
	r.Register(storeType(), &memStore{name: "a"}, caps(t, "store-a"))
	r.Register(storeType(), &memStore{name: "b"}, caps(t, "store-b"))

	if got := r.ClearRegistrations(storeType()); got != 2 {
		t.Errorf("expected 2 removed, got %d", got)
	}
	if got := r.ClearRegistrations(storeType()); got != 0 {
		t.Errorf("expected 0 removed on empty slot, got %d", got)
	}
	if r.HasRegistrations(storeType()) {
		t.Error("expected empty registry after clear")
	}
}

func TestRegistry_SetActive_ReplacesSnapshot(t *testing.T) {
	r := New(nil)
	reg, _ := r.Register(storeType(), &memStore{name: "a"}, caps(t, "store-a"))

	if !r.SetActive(reg.ID(), false) {
		t.Fatal("expected SetActive to succeed")
	}
	if reg.Active() != true {
		t.Error("original snapshot must stay untouched")
	}
	if r.HasRegistrations(storeType()) {
		t.Error("inactive registration must not count as active")
	}
	if r.SetActive("unknown-id", true) {
		t.Error("expected false for unknown id")
	}
}

func TestRegistry_GenericHelpers(t *testing.T) {
	r := New(nil)
	if _, err := Register[Store](r, &memStore{name: "a"}, caps(t, "store-a")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := Registrations[Store](r)
	if len(got) != 1 || got[0].ProviderID() != "store-a" {
		t.Errorf("expected one registration for store-a, got %v", got)
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("store-%d", n)
			reg, err := r.Register(storeType(), &memStore{name: id}, caps(t, id))
			if err != nil {
				t.Errorf("register failed: %v", err)
				return
			}
			r.GetRegistrations(storeType())
			r.HasRegistrations(storeType())
			if n%2 == 0 {
				r.Unregister(reg)
			}
		}(i)
	}
	wg.Wait()

	if got := len(r.GetRegistrations(storeType())); got != 8 {
		t.Errorf("expected 8 surviving registrations, got %d", got)
	}
}
