package morphz

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRegistry_RoundTrip(t *testing.T) {
	reg := NewRegistry[int]()
	defer reg.Close()

	double := Transform("double", func(_ context.Context, n int) int { return n * 2 })

	if err := reg.Register(double); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	got, err := reg.Get("double")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got.Name() != "double" {
		t.Errorf("Expected 'double' back, got %s", got.Name())
	}

	result, err := got.Apply(context.Background(), 21)
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if result != 42 {
		t.Errorf("Expected 42, got %d", result)
	}
}

func TestRegistry_GetUnknownName(t *testing.T) {
	reg := NewRegistry[int]()
	defer reg.Close()

	_, err := reg.Get("unknown-name")
	if err == nil {
		t.Fatal("Expected error for unknown name, got nil")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "unknown-name") {
		t.Errorf("Expected error to name the missing key, got %v", err)
	}
}

func TestRegistry_DuplicateRegistrationRejected(t *testing.T) {
	reg := NewRegistry[int]()
	defer reg.Close()

	first := Transform("step", func(_ context.Context, n int) int { return n + 1 })
	second := Transform("step", func(_ context.Context, n int) int { return n + 2 })

	if err := reg.Register(first); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	err := reg.Register(second)
	if err == nil {
		t.Fatal("Expected duplicate registration to be rejected")
	}
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("Expected ErrAlreadyRegistered, got %v", err)
	}

	// The first registration survives.
	got, err := reg.Get("step")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	result, _ := got.Apply(context.Background(), 0)
	if result != 1 {
		t.Errorf("Expected first registration to survive, got result %d", result)
	}
}

func TestRegistry_ReplaceOverwritesDeterministically(t *testing.T) {
	reg := NewRegistry[int]()
	defer reg.Close()

	first := Transform("step", func(_ context.Context, n int) int { return n + 1 })
	second := Transform("step", func(_ context.Context, n int) int { return n + 2 })

	if err := reg.Register(first); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	reg.Replace(second)

	got, err := reg.Get("step")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	result, _ := got.Apply(context.Background(), 0)
	if result != 2 {
		t.Errorf("Expected replacement to win, got result %d", result)
	}
	if reg.Len() != 1 {
		t.Errorf("Expected 1 entry after replace, got %d", reg.Len())
	}
}

func TestRegistry_ReplaceWithoutExistingRegisters(t *testing.T) {
	reg := NewRegistry[int]()
	defer reg.Close()

	reg.Replace(Transform("fresh", func(_ context.Context, n int) int { return n }))

	if _, err := reg.Get("fresh"); err != nil {
		t.Errorf("Expected replace to register when absent, got %v", err)
	}
}

func TestRegistry_Unregister(t *testing.T) {
	reg := NewRegistry[int]()
	defer reg.Close()

	unit := Transform("ephemeral", func(_ context.Context, n int) int { return n })
	if err := reg.Register(unit); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if err := reg.Unregister("ephemeral"); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if _, err := reg.Get("ephemeral"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after unregister, got %v", err)
	}

	if err := reg.Unregister("ephemeral"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on double unregister, got %v", err)
	}
}

func TestRegistry_DescriptorDefaults(t *testing.T) {
	reg := NewRegistry[int]()
	defer reg.Close()

	unit := Transform("typed", func(_ context.Context, n int) int { return n })
	if err := reg.Register(unit); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	desc, err := reg.Describe("typed")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if desc.Input != "int" {
		t.Errorf("Expected input label 'int', got %s", desc.Input)
	}
	if desc.Output != "int" {
		t.Errorf("Expected output label 'int', got %s", desc.Output)
	}
}

func TestRegistry_DescriptorStored(t *testing.T) {
	reg := NewRegistry[string]()
	defer reg.Close()

	unit := Transform("normalize", func(_ context.Context, s string) string { return s })
	desc := Descriptor{
		Description: "Lowercases and trims the value",
		Category:    "cleanup",
		Tags:        []string{"text", "normalize"},
	}
	if err := reg.Register(unit, desc); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	got, err := reg.Describe("normalize")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got.Description != desc.Description {
		t.Errorf("Expected description %q, got %q", desc.Description, got.Description)
	}
	if got.Category != "cleanup" {
		t.Errorf("Expected category 'cleanup', got %s", got.Category)
	}
	if len(got.Tags) != 2 {
		t.Errorf("Expected 2 tags, got %v", got.Tags)
	}

	// The returned descriptor is a copy.
	got.Tags[0] = "mutated"
	fresh, _ := reg.Describe("normalize")
	if fresh.Tags[0] != "text" {
		t.Error("Expected stored descriptor to be immune to caller mutation")
	}
}

func TestRegistry_NamesSorted(t *testing.T) {
	reg := NewRegistry[int]()
	defer reg.Close()

	for _, name := range []Name{"zeta", "alpha", "mid"} {
		unit := Transform(name, func(_ context.Context, n int) int { return n })
		if err := reg.Register(unit); err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
	}

	names := reg.Names()
	want := []Name{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("Expected %d names, got %d", len(want), len(names))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Expected name %d to be %s, got %s", i, want[i], names[i])
		}
	}
}

func TestRegistry_PanicsOnNilUnit(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Expected panic on nil unit")
		}
	}()

	reg := NewRegistry[int]()
	defer reg.Close()
	reg.Register(nil)
}

func TestRegistry_Observability(t *testing.T) {
	t.Run("Metrics", func(t *testing.T) {
		reg := NewRegistry[int]()
		defer reg.Close()

		unit := Transform("counted", func(_ context.Context, n int) int { return n })
		if err := reg.Register(unit); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		reg.Get("counted")
		reg.Get("missing")

		registrations := reg.Metrics().Counter(RegistryRegistrationsTotal).Value()
		if registrations != 1 {
			t.Errorf("expected 1 registration, got %f", registrations)
		}
		lookups := reg.Metrics().Counter(RegistryLookupsTotal).Value()
		if lookups != 2 {
			t.Errorf("expected 2 lookups, got %f", lookups)
		}
		misses := reg.Metrics().Counter(RegistryMissesTotal).Value()
		if misses != 1 {
			t.Errorf("expected 1 miss, got %f", misses)
		}
		size := reg.Metrics().Gauge(RegistrySize).Value()
		if size != 1 {
			t.Errorf("expected size gauge 1, got %f", size)
		}
	})

	t.Run("Hooks", func(t *testing.T) {
		reg := NewRegistry[int]()
		defer reg.Close()

		var registered atomic.Int32
		var replaced atomic.Int32
		var unregistered atomic.Int32

		reg.OnRegistered(func(_ context.Context, e RegistryEvent) error {
			registered.Add(1)
			return nil
		})
		reg.OnReplaced(func(_ context.Context, e RegistryEvent) error {
			replaced.Add(1)
			return nil
		})
		reg.OnUnregistered(func(_ context.Context, e RegistryEvent) error {
			if e.Units != 0 {
				t.Errorf("expected empty registry after unregister, got %d", e.Units)
			}
			unregistered.Add(1)
			return nil
		})

		unit := Transform("lifecycle", func(_ context.Context, n int) int { return n })
		reg.Register(unit)
		reg.Replace(Transform("lifecycle", func(_ context.Context, n int) int { return n + 1 }))
		reg.Unregister("lifecycle")

		// Wait for async hooks
		time.Sleep(10 * time.Millisecond)

		if registered.Load() != 1 {
			t.Errorf("expected 1 registered event, got %d", registered.Load())
		}
		if replaced.Load() != 1 {
			t.Errorf("expected 1 replaced event, got %d", replaced.Load())
		}
		if unregistered.Load() != 1 {
			t.Errorf("expected 1 unregistered event, got %d", unregistered.Load())
		}
	})
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry[int]()
	defer reg.Close()

	var wg sync.WaitGroup

	// Writers register distinct names while readers look up.
	for i := 0; i < 10; i++ {
		wg.Add(2)

		go func(n int) {
			defer wg.Done()
			name := Name(rune('a' + n))
			unit := Transform(name, func(_ context.Context, v int) int { return v + n })
			if err := reg.Register(unit); err != nil {
				t.Errorf("writer %d: unexpected error %v", n, err)
			}
		}(i)

		go func(n int) {
			defer wg.Done()
			// Lookups may hit or miss depending on timing; both are fine,
			// the registry just must not race.
			unit, err := reg.Get(Name(rune('a' + n)))
			if err == nil && unit == nil {
				t.Errorf("reader %d: got nil unit without error", n)
			}
		}(i)
	}

	wg.Wait()

	if reg.Len() != 10 {
		t.Errorf("Expected 10 registered units, got %d", reg.Len())
	}
}
