package morphz

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
)

// Metric keys for Registry observability.
const (
	RegistryRegistrationsTotal   = metricz.Key("registry.registrations.total")
	RegistryReplacementsTotal    = metricz.Key("registry.replacements.total")
	RegistryUnregistrationsTotal = metricz.Key("registry.unregistrations.total")
	RegistryLookupsTotal         = metricz.Key("registry.lookups.total")
	RegistryMissesTotal          = metricz.Key("registry.misses.total")
	RegistrySize                 = metricz.Key("registry.size")
)

// Hook event keys for Registry.
const (
	RegistryEventRegistered   = hookz.Key("registry.registered")
	RegistryEventReplaced     = hookz.Key("registry.replaced")
	RegistryEventUnregistered = hookz.Key("registry.unregistered")
)

// RegistryEvent represents a registry mutation event, emitted via hookz.
type RegistryEvent struct {
	Name      Name      // Name of the unit involved
	Units     int       // Registry size after the mutation
	Timestamp time.Time // When the event occurred
}

// Descriptor carries descriptive metadata for a registered unit. It is
// what a catalog or UI would show for the unit; none of it affects
// execution.
//
// Input and Output are type labels. When left empty they are filled in
// from the registry's value type by reflection, so most callers never
// set them.
//
// Trace records the names of the steps a composite was built from, in
// order. The fluent builder fills it in when registering a built
// pipeline; hand-registered units usually leave it nil.
type Descriptor struct {
	Description string   // Human-readable summary of what the unit does
	Category    string   // Grouping label, e.g. "parse" or "enrich"
	Tags        []string // Free-form labels for discovery
	Input       string   // Input type label
	Output      string   // Output type label
	Trace       []Name   // Names of the steps the unit was composed from
}

type registration[T any] struct {
	unit Morph[T]
	desc Descriptor
}

// Registry is a named catalog of units. It maps names to units together
// with their descriptors, safe for concurrent use. Registries are plain
// values handed to whoever needs one; there is no package-level default,
// so tests and subsystems each get their own.
//
// Register rejects duplicate names with ErrAlreadyRegistered. Overwriting
// is a separate, deliberate act: use Replace. Get and Describe report
// unknown names with ErrNotFound, distinct from any failure of the unit
// itself.
//
// # Observability
//
// Metrics:
//   - registry.registrations.total: Counter of successful registrations
//   - registry.replacements.total: Counter of replacements of existing units
//   - registry.unregistrations.total: Counter of removals
//   - registry.lookups.total: Counter of Get and Describe calls
//   - registry.misses.total: Counter of lookups that found nothing
//   - registry.size: Gauge of currently registered units
//
// Events (via hooks):
//   - registry.registered: Fired when a unit is registered
//   - registry.replaced: Fired when a unit is replaced
//   - registry.unregistered: Fired when a unit is removed
//
// Example:
//
//	reg := morphz.NewRegistry[Order]()
//	if err := reg.Register(validate); err != nil {
//	    return err
//	}
//	unit, err := reg.Get("validate")
type Registry[T any] struct {
	mu    sync.RWMutex
	units map[Name]registration[T]

	// Observability
	metrics *metricz.Registry
	hooks   *hookz.Hooks[RegistryEvent]
}

// NewRegistry creates an empty Registry for units over T.
func NewRegistry[T any]() *Registry[T] {
	registry := metricz.New()
	registry.Counter(RegistryRegistrationsTotal)
	registry.Counter(RegistryReplacementsTotal)
	registry.Counter(RegistryUnregistrationsTotal)
	registry.Counter(RegistryLookupsTotal)
	registry.Counter(RegistryMissesTotal)
	registry.Gauge(RegistrySize)

	return &Registry[T]{
		units:   make(map[Name]registration[T]),
		metrics: registry,
		hooks:   hookz.New[RegistryEvent](),
	}
}

// describe normalizes the optional descriptor: slices are copied so the
// registry owns its metadata, and empty type labels are filled in by
// reflection.
func describe[T any](desc []Descriptor) Descriptor {
	var d Descriptor
	if len(desc) > 0 {
		d = desc[0]
		d.Tags = append([]string(nil), d.Tags...)
		d.Trace = append([]Name(nil), d.Trace...)
	}
	if d.Input == "" {
		d.Input = typeLabel[T]()
	}
	if d.Output == "" {
		d.Output = typeLabel[T]()
	}
	return d
}

// Register adds a unit under its own name. It returns an error wrapping
// ErrAlreadyRegistered if the name is taken; use Replace to overwrite
// deliberately. Panics on a nil unit or an unnamed unit, as neither can
// ever be looked up.
func (r *Registry[T]) Register(unit Morph[T], desc ...Descriptor) error {
	if unit == nil {
		panic("morphz: register of a nil unit")
	}
	name := unit.Name()
	if name == "" {
		panic("morphz: a unit must be named to be registered")
	}
	d := describe[T](desc)

	r.mu.Lock()
	if _, exists := r.units[name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, name)
	}
	r.units[name] = registration[T]{unit: unit, desc: d}
	size := len(r.units)
	r.mu.Unlock()

	r.metrics.Counter(RegistryRegistrationsTotal).Inc()
	r.metrics.Gauge(RegistrySize).Set(float64(size))

	_ = r.hooks.Emit(context.Background(), RegistryEventRegistered, RegistryEvent{ //nolint:errcheck
		Name:      name,
		Units:     size,
		Timestamp: time.Now(),
	})

	return nil
}

// Replace adds a unit under its own name, overwriting any existing
// registration. Panics on a nil unit or an unnamed unit.
func (r *Registry[T]) Replace(unit Morph[T], desc ...Descriptor) {
	if unit == nil {
		panic("morphz: replace with a nil unit")
	}
	name := unit.Name()
	if name == "" {
		panic("morphz: a unit must be named to be registered")
	}
	d := describe[T](desc)

	r.mu.Lock()
	_, existed := r.units[name]
	r.units[name] = registration[T]{unit: unit, desc: d}
	size := len(r.units)
	r.mu.Unlock()

	event := RegistryEventRegistered
	if existed {
		event = RegistryEventReplaced
		r.metrics.Counter(RegistryReplacementsTotal).Inc()
	} else {
		r.metrics.Counter(RegistryRegistrationsTotal).Inc()
	}
	r.metrics.Gauge(RegistrySize).Set(float64(size))

	_ = r.hooks.Emit(context.Background(), event, RegistryEvent{ //nolint:errcheck
		Name:      name,
		Units:     size,
		Timestamp: time.Now(),
	})
}

// Get returns the unit registered under name. The error wraps
// ErrNotFound when no unit has that name.
func (r *Registry[T]) Get(name Name) (Morph[T], error) {
	r.mu.RLock()
	reg, ok := r.units[name]
	r.mu.RUnlock()

	r.metrics.Counter(RegistryLookupsTotal).Inc()
	if !ok {
		r.metrics.Counter(RegistryMissesTotal).Inc()
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return reg.unit, nil
}

// Describe returns the descriptor stored for name. The error wraps
// ErrNotFound when no unit has that name. The returned descriptor is a
// copy; mutating it does not affect the registry.
func (r *Registry[T]) Describe(name Name) (Descriptor, error) {
	r.mu.RLock()
	reg, ok := r.units[name]
	r.mu.RUnlock()

	r.metrics.Counter(RegistryLookupsTotal).Inc()
	if !ok {
		r.metrics.Counter(RegistryMissesTotal).Inc()
		return Descriptor{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	d := reg.desc
	d.Tags = append([]string(nil), d.Tags...)
	d.Trace = append([]Name(nil), d.Trace...)
	return d, nil
}

// Unregister removes the unit registered under name. The error wraps
// ErrNotFound when no unit has that name.
func (r *Registry[T]) Unregister(name Name) error {
	r.mu.Lock()
	_, ok := r.units[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	delete(r.units, name)
	size := len(r.units)
	r.mu.Unlock()

	r.metrics.Counter(RegistryUnregistrationsTotal).Inc()
	r.metrics.Gauge(RegistrySize).Set(float64(size))

	_ = r.hooks.Emit(context.Background(), RegistryEventUnregistered, RegistryEvent{ //nolint:errcheck
		Name:      name,
		Units:     size,
		Timestamp: time.Now(),
	})

	return nil
}

// Names returns the registered names in sorted order.
func (r *Registry[T]) Names() []Name {
	r.mu.RLock()
	names := make([]Name, 0, len(r.units))
	for name := range r.units {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Len returns the number of registered units.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.units)
}

// Metrics returns the metrics registry for this registry.
func (r *Registry[T]) Metrics() *metricz.Registry {
	return r.metrics
}

// Close gracefully shuts down observability components.
func (r *Registry[T]) Close() error {
	r.hooks.Close()
	return nil
}

// OnRegistered registers a handler called when a unit is registered.
func (r *Registry[T]) OnRegistered(handler func(context.Context, RegistryEvent) error) error {
	_, err := r.hooks.Hook(RegistryEventRegistered, handler)
	return err
}

// OnReplaced registers a handler called when a unit is replaced.
func (r *Registry[T]) OnReplaced(handler func(context.Context, RegistryEvent) error) error {
	_, err := r.hooks.Hook(RegistryEventReplaced, handler)
	return err
}

// OnUnregistered registers a handler called when a unit is removed.
func (r *Registry[T]) OnUnregistered(handler func(context.Context, RegistryEvent) error) error {
	_, err := r.hooks.Hook(RegistryEventUnregistered, handler)
	return err
}
