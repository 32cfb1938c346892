package morphz

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Metric keys for Memoize observability.
const (
	MemoizeHitsTotal      = metricz.Key("memoize.hits.total")
	MemoizeMissesTotal    = metricz.Key("memoize.misses.total")
	MemoizeEvictionsTotal = metricz.Key("memoize.evictions.total")
	MemoizeSize           = metricz.Key("memoize.size")
)

// Span names for Memoize.
const (
	MemoizeApplySpan = tracez.Key("memoize.apply")
)

// Span tags for Memoize.
const (
	MemoizeTagName = tracez.Tag("memoize.name")
	MemoizeTagHit  = tracez.Tag("memoize.hit")

	// Hook event keys.
	MemoizeEventHit  = hookz.Key("memoize.hit")
	MemoizeEventMiss = hookz.Key("memoize.miss")
)

// MemoizeEvent represents a cache lookup event, emitted via hookz.
type MemoizeEvent struct {
	Name      Name      // Memoize name
	Hit       bool      // Whether the cache held a live entry
	Size      int       // Entries in the cache after the lookup
	Timestamp time.Time // When the event occurred
}

type memoEntry[T any] struct {
	value   T
	expires time.Time
}

// Memoize caches the results of a unit, keyed by a caller-supplied key
// function over the input. Construction refuses units whose metadata
// declares them non-memoizable; everything else about the wrapped unit
// is taken at its word.
//
// Hits return the cached value without applying the unit. Misses apply
// the unit and cache the result only on success; errors are never
// cached, so a failing input is retried on every call. A positive ttl
// bounds entry lifetime, with expired entries evicted when next
// accessed; ttl <= 0 means entries never expire.
//
// Two goroutines missing on the same key may both apply the unit. The
// unit is memoizable, so the duplicate work is wasted but harmless, and
// the last writer wins.
//
// Derived metadata is the wrapped unit's with Fusible forced false,
// since fusing a neighbor into the memoized closure would bypass the
// cache for the fused pair.
//
// # Observability
//
// Metrics:
//   - memoize.hits.total: Counter of cache hits
//   - memoize.misses.total: Counter of cache misses
//   - memoize.evictions.total: Counter of expired entries evicted
//   - memoize.size: Gauge of live cache entries
//
// Traces:
//   - memoize.apply: Span per lookup, tagged hit or miss
//
// Events (via hooks):
//   - memoize.hit: Fired on a cache hit
//   - memoize.miss: Fired after a miss applies the unit
//
// Example:
//
//	cached := morphz.NewMemoize("geo-cache", lookup,
//	    func(r Request) string { return r.IP },
//	    5*time.Minute,
//	)
type Memoize[T any, K comparable] struct {
	unit  Morph[T]
	keyFn func(T) K
	ttl   time.Duration
	name  Name
	meta  Metadata

	mu      sync.Mutex
	entries map[K]memoEntry[T]
	clock   clockz.Clock

	// Observability
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[MemoizeEvent]
}

// NewMemoize creates a Memoize wrapping unit, keyed by keyFn. Panics on
// an empty name, a nil unit or key function, or a unit whose metadata
// declares it non-memoizable.
func NewMemoize[T any, K comparable](name Name, unit Morph[T], keyFn func(T) K, ttl time.Duration) *Memoize[T, K] {
	if name == "" {
		panic("morphz: memoize name must not be empty")
	}
	if unit == nil {
		panic("morphz: memoize " + name + " has a nil unit")
	}
	if keyFn == nil {
		panic("morphz: memoize " + name + " has a nil key function")
	}
	if !unit.Metadata().Memoizable {
		panic("morphz: memoize " + name + " wraps non-memoizable unit " + unit.Name())
	}

	meta := unit.Metadata()
	meta.Fusible = false

	// Initialize observability components
	registry := metricz.New()
	registry.Counter(MemoizeHitsTotal)
	registry.Counter(MemoizeMissesTotal)
	registry.Counter(MemoizeEvictionsTotal)
	registry.Gauge(MemoizeSize)

	return &Memoize[T, K]{
		name:    name,
		unit:    unit,
		keyFn:   keyFn,
		ttl:     ttl,
		meta:    meta,
		entries: make(map[K]memoEntry[T]),
		metrics: registry,
		tracer:  tracez.New(),
		hooks:   hookz.New[MemoizeEvent](),
	}
}

// Apply returns the cached result for the input's key, or applies the
// wrapped unit and caches the result on success. Errors propagate
// verbatim and leave the cache untouched.
func (m *Memoize[T, K]) Apply(ctx context.Context, value T) (T, error) {
	ctx, span := m.tracer.StartSpan(ctx, MemoizeApplySpan)
	defer span.Finish()
	span.SetTag(MemoizeTagName, string(m.name))

	key := m.keyFn(value)

	m.mu.Lock()
	entry, ok := m.entries[key]
	if ok && m.ttl > 0 && m.getClock().Now().After(entry.expires) {
		delete(m.entries, key)
		m.metrics.Counter(MemoizeEvictionsTotal).Inc()
		m.metrics.Gauge(MemoizeSize).Set(float64(len(m.entries)))
		ok = false
	}
	size := len(m.entries)
	m.mu.Unlock()

	if ok {
		m.metrics.Counter(MemoizeHitsTotal).Inc()
		span.SetTag(MemoizeTagHit, "true")
		_ = m.hooks.Emit(ctx, MemoizeEventHit, MemoizeEvent{ //nolint:errcheck
			Name:      m.name,
			Hit:       true,
			Size:      size,
			Timestamp: time.Now(),
		})
		return entry.value, nil
	}

	m.metrics.Counter(MemoizeMissesTotal).Inc()
	span.SetTag(MemoizeTagHit, "false")

	result, err := m.unit.Apply(ctx, value)
	if err != nil {
		return result, err
	}

	m.mu.Lock()
	stored := memoEntry[T]{value: result}
	if m.ttl > 0 {
		stored.expires = m.getClock().Now().Add(m.ttl)
	}
	m.entries[key] = stored
	size = len(m.entries)
	m.mu.Unlock()

	m.metrics.Gauge(MemoizeSize).Set(float64(size))
	_ = m.hooks.Emit(ctx, MemoizeEventMiss, MemoizeEvent{ //nolint:errcheck
		Name:      m.name,
		Hit:       false,
		Size:      size,
		Timestamp: time.Now(),
	})

	return result, nil
}

// Name returns the name of this memoize.
func (m *Memoize[T, K]) Name() Name {
	return m.name
}

// Metadata returns the wrapped unit's metadata with Fusible forced false.
func (m *Memoize[T, K]) Metadata() Metadata {
	return m.meta
}

// Shape reports the memoize as a leaf unit. Flattening must not reach
// past the cache boundary.
func (m *Memoize[T, K]) Shape() Shape[T] {
	return Shape[T]{Kind: KindUnit}
}

// Unit returns the wrapped unit.
func (m *Memoize[T, K]) Unit() Morph[T] {
	return m.unit
}

// Len returns the number of live cache entries.
func (m *Memoize[T, K]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Clear evicts every cache entry.
func (m *Memoize[T, K]) Clear() {
	m.mu.Lock()
	for key := range m.entries {
		delete(m.entries, key)
		m.metrics.Counter(MemoizeEvictionsTotal).Inc()
	}
	m.mu.Unlock()
	m.metrics.Gauge(MemoizeSize).Set(0)
}

// WithClock sets a custom clock for testing.
func (m *Memoize[T, K]) WithClock(clock clockz.Clock) *Memoize[T, K] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
	return m
}

// getClock returns the clock to use.
func (m *Memoize[T, K]) getClock() clockz.Clock {
	if m.clock == nil {
		return clockz.RealClock
	}
	return m.clock
}

// Metrics returns the metrics registry for this memoize.
func (m *Memoize[T, K]) Metrics() *metricz.Registry {
	return m.metrics
}

// Tracer returns the tracer for this memoize.
func (m *Memoize[T, K]) Tracer() *tracez.Tracer {
	return m.tracer
}

// Close gracefully shuts down observability components.
func (m *Memoize[T, K]) Close() error {
	if m.tracer != nil {
		m.tracer.Close()
	}
	m.hooks.Close()
	return nil
}

// OnHit registers a handler called on every cache hit.
func (m *Memoize[T, K]) OnHit(handler func(context.Context, MemoizeEvent) error) error {
	_, err := m.hooks.Hook(MemoizeEventHit, handler)
	return err
}

// OnMiss registers a handler called after every cache miss.
func (m *Memoize[T, K]) OnMiss(handler func(context.Context, MemoizeEvent) error) error {
	_, err := m.hooks.Hook(MemoizeEventMiss, handler)
	return err
}
