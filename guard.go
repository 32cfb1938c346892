package morphz

import (
	"context"
	"fmt"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Metric keys for Guard observability.
const (
	GuardEvaluatedTotal = metricz.Key("guard.evaluated.total")
	GuardPassedTotal    = metricz.Key("guard.passed.total")
	GuardRejectedTotal  = metricz.Key("guard.rejected.total")
)

// Span names for Guard.
const (
	GuardApplySpan = tracez.Key("guard.apply")
)

// Span tags for Guard.
const (
	GuardTagName   = tracez.Tag("guard.name")
	GuardTagPassed = tracez.Tag("guard.passed")

	// Hook event keys.
	GuardEventPassed   = hookz.Key("guard.passed")
	GuardEventRejected = hookz.Key("guard.rejected")
)

// GuardEvent represents a guard decision event, emitted via hookz every
// time the predicate is evaluated.
type GuardEvent struct {
	Name      Name      // Guard name
	Passed    bool      // Whether the predicate held
	Timestamp time.Time // When the event occurred
}

// Guard evaluates a predicate against the flowing value and reports the
// outcome on a side channel. The value itself always passes through
// unchanged, whichever way the predicate goes.
//
// That is a deliberate decision, not an oversight: a guard observes, it
// does not gate. Filtering that should divert or stop the flow belongs to
// Branch (choose an alternative unit) or to a unit that returns an error.
// Keeping the guard total means inserting or removing one never changes
// what a pipeline computes, only what it reports, so guards are safe to
// sprinkle through third-party pipelines.
//
// Guards carry fixed metadata {Pure: false, Fusible: false, Cost: 0.1,
// Memoizable: false}: the side channel is an observable effect, and a
// fused guard would stop reporting its position in the chain.
//
// This is what the fluent builder's Filter step appends.
//
// # Observability
//
// Metrics:
//   - guard.evaluated.total: Counter of predicate evaluations
//   - guard.passed.total: Counter of evaluations where the predicate held
//   - guard.rejected.total: Counter of evaluations where it did not
//
// Traces:
//   - guard.apply: Span per evaluation, tagged with the outcome
//
// Events (via hooks):
//   - guard.passed: Fired when the predicate holds
//   - guard.rejected: Fired when it does not
//
// Example:
//
//	solvent := morphz.NewGuard("solvent", func(_ context.Context, o Order) bool {
//	    return o.Total >= 0
//	})
//
//	solvent.OnRejected(func(ctx context.Context, e morphz.GuardEvent) error {
//	    alert.Warnf("negative total observed at %s", e.Timestamp)
//	    return nil
//	})
type Guard[T any] struct {
	predicate func(context.Context, T) bool
	name      Name

	// Observability
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[GuardEvent]
}

// NewGuard creates a Guard with the given predicate. Panics on an empty
// name or a nil predicate.
func NewGuard[T any](name Name, predicate func(context.Context, T) bool) *Guard[T] {
	if name == "" {
		panic("morphz: guard name must not be empty")
	}
	if predicate == nil {
		panic("morphz: guard " + name + " has a nil predicate")
	}

	// Initialize observability components
	registry := metricz.New()
	registry.Counter(GuardEvaluatedTotal)
	registry.Counter(GuardPassedTotal)
	registry.Counter(GuardRejectedTotal)

	return &Guard[T]{
		name:      name,
		predicate: predicate,
		metrics:   registry,
		tracer:    tracez.New(),
		hooks:     hookz.New[GuardEvent](),
	}
}

// Apply evaluates the predicate, records the outcome, and returns the
// value unchanged. Apply never fails.
func (g *Guard[T]) Apply(ctx context.Context, value T) (T, error) {
	ctx, span := g.tracer.StartSpan(ctx, GuardApplySpan)
	defer span.Finish()
	span.SetTag(GuardTagName, string(g.name))

	g.metrics.Counter(GuardEvaluatedTotal).Inc()

	passed := g.predicate(ctx, value)
	span.SetTag(GuardTagPassed, fmt.Sprintf("%t", passed))

	if passed {
		g.metrics.Counter(GuardPassedTotal).Inc()
		_ = g.hooks.Emit(ctx, GuardEventPassed, GuardEvent{ //nolint:errcheck
			Name:      g.name,
			Passed:    true,
			Timestamp: time.Now(),
		})
	} else {
		g.metrics.Counter(GuardRejectedTotal).Inc()
		_ = g.hooks.Emit(ctx, GuardEventRejected, GuardEvent{ //nolint:errcheck
			Name:      g.name,
			Passed:    false,
			Timestamp: time.Now(),
		})
	}

	return value, nil
}

// Name returns the name of this guard.
func (g *Guard[T]) Name() Name {
	return g.name
}

// Metadata returns the guard's fixed metadata.
func (g *Guard[T]) Metadata() Metadata {
	return Metadata{Pure: false, Fusible: false, Cost: 0.1, Memoizable: false}
}

// Shape reports the guard as a leaf unit.
func (g *Guard[T]) Shape() Shape[T] {
	return Shape[T]{Kind: KindUnit}
}

// Predicate returns the predicate function.
func (g *Guard[T]) Predicate() func(context.Context, T) bool {
	return g.predicate
}

// Metrics returns the metrics registry for this guard.
func (g *Guard[T]) Metrics() *metricz.Registry {
	return g.metrics
}

// Tracer returns the tracer for this guard.
func (g *Guard[T]) Tracer() *tracez.Tracer {
	return g.tracer
}

// Close gracefully shuts down observability components.
func (g *Guard[T]) Close() error {
	if g.tracer != nil {
		g.tracer.Close()
	}
	g.hooks.Close()
	return nil
}

// OnPassed registers a handler for evaluations where the predicate holds.
func (g *Guard[T]) OnPassed(handler func(context.Context, GuardEvent) error) error {
	_, err := g.hooks.Hook(GuardEventPassed, handler)
	return err
}

// OnRejected registers a handler for evaluations where the predicate does
// not hold.
func (g *Guard[T]) OnRejected(handler func(context.Context, GuardEvent) error) error {
	_, err := g.hooks.Hook(GuardEventRejected, handler)
	return err
}
