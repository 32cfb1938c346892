package morphz

import (
	"context"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Metric keys for Branch observability.
const (
	BranchEvaluatedTotal = metricz.Key("branch.evaluated.total")
	BranchTrueTotal      = metricz.Key("branch.true.total")
	BranchFalseTotal     = metricz.Key("branch.false.total")
)

// Span names for Branch.
const (
	BranchApplySpan = tracez.Key("branch.apply")
)

// Span tags for Branch.
const (
	BranchTagName    = tracez.Tag("branch.name")
	BranchTagRoute   = tracez.Tag("branch.route")
	BranchTagSuccess = tracez.Tag("branch.success")
	BranchTagError   = tracez.Tag("branch.error")

	// Hook event keys.
	BranchEventRouted = hookz.Key("branch.routed")
)

// BranchEvent represents a routing decision event, emitted via hookz after
// the chosen unit completes.
type BranchEvent struct {
	Name      Name          // Branch name
	Route     Name          // Name of the unit that ran
	TookTrue  bool          // Whether the predicate held
	Success   bool          // Whether the chosen unit succeeded
	Error     error         // Error if the chosen unit failed
	Duration  time.Duration // How long the chosen unit took
	Timestamp time.Time     // When the event occurred
}

// Branch dispatches to one of two units based on a predicate: the true
// unit when the predicate holds, the false unit otherwise. It is the
// two-way conditional the fluent builder's Branch step appends, exported
// because it is just as useful composed by hand.
//
// Derived metadata is conservative: the predicate is opaque, so a branch
// is impure, non-fusible, and non-memoizable; its cost is 1 (for the
// predicate) plus the worse of the two routes.
//
// For flattening purposes a branch is a leaf. Its children are
// alternatives, not sequence steps, so the optimizer must not splice
// them into the surrounding chain.
//
// # Observability
//
// Metrics:
//   - branch.evaluated.total: Counter of predicate evaluations
//   - branch.true.total: Counter of dispatches to the true unit
//   - branch.false.total: Counter of dispatches to the false unit
//
// Traces:
//   - branch.apply: Span per dispatch, tagged with the route taken
//
// Events (via hooks):
//   - branch.routed: Fired after the chosen unit completes
//
// Example:
//
//	abs := morphz.NewBranch("abs",
//	    func(_ context.Context, n int) bool { return n >= 0 },
//	    morphz.Transform("keep", func(_ context.Context, n int) int { return n }),
//	    morphz.Transform("negate", func(_ context.Context, n int) int { return -n }),
//	)
type Branch[T any] struct {
	predicate func(context.Context, T) bool
	whenTrue  Morph[T]
	whenFalse Morph[T]
	name      Name
	meta      Metadata

	// Observability
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[BranchEvent]
}

// NewBranch creates a Branch dispatching between whenTrue and whenFalse.
// Panics on an empty name, a nil predicate, or a nil child.
func NewBranch[T any](name Name, predicate func(context.Context, T) bool, whenTrue, whenFalse Morph[T]) *Branch[T] {
	if name == "" {
		panic("morphz: branch name must not be empty")
	}
	if predicate == nil {
		panic("morphz: branch " + name + " has a nil predicate")
	}
	if whenTrue == nil || whenFalse == nil {
		panic("morphz: branch " + name + " has a nil child")
	}

	// Initialize observability components
	registry := metricz.New()
	registry.Counter(BranchEvaluatedTotal)
	registry.Counter(BranchTrueTotal)
	registry.Counter(BranchFalseTotal)

	return &Branch[T]{
		name:      name,
		predicate: predicate,
		whenTrue:  whenTrue,
		whenFalse: whenFalse,
		meta: Metadata{
			Pure:       false,
			Fusible:    false,
			Cost:       1 + max(whenTrue.Metadata().Cost, whenFalse.Metadata().Cost),
			Memoizable: false,
		},
		metrics: registry,
		tracer:  tracez.New(),
		hooks:   hookz.New[BranchEvent](),
	}
}

// Apply evaluates the predicate and dispatches to the chosen unit. The
// chosen unit's result and error are returned verbatim.
func (b *Branch[T]) Apply(ctx context.Context, value T) (result T, err error) {
	ctx, span := b.tracer.StartSpan(ctx, BranchApplySpan)
	defer span.Finish()
	span.SetTag(BranchTagName, string(b.name))

	b.metrics.Counter(BranchEvaluatedTotal).Inc()

	tookTrue := b.predicate(ctx, value)
	route := b.whenFalse
	if tookTrue {
		route = b.whenTrue
		b.metrics.Counter(BranchTrueTotal).Inc()
	} else {
		b.metrics.Counter(BranchFalseTotal).Inc()
	}
	span.SetTag(BranchTagRoute, string(route.Name()))

	start := time.Now()
	result, err = route.Apply(ctx, value)
	duration := time.Since(start)

	if err == nil {
		span.SetTag(BranchTagSuccess, "true")
	} else {
		span.SetTag(BranchTagSuccess, "false")
		span.SetTag(BranchTagError, err.Error())
	}

	_ = b.hooks.Emit(ctx, BranchEventRouted, BranchEvent{ //nolint:errcheck
		Name:      b.name,
		Route:     route.Name(),
		TookTrue:  tookTrue,
		Success:   err == nil,
		Error:     err,
		Duration:  duration,
		Timestamp: time.Now(),
	})

	return result, err
}

// Name returns the name of this branch.
func (b *Branch[T]) Name() Name {
	return b.name
}

// Metadata returns the derived metadata computed at construction.
func (b *Branch[T]) Metadata() Metadata {
	return b.meta
}

// Shape reports the branch as a leaf unit. Its children are alternatives,
// not sequence steps, so the flattener must not expand them.
func (b *Branch[T]) Shape() Shape[T] {
	return Shape[T]{Kind: KindUnit}
}

// WhenTrue returns the unit chosen when the predicate holds.
func (b *Branch[T]) WhenTrue() Morph[T] {
	return b.whenTrue
}

// WhenFalse returns the unit chosen when the predicate does not hold.
func (b *Branch[T]) WhenFalse() Morph[T] {
	return b.whenFalse
}

// Metrics returns the metrics registry for this branch.
func (b *Branch[T]) Metrics() *metricz.Registry {
	return b.metrics
}

// Tracer returns the tracer for this branch.
func (b *Branch[T]) Tracer() *tracez.Tracer {
	return b.tracer
}

// Close gracefully shuts down observability components.
func (b *Branch[T]) Close() error {
	if b.tracer != nil {
		b.tracer.Close()
	}
	b.hooks.Close()
	return nil
}

// OnRouted registers a handler called after every dispatch.
func (b *Branch[T]) OnRouted(handler func(context.Context, BranchEvent) error) error {
	_, err := b.hooks.Hook(BranchEventRouted, handler)
	return err
}
