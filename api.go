// Package morphz provides a lightweight, type-safe algebra for composing and
// optimizing data transformation pipelines in Go.
//
// # Overview
//
// morphz models data processing as "transform units": small named functions
// from an input value and a context to an output value, each carrying
// optimization metadata (purity, fusibility, cost, memoizability). Units
// compose sequentially into pipelines, pipelines flatten back into their
// ordered constituent units, and an optimizer rewrites pipelines by removing
// redundant identity steps and fusing adjacent compatible units into single
// closures, without changing observable behavior.
//
// # Installation
//
//	go get github.com/zoobzio/morphz
//
// Requires Go 1.21+ for generic type constraints.
//
// # Core Concepts
//
// The library is built around a single, uniform interface:
//
//	type Morph[T any] interface {
//	    Apply(context.Context, T) (T, error)
//	    Name() Name
//	    Metadata() Metadata
//	    Shape() Shape[T]
//	}
//
// Key components:
//   - Units: atomic transform steps created with adapter functions (NewUnit, Transform, Effect, Mutate)
//   - Composites: Sequential (binary) and MultiStep (N-ary with post-processing)
//   - Pipeline: a named, extensible wrapper around one root unit
//   - Sequence: a flat step list that avoids nested composite objects
//   - Optimizer: flattens, strips identities, and fuses fusible neighbors
//   - Builder: fluent assembly with registry-backed lookup by name
//   - Registry: injectable name-to-unit table with descriptive metadata
//
// Design philosophy:
//   - Units, composites, pipelines, and sequences are immutable values
//   - Extension always returns a new value; sharing across goroutines is free
//   - Metadata is derived, never stored behind the caller's back: composite
//     metadata is a pure function of constituent metadata
//   - The optimizer trusts declared metadata alone and never inspects
//     concrete types
//
// # Adapter Functions
//
// Adapters wrap your functions into units:
//
// NewUnit - The general constructor, for operations that can fail:
//
//	parse := morphz.NewUnit("parse", func(_ context.Context, s string) (string, error) {
//	    return strconv.Unquote(s)
//	})
//
// Transform - Pure transformations that cannot fail:
//
//	double := morphz.Transform("double", func(_ context.Context, n int) int {
//	    return n * 2
//	})
//
// Effect - Side effects without modifying data:
//
//	audit := morphz.Effect("audit", func(_ context.Context, o Order) error {
//	    return auditLog.Record(o)
//	})
//
// Mutate - Conditional modifications:
//
//	discount := morphz.Mutate("discount",
//	    func(_ context.Context, o Order) Order { o.Total *= 0.8; return o },
//	    func(_ context.Context, o Order) bool { return o.Premium },
//	)
//
// # Composition
//
// Everything composes through Then, and pipelines fold it for you:
//
//	pipeline := morphz.NewPipeline("pricing", validate, discount, total)
//	result, err := pipeline.Apply(ctx, order)
//
//	// Extension returns a new pipeline; the original is untouched.
//	extended := pipeline.Then(notify)
//
// Sequence keeps the steps as a flat list instead of a composite tree,
// which is the better fit for long chains assembled at runtime:
//
//	seq := morphz.NewSequence("pricing", validate, discount, total)
//
// # Optimization
//
// The optimizer flattens a pipeline to its leaf units, drops interior
// identity units, and fuses adjacent units that declare themselves fusible:
//
//	optimized, err := morphz.Optimize(pipeline)
//	// optimized.Apply behaves identically; optimized.Metadata().Cost
//	// never exceeds the input pipeline's cost.
//
// Fusion trades observability for speed: a fused unit fails as a whole,
// and values between its fused sub-steps can no longer be observed. Mark
// units that need fine-grained failure attribution as non-fusible.
//
// # Builder and Registry
//
// The builder accumulates steps fluently and the registry resolves units
// by name, so pipelines can be assembled dynamically:
//
//	reg := morphz.NewRegistry[Order]()
//	_ = reg.Register(validate, morphz.Descriptor{Category: "pricing"})
//
//	unit, err := morphz.CreatePipeline[Order]("checkout", reg).
//	    PipeByName("validate").
//	    Filter(func(_ context.Context, o Order) bool { return o.Total > 0 }).
//	    Map(func(_ context.Context, o Order) Order { o.Taxed = true; return o }).
//	    Build()
//
// Multi-step builds are registered under the builder's name together with
// the ordered constituent names as their composition trace.
//
// # Metadata
//
// Every unit carries Metadata:
//
//	type Metadata struct {
//	    Pure       bool    // deterministic, no observable side effects
//	    Fusible    bool    // may merge with an adjacent unit
//	    Cost       float64 // relative expense, additive under composition
//	    Memoizable bool    // results may be cached keyed by input
//	}
//
// Constructors default to DefaultMetadata (pure, fusible, cost 1,
// memoizable) when no metadata is given. Composites derive their metadata
// from their constituents; see the constructor docs for the exact rules.
//
// # Error Handling
//
// Errors returned by unit functions propagate to the caller verbatim: the
// engine never catches, wraps, retries, or rolls back. A pipeline stops at
// the first failing step. Engine-level conditions use sentinel errors:
//
//	unit, err := reg.Get("missing")
//	if errors.Is(err, morphz.ErrNotFound) {
//	    // register a fallback, or fail
//	}
//
// Construction problems (empty names, nil functions, negative cost) are
// programmer errors and panic at construction time.
//
// # Observability
//
// Stateful components (Pipeline, Sequence, Optimizer, Registry, Guard,
// Branch, Memoize) expose per-instance metrics, traces, and hooks:
//
//	pipeline.Metrics().Counter(morphz.PipelineFailuresTotal).Value()
//	pipeline.Tracer().OnSpanComplete(func(s tracez.Span) { ... })
//	seq.OnStageComplete(func(ctx context.Context, e morphz.SequenceEvent) error {
//	    log.Printf("stage %s took %v", e.StageName, e.Duration)
//	    return nil
//	})
//
// Call Close when discarding an instrumented component to release its
// tracer and hook resources.
//
// # Best Practices
//
//  1. Keep units small and focused on a single transformation
//  2. Store names as constants; they key the registry and appear in traces
//  3. Declare metadata honestly: the optimizer trusts it completely
//  4. Mark non-idempotent or partially-observable steps as non-fusible
//  5. Let errors bubble up; handle them where the pipeline is applied
//  6. Inject a Registry per scope instead of sharing one global table
//  7. Optimize once at assembly time, then apply many times
//  8. Test units in isolation before composing them
package morphz

import (
	"context"
	"math"
)

// Morph defines the interface for any component that can transform values
// of type T. Every unit, composite, pipeline, and sequence implements it,
// which is what lets them compose freely.
//
// Apply transforms a value. The context is threaded through untouched; the
// engine never inspects it, so its meaning belongs entirely to the caller's
// transform functions. Apply must not mutate its input.
//
// Shape describes the component's composition structure as a tagged
// variant, which is how the flattener and the optimizer traverse nested
// composites without any runtime type identification.
type Morph[T any] interface {
	Apply(context.Context, T) (T, error)
	Name() Name
	Metadata() Metadata
	Shape() Shape[T]
}

// Name is a type alias for unit, pipeline, and registry entry names.
// Using this type encourages storing names as constants rather than
// using inline strings throughout your code.
//
// Example:
//
//	const (
//	    ValidateOrderName Name = "validate-order"
//	    PriceOrderName    Name = "price-order"
//	)
//
//	validate := morphz.NewUnit(ValidateOrderName, validateFunc)
type Name = string

// Metadata carries the optimization facts the engine knows about a unit.
// The optimizer and the composites consume these fields as declared; no
// component ever re-derives them by inspecting behavior.
//
// Composite metadata is always a pure function of constituent metadata,
// so recomputing it from the same constituents yields the same value.
type Metadata struct {
	// Pure is true when repeated application with the same input and
	// context yields the same output with no observable side effect.
	Pure bool

	// Fusible is true when the unit may be merged with an adjacent unit
	// into a single closure without changing behavior. Fused units fail
	// as a whole, so set this conservatively on steps that need
	// fine-grained failure attribution.
	Fusible bool

	// Cost is a non-negative estimate of relative execution expense.
	// Costs add under composition.
	Cost float64

	// Memoizable is true when results may be cached keyed by input.
	Memoizable bool
}

// DefaultMetadata returns the metadata assumed when a constructor is given
// none: pure, fusible, unit cost, memoizable.
func DefaultMetadata() Metadata {
	return Metadata{
		Pure:       true,
		Fusible:    true,
		Cost:       1,
		Memoizable: true,
	}
}

// optionalMetadata resolves the trailing variadic metadata argument the
// unit constructors share. Omitted means DefaultMetadata; provided means
// the caller owns every field.
func optionalMetadata(meta []Metadata) Metadata {
	if len(meta) == 0 {
		return DefaultMetadata()
	}
	return meta[0]
}

// validateMetadata panics when metadata is malformed. Construction is the
// only place metadata enters the engine, so failing here keeps every
// later derivation total.
func validateMetadata(name Name, meta Metadata) {
	if meta.Cost < 0 || math.IsNaN(meta.Cost) {
		panic("morphz: unit " + string(name) + " has invalid cost")
	}
}
