package morphz

import (
	"context"
	"fmt"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Optimizer.
const (
	// Metrics.
	OptimizerRunsTotal         = metricz.Key("optimizer.runs.total")
	OptimizerFusionsTotal      = metricz.Key("optimizer.fusions.total")
	OptimizerIdentitiesRemoved = metricz.Key("optimizer.identities.removed")
	OptimizerStepsIn           = metricz.Key("optimizer.steps.in")
	OptimizerStepsOut          = metricz.Key("optimizer.steps.out")

	// Spans.
	OptimizerOptimizeSpan = tracez.Key("optimizer.optimize")

	// Tags.
	OptimizerTagPipeline = tracez.Tag("optimizer.pipeline")
	OptimizerTagStepsIn  = tracez.Tag("optimizer.steps_in")
	OptimizerTagStepsOut = tracez.Tag("optimizer.steps_out")

	// Hook event keys.
	OptimizerEventFused     = hookz.Key("optimizer.fused")
	OptimizerEventOptimized = hookz.Key("optimizer.optimized")
)

// OptimizerEvent represents an optimization event. For optimizer.fused the
// pair fields identify the units merged; for optimizer.optimized the
// aggregate fields summarize the whole run.
type OptimizerEvent struct {
	Pipeline          Name      // Name of the pipeline being optimized
	First             Name      // First unit of a fused pair
	Second            Name      // Second unit of a fused pair
	Fused             Name      // Name of the synthesized unit
	StepsIn           int       // Leaf count before optimization
	StepsOut          int       // Leaf count after optimization
	Fusions           int       // Number of pairs fused
	IdentitiesRemoved int       // Number of identity units stripped
	Timestamp         time.Time // When the event occurred
}

// Optimizer rewrites pipelines into cheaper, observably equivalent ones.
//
// A run performs four passes:
//
//  1. Flatten the pipeline's root into its ordered leaf units, expanding
//     binary composites, sequences, and nested pipelines left to right.
//     A shape the flattener does not recognize fails the run with
//     ErrUnknownShape; the optimizer never silently skips structure.
//  2. Strip identity units anywhere in the list. When stripping would
//     leave the list empty one identity is kept: a pipeline always
//     resolves to at least one unit.
//  3. Fuse adjacent units that both declare Fusible into one synthesized
//     unit whose apply is the direct composition of the two. Scanning
//     continues after the synthesized unit, so fused pairs are never
//     re-opened within the run. Only declared metadata decides
//     fusibility; concrete types are never inspected.
//  4. Rebuild a pipeline under the input's name by folding Then from an
//     identity pipeline over the resulting steps.
//
// Optimize always returns the rebuilt pipeline, never the input value,
// and the rebuilt pipeline's cost never exceeds the input's.
//
// Fusion coarsens failure visibility: a fused unit fails as a whole and
// the value between its two halves is unobservable. Units that need
// fine-grained attribution should declare Fusible false and will pass
// through untouched.
type Optimizer[T any] struct {
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[OptimizerEvent]
}

// NewOptimizer creates an Optimizer with fresh observability state. A
// single optimizer may be reused across pipelines and goroutines; it
// holds no per-run state.
func NewOptimizer[T any]() *Optimizer[T] {
	// Initialize observability
	metrics := metricz.New()
	metrics.Counter(OptimizerRunsTotal)
	metrics.Counter(OptimizerFusionsTotal)
	metrics.Counter(OptimizerIdentitiesRemoved)
	metrics.Gauge(OptimizerStepsIn)
	metrics.Gauge(OptimizerStepsOut)

	return &Optimizer[T]{
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[OptimizerEvent](),
	}
}

// Optimize flattens, strips, fuses, and rebuilds the given pipeline. The
// returned pipeline is always a rebuilt value, observably equivalent to
// the input and no more expensive. Panics on a nil pipeline; fails with
// ErrUnknownShape when flattening meets structure it cannot order.
func (o *Optimizer[T]) Optimize(p *Pipeline[T]) (*Pipeline[T], error) {
	if p == nil {
		panic("morphz: optimizer given a nil pipeline")
	}

	ctx := context.Background()
	o.metrics.Counter(OptimizerRunsTotal).Inc()

	_, span := o.tracer.StartSpan(ctx, OptimizerOptimizeSpan)
	span.SetTag(OptimizerTagPipeline, string(p.Name()))
	defer span.Finish()

	leaves, err := flatten(p.Root())
	if err != nil {
		return nil, err
	}
	stepsIn := len(leaves)
	o.metrics.Gauge(OptimizerStepsIn).Set(float64(stepsIn))
	span.SetTag(OptimizerTagStepsIn, fmt.Sprintf("%d", stepsIn))

	kept, removed := o.stripIdentities(leaves)
	steps, fusions := o.fuseAdjacent(ctx, p.Name(), kept)

	rebuilt := NewPipeline[T](p.Name())
	for _, step := range steps {
		rebuilt = rebuilt.Then(step)
	}

	stepsOut := len(steps)
	o.metrics.Gauge(OptimizerStepsOut).Set(float64(stepsOut))
	span.SetTag(OptimizerTagStepsOut, fmt.Sprintf("%d", stepsOut))

	_ = o.hooks.Emit(ctx, OptimizerEventOptimized, OptimizerEvent{ //nolint:errcheck
		Pipeline:          p.Name(),
		StepsIn:           stepsIn,
		StepsOut:          stepsOut,
		Fusions:           fusions,
		IdentitiesRemoved: removed,
		Timestamp:         time.Now(),
	})

	return rebuilt, nil
}

// stripIdentities drops identity units, recognized by shape kind, from
// anywhere in the list. When every unit was an identity one is kept so the
// rebuilt pipeline still resolves to a unit.
func (o *Optimizer[T]) stripIdentities(leaves []Morph[T]) (kept []Morph[T], removed int) {
	kept = make([]Morph[T], 0, len(leaves))
	for _, leaf := range leaves {
		if leaf.Shape().Kind == KindIdentity {
			removed++
			o.metrics.Counter(OptimizerIdentitiesRemoved).Inc()
			continue
		}
		kept = append(kept, leaf)
	}
	if len(kept) == 0 {
		kept = append(kept, Identity[T]())
		if removed > 0 {
			removed--
		}
	}
	return kept, removed
}

// fuseAdjacent merges neighboring fusible units pairwise, left to right.
// The cursor moves past each synthesized unit, so a fused pair is never
// re-opened within the same run.
func (o *Optimizer[T]) fuseAdjacent(ctx context.Context, pipeline Name, steps []Morph[T]) (fused []Morph[T], fusions int) {
	fused = make([]Morph[T], 0, len(steps))
	for i := 0; i < len(steps); {
		if i+1 < len(steps) && steps[i].Metadata().Fusible && steps[i+1].Metadata().Fusible {
			merged := fuseUnits(steps[i], steps[i+1])
			fused = append(fused, merged)
			fusions++
			o.metrics.Counter(OptimizerFusionsTotal).Inc()

			_ = o.hooks.Emit(ctx, OptimizerEventFused, OptimizerEvent{ //nolint:errcheck
				Pipeline:  pipeline,
				First:     steps[i].Name(),
				Second:    steps[i+1].Name(),
				Fused:     merged.Name(),
				Timestamp: time.Now(),
			})

			i += 2
			continue
		}
		fused = append(fused, steps[i])
		i++
	}
	return fused, fusions
}

// fuseUnits synthesizes a single unit whose apply is the direct function
// composition of a then b. Pure and Memoizable are the AND of both halves,
// cost is the sum, and the result stays fusible for later optimization
// passes. The name joins the halves with "+".
func fuseUnits[T any](a, b Morph[T]) Unit[T] {
	am, bm := a.Metadata(), b.Metadata()
	return NewUnit(a.Name()+"+"+b.Name(), func(ctx context.Context, value T) (T, error) {
		mid, err := a.Apply(ctx, value)
		if err != nil {
			return mid, err
		}
		return b.Apply(ctx, mid)
	}, Metadata{
		Pure:       am.Pure && bm.Pure,
		Fusible:    true,
		Cost:       am.Cost + bm.Cost,
		Memoizable: am.Memoizable && bm.Memoizable,
	})
}

// Optimize rewrites a pipeline with a throwaway Optimizer. Use a
// long-lived Optimizer instead when you want its metrics and events.
func Optimize[T any](p *Pipeline[T]) (*Pipeline[T], error) {
	o := NewOptimizer[T]()
	defer o.Close() //nolint:errcheck
	return o.Optimize(p)
}

// Metrics returns the metrics registry for this optimizer.
func (o *Optimizer[T]) Metrics() *metricz.Registry {
	return o.metrics
}

// Tracer returns the tracer for this optimizer.
func (o *Optimizer[T]) Tracer() *tracez.Tracer {
	return o.tracer
}

// Close gracefully shuts down observability components.
func (o *Optimizer[T]) Close() error {
	if o.tracer != nil {
		o.tracer.Close()
	}
	o.hooks.Close()
	return nil
}

// OnFused registers a handler called for every pair of units merged.
func (o *Optimizer[T]) OnFused(handler func(context.Context, OptimizerEvent) error) error {
	_, err := o.hooks.Hook(OptimizerEventFused, handler)
	return err
}

// OnOptimized registers a handler called after each completed run with
// aggregate statistics.
func (o *Optimizer[T]) OnOptimized(handler func(context.Context, OptimizerEvent) error) error {
	_, err := o.hooks.Hook(OptimizerEventOptimized, handler)
	return err
}
