package morphz

import (
	"context"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Pipeline wrapper.
const (
	// Metrics.
	PipelineAppliedTotal   = metricz.Key("pipeline.applied.total")
	PipelineSuccessesTotal = metricz.Key("pipeline.successes.total")
	PipelineFailuresTotal  = metricz.Key("pipeline.failures.total")
	PipelineDurationMs     = metricz.Key("pipeline.duration.ms")

	// Spans.
	PipelineApplySpan = tracez.Key("pipeline.apply")

	// Tags.
	PipelineTagRoot    = tracez.Tag("pipeline.root")
	PipelineTagSuccess = tracez.Tag("pipeline.success")
	PipelineTagError   = tracez.Tag("pipeline.error")

	// Hook event keys.
	PipelineEventApplied = hookz.Key("pipeline.applied")
	PipelineEventFailed  = hookz.Key("pipeline.failed")
)

// PipelineEvent represents a pipeline application event, emitted via hookz
// after every Apply.
type PipelineEvent struct {
	Name      Name          // Pipeline name
	Root      Name          // Name of the root unit
	Success   bool          // Whether the application succeeded
	Error     error         // Error if the application failed
	Duration  time.Duration // How long the application took
	Timestamp time.Time     // When the event occurred
}

// Pipeline is a named wrapper around one root Morph. It is the unit of
// assembly the optimizer consumes: Then extends it, Apply runs it, and
// Morphs flattens it back into the ordered constituent units using the
// same algorithm the optimizer travels.
//
// Pipelines are immutable: Then returns a new Pipeline and the receiver is
// untouched, so pipelines are safely shared across goroutines. A fresh
// pipeline wraps the identity unit, which is composition's neutral
// element: the first Then replaces it rather than composing with it, so a
// pipeline flattens to exactly the units that were added.
//
// A Pipeline is itself a Morph, so pipelines nest inside other pipelines
// and flatten through transparently.
//
// # Observability
//
// Metrics:
//   - pipeline.applied.total: Counter of pipeline applications
//   - pipeline.successes.total: Counter of successful applications
//   - pipeline.failures.total: Counter of failed applications
//   - pipeline.duration.ms: Gauge of last application duration
//
// Traces:
//   - pipeline.apply: Span per application, tagged with the root name
//
// Events (via hooks):
//   - pipeline.applied: Fired after each successful application
//   - pipeline.failed: Fired after each failed application
type Pipeline[T any] struct {
	name    Name
	root    Morph[T]
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[PipelineEvent]
}

// NewPipeline creates a pipeline by folding Then over the given units,
// starting from the identity. With no units the pipeline is the identity
// pipeline: applying it returns the input unchanged. Panics on an empty
// name or a nil unit.
func NewPipeline[T any](name Name, units ...Morph[T]) *Pipeline[T] {
	if name == "" {
		panic("morphz: pipeline name must not be empty")
	}
	var root Morph[T] = Identity[T]()
	for _, unit := range units {
		if unit == nil {
			panic("morphz: pipeline " + name + " has a nil unit")
		}
		root = composeRoot(name, root, unit)
	}
	return newPipeline(name, root)
}

// composeRoot extends a pipeline root with one more unit. The identity
// root is replaced outright so it never lingers in the composition tree.
func composeRoot[T any](name Name, root, next Morph[T]) Morph[T] {
	if root.Shape().Kind == KindIdentity {
		return next
	}
	return NewSequential(name, root, next)
}

func newPipeline[T any](name Name, root Morph[T]) *Pipeline[T] {
	// Initialize observability
	metrics := metricz.New()
	metrics.Counter(PipelineAppliedTotal)
	metrics.Counter(PipelineSuccessesTotal)
	metrics.Counter(PipelineFailuresTotal)
	metrics.Gauge(PipelineDurationMs)

	return &Pipeline[T]{
		name:    name,
		root:    root,
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[PipelineEvent](),
	}
}

// Apply delegates to the root unit. Errors from the root propagate
// verbatim; the pipeline records metrics and events around the call
// without touching the outcome.
func (p *Pipeline[T]) Apply(ctx context.Context, value T) (result T, err error) {
	p.metrics.Counter(PipelineAppliedTotal).Inc()
	start := time.Now()

	ctx, span := p.tracer.StartSpan(ctx, PipelineApplySpan)
	span.SetTag(PipelineTagRoot, string(p.root.Name()))
	defer func() {
		p.metrics.Gauge(PipelineDurationMs).Set(float64(time.Since(start).Milliseconds()))
		if err == nil {
			span.SetTag(PipelineTagSuccess, "true")
			p.metrics.Counter(PipelineSuccessesTotal).Inc()
		} else {
			span.SetTag(PipelineTagSuccess, "false")
			span.SetTag(PipelineTagError, err.Error())
			p.metrics.Counter(PipelineFailuresTotal).Inc()
		}
		span.Finish()
	}()

	result, err = p.root.Apply(ctx, value)
	duration := time.Since(start)

	event := PipelineEvent{
		Name:      p.name,
		Root:      p.root.Name(),
		Success:   err == nil,
		Error:     err,
		Duration:  duration,
		Timestamp: time.Now(),
	}
	if err != nil {
		_ = p.hooks.Emit(ctx, PipelineEventFailed, event) //nolint:errcheck
		return result, err
	}
	_ = p.hooks.Emit(ctx, PipelineEventApplied, event) //nolint:errcheck
	return result, nil
}

// Then returns a new pipeline whose root is the binary composition of the
// current root and next. The receiver is untouched; the new pipeline
// carries fresh observability state.
func (p *Pipeline[T]) Then(next Morph[T]) *Pipeline[T] {
	if next == nil {
		panic("morphz: pipeline " + p.name + " extended with a nil unit")
	}
	return newPipeline(p.name, composeRoot(p.name, p.root, next))
}

// Name returns the pipeline's display name.
func (p *Pipeline[T]) Name() Name {
	return p.name
}

// Root returns the pipeline's root unit.
func (p *Pipeline[T]) Root() Morph[T] {
	return p.root
}

// Metadata returns the root's metadata. For the identity pipeline that is
// the identity metadata: pure, fusible, zero cost.
func (p *Pipeline[T]) Metadata() Metadata {
	return p.root.Metadata()
}

// Shape wraps the root so nested pipelines flatten through transparently.
func (p *Pipeline[T]) Shape() Shape[T] {
	return Shape[T]{Kind: KindPipeline, Steps: []Morph[T]{p.root}}
}

// Morphs returns the ordered leaf units of the pipeline, produced by the
// same flattening the optimizer uses. The identity root of a fresh
// pipeline counts as its sole leaf.
func (p *Pipeline[T]) Morphs() ([]Morph[T], error) {
	return flatten(p.root)
}

// Names returns the names of the pipeline's leaf units in order.
func (p *Pipeline[T]) Names() ([]Name, error) {
	leaves, err := p.Morphs()
	if err != nil {
		return nil, err
	}
	names := make([]Name, len(leaves))
	for i, leaf := range leaves {
		names[i] = leaf.Name()
	}
	return names, nil
}

// Metrics returns the metrics registry for this pipeline.
func (p *Pipeline[T]) Metrics() *metricz.Registry {
	return p.metrics
}

// Tracer returns the tracer for this pipeline.
func (p *Pipeline[T]) Tracer() *tracez.Tracer {
	return p.tracer
}

// Close gracefully shuts down observability components.
func (p *Pipeline[T]) Close() error {
	if p.tracer != nil {
		p.tracer.Close()
	}
	p.hooks.Close()
	return nil
}

// OnApplied registers a handler called after each successful application.
func (p *Pipeline[T]) OnApplied(handler func(context.Context, PipelineEvent) error) error {
	_, err := p.hooks.Hook(PipelineEventApplied, handler)
	return err
}

// OnFailed registers a handler called after each failed application.
func (p *Pipeline[T]) OnFailed(handler func(context.Context, PipelineEvent) error) error {
	_, err := p.hooks.Hook(PipelineEventFailed, handler)
	return err
}
