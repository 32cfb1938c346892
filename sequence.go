package morphz

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for the Sequence composite.
const (
	// Metrics.
	SequenceAppliedTotal    = metricz.Key("sequence.applied.total")
	SequenceSuccessesTotal  = metricz.Key("sequence.successes.total")
	SequenceFailuresTotal   = metricz.Key("sequence.failures.total")
	SequenceStagesCompleted = metricz.Key("sequence.stages.completed")
	SequenceStagesTotal     = metricz.Key("sequence.stages.total")
	SequenceDurationMs      = metricz.Key("sequence.duration.ms")

	// Spans.
	SequenceApplySpan = tracez.Key("sequence.apply")
	SequenceStageSpan = tracez.Key("sequence.stage")

	// Tags.
	SequenceTagStageCount  = tracez.Tag("sequence.stage_count")
	SequenceTagStageNumber = tracez.Tag("sequence.stage_number")
	SequenceTagUnitName    = tracez.Tag("sequence.unit_name")
	SequenceTagSuccess     = tracez.Tag("sequence.success")
	SequenceTagError       = tracez.Tag("sequence.error")

	// Hook event keys.
	SequenceEventStageComplete = hookz.Key("sequence.stage_complete")
	SequenceEventAllComplete   = hookz.Key("sequence.all_complete")
)

// SequenceEvent represents a sequence application event. It is emitted via
// hookz as individual stages complete and when all stages have finished,
// providing visibility into pipeline progress.
type SequenceEvent struct {
	Name            Name          // Sequence name
	StageName       Name          // Name of the stage unit
	StageNumber     int           // Current stage number (1-based)
	TotalStages     int           // Total number of stages
	Success         bool          // Whether the stage succeeded
	Error           error         // Error if the stage failed
	Duration        time.Duration // How long this stage took
	CompletedStages int           // Number of stages completed (for all_complete)
	TotalDuration   time.Duration // Total time for all stages (for all_complete)
	Timestamp       time.Time     // When the event occurred
}

// Sequence is the lazy pipeline: it stores an explicit ordered list of
// units and only executes them when applied, avoiding the nested composite
// objects that Then-folding builds. Aggregated metadata is computed once
// at construction without materializing intermediate composites.
//
// A Sequence is immutable after construction. Then returns a new Sequence
// with the step appended; the original is untouched, so sequences are
// safely shared across goroutines without synchronization. This also makes
// Sequence the natural product of the fluent builder, which accumulates
// steps and freezes them in one shot.
//
// Aggregated metadata:
//   - Pure, Fusible, Memoizable = AND across steps
//   - Cost = sum across steps
//
// An empty Sequence is legal and behaves as the identity.
//
// # Observability
//
// Metrics:
//   - sequence.applied.total: Counter of sequence applications
//   - sequence.successes.total: Counter of successful completions
//   - sequence.failures.total: Counter of failed applications
//   - sequence.stages.completed: Gauge of stages completed in the last run
//   - sequence.stages.total: Gauge of total stages
//   - sequence.duration.ms: Gauge of total application duration
//
// Traces:
//   - sequence.apply: Parent span for the entire application
//   - sequence.stage: Child span for each individual stage
//
// Events (via hooks):
//   - sequence.stage_complete: Fired as each stage completes
//   - sequence.all_complete: Fired when all stages succeed
//
// Example:
//
//	const PricingName = morphz.Name("pricing")
//	seq := morphz.NewSequence(PricingName, validate, discount, total)
//
//	seq.OnStageComplete(func(ctx context.Context, e morphz.SequenceEvent) error {
//	    log.Printf("stage %d/%d %s took %v", e.StageNumber, e.TotalStages, e.StageName, e.Duration)
//	    return nil
//	})
type Sequence[T any] struct {
	name    Name
	steps   []Morph[T]
	meta    Metadata
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[SequenceEvent]
}

// NewSequence creates a Sequence over the given steps. Panics on an empty
// name or a nil step. The step list is copied; later changes to the
// caller's slice do not reach the sequence.
func NewSequence[T any](name Name, steps ...Morph[T]) *Sequence[T] {
	if name == "" {
		panic("morphz: sequence name must not be empty")
	}
	for _, step := range steps {
		if step == nil {
			panic("morphz: sequence " + name + " has a nil step")
		}
	}

	meta := Metadata{Pure: true, Fusible: true, Memoizable: true}
	for _, step := range steps {
		sm := step.Metadata()
		meta.Pure = meta.Pure && sm.Pure
		meta.Fusible = meta.Fusible && sm.Fusible
		meta.Memoizable = meta.Memoizable && sm.Memoizable
		meta.Cost += sm.Cost
	}

	// Initialize observability
	metrics := metricz.New()
	metrics.Counter(SequenceAppliedTotal)
	metrics.Counter(SequenceSuccessesTotal)
	metrics.Counter(SequenceFailuresTotal)
	metrics.Gauge(SequenceStagesCompleted)
	metrics.Gauge(SequenceStagesTotal)
	metrics.Gauge(SequenceDurationMs)

	return &Sequence[T]{
		name:    name,
		steps:   slices.Clone(steps),
		meta:    meta,
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[SequenceEvent](),
	}
}

// Apply executes all steps on the input value, each receiving the output
// of the previous one. Execution stops at the first failing step and the
// error propagates verbatim; later steps never run.
func (s *Sequence[T]) Apply(ctx context.Context, value T) (result T, err error) {
	s.metrics.Counter(SequenceAppliedTotal).Inc()
	s.metrics.Gauge(SequenceStagesTotal).Set(float64(len(s.steps)))
	start := time.Now()

	ctx, span := s.tracer.StartSpan(ctx, SequenceApplySpan)
	span.SetTag(SequenceTagStageCount, fmt.Sprintf("%d", len(s.steps)))
	defer func() {
		elapsed := time.Since(start)
		s.metrics.Gauge(SequenceDurationMs).Set(float64(elapsed.Milliseconds()))

		if err == nil {
			span.SetTag(SequenceTagSuccess, "true")
			s.metrics.Counter(SequenceSuccessesTotal).Inc()
		} else {
			span.SetTag(SequenceTagSuccess, "false")
			span.SetTag(SequenceTagError, err.Error())
			s.metrics.Counter(SequenceFailuresTotal).Inc()
		}
		span.Finish()
	}()

	result = value
	stagesCompleted := 0

	for i, step := range s.steps {
		stageCtx, stageSpan := s.tracer.StartSpan(ctx, SequenceStageSpan)
		stageSpan.SetTag(SequenceTagStageNumber, fmt.Sprintf("%d", i+1))
		stageSpan.SetTag(SequenceTagUnitName, string(step.Name()))

		stageStart := time.Now()
		result, err = step.Apply(stageCtx, result)
		stageDuration := time.Since(stageStart)
		stageSpan.Finish()

		_ = s.hooks.Emit(ctx, SequenceEventStageComplete, SequenceEvent{ //nolint:errcheck
			Name:        s.name,
			StageName:   step.Name(),
			StageNumber: i + 1,
			TotalStages: len(s.steps),
			Success:     err == nil,
			Error:       err,
			Duration:    stageDuration,
			Timestamp:   time.Now(),
		})

		if err != nil {
			return result, err
		}

		stagesCompleted++
		s.metrics.Gauge(SequenceStagesCompleted).Set(float64(stagesCompleted))
	}

	_ = s.hooks.Emit(ctx, SequenceEventAllComplete, SequenceEvent{ //nolint:errcheck
		Name:            s.name,
		TotalStages:     len(s.steps),
		CompletedStages: stagesCompleted,
		TotalDuration:   time.Since(start),
		Success:         true,
		Timestamp:       time.Now(),
	})

	return result, nil
}

// Name returns the name of this sequence.
func (s *Sequence[T]) Name() Name {
	return s.name
}

// Metadata returns the aggregated metadata computed at construction.
func (s *Sequence[T]) Metadata() Metadata {
	return s.meta
}

// Shape exposes the step list so the flattener expands a Sequence to its
// steps in order.
func (s *Sequence[T]) Shape() Shape[T] {
	return Shape[T]{Kind: KindSequence, Steps: slices.Clone(s.steps)}
}

// Then returns a new Sequence with next appended. The receiver is
// untouched; the new sequence carries fresh observability state.
func (s *Sequence[T]) Then(next Morph[T]) *Sequence[T] {
	if next == nil {
		panic("morphz: sequence " + s.name + " extended with a nil step")
	}
	steps := make([]Morph[T], 0, len(s.steps)+1)
	steps = append(steps, s.steps...)
	steps = append(steps, next)
	return NewSequence(s.name, steps...)
}

// Steps returns a copy of the step list in execution order.
func (s *Sequence[T]) Steps() []Morph[T] {
	return slices.Clone(s.steps)
}

// Len returns the number of steps.
func (s *Sequence[T]) Len() int {
	return len(s.steps)
}

// Names returns the names of all steps in order.
func (s *Sequence[T]) Names() []Name {
	names := make([]Name, len(s.steps))
	for i, step := range s.steps {
		names[i] = step.Name()
	}
	return names
}

// Metrics returns the metrics registry for this sequence.
func (s *Sequence[T]) Metrics() *metricz.Registry {
	return s.metrics
}

// Tracer returns the tracer for this sequence.
func (s *Sequence[T]) Tracer() *tracez.Tracer {
	return s.tracer
}

// Close gracefully shuts down observability components.
func (s *Sequence[T]) Close() error {
	if s.tracer != nil {
		s.tracer.Close()
	}
	s.hooks.Close()
	return nil
}

// OnStageComplete registers a handler called as each stage finishes,
// whether it succeeds or fails.
func (s *Sequence[T]) OnStageComplete(handler func(context.Context, SequenceEvent) error) error {
	_, err := s.hooks.Hook(SequenceEventStageComplete, handler)
	return err
}

// OnAllComplete registers a handler called after the entire sequence
// finishes without errors, with aggregate statistics.
func (s *Sequence[T]) OnAllComplete(handler func(context.Context, SequenceEvent) error) error {
	_, err := s.hooks.Hook(SequenceEventAllComplete, handler)
	return err
}
