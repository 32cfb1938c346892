package morphz

import (
	"context"
	"slices"
)

// MultiStep is the N-ary composite: an ordered list of Morphs run left to
// right as one unit, with an optional post-processing transform applied to
// the final value. It exists for workflows that end in a shaping step
// (projection, envelope wrapping) that is welded to the sequence rather
// than being a step of its own.
//
// Metadata derivation differs deliberately from Sequential:
//   - Pure is the AND of the steps, and additionally requires the
//     post-processing to be pure, which the engine only believes when the
//     caller asserts it (post-processing is opaque).
//   - Fusible is false unless the caller asserts it. A multi-step
//     composite is conservatively non-fusible: its post-processing hides
//     interior structure the optimizer must not splice into.
//   - Cost is the sum of step costs, plus 1 when post-processing is
//     present.
//   - Memoizable follows the same assertion rule as Pure.
//
// The optional metadata argument therefore carries assertions, not
// overrides: Pure asserts the post-processing function is pure, Memoizable
// asserts its results may be cached, Fusible marks the whole composite
// fusible. Cost is always derived.
type MultiStep[T any] struct {
	steps []Morph[T]
	post  func(context.Context, T) T
	name  Name
	meta  Metadata
}

// NewMultiStep builds a multi-step composite. The post function may be
// nil. Panics on an empty name or a nil step; an empty step list is legal
// and behaves as the identity (plus post-processing when given).
func NewMultiStep[T any](name Name, steps []Morph[T], post func(context.Context, T) T, meta ...Metadata) MultiStep[T] {
	if name == "" {
		panic("morphz: composite name must not be empty")
	}
	for _, step := range steps {
		if step == nil {
			panic("morphz: composite " + name + " has a nil step")
		}
	}

	var asserted Metadata
	if len(meta) > 0 {
		asserted = meta[0]
	}

	derived := Metadata{Pure: true, Memoizable: true}
	for _, step := range steps {
		sm := step.Metadata()
		derived.Pure = derived.Pure && sm.Pure
		derived.Memoizable = derived.Memoizable && sm.Memoizable
		derived.Cost += sm.Cost
	}
	if post != nil {
		derived.Pure = derived.Pure && asserted.Pure
		derived.Memoizable = derived.Memoizable && asserted.Memoizable
		derived.Cost++
	}
	derived.Fusible = asserted.Fusible

	return MultiStep[T]{
		steps: slices.Clone(steps),
		post:  post,
		name:  name,
		meta:  derived,
	}
}

// Apply runs every step in order, feeding each the previous result, then
// applies post-processing to the final value when present. Execution stops
// at the first failing step; post-processing never runs after a failure.
func (m MultiStep[T]) Apply(ctx context.Context, value T) (T, error) {
	result := value
	var err error
	for _, step := range m.steps {
		result, err = step.Apply(ctx, result)
		if err != nil {
			return result, err
		}
	}
	if m.post != nil {
		result = m.post(ctx, result)
	}
	return result, nil
}

// Name returns the composite's display name.
func (m MultiStep[T]) Name() Name {
	return m.name
}

// Metadata returns the derived metadata computed at construction.
func (m MultiStep[T]) Metadata() Metadata {
	return m.meta
}

// Steps returns a copy of the step list in execution order.
func (m MultiStep[T]) Steps() []Morph[T] {
	return slices.Clone(m.steps)
}

// HasPostProcess reports whether a post-processing transform is attached.
func (m MultiStep[T]) HasPostProcess() bool {
	return m.post != nil
}

// Shape reports the composite as a flattening leaf: post-processing is
// welded to its apply, so splitting its interior would reorder failures
// and observations. The steps are still listed for introspection.
func (m MultiStep[T]) Shape() Shape[T] {
	return Shape[T]{Kind: KindMultiStep, Steps: slices.Clone(m.steps)}
}

// Then returns a new MultiStep with next appended to the step list and
// post-processing cleared, recomputing metadata from the combined steps.
// Keeping the result a MultiStep keeps repeated extension cheap: the step
// list grows by one instead of nesting a composite per extension. The
// extension makes no purity or fusibility assertions of its own; clear
// them again explicitly with NewMultiStep if the extended composite
// deserves them.
func (m MultiStep[T]) Then(next Morph[T]) MultiStep[T] {
	if next == nil {
		panic("morphz: composite " + m.name + " extended with a nil step")
	}
	steps := make([]Morph[T], 0, len(m.steps)+1)
	steps = append(steps, m.steps...)
	steps = append(steps, next)
	return NewMultiStep(m.name, steps, nil)
}
