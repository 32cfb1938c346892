package morphz

import "context"

// Sequential is the binary composite: it binds two Morphs so that the
// output of the first feeds the second. Like units, Sequential values are
// immutable and carry no observability state of their own; they are the
// structural glue that Pipeline.Then and the optimizer's rebuild fold
// composition trees out of.
//
// Derived metadata follows the additive rules:
//   - Pure       = first.Pure && second.Pure
//   - Fusible    = first.Fusible && second.Fusible
//   - Cost       = first.Cost + second.Cost
//   - Memoizable = first.Memoizable && second.Memoizable
//
// The metadata is computed once at construction from the constituents
// alone, so recomputing it from the same children always agrees.
type Sequential[T any] struct {
	first  Morph[T]
	second Morph[T]
	name   Name
	meta   Metadata
}

// NewSequential composes first and second under the given name. It panics
// on an empty name or a nil child; composition structure is fixed at
// construction and validated up front.
func NewSequential[T any](name Name, first, second Morph[T]) Sequential[T] {
	if name == "" {
		panic("morphz: composite name must not be empty")
	}
	if first == nil || second == nil {
		panic("morphz: composite " + name + " has a nil child")
	}
	fm, sm := first.Metadata(), second.Metadata()
	return Sequential[T]{
		first:  first,
		second: second,
		name:   name,
		meta: Metadata{
			Pure:       fm.Pure && sm.Pure,
			Fusible:    fm.Fusible && sm.Fusible,
			Cost:       fm.Cost + sm.Cost,
			Memoizable: fm.Memoizable && sm.Memoizable,
		},
	}
}

// Apply runs first, then feeds its result to second. Execution stops at
// the first failing child and the error propagates verbatim.
func (s Sequential[T]) Apply(ctx context.Context, value T) (T, error) {
	mid, err := s.first.Apply(ctx, value)
	if err != nil {
		return mid, err
	}
	return s.second.Apply(ctx, mid)
}

// Name returns the composite's display name.
func (s Sequential[T]) Name() Name {
	return s.name
}

// Metadata returns the derived metadata computed at construction.
func (s Sequential[T]) Metadata() Metadata {
	return s.meta
}

// First returns the child that runs first.
func (s Sequential[T]) First() Morph[T] {
	return s.first
}

// Second returns the child that runs second.
func (s Sequential[T]) Second() Morph[T] {
	return s.second
}

// Shape exposes both children in execution order so the flattener can
// expand nested composites without inspecting concrete types.
func (s Sequential[T]) Shape() Shape[T] {
	return Shape[T]{Kind: KindSequential, Steps: []Morph[T]{s.first, s.second}}
}

// Then composes this composite with next, returning a new Sequential. The
// receiver is untouched.
func (s Sequential[T]) Then(next Morph[T]) Sequential[T] {
	return NewSequential(s.name+"."+next.Name(), s, next)
}
