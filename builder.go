package morphz

import (
	"context"
	"fmt"
)

// Builder accumulates pipeline steps through a fluent API and finalizes
// them into a single unit. It is bound to a registry at creation: by-name
// steps are resolved against it, and multi-step builds are registered in
// it under the builder's name.
//
// Lookup failures do not abort the chain; they arm a sticky error that
// every later step preserves and Build or Apply surfaces. The first error
// wins, and errors.Is still reaches the underlying ErrNotFound.
//
// A Builder is a single-goroutine accumulator. Share the units it
// produces, not the builder itself.
//
// Example:
//
//	reg := morphz.NewRegistry[int]()
//	out, err := morphz.CreatePipeline("math", reg).
//	    Map(func(_ context.Context, n int) int { return n * 2 }).
//	    PipeByName("increment").
//	    Build()
type Builder[T any] struct {
	name     Name
	registry *Registry[T]
	steps    []Morph[T]
	err      error

	// Counters for auto-named inline steps.
	filters  int
	maps     int
	branches int
}

// CreatePipeline creates a Builder named name, resolving and registering
// against reg. Panics on an empty name or a nil registry.
func CreatePipeline[T any](name Name, reg *Registry[T]) *Builder[T] {
	if name == "" {
		panic("morphz: pipeline name must not be empty")
	}
	if reg == nil {
		panic("morphz: pipeline " + name + " has a nil registry")
	}
	return &Builder[T]{
		name:     name,
		registry: reg,
		steps:    make([]Morph[T], 0),
	}
}

// Pipe appends a unit directly. A nil unit arms the sticky error.
func (b *Builder[T]) Pipe(unit Morph[T]) *Builder[T] {
	if b.err != nil {
		return b
	}
	if unit == nil {
		b.err = fmt.Errorf("pipeline %q: pipe of a nil unit", b.name)
		return b
	}
	b.steps = append(b.steps, unit)
	return b
}

// PipeByName looks name up in the registry and appends the found unit.
// A miss arms the sticky error, which wraps ErrNotFound.
func (b *Builder[T]) PipeByName(name Name) *Builder[T] {
	if b.err != nil {
		return b
	}
	unit, err := b.registry.Get(name)
	if err != nil {
		b.err = fmt.Errorf("pipeline %q: %w", b.name, err)
		return b
	}
	b.steps = append(b.steps, unit)
	return b
}

// Filter appends a guard step evaluating predicate. The guard passes its
// input through whether or not the predicate holds; the verdict surfaces
// through the guard's metrics and events (see Guard). The step is named
// "<pipeline>.filter.<n>".
func (b *Builder[T]) Filter(predicate func(context.Context, T) bool) *Builder[T] {
	if b.err != nil {
		return b
	}
	if predicate == nil {
		b.err = fmt.Errorf("pipeline %q: filter with a nil predicate", b.name)
		return b
	}
	b.filters++
	name := Name(fmt.Sprintf("%s.filter.%d", b.name, b.filters))
	b.steps = append(b.steps, NewGuard[T](name, predicate))
	return b
}

// Map appends an inline transformation step named "<pipeline>.map.<n>".
// Metadata defaults to DefaultMetadata and may be overridden.
func (b *Builder[T]) Map(fn func(context.Context, T) T, meta ...Metadata) *Builder[T] {
	if b.err != nil {
		return b
	}
	if fn == nil {
		b.err = fmt.Errorf("pipeline %q: map with a nil function", b.name)
		return b
	}
	b.maps++
	name := Name(fmt.Sprintf("%s.map.%d", b.name, b.maps))
	unit := NewUnit(name, func(ctx context.Context, value T) (T, error) {
		return fn(ctx, value), nil
	}, meta...)
	b.steps = append(b.steps, unit)
	return b
}

// Branch appends a conditional step named "<pipeline>.branch.<n>" that
// dispatches to whenTrue or whenFalse on the predicate.
func (b *Builder[T]) Branch(predicate func(context.Context, T) bool, whenTrue, whenFalse Morph[T]) *Builder[T] {
	if b.err != nil {
		return b
	}
	if predicate == nil {
		b.err = fmt.Errorf("pipeline %q: branch with a nil predicate", b.name)
		return b
	}
	if whenTrue == nil || whenFalse == nil {
		b.err = fmt.Errorf("pipeline %q: branch with a nil child", b.name)
		return b
	}
	b.branches++
	name := Name(fmt.Sprintf("%s.branch.%d", b.name, b.branches))
	b.steps = append(b.steps, NewBranch(name, predicate, whenTrue, whenFalse))
	return b
}

// Build finalizes the accumulated steps into one unit.
//
// Zero steps produce the identity unit and one step produces a
// single-step sequence under the builder's name; neither touches the
// registry. Two or more steps produce a sequence that is registered
// under the builder's name with the ordered step names as its
// composition trace. The optional descriptor supplies everything but the
// trace, which the builder always records itself.
//
// Build returns the sticky error if any step armed one, and the
// registry's error if registration is rejected.
func (b *Builder[T]) Build(desc ...Descriptor) (Morph[T], error) {
	if b.err != nil {
		return nil, b.err
	}

	switch len(b.steps) {
	case 0:
		return Identity[T](), nil
	case 1:
		return NewSequence(b.name, b.steps[0]), nil
	}

	seq := NewSequence(b.name, b.steps...)

	var d Descriptor
	if len(desc) > 0 {
		d = desc[0]
	}
	d.Trace = seq.Names()

	if err := b.registry.Register(seq, d); err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", b.name, err)
	}
	return seq, nil
}

// Apply runs the accumulated steps in order without registering
// anything. Zero steps return the input unchanged. The sticky error, if
// armed, is returned instead of running.
func (b *Builder[T]) Apply(ctx context.Context, value T) (T, error) {
	if b.err != nil {
		var zero T
		return zero, b.err
	}

	result := value
	for _, step := range b.steps {
		var err error
		result, err = step.Apply(ctx, result)
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// Name returns the name of the pipeline under construction.
func (b *Builder[T]) Name() Name {
	return b.name
}

// Len returns the number of accumulated steps.
func (b *Builder[T]) Len() int {
	return len(b.steps)
}

// Err returns the sticky error, or nil if the chain is still healthy.
func (b *Builder[T]) Err() error {
	return b.err
}
