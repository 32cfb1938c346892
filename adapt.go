package morphz

import "context"

// Transform creates a pure unit from a function that cannot fail. This is
// the most common adapter: use it when your function always produces a
// result from its input.
//
// The unit carries DefaultMetadata (pure, fusible, unit cost, memoizable),
// which makes Transform units ideal fusion candidates for the optimizer.
//
// Example:
//
//	double := morphz.Transform("double", func(_ context.Context, n int) int {
//	    return n * 2
//	})
func Transform[T any](name Name, fn func(context.Context, T) T) Unit[T] {
	if fn == nil {
		panic("morphz: unit " + name + " has a nil function")
	}
	return NewUnit(name, func(ctx context.Context, value T) (T, error) {
		return fn(ctx, value), nil
	})
}

// Effect creates a unit for side effects like auditing, notifications, or
// cache warming. The function can return an error to stop the pipeline,
// but the flowing value is never modified.
//
// Effect units are impure and non-memoizable (the side effect must happen
// on every application) but remain fusible: fusion preserves execution
// order, so the effect still fires between its neighbors.
func Effect[T any](name Name, fn func(context.Context, T) error) Unit[T] {
	if fn == nil {
		panic("morphz: unit " + name + " has a nil function")
	}
	return NewUnit(name, func(ctx context.Context, value T) (T, error) {
		if err := fn(ctx, value); err != nil {
			var zero T
			return zero, err
		}
		return value, nil
	}, Metadata{Pure: false, Fusible: true, Cost: 1, Memoizable: false})
}

// Mutate creates a unit that conditionally modifies data. The transformer
// runs only when the condition returns true; otherwise the value passes
// through unchanged. This is useful for business rules that apply only in
// certain cases.
//
// Mutate units are conservatively impure and non-memoizable because the
// engine cannot see inside the condition; declare metadata yourself with
// NewUnit when you know better.
func Mutate[T any](name Name, transformer func(context.Context, T) T, condition func(context.Context, T) bool) Unit[T] {
	if transformer == nil || condition == nil {
		panic("morphz: unit " + name + " has a nil function")
	}
	return NewUnit(name, func(ctx context.Context, value T) (T, error) {
		if condition(ctx, value) {
			return transformer(ctx, value), nil
		}
		return value, nil
	}, Metadata{Pure: false, Fusible: true, Cost: 1, Memoizable: false})
}
