package morphz

import "context"

// IdentityName is the display name shared by every identity unit.
const IdentityName Name = "identity"

// Unit is the atomic transform unit: a named function from a value and a
// context to a new value, tagged with optimization metadata.
//
// Units are the basic building blocks created by NewUnit and the adapter
// functions (Transform, Effect, Mutate). They are immutable values: a unit
// may be shared by many pipelines, owns no external resources, and holds
// no mutable state of its own. Whatever mutation a workflow needs lives in
// the context supplied by the caller or in the values flowing through.
//
// The fn field is intentionally private so units only come into existence
// through the constructors, which validate names and metadata up front.
//
// Best practices for unit names:
//   - Use descriptive, action-oriented names ("validate_email", not "email")
//   - Keep names concise but meaningful
//   - Store them as constants; they key the registry and appear in
//     composition traces
type Unit[T any] struct {
	fn       func(context.Context, T) (T, error)
	name     Name
	meta     Metadata
	identity bool
}

// NewUnit creates a transform unit from a function that can fail.
//
// Metadata may be supplied to override DefaultMetadata; when it is, the
// caller owns every field, including Memoizable. NewUnit panics on an
// empty name, a nil function, or malformed metadata: construction is
// programmer territory and fails fast rather than propagating silently.
//
// Example:
//
//	parse := morphz.NewUnit("parse", func(_ context.Context, s string) (string, error) {
//	    return strconv.Unquote(s)
//	}, morphz.Metadata{Pure: true, Fusible: true, Cost: 2, Memoizable: true})
func NewUnit[T any](name Name, fn func(context.Context, T) (T, error), meta ...Metadata) Unit[T] {
	if name == "" {
		panic("morphz: unit name must not be empty")
	}
	if fn == nil {
		panic("morphz: unit " + name + " has a nil function")
	}
	m := optionalMetadata(meta)
	validateMetadata(name, m)
	return Unit[T]{fn: fn, name: name, meta: m}
}

// Identity returns the identity unit: Apply returns its input unchanged.
// Its metadata is fixed at pure, fusible, zero cost, memoizable, making it
// the neutral element of composition. The optimizer recognizes identity
// units by shape kind, never by concrete type, and strips them from
// pipeline interiors.
func Identity[T any]() Unit[T] {
	return Unit[T]{
		fn: func(_ context.Context, value T) (T, error) {
			return value, nil
		},
		name:     IdentityName,
		meta:     Metadata{Pure: true, Fusible: true, Cost: 0, Memoizable: true},
		identity: true,
	}
}

// Apply implements Morph by running the unit's function. Errors returned
// by the function propagate to the caller verbatim.
func (u Unit[T]) Apply(ctx context.Context, value T) (T, error) {
	return u.fn(ctx, value)
}

// Name returns the name of the unit for diagnostics and registry keys.
func (u Unit[T]) Name() Name {
	return u.name
}

// Metadata returns the unit's declared optimization metadata.
func (u Unit[T]) Metadata() Metadata {
	return u.meta
}

// Shape reports the unit as a leaf, or as the identity when it was
// created by Identity.
func (u Unit[T]) Shape() Shape[T] {
	if u.identity {
		return Shape[T]{Kind: KindIdentity}
	}
	return Shape[T]{Kind: KindUnit}
}

// Then composes this unit with next, returning a Sequential that feeds
// this unit's output into next. The composite is named after both.
func (u Unit[T]) Then(next Morph[T]) Sequential[T] {
	return NewSequential(u.name+"."+next.Name(), u, next)
}
