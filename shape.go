package morphz

import "fmt"

// Kind is a discriminator for a Morph's composition structure. The
// flattener and the optimizer branch on kinds instead of concrete types,
// so components built outside this package compose correctly as long as
// their Shape reports an honest kind.
type Kind string

// Shape kinds for every composition structure in the engine.
const (
	// Leaves. The flattener never expands these.
	KindUnit      Kind = "unit"
	KindIdentity  Kind = "identity"
	KindMultiStep Kind = "multistep"

	// Composites. The flattener expands their steps left to right.
	KindSequential Kind = "sequential"
	KindSequence   Kind = "sequence"
	KindPipeline   Kind = "pipeline"
)

// Shape is a tagged variant describing how a Morph is composed.
//
// Leaf kinds carry no steps. KindSequential carries exactly two steps
// (first, second), KindSequence carries the ordered step list, and
// KindPipeline carries the single root. KindMultiStep is a leaf for
// flattening purposes because its post-processing is welded to its
// apply, but it still reports its steps for introspection.
type Shape[T any] struct {
	Kind  Kind
	Steps []Morph[T]
}

// flatten expands a composition tree into its ordered list of leaf units
// using an explicit worklist, depth-first and left to right. Every kind is
// handled; an unrecognized kind is an error, never a silent skip, so the
// optimizer cannot quietly pass over structure it does not understand.
func flatten[T any](root Morph[T]) ([]Morph[T], error) {
	var leaves []Morph[T]
	stack := []Morph[T]{root}
	for len(stack) > 0 {
		m := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		shape := m.Shape()
		switch shape.Kind {
		case KindUnit, KindIdentity, KindMultiStep:
			leaves = append(leaves, m)
		case KindSequential, KindSequence, KindPipeline:
			// Push in reverse so the leftmost step pops first.
			for i := len(shape.Steps) - 1; i >= 0; i-- {
				stack = append(stack, shape.Steps[i])
			}
		default:
			return nil, fmt.Errorf("%w: kind %q on %q", ErrUnknownShape, shape.Kind, m.Name())
		}
	}
	return leaves, nil
}

// Walk traverses a composition tree depth-first, pre-order, calling fn for
// every Morph it visits. Unlike flatten it is purely structural: it visits
// a node and then whatever steps its shape reports, regardless of kind.
func Walk[T any](root Morph[T], fn func(Morph[T])) {
	fn(root)
	for _, step := range root.Shape().Steps {
		Walk(step, fn)
	}
}

// Count returns the total number of Morphs in a composition tree,
// including composites themselves.
func Count[T any](root Morph[T]) int {
	n := 0
	Walk(root, func(Morph[T]) { n++ })
	return n
}
