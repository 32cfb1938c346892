package morphz

import (
	"context"
	"errors"
	"testing"
)

func TestMultiStep_ApplyOrder(t *testing.T) {
	steps := []Morph[int]{
		Transform("double", func(_ context.Context, n int) int { return n * 2 }),
		Transform("inc", func(_ context.Context, n int) int { return n + 1 }),
		Transform("square", func(_ context.Context, n int) int { return n * n }),
	}

	ms := NewMultiStep("chain", steps, nil)

	result, err := ms.Apply(context.Background(), 2)
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if result != 25 { // ((2*2)+1)^2
		t.Errorf("Expected 25, got %d", result)
	}
}

func TestMultiStep_EmptySteps(t *testing.T) {
	ms := NewMultiStep[string]("empty", nil, nil)

	result, err := ms.Apply(context.Background(), "through")
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if result != "through" {
		t.Errorf("Expected input unchanged, got %s", result)
	}
	if ms.Metadata().Cost != 0 {
		t.Errorf("Expected cost 0 for empty steps, got %f", ms.Metadata().Cost)
	}
}

func TestMultiStep_PostProcessing(t *testing.T) {
	steps := []Morph[int]{
		Transform("double", func(_ context.Context, n int) int { return n * 2 }),
	}
	post := func(_ context.Context, n int) int { return n + 100 }

	ms := NewMultiStep("shaped", steps, post)

	result, err := ms.Apply(context.Background(), 5)
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if result != 110 { // (5*2)+100
		t.Errorf("Expected 110, got %d", result)
	}
	if !ms.HasPostProcess() {
		t.Error("Expected HasPostProcess to report true")
	}
}

func TestMultiStep_CostAddsOneForPost(t *testing.T) {
	steps := []Morph[int]{
		Transform("a", func(_ context.Context, n int) int { return n }),
		Transform("b", func(_ context.Context, n int) int { return n }),
	}

	without := NewMultiStep("bare", steps, nil)
	with := NewMultiStep("shaped", steps, func(_ context.Context, n int) int { return n })

	if without.Metadata().Cost != 2 {
		t.Errorf("Expected cost 2 without post, got %f", without.Metadata().Cost)
	}
	if with.Metadata().Cost != 3 {
		t.Errorf("Expected cost 3 with post, got %f", with.Metadata().Cost)
	}
}

func TestMultiStep_PurityNeedsAssertionWhenPostPresent(t *testing.T) {
	steps := []Morph[int]{
		Transform("pure", func(_ context.Context, n int) int { return n }),
	}
	post := func(_ context.Context, n int) int { return n }

	// Post-processing is opaque: without an assertion the composite is
	// conservatively impure even though every step is pure.
	unasserted := NewMultiStep("unasserted", steps, post)
	if unasserted.Metadata().Pure {
		t.Error("Expected unasserted post-processing to make the composite impure")
	}

	asserted := NewMultiStep("asserted", steps, post, Metadata{Pure: true, Memoizable: true})
	if !asserted.Metadata().Pure {
		t.Error("Expected asserted purity to hold when all steps are pure")
	}
	if !asserted.Metadata().Memoizable {
		t.Error("Expected asserted memoizability to hold when all steps are memoizable")
	}
}

func TestMultiStep_AssertionCannotOverrideImpureSteps(t *testing.T) {
	steps := []Morph[int]{
		Effect("audit", func(_ context.Context, _ int) error { return nil }),
	}

	ms := NewMultiStep("audited", steps, func(_ context.Context, n int) int { return n },
		Metadata{Pure: true, Memoizable: true})

	// The assertion covers the post-processing only; impure steps still
	// poison the composite.
	if ms.Metadata().Pure {
		t.Error("Expected impure step to keep the composite impure despite assertion")
	}
}

func TestMultiStep_FusibleOnlyByAssertion(t *testing.T) {
	steps := []Morph[int]{
		Transform("a", func(_ context.Context, n int) int { return n }),
		Transform("b", func(_ context.Context, n int) int { return n }),
	}

	plain := NewMultiStep("plain", steps, nil)
	if plain.Metadata().Fusible {
		t.Error("Expected multi-step composite to be non-fusible by default")
	}

	asserted := NewMultiStep("asserted", steps, nil, Metadata{Fusible: true})
	if !asserted.Metadata().Fusible {
		t.Error("Expected asserted fusibility to be honored")
	}
}

func TestMultiStep_ErrorStopsRemainingSteps(t *testing.T) {
	wantErr := errors.New("step two failed")
	thirdRan := false
	postRan := false

	steps := []Morph[int]{
		Transform("one", func(_ context.Context, n int) int { return n + 1 }),
		NewUnit("two", func(_ context.Context, n int) (int, error) { return n, wantErr }),
		Transform("three", func(_ context.Context, n int) int {
			thirdRan = true
			return n
		}),
	}
	post := func(_ context.Context, n int) int {
		postRan = true
		return n
	}

	_, err := NewMultiStep("failing", steps, post).Apply(context.Background(), 0)
	if !errors.Is(err, wantErr) {
		t.Errorf("Expected step error verbatim, got %v", err)
	}
	if thirdRan {
		t.Error("Expected later steps not to run after failure")
	}
	if postRan {
		t.Error("Expected post-processing not to run after failure")
	}
}

func TestMultiStep_ThenAppendsAndClearsPost(t *testing.T) {
	steps := []Morph[int]{
		Transform("double", func(_ context.Context, n int) int { return n * 2 }),
	}
	post := func(_ context.Context, n int) int { return n + 100 }

	ms := NewMultiStep("extend", steps, post)
	extended := ms.Then(Transform("inc", func(_ context.Context, n int) int { return n + 1 }))

	// Post-processing is gone: (5*2)+1, not ((5*2)+100)+1.
	result, err := extended.Apply(context.Background(), 5)
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if result != 11 {
		t.Errorf("Expected 11, got %d", result)
	}
	if extended.HasPostProcess() {
		t.Error("Expected post-processing to be cleared by Then")
	}
	if len(extended.Steps()) != 2 {
		t.Errorf("Expected 2 steps after Then, got %d", len(extended.Steps()))
	}
	if extended.Name() != "extend" {
		t.Errorf("Expected name to survive Then, got %s", extended.Name())
	}

	// Metadata is recomputed from the combined steps: no post, no assertions.
	if extended.Metadata().Cost != 2 {
		t.Errorf("Expected recomputed cost 2, got %f", extended.Metadata().Cost)
	}
	if !extended.Metadata().Pure {
		t.Error("Expected recomputed purity from pure steps")
	}
}

func TestMultiStep_ThenLeavesOriginalUntouched(t *testing.T) {
	steps := []Morph[int]{
		Transform("double", func(_ context.Context, n int) int { return n * 2 }),
	}
	post := func(_ context.Context, n int) int { return n + 100 }

	ms := NewMultiStep("original", steps, post)
	_ = ms.Then(Transform("inc", func(_ context.Context, n int) int { return n + 1 }))

	if len(ms.Steps()) != 1 {
		t.Errorf("Expected original to keep 1 step, got %d", len(ms.Steps()))
	}
	if !ms.HasPostProcess() {
		t.Error("Expected original to keep its post-processing")
	}
}

func TestMultiStep_ShapeIsLeaf(t *testing.T) {
	steps := []Morph[int]{
		Transform("a", func(_ context.Context, n int) int { return n }),
		Transform("b", func(_ context.Context, n int) int { return n }),
	}

	shape := NewMultiStep("welded", steps, func(_ context.Context, n int) int { return n }).Shape()

	if shape.Kind != KindMultiStep {
		t.Errorf("Expected kind %q, got %q", KindMultiStep, shape.Kind)
	}
	// Steps are reported for introspection even though the flattener
	// treats the composite as a leaf.
	if len(shape.Steps) != 2 {
		t.Errorf("Expected 2 introspection steps, got %d", len(shape.Steps))
	}
}

func TestMultiStep_PanicsOnNilStep(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Expected panic on nil step")
		}
	}()

	NewMultiStep("broken", []Morph[int]{nil}, nil)
}
