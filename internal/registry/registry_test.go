package registry

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"moodlist/internal/cache"
)

func newTestRegistry() *Registry {
	manager := cache.NewManager(cache.NewMemory(1000), "test:", zap.NewNop())
	return New(manager, true, zap.NewNop())
}

func TestRegistry_MarkValidatedBothDirections(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	r.MarkValidated(ctx, "cat1", "feat1")

	featuresID, ok := r.Lookup(ctx, "cat1")
	if !ok || featuresID != "feat1" {
		t.Errorf("forward lookup: expected feat1, got %q (ok=%v)", featuresID, ok)
	}

	catalogID, ok := r.ReverseLookup(ctx, "feat1")
	if !ok || catalogID != "cat1" {
		t.Errorf("reverse lookup: expected cat1, got %q (ok=%v)", catalogID, ok)
	}
}

func TestRegistry_MarkMissing(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	if r.IsMissing(ctx, "cat1") {
		t.Error("fresh registry should not know any missing IDs")
	}

	r.MarkMissing(ctx, "cat1", "404 from features service")

	if !r.IsMissing(ctx, "cat1") {
		t.Error("cat1 should be missing after MarkMissing")
	}
}

func TestRegistry_BulkCheckMissing(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	r.MarkMissing(ctx, "m1", "absent")
	r.MarkMissing(ctx, "m2", "absent")

	toCheck, knownMissing := r.BulkCheckMissing(ctx, []string{"a", "m1", "b", "m2"})

	if len(toCheck) != 2 || toCheck[0] != "a" || toCheck[1] != "b" {
		t.Errorf("expected [a b] to check, got %v", toCheck)
	}
	if len(knownMissing) != 2 || knownMissing[0] != "m1" || knownMissing[1] != "m2" {
		t.Errorf("expected [m1 m2] known missing, got %v", knownMissing)
	}
}

func TestRegistry_BulkGetValidated(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	r.MarkValidated(ctx, "c1", "f1")
	r.MarkValidated(ctx, "c2", "f2")

	got := r.BulkGetValidated(ctx, []string{"c1", "c2", "c3"})

	if len(got) != 2 {
		t.Fatalf("expected 2 validated mappings, got %d", len(got))
	}
	if got["c1"] != "f1" || got["c2"] != "f2" {
		t.Errorf("unexpected mapping: %v", got)
	}
	if _, ok := got["c3"]; ok {
		t.Error("unvalidated ID must not appear in result")
	}
}

func TestRegistry_MissingAndValidatedAreIndependent(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	// A previously missing ID can later be validated (the upstream added it);
	// both records can coexist and validation wins for lookups.
	r.MarkMissing(ctx, "c1", "absent")
	r.MarkValidated(ctx, "c1", "f1")

	if id, ok := r.Lookup(ctx, "c1"); !ok || id != "f1" {
		t.Errorf("validated mapping should resolve, got %q (ok=%v)", id, ok)
	}
}
