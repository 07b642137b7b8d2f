package storage_test

import (
	"context"
	"testing"

	"github.com/inputlayer/inputlayer-sub003/pkg/storage"
	"github.com/inputlayer/inputlayer-sub003/pkg/value"
)

func edges() []value.Tuple {
	pairs := [][2]int64{{1, 2}, {2, 3}, {3, 4}}
	out := make([]value.Tuple, len(pairs))
	for i, p := range pairs {
		out[i] = value.Tuple{value.Int64(p[0]), value.Int64(p[1])}
	}
	return out
}

func TestInsertAndQuery(t *testing.T) {
	s, err := storage.New(t.TempDir(), 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if err := s.Insert("edge", edges()); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.RegisterRule(storage.DefaultKG, "reach(X,Y) <- edge(X,Y)."); err != nil {
		t.Fatalf("RegisterRule (base): %v", err)
	}
	if err := s.RegisterRule(storage.DefaultKG, "reach(X,Z) <- reach(X,Y), edge(Y,Z)."); err != nil {
		t.Fatalf("RegisterRule (recursive): %v", err)
	}

	rows, err := s.ExecuteQuery(context.Background(), "?reach.")
	if err != nil {
		t.Fatalf("ExecuteQuery: %v", err)
	}
	if rows.Len() != 6 {
		t.Fatalf("got %d reach tuples, want 6", rows.Len())
	}
}

func TestDeleteIsInverseOfInsert(t *testing.T) {
	s, err := storage.New(t.TempDir(), 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	batch := []value.Tuple{{value.Int64(1)}, {value.Int64(2)}}
	if err := s.Insert("widgets", batch); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	before, err := s.Stats(storage.DefaultKG)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}

	if err := s.Insert("widgets", []value.Tuple{{value.Int64(3)}}); err != nil {
		t.Fatalf("Insert extra: %v", err)
	}
	if err := s.Delete("widgets", []value.Tuple{{value.Int64(3)}}); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	after, err := s.Stats(storage.DefaultKG)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if before["widgets"] != after["widgets"] {
		t.Fatalf("got %d widgets after insert+delete, want %d", after["widgets"], before["widgets"])
	}
}

func TestInsertBatchWithMismatchedArityFails(t *testing.T) {
	s, err := storage.New(t.TempDir(), 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	batch := []value.Tuple{
		{value.Int64(1), value.Int64(2)},
		{value.Int64(3)},
	}
	if err := s.Insert("edge", batch); err == nil {
		t.Fatal("expected ArityMismatch error for a batch with a short tuple")
	}

	stats, err := s.Stats(storage.DefaultKG)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats["edge"] != 0 {
		t.Fatalf("expected no rows committed from a rejected batch, got %d", stats["edge"])
	}
}

func TestKnowledgeGraphLifecycle(t *testing.T) {
	s, err := storage.New(t.TempDir(), 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if err := s.CreateKnowledgeGraph("alt"); err != nil {
		t.Fatalf("CreateKnowledgeGraph: %v", err)
	}
	names := s.ListKnowledgeGraphs()
	found := false
	for _, n := range names {
		if n == "alt" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %q among %v", "alt", names)
	}

	if err := s.UseKnowledgeGraph("alt"); err != nil {
		t.Fatalf("UseKnowledgeGraph: %v", err)
	}
	if err := s.Insert("widgets", []value.Tuple{{value.Int64(1)}}); err != nil {
		t.Fatalf("Insert into alt: %v", err)
	}

	defaultStats, err := s.Stats(storage.DefaultKG)
	if err != nil {
		t.Fatalf("Stats(default): %v", err)
	}
	if defaultStats["widgets"] != 0 {
		t.Fatalf("expected default.widgets untouched, got %d", defaultStats["widgets"])
	}

	if err := s.DropKnowledgeGraph(storage.DefaultKG); err == nil {
		t.Fatal("expected dropping the default knowledge graph to fail")
	}
	if err := s.DropKnowledgeGraph("alt"); err != nil {
		t.Fatalf("DropKnowledgeGraph(alt): %v", err)
	}
	for _, n := range s.ListKnowledgeGraphs() {
		if n == "alt" {
			t.Fatal("alt should no longer be listed after drop")
		}
	}
}

func TestMultiGraphIsolation(t *testing.T) {
	s, err := storage.New(t.TempDir(), 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if err := s.CreateKnowledgeGraph("alt"); err != nil {
		t.Fatalf("CreateKnowledgeGraph: %v", err)
	}
	if err := s.InsertInto(storage.DefaultKG, "widgets", []value.Tuple{{value.Int64(1)}}); err != nil {
		t.Fatalf("InsertInto(default): %v", err)
	}
	if err := s.InsertInto("alt", "widgets", []value.Tuple{{value.Int64(2)}, {value.Int64(3)}}); err != nil {
		t.Fatalf("InsertInto(alt): %v", err)
	}

	defaultStats, err := s.Stats(storage.DefaultKG)
	if err != nil {
		t.Fatalf("Stats(default): %v", err)
	}
	altStats, err := s.Stats("alt")
	if err != nil {
		t.Fatalf("Stats(alt): %v", err)
	}
	if defaultStats["widgets"] != 1 {
		t.Fatalf("default.widgets = %d, want 1", defaultStats["widgets"])
	}
	if altStats["widgets"] != 2 {
		t.Fatalf("alt.widgets = %d, want 2", altStats["widgets"])
	}
}

func TestSaveAndReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := storage.New(dir, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Insert("widgets", []value.Tuple{{value.Int64(1)}, {value.Int64(2)}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.SaveKnowledgeGraph(context.Background(), storage.DefaultKG); err != nil {
		t.Fatalf("SaveKnowledgeGraph: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := storage.New(dir, 1)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	stats, err := s2.Stats(storage.DefaultKG)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats["widgets"] != 2 {
		t.Fatalf("got %d widgets after reopen, want 2", stats["widgets"])
	}
}

func TestSaveAll(t *testing.T) {
	s, err := storage.New(t.TempDir(), 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if err := s.CreateKnowledgeGraph("alt"); err != nil {
		t.Fatalf("CreateKnowledgeGraph: %v", err)
	}
	if err := s.Insert("widgets", []value.Tuple{{value.Int64(1)}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.InsertInto("alt", "widgets", []value.Tuple{{value.Int64(2)}}); err != nil {
		t.Fatalf("InsertInto(alt): %v", err)
	}
	if err := s.SaveAll(context.Background()); err != nil {
		t.Fatalf("SaveAll: %v", err)
	}
}

func TestExplainTraceRoundTrips(t *testing.T) {
	s, err := storage.New(t.TempDir(), 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if err := s.Insert("edge", edges()); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.RegisterRule(storage.DefaultKG, "reach(X,Y) <- edge(X,Y)."); err != nil {
		t.Fatalf("RegisterRule (base): %v", err)
	}
	if err := s.RegisterRule(storage.DefaultKG, "reach(X,Z) <- reach(X,Y), edge(Y,Z)."); err != nil {
		t.Fatalf("RegisterRule (recursive): %v", err)
	}

	tr, err := s.Explain(context.Background(), "?reach.")
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if !tr.ReparseOK {
		t.Fatalf("expected trace to reparse cleanly, errors: %v", tr.ReparseErrors)
	}
	if len(tr.Rounds) == 0 {
		t.Fatal("expected at least one fixpoint round to be captured")
	}
	if tr.ResultCount != 6 {
		t.Fatalf("got %d result rows, want 6", tr.ResultCount)
	}
}

func TestDatabaseNotFound(t *testing.T) {
	s, err := storage.New(t.TempDir(), 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if _, err := s.Stats("nope"); err == nil {
		t.Fatal("expected an error for an unknown knowledge graph")
	}
	if err := s.UseKnowledgeGraph("nope"); err == nil {
		t.Fatal("expected an error switching to an unknown knowledge graph")
	}
}

// TestOrdinaryWriteErrorDoesNotPoison exercises spec §5's lock-poisoning
// recovery boundary from the other side: an ordinary returned error (as
// opposed to a writer panic) must leave the knowledge graph healthy, and
// Repair on an already-healthy KG is a harmless no-op.
func TestOrdinaryWriteErrorDoesNotPoison(t *testing.T) {
	s, err := storage.New(t.TempDir(), 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if err := s.Insert("widgets", []value.Tuple{{value.Int64(1)}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	// widgets is already a registered arity-1 base relation; a rule body
	// that scans it at arity 2 fails to build with ArityMismatch. This is
	// an ordinary, recovered error (mutate's fn returns an error, it does
	// not panic), so it must not poison the knowledge graph.
	if err := s.RegisterRule(storage.DefaultKG, "bogus(X,Y) <- widgets(X,Y)."); err == nil {
		t.Fatal("expected registering a rule with a conflicting arity to fail")
	}

	// The KG must remain healthy (not poisoned) after an ordinary,
	// recovered error: reads and further writes still succeed.
	if err := s.Insert("widgets", []value.Tuple{{value.Int64(2)}}); err != nil {
		t.Fatalf("Insert after a recovered error should still succeed: %v", err)
	}
	stats, err := s.Stats(storage.DefaultKG)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats["widgets"] != 2 {
		t.Fatalf("got %d widgets, want 2", stats["widgets"])
	}

	if err := s.Repair(storage.DefaultKG); err != nil {
		t.Fatalf("Repair on a healthy KG should be a no-op: %v", err)
	}
}
