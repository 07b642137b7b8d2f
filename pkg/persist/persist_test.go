package persist_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/inputlayer/inputlayer-sub003/pkg/catalog"
	"github.com/inputlayer/inputlayer-sub003/pkg/engine"
	"github.com/inputlayer/inputlayer-sub003/pkg/persist"
	"github.com/inputlayer/inputlayer-sub003/pkg/value"
)

func tuples(ns ...int64) []persist.Update {
	out := make([]persist.Update, len(ns))
	for i, n := range ns {
		out[i] = persist.Update{Tuple: value.Tuple{value.Int64(n)}, Diff: 1}
	}
	return out
}

// TestCrashRecovery is spec §8 end-to-end scenario 5: writes under
// Immediate durability survive losing the in-memory Handle without a
// clean Close.
func TestCrashRecovery(t *testing.T) {
	dir := t.TempDir()

	h, _, err := persist.Open(dir, persist.Immediate, 0, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := h.AppendBatch("facts", tuples(1, 2)); err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}
	// No Close: Immediate mode already fsynced, so the WAL holds the
	// record with both tuples regardless of whether the handle is cleanly
	// closed.

	h2, relations, err := persist.Open(dir, persist.Immediate, 0, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer h2.Close()

	rel, ok := relations["facts"]
	if !ok {
		t.Fatal("facts relation missing after recovery")
	}
	if rel.Len() != 2 {
		t.Fatalf("got %d facts after recovery, want 2", rel.Len())
	}
}

// TestTornWALRecovery is spec §8 end-to-end scenario 6: a WAL whose last
// line lacks its trailing newline (a torn write) is dropped silently,
// while every record before it still recovers, and the file on disk is
// rewritten to just the valid prefix.
func TestTornWALRecovery(t *testing.T) {
	dir := t.TempDir()

	h, _, err := persist.Open(dir, persist.Immediate, 0, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := h.AppendBatch("facts", tuples(1, 2)); err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}
	if err := h.AppendBatch("facts", tuples(3)); err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	walPath := filepath.Join(dir, "wal", "current.wal")
	info, err := os.Stat(walPath)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() <= 5 {
		t.Fatalf("wal too small to truncate meaningfully: %d bytes", info.Size())
	}
	if err := os.Truncate(walPath, info.Size()-5); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	h2, relations, err := persist.Open(dir, persist.Immediate, 0, nil)
	if err != nil {
		t.Fatalf("reopen on torn tail should not error: %v", err)
	}
	defer h2.Close()

	if rel, ok := relations["facts"]; ok {
		if rel.Len() == 0 {
			t.Fatal("expected at least the untorn records to recover")
		}
	}

	data, err := os.ReadFile(walPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		t.Fatal("rewritten wal should end cleanly")
	}
}

// TestGarbageWALLineFails confirms an unparseable line that is NOT the
// torn final line (and the file ends cleanly) fails the open with a
// corruption error instead of being silently dropped.
func TestGarbageWALLineFails(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "wal"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	walPath := filepath.Join(dir, "wal", "current.wal")
	if err := os.WriteFile(walPath, []byte("not json\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, _, err := persist.Open(dir, persist.Immediate, 0, nil); err == nil {
		t.Fatal("expected an error opening a WAL with a garbage, cleanly-terminated line")
	}
}

// TestConsolidateTruncatesWAL confirms Consolidate writes shard files and
// starts a fresh WAL segment, so a reopen recovers the same relations
// purely from shards with nothing left to replay.
func TestConsolidateTruncatesWAL(t *testing.T) {
	dir := t.TempDir()

	h, _, err := persist.Open(dir, persist.Batched, 0, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := h.AppendBatch("facts", tuples(10, 20, 30)); err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}

	rel := engine.NewMultiset()
	rel.Add(value.Tuple{value.Int64(10)}, 1)
	rel.Add(value.Tuple{value.Int64(20)}, 1)
	rel.Add(value.Tuple{value.Int64(30)}, 1)
	if err := h.Consolidate(map[string]*engine.Multiset{"facts": rel}); err != nil {
		t.Fatalf("Consolidate: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "wal", "current.wal"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != 0 {
		t.Fatalf("wal should be empty after consolidate, got %d bytes", info.Size())
	}

	h2, relations, err := persist.Open(dir, persist.Immediate, 0, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer h2.Close()
	if relations["facts"].Len() != 3 {
		t.Fatalf("got %d facts from shard, want 3", relations["facts"].Len())
	}
}

// TestMetaRoundTrip confirms WriteMeta/LoadMeta round-trips a catalog's
// base and derived relation schemas.
func TestMetaRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cat := catalog.New()
	if _, err := cat.EnsureBase("edge", 2); err != nil {
		t.Fatalf("EnsureBase: %v", err)
	}
	if err := cat.Register(catalog.Schema{Name: "reach", Columns: []string{"col0", "col1"}}, catalog.KindDerived); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := persist.WriteMeta(dir, cat); err != nil {
		t.Fatalf("WriteMeta: %v", err)
	}

	reloaded := catalog.New()
	if err := persist.LoadMeta(dir, reloaded); err != nil {
		t.Fatalf("LoadMeta: %v", err)
	}

	edgeSchema, edgeKind, ok := reloaded.Lookup("edge")
	if !ok {
		t.Fatal("edge relation missing after reload")
	}
	if edgeSchema.Arity() != 2 || edgeKind != catalog.KindBase {
		t.Fatalf("edge: got arity=%d kind=%v, want arity=2 kind=base", edgeSchema.Arity(), edgeKind)
	}

	reachSchema, reachKind, ok := reloaded.Lookup("reach")
	if !ok {
		t.Fatal("reach relation missing after reload")
	}
	if reachSchema.Arity() != 2 || reachKind != catalog.KindDerived {
		t.Fatalf("reach: got arity=%d kind=%v, want arity=2 kind=derived", reachSchema.Arity(), reachKind)
	}
}

// TestLoadMetaMissingFileIsNotAnError confirms a brand-new KG directory
// with no meta.json yet loads as empty, not an error.
func TestLoadMetaMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	cat := catalog.New()
	if err := persist.LoadMeta(dir, cat); err != nil {
		t.Fatalf("LoadMeta on absent meta.json: %v", err)
	}
	if len(cat.Names()) != 0 {
		t.Fatalf("expected no relations, got %v", cat.Names())
	}
}
