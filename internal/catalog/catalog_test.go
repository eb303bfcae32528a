package catalog

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := Config{Path: filepath.Join(t.TempDir(), "catalog.db")}
	cfg.applyDefaults()
	store, err := OpenWithConfig(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordChunksAndStats(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ids := []string{"p1_spec.txt_0", "p1_spec.txt_1", "p1_spec.txt_2"}
	if err := store.RecordChunks(ctx, "p1", "spec.txt", "txt", ids); err != nil {
		t.Fatalf("record chunks: %v", err)
	}

	docs, err := store.Documents(ctx, "p1")
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected one document, got %d", len(docs))
	}
	if docs[0].Source != "spec.txt" || docs[0].DocType != "txt" || docs[0].ChunkCount != 3 {
		t.Fatalf("unexpected record %+v", docs[0])
	}

	stats, err := store.Stats(ctx, "p1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.DocumentCount != 1 || stats.ChunkCount != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRecordChunksReplacesOnReingest(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := []string{"p1_spec.txt_0", "p1_spec.txt_1"}
	if err := store.RecordChunks(ctx, "p1", "spec.txt", "txt", first); err != nil {
		t.Fatalf("first record: %v", err)
	}
	second := []string{"p1_spec.txt_0", "p1_spec.txt_1", "p1_spec.txt_2", "p1_spec.txt_3"}
	if err := store.RecordChunks(ctx, "p1", "spec.txt", "txt", second); err != nil {
		t.Fatalf("second record: %v", err)
	}

	docs, err := store.Documents(ctx, "p1")
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("re-ingest should not add a second document, got %d", len(docs))
	}
	if docs[0].ChunkCount != 4 {
		t.Fatalf("expected chunk count 4, got %d", docs[0].ChunkCount)
	}

	var chunkRows int
	if err := store.DB().GetContext(ctx, &chunkRows, `SELECT COUNT(*) FROM chunks`); err != nil {
		t.Fatalf("count chunks: %v", err)
	}
	if chunkRows != 4 {
		t.Fatalf("expected 4 chunk rows, got %d", chunkRows)
	}
}

func TestStatsEmptyProject(t *testing.T) {
	store := openTestStore(t)
	stats, err := store.Stats(context.Background(), "missing")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.DocumentCount != 0 || stats.ChunkCount != 0 {
		t.Fatalf("expected zero stats, got %+v", stats)
	}
}

func TestDeleteProjectCascades(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.RecordChunks(ctx, "p1", "spec.txt", "txt", []string{"p1_spec.txt_0"}); err != nil {
		t.Fatalf("record p1: %v", err)
	}
	if err := store.RecordChunks(ctx, "p2", "other.pdf", "pdf", []string{"p2_other.pdf_0"}); err != nil {
		t.Fatalf("record p2: %v", err)
	}

	if err := store.DeleteProject(ctx, "p1"); err != nil {
		t.Fatalf("delete project: %v", err)
	}

	docs, err := store.Documents(ctx, "p1")
	if err != nil {
		t.Fatalf("list p1: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("deleted project still has %d documents", len(docs))
	}

	kept, err := store.Documents(ctx, "p2")
	if err != nil {
		t.Fatalf("list p2: %v", err)
	}
	if len(kept) != 1 {
		t.Fatalf("unrelated project lost records, got %d", len(kept))
	}

	var chunkRows int
	if err := store.DB().GetContext(ctx, &chunkRows, `SELECT COUNT(*) FROM chunks`); err != nil {
		t.Fatalf("count chunks: %v", err)
	}
	if chunkRows != 1 {
		t.Fatalf("expected cascade to leave 1 chunk row, got %d", chunkRows)
	}
}
