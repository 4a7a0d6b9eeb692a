package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"go.uber.org/zap"

	"github.com/hubdocs/docpilot/internal/domain"
)

func wordCounter(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}

func writeDocs(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"guide.md":        "# User Guide\n\nOpen the settings page. Choose reset password. Wait for the email.",
		"faq.txt":         "Refunds take thirty days. Contact support for anything else.",
		"notes/extra.md":  "# Extra Notes\n\nThis covers advanced usage. It has two sentences.",
		"ignored/img.png": "binary",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func newTestIngestor(store *fakeStore, batchSize int) (*Ingestor, *fakeEmbedder) {
	embedder := &fakeEmbedder{}
	chunker := newChunkerWithCounter(1000, 0, wordCounter)
	return NewIngestor(embedder, store, chunker, batchSize, zap.NewNop()), embedder
}

func TestIngestDirectory_CreatesChunksWithProvenance(t *testing.T) {
	dir := writeDocs(t)
	store := &fakeStore{}
	ingestor, _ := newTestIngestor(store, 100)

	result, err := ingestor.IngestDirectory(context.Background(), dir)
	if err != nil {
		t.Fatalf("ingestion failed: %v", err)
	}

	if result.Status != "completed" {
		t.Errorf("status = %q; want completed", result.Status)
	}
	if result.ChunksCreated != store.upsertedTotal {
		t.Errorf("chunks_created = %d but %d records upserted", result.ChunksCreated, store.upsertedTotal)
	}
	if result.ChunksCreated == 0 {
		t.Fatal("no chunks created from a populated directory")
	}

	for _, round := range store.upsertedRounds {
		for _, r := range round {
			if r.Metadata[domain.MetadataKeySource] == nil ||
				r.Metadata[domain.MetadataKeyTitle] == nil ||
				r.Metadata[domain.MetadataKeyChunkIndex] == nil ||
				r.Metadata[domain.MetadataKeyText] == nil {
				t.Errorf("record %s is missing provenance metadata: %v", r.ID, r.Metadata)
			}
		}
	}
}

func TestIngestDirectory_Idempotent(t *testing.T) {
	dir := writeDocs(t)
	store := &fakeStore{}
	ingestor, _ := newTestIngestor(store, 100)

	first, err := ingestor.IngestDirectory(context.Background(), dir)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	firstIDs := append([]string(nil), store.upsertedIDs...)

	second, err := ingestor.IngestDirectory(context.Background(), dir)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if first.ChunksCreated != second.ChunksCreated {
		t.Errorf("chunk counts differ across runs: %d vs %d", first.ChunksCreated, second.ChunksCreated)
	}

	secondIDs := store.upsertedIDs[len(firstIDs):]
	sort.Strings(firstIDs)
	sort.Strings(secondIDs)
	if len(firstIDs) != len(secondIDs) {
		t.Fatalf("id counts differ: %d vs %d", len(firstIDs), len(secondIDs))
	}
	for i := range firstIDs {
		if firstIDs[i] != secondIDs[i] {
			t.Fatalf("ids differ across runs: %s vs %s", firstIDs[i], secondIDs[i])
		}
	}
}

func TestIngestDirectory_MissingDir(t *testing.T) {
	store := &fakeStore{}
	ingestor, embedder := newTestIngestor(store, 100)

	_, err := ingestor.IngestDirectory(context.Background(), filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v; want ErrNotFound", err)
	}
	if embedder.batchCalls != 0 || store.upsertCalls != 0 {
		t.Error("providers were called for a missing directory")
	}
}

func TestIngestDirectory_EmbedsInBatches(t *testing.T) {
	dir := t.TempDir()
	// One sentence per chunk keeps the chunk count predictable: 7 chunks.
	content := "One. Two. Three. Four. Five. Six. Seven."
	if err := os.WriteFile(filepath.Join(dir, "doc.txt"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	store := &fakeStore{}
	embedder := &fakeEmbedder{}
	chunker := newChunkerWithCounter(1, 0, wordCounter)
	ingestor := NewIngestor(embedder, store, chunker, 3, zap.NewNop())

	result, err := ingestor.IngestDirectory(context.Background(), dir)
	if err != nil {
		t.Fatalf("ingestion failed: %v", err)
	}
	if result.ChunksCreated != 7 {
		t.Fatalf("chunks = %d; want 7", result.ChunksCreated)
	}
	// 7 chunks at batch size 3 means 3 embedding calls (3, 3, 1).
	if embedder.batchCalls != 3 {
		t.Errorf("embed batch calls = %d; want 3", embedder.batchCalls)
	}
	if store.lastBatchSize != 3 {
		t.Errorf("upsert batch size = %d; want 3", store.lastBatchSize)
	}
}

func TestIngestDirectory_EmptyDir(t *testing.T) {
	store := &fakeStore{}
	ingestor, _ := newTestIngestor(store, 100)

	result, err := ingestor.IngestDirectory(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("ingestion failed: %v", err)
	}
	if result.ChunksCreated != 0 {
		t.Errorf("chunks = %d; want 0", result.ChunksCreated)
	}
	if store.upsertCalls != 0 {
		t.Error("upsert called with no chunks")
	}
}
