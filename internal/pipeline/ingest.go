package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hubdocs/docpilot/internal/domain"
)

// DefaultEmbedBatchSize bounds one embedding request, matching upstream
// request-size limits.
const DefaultEmbedBatchSize = 100

var supportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
}

// Ingestor reads source documents from a directory, chunks them, embeds the
// chunks in batches and upserts the resulting vector records. Chunk ids are
// derived from source path and position, so re-running ingestion over the
// same sources overwrites records instead of appending.
type Ingestor struct {
	embedder  Embedder
	store     VectorStore
	chunker   *Chunker
	batchSize int
	log       *zap.Logger
}

// NewIngestor creates an Ingestor with explicitly injected clients.
func NewIngestor(embedder Embedder, store VectorStore, chunker *Chunker, batchSize int, log *zap.Logger) *Ingestor {
	if batchSize <= 0 {
		batchSize = DefaultEmbedBatchSize
	}
	return &Ingestor{
		embedder:  embedder,
		store:     store,
		chunker:   chunker,
		batchSize: batchSize,
		log:       log,
	}
}

// IngestDirectory processes every supported document under dir and upserts
// its chunks into the vector store. Returns domain.ErrNotFound when dir does
// not exist.
func (ing *Ingestor) IngestDirectory(ctx context.Context, dir string) (*domain.IngestResult, error) {
	start := time.Now()

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: directory %s", domain.ErrNotFound, dir)
		}
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", domain.ErrNotFound, dir)
	}

	chunks, err := ing.collectChunks(dir)
	if err != nil {
		return nil, err
	}
	ing.log.Info("collected chunks for ingestion",
		zap.String("dir", dir), zap.Int("chunks", len(chunks)))

	if len(chunks) > 0 {
		records, err := ing.embedChunks(ctx, chunks)
		if err != nil {
			return nil, err
		}
		if err := ing.store.Upsert(ctx, records, ing.batchSize); err != nil {
			return nil, fmt.Errorf("upserting records: %w", err)
		}
	}

	return &domain.IngestResult{
		Status:           "completed",
		ChunksCreated:    len(chunks),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// collectChunks walks dir and splits every supported file into chunks with
// provenance metadata.
func (ing *Ingestor) collectChunks(dir string) ([]domain.Chunk, error) {
	var chunks []domain.Chunk

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !supportedExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		rel = filepath.ToSlash(rel)

		text := string(data)
		title := documentTitle(text, rel)

		for i, part := range ing.chunker.Split(text) {
			chunks = append(chunks, domain.Chunk{
				ID:   fmt.Sprintf("%s:%d", rel, i),
				Text: part,
				Metadata: map[string]any{
					domain.MetadataKeySource:     rel,
					domain.MetadataKeyTitle:      title,
					domain.MetadataKeyChunkIndex: i,
					domain.MetadataKeyText:       part,
				},
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	return chunks, nil
}

// embedChunks embeds chunk texts in sequential batches and pairs each chunk
// with its vector.
func (ing *Ingestor) embedChunks(ctx context.Context, chunks []domain.Chunk) ([]domain.VectorRecord, error) {
	records := make([]domain.VectorRecord, 0, len(chunks))

	for start := 0; start < len(chunks); start += ing.batchSize {
		end := start + ing.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vectors, err := ing.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embedding batch: %w", err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embedding batch: got %d vectors for %d texts", len(vectors), len(batch))
		}

		for i, c := range batch {
			records = append(records, domain.VectorRecord{
				ID:       c.ID,
				Values:   vectors[i],
				Metadata: c.Metadata,
			})
		}
	}

	return records, nil
}

// documentTitle uses the first markdown heading when present, otherwise the
// file name without extension.
func documentTitle(text, rel string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
		if line != "" {
			break
		}
	}
	base := filepath.Base(rel)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
