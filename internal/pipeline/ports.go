// Package pipeline implements the query and ingestion orchestration over the
// external embedding, vector-store, re-rank and generation providers.
package pipeline

import (
	"context"

	"github.com/hubdocs/docpilot/internal/domain"
)

// Embedder turns text into fixed-dimension vectors. EmbedBatch preserves
// input order 1:1.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore persists and similarity-searches vector records in an external
// index. Upsert batches writes into sequential sub-requests of batchSize;
// Search returns matches ordered by similarity, highest first.
type VectorStore interface {
	Upsert(ctx context.Context, records []domain.VectorRecord, batchSize int) error
	Search(ctx context.Context, vector []float32, topK int, filter map[string]any) ([]domain.SearchMatch, error)
}

// Reranker re-scores candidate documents against a query and returns up to
// topN (index, relevance) pairs in descending score order.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]domain.RankedResult, error)
}

// Generator produces chat completions, either whole or as a stream of
// incremental fragments.
type Generator interface {
	CompleteOnce(ctx context.Context, messages []domain.Message) (string, error)
	CompleteStream(ctx context.Context, messages []domain.Message) (<-chan domain.Fragment, error)
}
