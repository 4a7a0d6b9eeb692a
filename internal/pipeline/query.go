package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hubdocs/docpilot/internal/domain"
)

const (
	// DefaultTopKRaw is the candidate count pulled from the vector store.
	DefaultTopKRaw = 20
	// DefaultTopKFinal is the chunk count kept after re-ranking.
	DefaultTopKFinal = 5
)

const systemDirective = "You are a documentation assistant. Answer the question using only the " +
	"information in the CONTEXT section below. If the context does not contain the answer, " +
	"say that you don't know. Cite source names where possible."

const rewriteInstruction = "Extract 3-5 technical keywords from the following question. " +
	"Reply with the keywords only, separated by spaces, no punctuation or commentary."

// Query drives one chat request through the full pipeline:
// rewrite, embed, retrieve, re-rank, generate. It holds no state between
// requests and persists nothing; concurrent requests are independent.
type Query struct {
	embedder  Embedder
	store     VectorStore
	reranker  Reranker
	generator Generator
	log       *zap.Logger
	topKRaw   int
	topKFinal int
}

// QueryOption tunes a Query pipeline.
type QueryOption func(*Query)

// WithTopK overrides the retrieval and re-rank candidate counts.
func WithTopK(raw, final int) QueryOption {
	return func(q *Query) {
		if raw > 0 {
			q.topKRaw = raw
		}
		if final > 0 {
			q.topKFinal = final
		}
	}
}

// NewQuery creates a Query pipeline with explicitly injected clients.
func NewQuery(embedder Embedder, store VectorStore, reranker Reranker, generator Generator, log *zap.Logger, opts ...QueryOption) *Query {
	q := &Query{
		embedder:  embedder,
		store:     store,
		reranker:  reranker,
		generator: generator,
		log:       log,
		topKRaw:   DefaultTopKRaw,
		topKFinal: DefaultTopKFinal,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Answer runs the pipeline for one request and returns the answer as a lazy
// stream of fragments. The stream is finite and not restartable; a Fragment
// with Err set means the generation provider failed mid-stream and the
// output so far is partial. Embedding, retrieval and re-rank failures abort
// the call; only the query-rewrite step falls back silently.
func (q *Query) Answer(ctx context.Context, req *domain.ChatRequest) (<-chan domain.Fragment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	userQuery := req.LastUserMessage()

	searchQuery, err := q.rewriteQuery(ctx, userQuery)
	if err != nil {
		return nil, err
	}

	vector, err := q.embedder.Embed(ctx, searchQuery)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	matches, err := q.store.Search(ctx, vector, q.topKRaw, nil)
	if err != nil {
		return nil, fmt.Errorf("searching vectors: %w", err)
	}

	candidates := make([]domain.RetrievedChunk, 0, len(matches))
	for _, m := range matches {
		candidates = append(candidates, chunkFromMatch(m))
	}

	chunks, err := q.rerank(ctx, userQuery, candidates)
	if err != nil {
		return nil, fmt.Errorf("reranking candidates: %w", err)
	}

	messages := buildMessages(req.Messages, chunks, userQuery)
	return q.generator.CompleteStream(ctx, messages)
}

// rewriteQuery expands the user query with generated keywords to improve
// recall. Rewriting is a best-effort relevance booster: a tagged provider
// failure falls back to the unexpanded query, while cancellation and
// non-provider failures propagate so they cannot be swallowed here.
func (q *Query) rewriteQuery(ctx context.Context, userQuery string) (string, error) {
	keywords, err := q.generator.CompleteOnce(ctx, []domain.Message{
		{Role: domain.RoleSystem, Content: rewriteInstruction},
		{Role: domain.RoleUser, Content: userQuery},
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		if domain.IsProviderError(err) {
			q.log.Warn("query rewrite failed, using original query", zap.Error(err))
			return userQuery, nil
		}
		return "", err
	}
	keywords = strings.TrimSpace(keywords)
	if keywords == "" {
		return userQuery, nil
	}
	return userQuery + " " + keywords, nil
}

// rerank re-scores candidates against the original user query and returns
// fresh chunk values in descending relevance order. With no candidates the
// reranker is never invoked.
func (q *Query) rerank(ctx context.Context, userQuery string, candidates []domain.RetrievedChunk) ([]domain.RetrievedChunk, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}

	ranked, err := q.reranker.Rerank(ctx, userQuery, texts, q.topKFinal)
	if err != nil {
		return nil, err
	}

	chunks := make([]domain.RetrievedChunk, 0, len(ranked))
	for _, r := range ranked {
		if r.Index < 0 || r.Index >= len(candidates) {
			continue
		}
		src := candidates[r.Index]
		chunks = append(chunks, domain.RetrievedChunk{
			Text:     src.Text,
			Score:    r.Score,
			Metadata: src.Metadata,
		})
	}
	// Cap here too so the bound holds for any Reranker implementation.
	if len(chunks) > q.topKFinal {
		chunks = chunks[:q.topKFinal]
	}
	return chunks, nil
}

// chunkFromMatch maps a vector-store match into a RetrievedChunk, defaulting
// missing metadata fields rather than rejecting the record.
func chunkFromMatch(m domain.SearchMatch) domain.RetrievedChunk {
	chunk := domain.RetrievedChunk{
		Score: m.Score,
		Metadata: domain.ChunkMetadata{
			Source: domain.DefaultSource,
			Title:  domain.DefaultTitle,
		},
	}
	if m.Metadata == nil {
		return chunk
	}
	if text, ok := m.Metadata[domain.MetadataKeyText].(string); ok {
		chunk.Text = text
	}
	if source, ok := m.Metadata[domain.MetadataKeySource].(string); ok && source != "" {
		chunk.Metadata.Source = source
	}
	if title, ok := m.Metadata[domain.MetadataKeyTitle].(string); ok && title != "" {
		chunk.Metadata.Title = title
	}
	switch v := m.Metadata[domain.MetadataKeyChunkIndex].(type) {
	case float64:
		chunk.Metadata.ChunkIndex = int(v)
	case int:
		chunk.Metadata.ChunkIndex = v
	}
	return chunk
}

// buildMessages assembles the final message list for generation: all prior
// history unmodified, followed by one constructed user turn containing the
// system directive, the re-ranked context and the literal question.
func buildMessages(history []domain.Message, chunks []domain.RetrievedChunk, userQuery string) []domain.Message {
	var sb strings.Builder
	sb.WriteString(systemDirective)
	sb.WriteString("\n\nCONTEXT:\n")
	for _, c := range chunks {
		if c.Metadata.Source != "" {
			sb.WriteString("[" + c.Metadata.Source + "]\n")
		}
		sb.WriteString(c.Text)
		sb.WriteString("\n")
	}
	sb.WriteString("\nQUESTION: ")
	sb.WriteString(userQuery)

	messages := make([]domain.Message, 0, len(history))
	messages = append(messages, history[:len(history)-1]...)
	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: sb.String()})
	return messages
}
