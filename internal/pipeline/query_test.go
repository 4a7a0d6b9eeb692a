package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/hubdocs/docpilot/internal/domain"
)

type fakeEmbedder struct {
	embedCalls int
	batchCalls int
	lastText   string
	lastTexts  []string
	vec        []float32
	err        error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.embedCalls++
	f.lastText = text
	if f.err != nil {
		return nil, f.err
	}
	if f.vec == nil {
		return []float32{0.1, 0.2, 0.3}, nil
	}
	return f.vec, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.batchCalls++
	f.lastTexts = texts
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

type fakeStore struct {
	searchCalls int
	lastTopK    int
	matches     []domain.SearchMatch
	searchErr   error

	upsertCalls    int
	upsertedTotal  int
	lastBatchSize  int
	upsertedIDs    []string
	upsertedRounds [][]domain.VectorRecord
}

func (f *fakeStore) Upsert(ctx context.Context, records []domain.VectorRecord, batchSize int) error {
	f.upsertCalls++
	f.upsertedTotal += len(records)
	f.lastBatchSize = batchSize
	f.upsertedRounds = append(f.upsertedRounds, records)
	for _, r := range records {
		f.upsertedIDs = append(f.upsertedIDs, r.ID)
	}
	return nil
}

func (f *fakeStore) Search(ctx context.Context, vector []float32, topK int, filter map[string]any) ([]domain.SearchMatch, error) {
	f.searchCalls++
	f.lastTopK = topK
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.matches, nil
}

type fakeReranker struct {
	calls     int
	lastQuery string
	lastDocs  []string
	lastTopN  int
	results   []domain.RankedResult
	err       error
}

func (f *fakeReranker) Rerank(ctx context.Context, query string, documents []string, topN int) ([]domain.RankedResult, error) {
	f.calls++
	f.lastQuery = query
	f.lastDocs = documents
	f.lastTopN = topN
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

type fakeGenerator struct {
	onceCalls   int
	streamCalls int
	onceResp    string
	onceErr     error
	lastStream  []domain.Message
	fragments   []domain.Fragment
}

func (f *fakeGenerator) CompleteOnce(ctx context.Context, messages []domain.Message) (string, error) {
	f.onceCalls++
	if f.onceErr != nil {
		return "", f.onceErr
	}
	return f.onceResp, nil
}

func (f *fakeGenerator) CompleteStream(ctx context.Context, messages []domain.Message) (<-chan domain.Fragment, error) {
	f.streamCalls++
	f.lastStream = messages
	ch := make(chan domain.Fragment, len(f.fragments))
	for _, frag := range f.fragments {
		ch <- frag
	}
	close(ch)
	return ch, nil
}

func threeMatches() []domain.SearchMatch {
	return []domain.SearchMatch{
		{ID: "guide.md:0", Score: 0.91, Metadata: map[string]any{
			"text": "Open settings and choose reset password.", "source": "guide.md", "title": "User Guide", "chunk_index": float64(0),
		}},
		{ID: "guide.md:1", Score: 0.85, Metadata: map[string]any{
			"text": "Password resets require a verified email.", "source": "guide.md", "title": "User Guide", "chunk_index": float64(1),
		}},
		{ID: "faq.md:4", Score: 0.70, Metadata: map[string]any{
			"text": "Contact support if the reset email never arrives.", "source": "faq.md", "title": "FAQ", "chunk_index": float64(4),
		}},
	}
}

func newTestQuery(e *fakeEmbedder, s *fakeStore, r *fakeReranker, g *fakeGenerator) *Query {
	return NewQuery(e, s, r, g, zap.NewNop())
}

func collect(t *testing.T, ch <-chan domain.Fragment) (string, error) {
	t.Helper()
	var sb strings.Builder
	var streamErr error
	for f := range ch {
		if f.Err != nil {
			streamErr = f.Err
		}
		sb.WriteString(f.Text)
	}
	return sb.String(), streamErr
}

func TestAnswer_PipelineCallSequence(t *testing.T) {
	const question = "How do I reset my password?"

	embedder := &fakeEmbedder{}
	store := &fakeStore{matches: threeMatches()}
	reranker := &fakeReranker{results: []domain.RankedResult{
		{Index: 1, Score: 0.97}, {Index: 0, Score: 0.80}, {Index: 2, Score: 0.41},
	}}
	generator := &fakeGenerator{
		onceResp:  "password reset account recovery",
		fragments: []domain.Fragment{{Text: "Use the settings page."}},
	}

	q := newTestQuery(embedder, store, reranker, generator)
	ch, err := q.Answer(context.Background(), &domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: question}},
	})
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if _, streamErr := collect(t, ch); streamErr != nil {
		t.Fatalf("unexpected stream error: %v", streamErr)
	}

	if embedder.embedCalls != 1 {
		t.Errorf("embed calls = %d; want 1", embedder.embedCalls)
	}
	if store.searchCalls != 1 || store.lastTopK != 20 {
		t.Errorf("search calls = %d topK = %d; want 1 call with topK 20", store.searchCalls, store.lastTopK)
	}
	if reranker.calls != 1 || reranker.lastTopN != 5 {
		t.Errorf("rerank calls = %d topN = %d; want 1 call with topN 5", reranker.calls, reranker.lastTopN)
	}
	if generator.streamCalls != 1 {
		t.Errorf("generation calls = %d; want 1", generator.streamCalls)
	}

	// The search query is expanded; the rerank query is the original one.
	if embedder.lastText != question+" password reset account recovery" {
		t.Errorf("embedded query = %q; want expanded query", embedder.lastText)
	}
	if reranker.lastQuery != question {
		t.Errorf("rerank query = %q; want the original question", reranker.lastQuery)
	}

	last := generator.lastStream[len(generator.lastStream)-1]
	if !strings.Contains(last.Content, question) {
		t.Errorf("final message does not contain the literal question:\n%s", last.Content)
	}
	if !strings.Contains(last.Content, "CONTEXT") {
		t.Errorf("final message does not contain a CONTEXT block:\n%s", last.Content)
	}
}

func TestAnswer_EmptyMessagesRejected(t *testing.T) {
	embedder := &fakeEmbedder{}
	store := &fakeStore{}
	reranker := &fakeReranker{}
	generator := &fakeGenerator{}

	q := newTestQuery(embedder, store, reranker, generator)
	_, err := q.Answer(context.Background(), &domain.ChatRequest{})

	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("err = %v; want ErrInvalidRequest", err)
	}
	if embedder.embedCalls != 0 || store.searchCalls != 0 || reranker.calls != 0 ||
		generator.onceCalls != 0 || generator.streamCalls != 0 {
		t.Error("providers were called for an empty request")
	}
}

func TestAnswer_ZeroMatchesSkipsReranker(t *testing.T) {
	embedder := &fakeEmbedder{}
	store := &fakeStore{matches: nil}
	reranker := &fakeReranker{}
	generator := &fakeGenerator{
		onceResp:  "keywords",
		fragments: []domain.Fragment{{Text: "I don't know."}},
	}

	q := newTestQuery(embedder, store, reranker, generator)
	ch, err := q.Answer(context.Background(), &domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "anything indexed?"}},
	})
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	collect(t, ch)

	if reranker.calls != 0 {
		t.Errorf("rerank calls = %d; want 0 when retrieval returns nothing", reranker.calls)
	}
	if generator.streamCalls != 1 {
		t.Errorf("generation calls = %d; want 1", generator.streamCalls)
	}
}

func TestAnswer_RewriteFailureFallsBack(t *testing.T) {
	const question = "what is the refund window?"

	embedder := &fakeEmbedder{}
	store := &fakeStore{matches: threeMatches()}
	reranker := &fakeReranker{results: []domain.RankedResult{{Index: 0, Score: 0.9}}}
	generator := &fakeGenerator{
		onceErr:   domain.NewProviderError("openai", 500, "overloaded", nil),
		fragments: []domain.Fragment{{Text: "Thirty days."}},
	}

	q := newTestQuery(embedder, store, reranker, generator)
	ch, err := q.Answer(context.Background(), &domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: question}},
	})
	if err != nil {
		t.Fatalf("rewrite failure must not abort the request: %v", err)
	}
	answer, streamErr := collect(t, ch)

	if embedder.lastText != question {
		t.Errorf("embedded query = %q; want the unexpanded query", embedder.lastText)
	}
	if generator.streamCalls != 1 {
		t.Errorf("generation calls = %d; want 1", generator.streamCalls)
	}
	if streamErr != nil || answer == "" {
		t.Errorf("answer = %q err = %v; want a normal answer", answer, streamErr)
	}
}

func TestAnswer_EmbedFailureAborts(t *testing.T) {
	embedder := &fakeEmbedder{err: domain.NewProviderError("openai", 503, "unavailable", nil)}
	store := &fakeStore{}
	generator := &fakeGenerator{onceResp: "keywords"}

	q := newTestQuery(embedder, store, &fakeReranker{}, generator)
	_, err := q.Answer(context.Background(), &domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "q"}},
	})

	if !domain.IsProviderError(err) {
		t.Fatalf("err = %v; want wrapped provider error", err)
	}
	if store.searchCalls != 0 || generator.streamCalls != 0 {
		t.Error("pipeline continued past a fatal embedding failure")
	}
}

func TestAnswer_RerankFailurePropagates(t *testing.T) {
	reranker := &fakeReranker{err: domain.NewProviderError("cohere", 429, "rate limited", nil)}
	generator := &fakeGenerator{onceResp: "keywords"}

	q := newTestQuery(&fakeEmbedder{}, &fakeStore{matches: threeMatches()}, reranker, generator)
	_, err := q.Answer(context.Background(), &domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "q"}},
	})

	if !domain.IsProviderError(err) {
		t.Fatalf("err = %v; want wrapped provider error", err)
	}
	if generator.streamCalls != 0 {
		t.Error("generation ran despite a re-rank failure")
	}
}

func TestRerank_OrderAndImmutability(t *testing.T) {
	candidates := []domain.RetrievedChunk{
		{Text: "a", Score: 0.30, Metadata: domain.ChunkMetadata{Source: "a.md"}},
		{Text: "b", Score: 0.20, Metadata: domain.ChunkMetadata{Source: "b.md"}},
		{Text: "c", Score: 0.10, Metadata: domain.ChunkMetadata{Source: "c.md"}},
	}
	reranker := &fakeReranker{results: []domain.RankedResult{
		{Index: 2, Score: 0.95}, {Index: 0, Score: 0.50},
	}}

	q := newTestQuery(&fakeEmbedder{}, &fakeStore{}, reranker, &fakeGenerator{})
	chunks, err := q.rerank(context.Background(), "query", candidates)
	if err != nil {
		t.Fatalf("rerank failed: %v", err)
	}

	if len(chunks) != 2 {
		t.Fatalf("chunk count = %d; want 2", len(chunks))
	}
	if chunks[0].Text != "c" || chunks[0].Score != 0.95 {
		t.Errorf("first chunk = %+v; want candidate c with score 0.95", chunks[0])
	}
	if chunks[1].Text != "a" || chunks[1].Score != 0.50 {
		t.Errorf("second chunk = %+v; want candidate a with score 0.50", chunks[1])
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Score > chunks[i-1].Score {
			t.Errorf("chunk scores not descending at %d", i)
		}
	}
	// Candidates keep their retrieval scores; re-ranking produced new values.
	if candidates[2].Score != 0.10 || candidates[0].Score != 0.30 {
		t.Error("re-ranking mutated the candidate chunks in place")
	}
}

func TestRerank_CapsAtTopKFinal(t *testing.T) {
	candidates := []domain.RetrievedChunk{
		{Text: "a", Score: 0.30}, {Text: "b", Score: 0.20}, {Text: "c", Score: 0.10},
	}
	// The fake ignores topN and returns every candidate.
	reranker := &fakeReranker{results: []domain.RankedResult{
		{Index: 0, Score: 0.95}, {Index: 1, Score: 0.90}, {Index: 2, Score: 0.85},
	}}

	q := NewQuery(&fakeEmbedder{}, &fakeStore{}, reranker, &fakeGenerator{}, zap.NewNop(),
		WithTopK(20, 2))
	chunks, err := q.rerank(context.Background(), "query", candidates)
	if err != nil {
		t.Fatalf("rerank failed: %v", err)
	}

	if len(chunks) != 2 {
		t.Fatalf("chunk count = %d; want the topKFinal cap", len(chunks))
	}
	if chunks[0].Text != "a" || chunks[1].Text != "b" {
		t.Errorf("chunks = %+v; want the two best kept", chunks)
	}
}

func TestAnswer_StreamErrorPropagates(t *testing.T) {
	streamErr := domain.NewProviderError("openai", 0, "connection reset", nil)
	generator := &fakeGenerator{
		onceResp: "keywords",
		fragments: []domain.Fragment{
			{Text: "Hel"}, {Text: "lo"}, {Err: streamErr},
		},
	}

	q := newTestQuery(&fakeEmbedder{}, &fakeStore{matches: threeMatches()},
		&fakeReranker{results: []domain.RankedResult{{Index: 0, Score: 0.9}}}, generator)
	ch, err := q.Answer(context.Background(), &domain.ChatRequest{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}

	text, gotErr := collect(t, ch)
	if text != "Hello" {
		t.Errorf("partial output = %q; want %q", text, "Hello")
	}
	if gotErr == nil {
		t.Fatal("mid-stream failure was silently swallowed")
	}
}

func TestAnswer_PriorHistoryPassedUnmodified(t *testing.T) {
	history := []domain.Message{
		{Role: domain.RoleUser, Content: "earlier question"},
		{Role: domain.RoleAssistant, Content: "earlier answer"},
		{Role: domain.RoleUser, Content: "follow-up"},
	}
	generator := &fakeGenerator{onceResp: "kw", fragments: []domain.Fragment{{Text: "ok"}}}

	q := newTestQuery(&fakeEmbedder{}, &fakeStore{}, &fakeReranker{}, generator)
	ch, err := q.Answer(context.Background(), &domain.ChatRequest{Messages: history})
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	collect(t, ch)

	got := generator.lastStream
	if len(got) != 3 {
		t.Fatalf("message count = %d; want 3", len(got))
	}
	if got[0] != history[0] || got[1] != history[1] {
		t.Error("prior history was modified")
	}
	if !strings.Contains(got[2].Content, "follow-up") {
		t.Error("final constructed message is missing the active turn")
	}
}

func TestChunkFromMatch_MetadataDefaults(t *testing.T) {
	chunk := chunkFromMatch(domain.SearchMatch{ID: "x", Score: 0.5})
	if chunk.Metadata.Source != domain.DefaultSource {
		t.Errorf("source = %q; want %q", chunk.Metadata.Source, domain.DefaultSource)
	}
	if chunk.Metadata.Title != domain.DefaultTitle {
		t.Errorf("title = %q; want %q", chunk.Metadata.Title, domain.DefaultTitle)
	}
	if chunk.Metadata.ChunkIndex != 0 {
		t.Errorf("chunk index = %d; want 0", chunk.Metadata.ChunkIndex)
	}
	if chunk.Score != 0.5 {
		t.Errorf("score = %v; want 0.5", chunk.Score)
	}
}
