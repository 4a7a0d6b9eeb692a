package domain

// Fallbacks applied when a retrieved vector record is missing provenance
// metadata. Missing fields are tolerated rather than treated as a
// data-quality error.
const (
	DefaultSource = "Unknown"
	DefaultTitle  = "Untitled"
)

// Metadata keys written at ingestion time and read back at query time.
const (
	MetadataKeySource     = "source"
	MetadataKeyTitle      = "title"
	MetadataKeyChunkIndex = "chunk_index"
	MetadataKeyText       = "text"
)

// ChunkMetadata is the provenance of a retrieved text fragment.
type ChunkMetadata struct {
	Source     string `json:"source"`
	Title      string `json:"title"`
	ChunkIndex int    `json:"chunk_index"`
}

// RetrievedChunk is a candidate context fragment produced by retrieval.
// Stages never mutate chunks in place; re-ranking yields new values.
type RetrievedChunk struct {
	Text     string        `json:"text"`
	Score    float64       `json:"score"`
	Metadata ChunkMetadata `json:"metadata"`
}

// Chunk is the ingestion-side unit: a bounded span of source document text
// with open provenance metadata. Chunk IDs are deterministic so re-ingesting
// the same source overwrites rather than appends.
type Chunk struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// VectorRecord is the durable vector-store representation of a chunk.
type VectorRecord struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SearchMatch is one similarity-search hit, highest similarity first.
type SearchMatch struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// RankedResult maps a re-rank hit back to its position in the candidate
// list, with the fresh relevance score.
type RankedResult struct {
	Index int
	Score float64
}

// IngestResult summarizes one ingestion run.
type IngestResult struct {
	Status           string `json:"status"`
	ChunksCreated    int    `json:"chunks_created"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
}
