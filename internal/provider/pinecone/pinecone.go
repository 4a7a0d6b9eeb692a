// Package pinecone is a minimal REST client for a Pinecone-style vector
// index: id-keyed vectors with open metadata inside a namespace, supporting
// batched upsert and top-k similarity query.
package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hubdocs/docpilot/internal/domain"
)

const (
	providerName     = "pinecone"
	defaultBatchSize = 100
	defaultTimeout   = 30 * time.Second
)

// Client talks to one Pinecone index over its REST API.
type Client struct {
	host       string
	apiKey     string
	namespace  string
	httpClient *http.Client
}

// Config configures the client. Host is the index endpoint, e.g.
// "https://my-index-abc123.svc.us-east1-gcp.pinecone.io".
type Config struct {
	Host      string
	APIKey    string
	Namespace string
	Timeout   time.Duration
}

// New creates a new Client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		host:       strings.TrimRight(cfg.Host, "/"),
		apiKey:     cfg.APIKey,
		namespace:  cfg.Namespace,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type upsertRequest struct {
	Vectors   []domain.VectorRecord `json:"vectors"`
	Namespace string                `json:"namespace,omitempty"`
}

// Upsert writes records to the index, splitting them into sequential
// sub-batches of batchSize to respect provider request-size limits.
// Records sharing an id overwrite the existing vector.
func (c *Client) Upsert(ctx context.Context, records []domain.VectorRecord, batchSize int) error {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		req := upsertRequest{Vectors: records[start:end], Namespace: c.namespace}
		if err := c.postJSON(ctx, "/vectors/upsert", req, nil); err != nil {
			return err
		}
	}
	return nil
}

type queryRequest struct {
	Vector          []float32      `json:"vector"`
	TopK            int            `json:"topK"`
	Namespace       string         `json:"namespace,omitempty"`
	Filter          map[string]any `json:"filter,omitempty"`
	IncludeMetadata bool           `json:"includeMetadata"`
}

type queryResponse struct {
	Matches []struct {
		ID       string         `json:"id"`
		Score    float64        `json:"score"`
		Metadata map[string]any `json:"metadata"`
	} `json:"matches"`
}

// Search returns the topK nearest records to vector, highest similarity
// first, with metadata included. An optional metadata filter narrows the
// candidate set.
func (c *Client) Search(ctx context.Context, vector []float32, topK int, filter map[string]any) ([]domain.SearchMatch, error) {
	req := queryRequest{
		Vector:          vector,
		TopK:            topK,
		Namespace:       c.namespace,
		Filter:          filter,
		IncludeMetadata: true,
	}
	var resp queryResponse
	if err := c.postJSON(ctx, "/query", req, &resp); err != nil {
		return nil, err
	}
	matches := make([]domain.SearchMatch, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		matches = append(matches, domain.SearchMatch{
			ID:       m.ID,
			Score:    m.Score,
			Metadata: m.Metadata,
		})
	}
	return matches, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return domain.NewProviderError(providerName, 0, "failed to encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(data))
	if err != nil {
		return domain.NewProviderError(providerName, 0, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewProviderError(providerName, 0, fmt.Sprintf("POST %s failed: %v", path, err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.NewProviderError(providerName, resp.StatusCode,
			fmt.Sprintf("POST %s: %s", path, strings.TrimSpace(string(raw))), nil)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return domain.NewProviderError(providerName, resp.StatusCode, "failed to decode response", err)
		}
	}
	return nil
}
