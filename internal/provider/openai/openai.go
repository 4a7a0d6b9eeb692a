// Package openai wraps the OpenAI-compatible embedding and chat-completion
// APIs behind the pipeline's Embedder and Generator ports.
package openai

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/hubdocs/docpilot/internal/domain"
)

const providerName = "openai"

// Client talks to an OpenAI-compatible endpoint for embeddings and chat
// completions. It never retries; failures surface as domain.ProviderError.
type Client struct {
	api            *openai.Client
	embeddingModel string
	chatModel      string
}

// Config configures the client. BaseURL is optional and allows pointing at
// any OpenAI-compatible server.
type Config struct {
	BaseURL        string
	APIKey         string
	EmbeddingModel string
	ChatModel      string
}

// New creates a new Client.
func New(cfg Config) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:            openai.NewClientWithConfig(apiCfg),
		embeddingModel: cfg.EmbeddingModel,
		chatModel:      cfg.ChatModel,
	}
}

// Embed generates an embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embedding vectors for a batch of texts, preserving
// input order 1:1.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, providerErr("failed to create embeddings", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, domain.NewProviderError(providerName, 0,
			"embedding count does not match input count", nil)
	}
	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// CompleteOnce performs a non-streaming chat completion and returns the full
// response text.
func (c *Client) CompleteOnce(ctx context.Context, messages []domain.Message) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.chatModel,
		Messages: toOpenAIMessages(messages),
	})
	if err != nil {
		return "", providerErr("failed to create chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.NewProviderError(providerName, 0, "completion returned no choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleteStream performs a streaming chat completion. Fragments are
// delivered as they arrive over the connection; the channel is unbuffered so
// the producer never runs ahead of the consumer. The channel closes on a
// clean end of stream; a provider failure mid-stream is delivered as a final
// Fragment with Err set. Cancelling ctx stops the stream and releases the
// underlying connection.
func (c *Client) CompleteStream(ctx context.Context, messages []domain.Message) (<-chan domain.Fragment, error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    c.chatModel,
		Messages: toOpenAIMessages(messages),
		Stream:   true,
	})
	if err != nil {
		return nil, providerErr("failed to open chat completion stream", err)
	}

	fragments := make(chan domain.Fragment)
	go func() {
		defer close(fragments)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				select {
				case fragments <- domain.Fragment{Err: providerErr("stream receive failed", err)}:
				case <-ctx.Done():
				}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case fragments <- domain.Fragment{Text: delta}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return fragments, nil
}

func toOpenAIMessages(messages []domain.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
	}
	return out
}

func providerErr(message string, err error) *domain.ProviderError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return domain.NewProviderError(providerName, apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	return domain.NewProviderError(providerName, 0, message+": "+err.Error(), err)
}
