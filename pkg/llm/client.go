// Package llm provides the model oracle: synchronous chat completions and
// embeddings over any OpenAI-compatible endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/openfunnel/maestro/pkg/config"
)

// ErrNoAPIKey indicates the provider's API key environment variable is unset.
var ErrNoAPIKey = errors.New("llm api key not configured")

// CompletionRequest is one synchronous chat completion.
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Model        string  // empty = provider default
	Temperature  float32 // 0 unless the call site wants creativity
}

// Chat is the completion surface consumed by the orchestration nodes.
// Fakes implement it in tests.
type Chat interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Embedder is the embedding surface consumed by the schema context builder.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Client speaks to one OpenAI-compatible endpoint. Safe for concurrent use.
type Client struct {
	api            *openai.Client
	defaultModel   string
	embeddingModel string
	timeout        time.Duration
	logger         *slog.Logger
}

var (
	_ Chat     = (*Client)(nil)
	_ Embedder = (*Client)(nil)
)

// NewClient builds a Client from provider configuration. The API key is read
// from the configured environment variable at construction time.
func NewClient(cfg *config.LLMProviderConfig, timeout time.Duration) (*Client, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrNoAPIKey, cfg.APIKeyEnv)
	}

	apiCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}

	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = "text-embedding-3-small"
	}

	return &Client{
		api:            openai.NewClientWithConfig(apiCfg),
		defaultModel:   cfg.Model,
		embeddingModel: embeddingModel,
		timeout:        timeout,
		logger:         slog.Default(),
	}, nil
}

// Complete performs one chat completion with a hard deadline. Transient
// failures (rate limits, 5xx) are retried once; a second failure is
// returned to the caller.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Temperature: req.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Second):
			}
			c.logger.Info("Retrying LLM call", "model", model, "error", lastErr)
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.api.CreateChatCompletion(callCtx, chatReq)
		cancel()
		if err != nil {
			lastErr = err
			if !isRetryable(err) {
				return "", fmt.Errorf("llm completion: %w", err)
			}
			continue
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("llm completion: empty response")
		}
		return resp.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("llm completion after retry: %w", lastErr)
}

// EmbedBatch generates embeddings for multiple texts in one request.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateEmbeddings(callCtx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	results := make([][]float32, len(resp.Data))
	for _, data := range resp.Data {
		results[data.Index] = data.Embedding
	}
	return results, nil
}

// Dimension returns the embedding vector size for the configured model.
func (c *Client) Dimension() int {
	switch c.embeddingModel {
	case "text-embedding-3-large":
		return 3072
	default:
		return 1536
	}
}

// isRetryable classifies transient endpoint failures worth one retry.
// Mutating semantics never pass through this client, so a duplicate
// completion is harmless.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{"rate limit", "429", "500", "502", "503", "504"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
