package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfunnel/maestro/pkg/config"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	t.Setenv("MAESTRO_TEST_LLM_KEY", "test-key")
	client, err := NewClient(&config.LLMProviderConfig{
		Type:      "openai",
		APIKeyEnv: "MAESTRO_TEST_LLM_KEY",
		BaseURL:   srv.URL + "/v1",
		Model:     "gpt-4o",
	}, 5*time.Second)
	require.NoError(t, err)
	return client
}

func chatReply(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		})
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("MAESTRO_TEST_LLM_KEY", "")
	_, err := NewClient(&config.LLMProviderConfig{APIKeyEnv: "MAESTRO_TEST_LLM_KEY", Model: "gpt-4o"}, time.Second)
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestComplete(t *testing.T) {
	var gotModel atomic.Value
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel.Store(req.Model)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)
		chatReply("complete")(w, r)
	}))

	t.Run("default model", func(t *testing.T) {
		out, err := client.Complete(context.Background(), CompletionRequest{
			SystemPrompt: "route",
			UserPrompt:   "hello",
		})
		require.NoError(t, err)
		assert.Equal(t, "complete", out)
		assert.Equal(t, "gpt-4o", gotModel.Load())
	})

	t.Run("per-request model override", func(t *testing.T) {
		_, err := client.Complete(context.Background(), CompletionRequest{
			UserPrompt: "hello",
			Model:      "gpt-4o-mini",
		})
		require.NoError(t, err)
		assert.Equal(t, "gpt-4o-mini", gotModel.Load())
	})
}

func TestCompleteRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error": {"message": "rate limit exceeded"}}`))
			return
		}
		chatReply("recovered")(w, r)
	}))

	out, err := client.Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.EqualValues(t, 2, calls.Load())
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "unknown model"}}`))
	}))

	_, err := client.Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestEmbedBatch(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Out-of-order data entries must land at their declared index.
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0.2}},
				{"index": 0, "embedding": []float32{0.1}},
			},
		})
	}))

	vectors, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1}, vectors[0])
	assert.Equal(t, []float32{0.2}, vectors[1])
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty input")
	}))
	vectors, err := client.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestDimension(t *testing.T) {
	assert.Equal(t, 1536, (&Client{embeddingModel: "text-embedding-3-small"}).Dimension())
	assert.Equal(t, 3072, (&Client{embeddingModel: "text-embedding-3-large"}).Dimension())
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, isRetryable(nil))
	assert.False(t, isRetryable(context.DeadlineExceeded))
	assert.False(t, isRetryable(errors.New("unknown model")))
	assert.True(t, isRetryable(errors.New("rate limit exceeded")))
	assert.True(t, isRetryable(errors.New("status code: 503")))
}
