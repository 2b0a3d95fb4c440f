package builtin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/core/pkg/models"
)

func TestNewOpenAIResponsesProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIResponsesProvider("", "", "")
	assert.Error(t, err)
}

func TestOpenAIResponsesProvider_Execute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/responses", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "resp_1", "model": "gpt-5", "status": "completed",
			"output": []map[string]any{
				{
					"id": "out_1", "type": "message", "status": "completed", "role": "assistant",
					"content": []map[string]any{{"type": "output_text", "text": "hi there"}},
				},
			},
			"usage": map[string]any{"input_tokens": 4, "output_tokens": 2, "total_tokens": 6},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAIResponsesProvider("test-key", srv.URL, "")
	require.NoError(t, err)

	resp, err := p.Execute(context.Background(), &models.LLMRequest{
		Provider: models.LLMProviderOpenAIResponses, Model: "gpt-5", Prompt: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "resp_1", resp.ResponseID)
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
}

func TestOpenAIResponsesProvider_ExecutePropagatesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limited", "type": "rate_limit_error", "code": "429"},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAIResponsesProvider("test-key", srv.URL, "")
	require.NoError(t, err)

	_, err = p.Execute(context.Background(), &models.LLMRequest{Model: "gpt-5", Prompt: "hello"})
	assert.Error(t, err)
}
