package builtin

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/core/pkg/models"
	"github.com/dipeo/core/testutil"
)

func TestNewOpenAIChatProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIChatProvider("", "")
	assert.Error(t, err)
}

func TestOpenAIChatProvider_Execute(t *testing.T) {
	srv := testutil.SetupOpenAIMock(t)
	defer srv.Close()

	p, err := NewOpenAIChatProvider("test-key", srv.URL)
	require.NoError(t, err)

	resp, err := p.Execute(context.Background(), &models.LLMRequest{
		Provider: models.LLMProviderOpenAI, Model: "gpt-4", Instruction: "be terse", Prompt: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "Mocked LLM response", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 30, resp.Usage.TotalTokens)
}

func TestOpenAIChatProvider_ExecuteWithToolCalls(t *testing.T) {
	toolCalls := []map[string]interface{}{
		{
			"id":   "call_1",
			"type": "function",
			"function": map[string]interface{}{
				"name":      "get_weather",
				"arguments": `{"city":"tokyo"}`,
			},
		},
	}
	srv := testutil.SetupOpenAIToolCallMock(t, toolCalls)
	defer srv.Close()

	p, err := NewOpenAIChatProvider("test-key", srv.URL)
	require.NoError(t, err)

	resp, err := p.Execute(context.Background(), &models.LLMRequest{
		Model:  "gpt-4",
		Prompt: "what's the weather",
		Tools:  []models.LLMTool{{Type: "function", Function: models.LLMFunctionTool{Name: "get_weather"}}},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "get_weather", resp.ToolCalls[0].Function.Name)
	assert.Equal(t, "tool_calls", resp.FinishReason)
}

func TestOpenAIChatProvider_ExecutePropagatesHTTPError(t *testing.T) {
	srv := testutil.SetupCustomMock(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited","code":"429","type":"rate_limit"}}`))
	})
	defer srv.Close()

	p, err := NewOpenAIChatProvider("test-key", srv.URL)
	require.NoError(t, err)

	_, err = p.Execute(context.Background(), &models.LLMRequest{Model: "gpt-4", Prompt: "hi"})
	assert.Error(t, err)
}
