package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dipeo/core/pkg/models"
)

// OpenAIChatProvider implements the LLM provider for OpenAI's Chat
// Completions API, grounded on the sibling OpenAIResponsesProvider's
// direct-HTTP-call shape (no vendor SDK in the dependency stack).
type OpenAIChatProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewOpenAIChatProvider builds an OpenAIChatProvider. baseURL defaults to
// the public Chat Completions endpoint.
func NewOpenAIChatProvider(apiKey, baseURL string) (*OpenAIChatProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api_key is required for OpenAI Chat provider")
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIChatProvider{apiKey: apiKey, baseURL: baseURL, client: &http.Client{Timeout: 120 * time.Second}}, nil
}

func (p *OpenAIChatProvider) Execute(ctx context.Context, req *models.LLMRequest) (*models.LLMResponse, error) {
	messages := make([]map[string]string, 0, 2)
	if req.Instruction != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.Instruction})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	body := map[string]any{"model": req.Model, "messages": messages}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if req.TopP > 0 {
		body["top_p"] = req.TopP
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        tool.Function.Name,
					"description": tool.Function.Description,
					"parameters":  tool.Function.Parameters,
				},
			})
		}
		body["tools"] = tools
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp map[string]any
		if err := json.Unmarshal(respBody, &errResp); err == nil {
			if errData, ok := errResp["error"].(map[string]any); ok {
				return nil, &models.LLMError{
					Provider: models.LLMProviderOpenAI,
					Code:     fmt.Sprintf("%v", errData["code"]),
					Message:  fmt.Sprintf("%v", errData["message"]),
					Type:     fmt.Sprintf("%v", errData["type"]),
				}
			}
		}
		return nil, fmt.Errorf("OpenAI Chat API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var apiResp openAIChatCompletionResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("OpenAI Chat API returned no choices")
	}

	choice := apiResp.Choices[0]
	response := &models.LLMResponse{
		Content:      choice.Message.Content,
		Model:        apiResp.Model,
		FinishReason: choice.FinishReason,
		CreatedAt:    time.Unix(apiResp.Created, 0),
		Usage: models.LLMUsage{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		response.ToolCalls = append(response.ToolCalls, models.LLMToolCall{
			ID:   tc.ID,
			Type: tc.Type,
			Function: models.LLMFunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return response, nil
}

type openAIChatCompletionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []openAIChatChoice `json:"choices"`
	Usage   openAIChatUsage    `json:"usage"`
}

type openAIChatChoice struct {
	Index        int           `json:"index"`
	Message      openAIChatMsg `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIChatMsg struct {
	Role      string               `json:"role"`
	Content   string               `json:"content"`
	ToolCalls []openAIChatToolCall `json:"tool_calls,omitempty"`
}

type openAIChatToolCall struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Function openAIChatToolCallFunc `json:"function"`
}

type openAIChatToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
