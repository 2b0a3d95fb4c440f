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

// AnthropicProvider implements the LLM provider for Anthropic's Messages API,
// grounded on the sibling OpenAI providers' direct-HTTP-call shape.
type AnthropicProvider struct {
	apiKey     string
	baseURL    string
	apiVersion string
	client     *http.Client
}

const defaultAnthropicVersion = "2023-06-01"

// NewAnthropicProvider builds an AnthropicProvider. baseURL defaults to the
// public Messages API endpoint.
func NewAnthropicProvider(apiKey, baseURL string) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api_key is required for Anthropic provider")
	}
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	return &AnthropicProvider{
		apiKey:     apiKey,
		baseURL:    baseURL,
		apiVersion: defaultAnthropicVersion,
		client:     &http.Client{Timeout: 120 * time.Second},
	}, nil
}

func (p *AnthropicProvider) Execute(ctx context.Context, req *models.LLMRequest) (*models.LLMResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	body := map[string]any{
		"model":      req.Model,
		"max_tokens": maxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}
	if req.Instruction != "" {
		body["system"] = req.Instruction
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if req.TopP > 0 {
		body["top_p"] = req.TopP
	}
	if len(req.StopSequences) > 0 {
		body["stop_sequences"] = req.StopSequences
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, map[string]any{
				"name":         tool.Function.Name,
				"description":  tool.Function.Description,
				"input_schema": tool.Function.Parameters,
			})
		}
		body["tools"] = tools
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", p.apiVersion)

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
					Provider: models.LLMProviderAnthropic,
					Type:     fmt.Sprintf("%v", errData["type"]),
					Message:  fmt.Sprintf("%v", errData["message"]),
				}
			}
		}
		return nil, fmt.Errorf("Anthropic API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var apiResp anthropicMessageResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	response := &models.LLMResponse{
		ResponseID:   apiResp.ID,
		Model:        apiResp.Model,
		FinishReason: apiResp.StopReason,
		CreatedAt:    time.Now(),
		Usage: models.LLMUsage{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
	}

	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			if response.Content == "" {
				response.Content = block.Text
			}
		case "tool_use":
			args, _ := json.Marshal(block.Input)
			response.ToolCalls = append(response.ToolCalls, models.LLMToolCall{
				ID:   block.ID,
				Type: "function",
				Function: models.LLMFunctionCall{
					Name:      block.Name,
					Arguments: string(args),
				},
			})
		}
	}

	return response, nil
}

type anthropicMessageResponse struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Content    []anthropicContentBlock `json:"content"`
	Usage      anthropicUsage          `json:"usage"`
}

type anthropicContentBlock struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Input any    `json:"input,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
