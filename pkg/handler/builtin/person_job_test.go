package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/core/pkg/diagram"
	"github.com/dipeo/core/pkg/envelope"
	"github.com/dipeo/core/pkg/handler"
	"github.com/dipeo/core/pkg/models"
	"github.com/dipeo/core/pkg/resolve"
)

type fakeLLMProvider struct {
	lastReq *models.LLMRequest
}

func (f *fakeLLMProvider) Execute(ctx context.Context, req *models.LLMRequest) (*models.LLMResponse, error) {
	f.lastReq = req
	return &models.LLMResponse{Content: "echo: " + req.Prompt, FinishReason: "stop"}, nil
}

func TestPersonJob_DispatchesToRegisteredProvider(t *testing.T) {
	fake := &fakeLLMProvider{}
	h := NewPersonJob()
	h.RegisterProvider(models.LLMProviderOpenAI, fake)

	node := &diagram.Node{ID: "p1", Config: map[string]any{
		"provider": "openai", "model": "gpt-test", "prompt": "hello",
	}}
	out, err := h.Execute(context.Background(), handler.Context{Node: node}, resolve.Input{})
	require.NoError(t, err)
	v, err := out[diagram.HandleDefault].AsJSON()
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", v.(map[string]any)["content"])
	assert.Equal(t, "hello", fake.lastReq.Prompt)
}

func TestPersonJob_UnregisteredProviderIsError(t *testing.T) {
	h := NewPersonJob()
	node := &diagram.Node{ID: "p1", Config: map[string]any{
		"provider": "anthropic", "model": "claude-test", "prompt": "hi",
	}}
	_, err := h.Execute(context.Background(), handler.Context{Node: node}, resolve.Input{})
	assert.Error(t, err)
}

func TestPersonJob_MissingPromptIsError(t *testing.T) {
	fake := &fakeLLMProvider{}
	h := NewPersonJob()
	h.RegisterProvider(models.LLMProviderOpenAI, fake)
	node := &diagram.Node{ID: "p1", Config: map[string]any{"provider": "openai", "model": "gpt-test"}}
	_, err := h.Execute(context.Background(), handler.Context{Node: node}, resolve.Input{})
	assert.Error(t, err)
}

func TestPersonJob_MemorizeToReplaysPriorTurnsForSamePerson(t *testing.T) {
	fake := &fakeLLMProvider{}
	h := NewPersonJob()
	h.RegisterProvider(models.LLMProviderOpenAI, fake)

	node := &diagram.Node{ID: "p1", Config: map[string]any{
		"provider": "openai", "model": "gpt-test", "prompt": "remember the codename: falcon",
		"person_id": "alice",
	}}
	_, err := h.Execute(context.Background(), handler.Context{Node: node}, resolve.Input{})
	require.NoError(t, err)

	node2 := &diagram.Node{ID: "p1", Config: map[string]any{
		"provider": "openai", "model": "gpt-test", "prompt": "what was the codename?",
		"person_id": "alice", "memorize_to": "falcon", "at_most": 5,
	}}
	out, err := h.Execute(context.Background(), handler.Context{Node: node2}, resolve.Input{})
	require.NoError(t, err)

	assert.Contains(t, fake.lastReq.Prompt, "falcon")
	assert.Contains(t, fake.lastReq.Prompt, "what was the codename?")

	conv, ok := out[diagram.HandleConversation]
	require.True(t, ok)
	assert.Equal(t, envelope.ConversationState, conv.ContentType())
}

func TestPersonJob_DistinctPersonIDsDoNotShareHistory(t *testing.T) {
	fake := &fakeLLMProvider{}
	h := NewPersonJob()
	h.RegisterProvider(models.LLMProviderOpenAI, fake)

	node := &diagram.Node{ID: "p1", Config: map[string]any{
		"provider": "openai", "model": "gpt-test", "prompt": "secret: falcon", "person_id": "alice",
	}}
	_, err := h.Execute(context.Background(), handler.Context{Node: node}, resolve.Input{})
	require.NoError(t, err)

	node2 := &diagram.Node{ID: "p1", Config: map[string]any{
		"provider": "openai", "model": "gpt-test", "prompt": "what is the secret?",
		"person_id": "bob", "memorize_to": "secret", "at_most": 5,
	}}
	_, err = h.Execute(context.Background(), handler.Context{Node: node2}, resolve.Input{})
	require.NoError(t, err)

	assert.NotContains(t, fake.lastReq.Prompt, "falcon")
}
