package builtin

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dipeo/core/pkg/diagram"
	"github.com/dipeo/core/pkg/envelope"
	"github.com/dipeo/core/pkg/handler"
	"github.com/dipeo/core/pkg/memory"
	"github.com/dipeo/core/pkg/models"
	"github.com/dipeo/core/pkg/resolve"
)

// LLMProvider is the per-vendor backend a PersonJob dispatches to, grounded
// on the teacher's LLMExecutor.LLMProvider interface. This package ships
// direct-HTTP providers for OpenAI (chat and Responses), Gemini and
// Anthropic, which Register wires from their API-key environment
// variables; others can be added via PersonJob.RegisterProvider.
type LLMProvider interface {
	Execute(ctx context.Context, req *models.LLMRequest) (*models.LLMResponse, error)
}

// PersonJob dispatches a prompt to a registered LLMProvider, grounded on
// the teacher's LLMExecutor, trimmed to the prompt/instruction/provider
// fields DiPeO diagrams actually use (tool-calling and the Responses-API
// specific fields stay in pkg/models for a provider to opt into, but the
// handler itself stays provider-agnostic).
type PersonJob struct {
	mu        sync.RWMutex
	providers map[models.LLMProvider]LLMProvider

	memory   *memory.Store
	selector memory.Selector
}

// NewPersonJob builds an empty PersonJob; providers must be registered
// before a diagram referencing PERSON_JOB nodes can run. Its conversation
// store is private to this handler instance, so one PersonJob must be
// shared across every PERSON_JOB node of an execution for memorize_to to
// see prior turns from other nodes addressing the same person_id.
func NewPersonJob() *PersonJob {
	return &PersonJob{
		providers: make(map[models.LLMProvider]LLMProvider),
		memory:    memory.NewStore(),
		selector:  memory.NewDefaultSelector(),
	}
}

// RegisterProvider binds a provider type name (e.g. "openai") to its
// LLMProvider implementation.
func (h *PersonJob) RegisterProvider(providerType models.LLMProvider, provider LLMProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.providers[providerType] = provider
}

func (h *PersonJob) Execute(ctx context.Context, hctx handler.Context, in resolve.Input) (map[diagram.HandleName]envelope.Envelope, error) {
	cfg := handler.Config(hctx.Node.Config)
	providerName := models.LLMProvider(cfg.StringDefault("provider", string(models.LLMProviderOpenAI)))

	h.mu.RLock()
	provider, ok := h.providers[providerName]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("person_job %s: no provider registered for %q", hctx.Node.ID, providerName)
	}

	model, err := cfg.String("model")
	if err != nil {
		return nil, err
	}
	prompt, err := cfg.String("prompt")
	if err != nil {
		return nil, err
	}

	personID := cfg.StringDefault("person_id", string(hctx.Node.ID))
	memorizeTo := cfg.StringDefault("memorize_to", "")
	atMost := cfg.IntDefault("at_most", 0)

	history := h.memory.History(personID)
	selected := h.selector.Select(personID, history, prompt, memorizeTo, atMost)

	req := &models.LLMRequest{
		Provider:    providerName,
		Model:       model,
		Instruction: cfg.StringDefault("instruction", ""),
		Prompt:      memory.Render(selected) + prompt,
		MaxTokens:   cfg.IntDefault("max_tokens", 0),
	}

	if env, ok := in.First(diagram.HandleDefault); ok {
		req.Input = env.Body()
	}

	resp, err := provider.Execute(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("person_job %s: %w", hctx.Node.ID, err)
	}

	now := time.Now()
	seq := len(history)
	h.memory.Append(personID, memory.Message{ID: personID + "-" + strconv.Itoa(seq), PersonID: personID, Role: "user", Content: prompt, CreatedAt: now})
	h.memory.Append(personID, memory.Message{ID: personID + "-" + strconv.Itoa(seq+1), PersonID: personID, Role: "assistant", Content: resp.Content, CreatedAt: now.Add(time.Nanosecond)})

	out := envelope.New(map[string]any{
		"content":       resp.Content,
		"finish_reason": resp.FinishReason,
		"usage":         resp.Usage,
	}, envelope.Object, hctx.Node.ID)
	conv := envelope.New(h.memory.History(personID), envelope.ConversationState, hctx.Node.ID)
	return map[diagram.HandleName]envelope.Envelope{
		diagram.HandleDefault:      out,
		diagram.HandleConversation: conv,
	}, nil
}
