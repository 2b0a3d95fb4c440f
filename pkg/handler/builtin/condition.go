package builtin

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/dipeo/core/pkg/diagram"
	"github.com/dipeo/core/pkg/envelope"
	"github.com/dipeo/core/pkg/handler"
	"github.com/dipeo/core/pkg/models"
	"github.com/dipeo/core/pkg/resolve"
	"github.com/dipeo/core/pkg/rules"
	"github.com/dipeo/core/pkg/state"
)

const (
	conditionTypeExpression         = "expression"
	conditionTypeDetectMaxIteration = "detect_max_iterations"
	conditionTypeNodesExecuted      = "nodes_executed"
	conditionTypeLLMDecision        = "llm_decision"
)

// Condition evaluates one of four condition_type kinds against its
// resolved input and execution state, and activates exactly one of
// HandleTrue/HandleFalse. "expression" is grounded on the teacher's
// ConditionalExecutor; the other three kinds supplement it per
// spec.md §4.6/§9, which name them without a teacher precedent to copy,
// so their config shape follows this handler's own existing
// config-field conventions (see DESIGN.md).
type Condition struct {
	transforms *rules.Registry

	mu        sync.RWMutex
	providers map[models.LLMProvider]LLMProvider
}

// NewCondition builds a Condition handler sharing transforms' expression
// cache. LLM providers for condition_type=llm_decision are registered
// separately via RegisterProvider.
func NewCondition(transforms *rules.Registry) *Condition {
	return &Condition{transforms: transforms, providers: make(map[models.LLMProvider]LLMProvider)}
}

// RegisterProvider binds an LLM provider for llm_decision evaluation,
// mirroring PersonJob.RegisterProvider.
func (h *Condition) RegisterProvider(providerType models.LLMProvider, provider LLMProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.providers[providerType] = provider
}

func (h *Condition) Execute(ctx context.Context, hctx handler.Context, in resolve.Input) (map[diagram.HandleName]envelope.Envelope, error) {
	cfg := handler.Config(hctx.Node.Config)
	env, _ := in.First(diagram.HandleDefault)

	condType := cfg.StringDefault("condition_type", conditionTypeExpression)

	var ok bool
	var err error
	switch condType {
	case conditionTypeExpression:
		ok, err = h.evaluateExpression(cfg, hctx, env)
	case conditionTypeDetectMaxIteration:
		ok, err = h.evaluateDetectMaxIteration(cfg, hctx)
	case conditionTypeNodesExecuted:
		ok, err = h.evaluateNodesExecuted(cfg, hctx)
	case conditionTypeLLMDecision:
		ok, err = h.evaluateLLMDecision(ctx, cfg, hctx, env)
	default:
		return nil, fmt.Errorf("condition %s: unknown condition_type %q", hctx.Node.ID, condType)
	}
	if err != nil {
		return nil, fmt.Errorf("condition %s: %w", hctx.Node.ID, err)
	}

	branch := diagram.HandleFalse
	if ok {
		branch = diagram.HandleTrue
	}
	out := envelope.New(env.Body(), envelope.Object, hctx.Node.ID).WithMeta("branch", ok)
	return map[diagram.HandleName]envelope.Envelope{branch: out}, nil
}

func (h *Condition) evaluateExpression(cfg handler.Config, hctx handler.Context, env envelope.Envelope) (bool, error) {
	exprStr, err := cfg.String("condition")
	if err != nil {
		return false, err
	}
	vars := map[string]any{
		"input":     env.Body(),
		"iteration": hctx.Iteration,
	}
	return h.transforms.EvaluateCondition(exprStr, vars)
}

// evaluateDetectMaxIteration is true once the node named by "target_node"
// has been capped by its own declared MaxIteration (pkg/engine marks this
// StatusMaxIterReached). Typically target_node names the loop body this
// CONDITION gates.
func (h *Condition) evaluateDetectMaxIteration(cfg handler.Config, hctx handler.Context) (bool, error) {
	targetNode, err := cfg.String("target_node")
	if err != nil {
		return false, err
	}
	if hctx.States == nil {
		return false, fmt.Errorf("detect_max_iterations: no state tracker available")
	}
	ns := hctx.States.Get(diagram.NodeID(targetNode))
	return ns.Status == state.StatusMaxIterReached, nil
}

// evaluateNodesExecuted is true once every node named in "nodes" has run
// at least once (ExecutionCount > 0) in the current execution.
func (h *Condition) evaluateNodesExecuted(cfg handler.Config, hctx handler.Context) (bool, error) {
	nodeIDs, err := cfg.StringSlice("nodes")
	if err != nil {
		return false, err
	}
	if hctx.States == nil {
		return false, fmt.Errorf("nodes_executed: no state tracker available")
	}
	for _, id := range nodeIDs {
		if hctx.States.Get(diagram.NodeID(id)).ExecutionCount == 0 {
			return false, nil
		}
	}
	return true, nil
}

// evaluateLLMDecision asks a registered LLM provider a yes/no question and
// parses its response, mirroring PersonJob's provider dispatch. The
// response (case-insensitive, surrounding whitespace trimmed) is treated as
// true when it is exactly "1", "t" or "true", or starts with "true" or
// "yes"; anything else is false.
func (h *Condition) evaluateLLMDecision(ctx context.Context, cfg handler.Config, hctx handler.Context, env envelope.Envelope) (bool, error) {
	providerName := models.LLMProvider(cfg.StringDefault("provider", string(models.LLMProviderOpenAI)))
	h.mu.RLock()
	provider, ok := h.providers[providerName]
	h.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("llm_decision: no provider registered for %q", providerName)
	}

	model, err := cfg.String("model")
	if err != nil {
		return false, err
	}
	prompt, err := cfg.String("prompt")
	if err != nil {
		return false, err
	}

	req := &models.LLMRequest{
		Provider:    providerName,
		Model:       model,
		Instruction: "Answer with exactly one word: true or false.",
		Prompt:      prompt,
		Input:       env.Body(),
		MaxTokens:   cfg.IntDefault("max_tokens", 16),
	}
	resp, err := provider.Execute(ctx, req)
	if err != nil {
		return false, err
	}
	return parseLLMBool(resp.Content), nil
}

func parseLLMBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return strings.HasPrefix(s, "true") || strings.HasPrefix(s, "yes")
}
