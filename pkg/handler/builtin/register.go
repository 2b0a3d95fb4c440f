package builtin

import (
	"os"

	"github.com/dipeo/core/pkg/diagram"
	"github.com/dipeo/core/pkg/engine"
	"github.com/dipeo/core/pkg/handler"
	"github.com/dipeo/core/pkg/handler/builtin/dbfs"
	"github.com/dipeo/core/pkg/models"
	"github.com/dipeo/core/pkg/rules"
)

// Deps bundles the shared state every stateful builtin handler needs,
// grounded on the teacher's register.go wiring of its BaseExecutor-backed
// executors into one Registry at startup.
type Deps struct {
	Transforms    *rules.Registry
	Stores        *dbfs.Registry
	DiagramLoader DiagramLoader
	EngineConfig  engine.Config
}

// Register binds every stock node type to its handler in r. TYPESCRIPT_AST
// and IR_BUILDER are intentionally left unbound: DiPeO carries no codegen
// tooling, so a diagram referencing them still type-checks against
// diagram.NodeType but fails to resolve a Handler at dispatch time, same
// as any other unimplemented node type.
func Register(r *handler.Registry, deps Deps) {
	r.Register(diagram.NodeTypeStart, Start)
	r.Register(diagram.NodeTypeEndpoint, Endpoint)
	r.Register(diagram.NodeTypeCodeJob, NewCodeJob(deps.Transforms))
	r.Register(diagram.NodeTypeCondition, newConditionFromEnv(deps.Transforms))
	r.Register(diagram.NodeTypeCollect, Collect)
	r.Register(diagram.NodeTypePersonJob, newPersonJobFromEnv())
	r.Register(diagram.NodeTypeTemplateJob, TemplateJob)
	r.Register(diagram.NodeTypeAPIJob, NewAPIJob())
	r.Register(diagram.NodeTypeIntegratedAPI, NewIntegratedAPI())
	r.Register(diagram.NodeTypeJSONSchemaValidator, JSONSchemaValidator)

	if deps.Stores != nil {
		r.Register(diagram.NodeTypeDB, NewDB(deps.Stores))
	}
	if deps.DiagramLoader != nil {
		r.Register(diagram.NodeTypeSubDiagram, NewSubDiagram(deps.DiagramLoader, r, deps.Transforms, deps.EngineConfig))
	}
}

// newPersonJobFromEnv builds a PersonJob with whichever LLM providers have
// credentials available in the environment. A diagram referencing a
// provider with no matching env var still resolves the PERSON_JOB handler;
// it only fails once dispatched, same as any other missing-credential
// provider.
func newPersonJobFromEnv() *PersonJob {
	h := NewPersonJob()
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if p, err := NewOpenAIResponsesProvider(key, "", os.Getenv("OPENAI_ORG_ID")); err == nil {
			h.RegisterProvider(models.LLMProviderOpenAIResponses, p)
		}
		if p, err := NewOpenAIChatProvider(key, ""); err == nil {
			h.RegisterProvider(models.LLMProviderOpenAI, p)
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		if p, err := NewGeminiProvider(key, ""); err == nil {
			h.RegisterProvider(models.LLMProviderGemini, p)
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		if p, err := NewAnthropicProvider(key, ""); err == nil {
			h.RegisterProvider(models.LLMProviderAnthropic, p)
		}
	}
	return h
}

// newConditionFromEnv builds a Condition wired to the same environment-
// sourced LLM providers as newPersonJobFromEnv, so a diagram's
// condition_type=llm_decision node resolves a provider without a second
// credential-wiring path.
func newConditionFromEnv(transforms *rules.Registry) *Condition {
	h := NewCondition(transforms)
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if p, err := NewOpenAIResponsesProvider(key, "", os.Getenv("OPENAI_ORG_ID")); err == nil {
			h.RegisterProvider(models.LLMProviderOpenAIResponses, p)
		}
		if p, err := NewOpenAIChatProvider(key, ""); err == nil {
			h.RegisterProvider(models.LLMProviderOpenAI, p)
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		if p, err := NewGeminiProvider(key, ""); err == nil {
			h.RegisterProvider(models.LLMProviderGemini, p)
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		if p, err := NewAnthropicProvider(key, ""); err == nil {
			h.RegisterProvider(models.LLMProviderAnthropic, p)
		}
	}
	return h
}
