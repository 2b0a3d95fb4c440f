package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/itchyny/gojq"
	"golang.org/x/sync/errgroup"

	"github.com/dipeo/core/pkg/diagram"
	"github.com/dipeo/core/pkg/engine"
	"github.com/dipeo/core/pkg/envelope"
	"github.com/dipeo/core/pkg/handler"
	"github.com/dipeo/core/pkg/resolve"
	"github.com/dipeo/core/pkg/rules"
)

const (
	subDiagramDefaultItemVar = "item"
	subDiagramOnErrorFail    = "fail_fast"
	subDiagramOnErrorCollect = "collect_partial"
)

// DiagramLoader resolves a diagram_id config field to a compiled, ready-to-
// run ExecutableDiagram, grounded on the teacher's WorkflowLoader.
type DiagramLoader interface {
	Load(ctx context.Context, diagramID string) (*diagram.ExecutableDiagram, error)
}

// subDiagramItemResult mirrors the teacher's subWorkflowItemResult.
type subDiagramItemResult struct {
	Index      int    `json:"index"`
	Status     string `json:"status"`
	Output     any    `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// SubDiagram fans a for_each array out across bounded-parallel nested
// Engine runs of a child diagram, one run per item, grounded on the
// teacher's DAGExecutor.executeSubWorkflow — generalized from wave-index
// jumping to a recursive engine.New/Run invocation per item, and from a
// hand-rolled semaphore+WaitGroup to golang.org/x/sync/errgroup's bounded
// fan-out.
type SubDiagram struct {
	loader     DiagramLoader
	handlers   *handler.Registry
	transforms *rules.Registry
	cfg        engine.Config
}

// NewSubDiagram builds a SubDiagram handler. handlers/transforms/cfg are
// reused unmodified for every nested run, matching the teacher's reuse of
// the parent's ExecutionOptions for child executions.
func NewSubDiagram(loader DiagramLoader, handlers *handler.Registry, transforms *rules.Registry, cfg engine.Config) *SubDiagram {
	return &SubDiagram{loader: loader, handlers: handlers, transforms: transforms, cfg: cfg}
}

func (h *SubDiagram) Execute(ctx context.Context, hctx handler.Context, in resolve.Input) (map[diagram.HandleName]envelope.Envelope, error) {
	cfg := handler.Config(hctx.Node.Config)

	diagramID, err := cfg.String("diagram_id")
	if err != nil {
		return nil, err
	}
	forEach, err := cfg.String("for_each")
	if err != nil {
		return nil, err
	}
	itemVar := cfg.StringDefault("item_var", subDiagramDefaultItemVar)
	onError := cfg.StringDefault("on_error", subDiagramOnErrorFail)
	maxParallelism := cfg.IntDefault("max_parallelism", 0)
	var timeoutPerItem time.Duration
	if ms := cfg.IntDefault("timeout_per_item_ms", 0); ms > 0 {
		timeoutPerItem = time.Duration(ms) * time.Millisecond
	}

	env, _ := in.First(diagram.HandleDefault)
	items, err := evalForEach(forEach, env.Body())
	if err != nil {
		return nil, fmt.Errorf("sub_diagram %s: for_each: %w", hctx.Node.ID, err)
	}

	if len(items) == 0 {
		out := envelope.New(map[string]any{
			"items":   []any{},
			"summary": map[string]any{"total": 0, "completed": 0, "failed": 0},
		}, envelope.Object, hctx.Node.ID)
		return map[diagram.HandleName]envelope.Envelope{diagram.HandleDefault: out}, nil
	}

	child, err := h.loader.Load(ctx, diagramID)
	if err != nil {
		return nil, fmt.Errorf("sub_diagram %s: load diagram %q: %w", hctx.Node.ID, diagramID, err)
	}

	results := make([]subDiagramItemResult, len(items))
	group, groupCtx := errgroup.WithContext(ctx)
	if maxParallelism > 0 {
		group.SetLimit(maxParallelism)
	}

	for i, item := range items {
		i, item := i, item
		group.Go(func() error {
			results[i] = h.runItem(groupCtx, child, itemVar, i, len(items), item, timeoutPerItem)
			if results[i].Status == "failed" && onError == subDiagramOnErrorFail {
				return fmt.Errorf("child %d failed: %s", i, results[i].Error)
			}
			return nil
		})
	}
	groupErr := group.Wait()

	completed, failed := 0, 0
	itemOutputs := make([]any, len(results))
	for i, r := range results {
		if r.Status == "completed" {
			completed++
		} else if r.Status == "failed" {
			failed++
		}
		itemOutputs[i] = map[string]any{
			"index": r.Index, "status": r.Status, "output": r.Output,
			"error": r.Error, "duration_ms": r.DurationMs,
		}
	}

	result := map[string]any{
		"items":   itemOutputs,
		"summary": map[string]any{"total": len(items), "completed": completed, "failed": failed},
	}

	if onError == subDiagramOnErrorFail && groupErr != nil {
		return nil, fmt.Errorf("sub_diagram %s: %w", hctx.Node.ID, groupErr)
	}

	out := envelope.New(result, envelope.Object, hctx.Node.ID)
	return map[diagram.HandleName]envelope.Envelope{diagram.HandleDefault: out}, nil
}

func (h *SubDiagram) runItem(ctx context.Context, child *diagram.ExecutableDiagram, itemVar string, index, total int, item any, timeout time.Duration) subDiagramItemResult {
	start := time.Now()
	res := subDiagramItemResult{Index: index}

	select {
	case <-ctx.Done():
		res.Status = "cancelled"
		return res
	default:
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	childInput := map[string]any{itemVar: item, "index": index, "total": total}
	childExec := engine.New(child, h.handlers, h.transforms, h.cfg)
	err := childExec.Run(runCtx, uuid.NewString(), envelope.New(childInput, envelope.Object, ""))
	res.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		res.Status = "failed"
		res.Error = err.Error()
		return res
	}

	res.Status = "completed"
	res.Output = collectTerminalOutput(child, childExec)
	return res
}

// collectTerminalOutput gathers LastOutput from every ENDPOINT node,
// unwrapping a single result the way the teacher's collectChildOutput
// does.
func collectTerminalOutput(d *diagram.ExecutableDiagram, e *engine.Engine) any {
	outputs := make(map[string]any)
	for id, n := range d.Nodes {
		if n.Type != diagram.NodeTypeEndpoint {
			continue
		}
		if ns := e.State().Get(id); ns.LastOutput != nil {
			outputs[string(id)] = ns.LastOutput
		}
	}
	if len(outputs) == 1 {
		for _, v := range outputs {
			return v
		}
	}
	return outputs
}

func evalForEach(filter string, input any) ([]any, error) {
	if filter[0] != '.' {
		filter = "." + filter
	}
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("invalid for_each filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("compile for_each filter %q: %w", filter, err)
	}
	iter := code.Run(input)
	v, ok := iter.Next()
	if !ok {
		return nil, fmt.Errorf("for_each filter %q produced no value", filter)
	}
	if ferr, ok := v.(error); ok {
		return nil, fmt.Errorf("for_each filter %q: %w", filter, ferr)
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("for_each filter %q did not produce an array, got %T", filter, v)
	}
	return items, nil
}
