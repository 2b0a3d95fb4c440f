// Package rules implements the compile-time connection rules and the
// built-in data transforms applied to an Envelope as it crosses an edge.
// The jq/expr usage is grounded on the teacher's TransformExecutor, split
// out of the executor package and generalized to operate on Envelopes.
package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/itchyny/gojq"

	"github.com/dipeo/core/pkg/diagram"
	"github.com/dipeo/core/pkg/envelope"
)

// CanConnect reports whether an edge between two node types, through the
// named handles, is structurally legal. diagram.ExecutableDiagram.New
// already enforces handle existence and START/ENDPOINT placement; CanConnect
// adds the content-type compatible check used by diagram authoring tools
// and the InputResolver's strict-mode validation.
func CanConnect(sourceType diagram.NodeType, targetType diagram.NodeType) bool {
	if sourceType == diagram.NodeTypeEndpoint {
		return false
	}
	if targetType == diagram.NodeTypeStart {
		return false
	}
	return true
}

// Transform is a named, composable Envelope-to-Envelope function. Edge
// TransformRules name one or more of these, applied left to right.
type Transform func(env envelope.Envelope) (envelope.Envelope, error)

// Registry resolves transform rule names to their implementations.
type Registry struct {
	transforms map[string]Transform
	exprCache  *exprCache
}

// NewRegistry builds a Registry pre-populated with the built-in transforms.
func NewRegistry() *Registry {
	r := &Registry{transforms: make(map[string]Transform), exprCache: newExprCache(100)}
	r.Register("extract_tool_results", ExtractToolResults)
	r.Register("spread", Spread)
	r.Register("pack", Pack)
	return r
}

// Register adds or replaces a named transform.
func (r *Registry) Register(name string, t Transform) {
	r.transforms[name] = t
}

// Get resolves a transform rule name. Names of the form "select_field:EXPR",
// "expr:EXPR", "jq:FILTER" and "format_string:TEMPLATE" carry their
// parameter inline, since those four are parameterized per edge rather than
// fixed built-ins.
func (r *Registry) Get(rule string) (Transform, error) {
	if strings.HasPrefix(rule, "select_field:") {
		return SelectField(strings.TrimPrefix(rule, "select_field:")), nil
	}
	if strings.HasPrefix(rule, "expr:") {
		return r.exprTransformCached(strings.TrimPrefix(rule, "expr:")), nil
	}
	if strings.HasPrefix(rule, "jq:") {
		return JQTransform(strings.TrimPrefix(rule, "jq:")), nil
	}
	if strings.HasPrefix(rule, "format_string:") {
		return FormatString(strings.TrimPrefix(rule, "format_string:")), nil
	}
	t, ok := r.transforms[rule]
	if !ok {
		return nil, fmt.Errorf("unknown transform rule: %q", rule)
	}
	return t, nil
}

// Apply runs every named rule against env in order, short-circuiting on
// the first error.
func (r *Registry) Apply(rulesList []string, env envelope.Envelope) (envelope.Envelope, error) {
	for _, name := range rulesList {
		t, err := r.Get(name)
		if err != nil {
			return env, err
		}
		env, err = t(env)
		if err != nil {
			return env, fmt.Errorf("transform %q: %w", name, err)
		}
	}
	return env, nil
}

// ExtractToolResults pulls the "tool_results" key out of an OBJECT body,
// the shape a PERSON_JOB handler leaves behind after a tool-calling round.
func ExtractToolResults(env envelope.Envelope) (envelope.Envelope, error) {
	obj, err := env.AsJSON()
	if err != nil {
		return env, err
	}
	m, ok := obj.(map[string]any)
	if !ok {
		return env, fmt.Errorf("extract_tool_results: body is not an object")
	}
	results, ok := m["tool_results"]
	if !ok {
		return env, fmt.Errorf("extract_tool_results: no tool_results key")
	}
	return envelope.New(results, envelope.Object, env.ProducedBy()), nil
}

// SelectField returns a transform that projects a single field out of an
// OBJECT body using a gojq filter expression, e.g. ".user.name".
func SelectField(filter string) Transform {
	return func(env envelope.Envelope) (envelope.Envelope, error) {
		obj, err := env.AsJSON()
		if err != nil {
			return env, err
		}
		query, err := gojq.Parse(filter)
		if err != nil {
			return env, fmt.Errorf("select_field: invalid filter %q: %w", filter, err)
		}
		code, err := gojq.Compile(query)
		if err != nil {
			return env, fmt.Errorf("select_field: compile %q: %w", filter, err)
		}
		iter := code.Run(obj)
		v, ok := iter.Next()
		if !ok {
			return env, fmt.Errorf("select_field: filter %q produced no output", filter)
		}
		if ferr, ok := v.(error); ok {
			return env, fmt.Errorf("select_field: %w", ferr)
		}
		return envelope.New(v, envelope.Object, env.ProducedBy()), nil
	}
}

// ExprTransform returns a transform that evaluates an expr-lang expression
// against the envelope body, bound as the "input" variable. It compiles
// the expression fresh on every call; Registry.Get("expr:...") instead
// resolves to a cached equivalent via exprTransformCached.
func ExprTransform(exprStr string) Transform {
	return func(env envelope.Envelope) (envelope.Envelope, error) {
		envVars := map[string]any{"input": env.Body()}
		program, err := expr.Compile(exprStr, expr.Env(envVars))
		if err != nil {
			return env, fmt.Errorf("expr: compile: %w", err)
		}
		out, err := expr.Run(program, envVars)
		if err != nil {
			return env, fmt.Errorf("expr: eval: %w", err)
		}
		return envelope.New(out, envelope.Object, env.ProducedBy()), nil
	}
}

// exprTransformCached behaves like ExprTransform but reuses r's compiled
// program cache, the hot path for CODE_JOB and loop-guard expressions
// re-evaluated every iteration.
func (r *Registry) exprTransformCached(exprStr string) Transform {
	return func(env envelope.Envelope) (envelope.Envelope, error) {
		envVars := map[string]any{"input": env.Body()}
		program, err := r.exprCache.compileCached(exprStr, envVars)
		if err != nil {
			return env, fmt.Errorf("expr: compile: %w", err)
		}
		out, err := expr.Run(program, envVars)
		if err != nil {
			return env, fmt.Errorf("expr: eval: %w", err)
		}
		return envelope.New(out, envelope.Object, env.ProducedBy()), nil
	}
}

// Evaluate compiles (with caching) and runs an expr-lang expression
// against arbitrary named variables, returning its raw result. CODE_JOB
// handlers use this directly; EvaluateCondition is the boolean-typed
// convenience built on top of it for CONDITION handlers.
func (r *Registry) Evaluate(exprStr string, vars map[string]any) (any, error) {
	program, err := r.exprCache.compileCached(exprStr, vars)
	if err != nil {
		return nil, fmt.Errorf("expr: compile: %w", err)
	}
	out, err := expr.Run(program, vars)
	if err != nil {
		return nil, fmt.Errorf("expr: eval: %w", err)
	}
	return out, nil
}

// EvaluateCondition compiles (with caching) and runs an expr-lang boolean
// expression against arbitrary named variables, the CONDITION handler's
// entry point for deciding which output handle to activate.
func (r *Registry) EvaluateCondition(exprStr string, vars map[string]any) (bool, error) {
	out, err := r.Evaluate(exprStr, vars)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition: expression did not evaluate to a boolean")
	}
	return b, nil
}

// JQTransform returns a transform that runs a raw gojq filter against the
// JSON-decoded body, accepting RAW_TEXT bodies by parsing them first.
func JQTransform(filter string) Transform {
	return func(env envelope.Envelope) (envelope.Envelope, error) {
		var data any
		switch env.ContentType() {
		case envelope.Object:
			data, _ = env.AsJSON()
		case envelope.RawText:
			text, _ := env.AsText()
			if err := json.Unmarshal([]byte(text), &data); err != nil {
				data = text
			}
		default:
			data = env.Body()
		}

		query, err := gojq.Parse(filter)
		if err != nil {
			return env, fmt.Errorf("jq: invalid filter %q: %w", filter, err)
		}
		code, err := gojq.Compile(query)
		if err != nil {
			return env, fmt.Errorf("jq: compile %q: %w", filter, err)
		}
		iter := code.Run(data)
		v, ok := iter.Next()
		if !ok {
			return env, fmt.Errorf("jq: filter %q produced no output", filter)
		}
		if ferr, ok := v.(error); ok {
			return env, fmt.Errorf("jq: %w", ferr)
		}
		return envelope.New(v, envelope.Object, env.ProducedBy()), nil
	}
}

// templatePlaceholder matches "{{path}}" spans in a format_string pattern,
// grounded on the same gojq-path substitution TEMPLATE_JOB uses.
var templatePlaceholder = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// FormatString returns a transform that renders pattern against the
// envelope body, substituting each "{{path}}" span with the gojq-path
// lookup of that path against the body (Object bodies are queried
// directly; RawText/other bodies are exposed to the path as a bare
// string value). An empty pattern renders to an empty string.
func FormatString(pattern string) Transform {
	return func(env envelope.Envelope) (envelope.Envelope, error) {
		data := env.Body()
		var renderErr error
		rendered := templatePlaceholder.ReplaceAllStringFunc(pattern, func(match string) string {
			path := strings.TrimSpace(match[2 : len(match)-2])
			v, err := evalTemplatePath(path, data)
			if err != nil {
				renderErr = fmt.Errorf("format_string: %w", err)
				return ""
			}
			return fmt.Sprintf("%v", v)
		})
		if renderErr != nil {
			return env, renderErr
		}
		return envelope.New(rendered, envelope.RawText, env.ProducedBy()), nil
	}
}

// evalTemplatePath runs a gojq filter (dotted path, optionally without its
// leading ".") against data and returns its first result.
func evalTemplatePath(path string, data any) (any, error) {
	filter := path
	if !strings.HasPrefix(filter, ".") {
		filter = "." + filter
	}
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", path, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("compile path %q: %w", path, err)
	}
	iter := code.Run(data)
	v, ok := iter.Next()
	if !ok {
		return nil, fmt.Errorf("path %q produced no output", path)
	}
	if ferr, ok := v.(error); ok {
		return nil, fmt.Errorf("path %q: %w", path, ferr)
	}
	return v, nil
}

// Spread expands an OBJECT body's array or map into the metadata map,
// used ahead of Pack so a downstream node can read individual keys. It
// must run before Pack per an edge's TransformRules ordering: once Pack
// has collapsed the conversation window, original fields are gone.
func Spread(env envelope.Envelope) (envelope.Envelope, error) {
	obj, err := env.AsJSON()
	if err != nil {
		return env, err
	}
	m, ok := obj.(map[string]any)
	if !ok {
		return env, fmt.Errorf("spread: body is not an object")
	}
	return env.WithMetaMap(m), nil
}

// Pack collapses the envelope's metadata map into the body as a single
// OBJECT, the inverse of Spread.
func Pack(env envelope.Envelope) (envelope.Envelope, error) {
	return envelope.New(env.Meta(), envelope.Object, env.ProducedBy()), nil
}
