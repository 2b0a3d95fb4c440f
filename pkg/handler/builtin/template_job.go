package builtin

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/dipeo/core/pkg/diagram"
	"github.com/dipeo/core/pkg/envelope"
	"github.com/dipeo/core/pkg/handler"
	"github.com/dipeo/core/pkg/resolve"
)

// templatePlaceholder matches {{path}} references, grounded on the
// teacher's template.Engine placeholder regex — here path is always a
// gojq filter evaluated against the node's resolved default input rather
// than a multi-namespace (env/workflow/resource) variable reference.
var templatePlaceholder = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// TemplateJob renders a {{path}}-style template string against its
// resolved input, grounded on the teacher's template.Engine.ResolveString.
var TemplateJob = handler.Func(func(ctx context.Context, hctx handler.Context, in resolve.Input) (map[diagram.HandleName]envelope.Envelope, error) {
	cfg := handler.Config(hctx.Node.Config)
	tmpl, err := cfg.String("template")
	if err != nil {
		return nil, err
	}

	env, _ := in.First(diagram.HandleDefault)
	data := env.Body()

	var renderErr error
	rendered := templatePlaceholder.ReplaceAllStringFunc(tmpl, func(match string) string {
		path := strings.TrimSpace(match[2 : len(match)-2])
		v, err := evalTemplatePath(path, data)
		if err != nil {
			renderErr = fmt.Errorf("template_job %s: %w", hctx.Node.ID, err)
			return ""
		}
		return fmt.Sprintf("%v", v)
	})
	if renderErr != nil {
		return nil, renderErr
	}

	out := envelope.New(rendered, envelope.RawText, hctx.Node.ID)
	return map[diagram.HandleName]envelope.Envelope{diagram.HandleDefault: out}, nil
})

func evalTemplatePath(path string, data any) (any, error) {
	filter := path
	if !strings.HasPrefix(filter, ".") {
		filter = "." + filter
	}
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("invalid template path %q: %w", path, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("compile template path %q: %w", path, err)
	}
	iter := code.Run(data)
	v, ok := iter.Next()
	if !ok {
		return nil, fmt.Errorf("template path %q produced no value", path)
	}
	if ferr, ok := v.(error); ok {
		return nil, fmt.Errorf("template path %q: %w", path, ferr)
	}
	return v, nil
}
