package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/dipeo/core/pkg/diagram"
	"github.com/dipeo/core/pkg/envelope"
	"github.com/dipeo/core/pkg/handler"
	"github.com/dipeo/core/pkg/resolve"
)

// JSONSchemaValidator checks its resolved input's OBJECT body against a
// JSON schema document carried in its config's "schema" field. New node
// type; grounded on the struct-tag validation approach used elsewhere in
// this module (pkg/diagram's go-playground/validator usage) but adapted
// to schema-driven, not struct-tag-driven, validation since the value
// being checked is an arbitrary runtime JSON document, not a Go struct.
var JSONSchemaValidator = handler.Func(func(ctx context.Context, hctx handler.Context, in resolve.Input) (map[diagram.HandleName]envelope.Envelope, error) {
	cfg := handler.Config(hctx.Node.Config)
	schemaField, ok := cfg["schema"]
	if !ok {
		return nil, fmt.Errorf("json_schema_validator %s: schema is required", hctx.Node.ID)
	}

	schemaLoader := gojsonschema.NewGoLoader(schemaField)
	env, _ := in.First(diagram.HandleDefault)
	docLoader := gojsonschema.NewGoLoader(env.Body())

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return nil, fmt.Errorf("json_schema_validator %s: %w", hctx.Node.ID, err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("json_schema_validator %s: validation failed: %s", hctx.Node.ID, strings.Join(msgs, "; "))
	}

	out := envelope.New(env.Body(), envelope.Object, hctx.Node.ID)
	return map[diagram.HandleName]envelope.Envelope{diagram.HandleDefault: out}, nil
})
