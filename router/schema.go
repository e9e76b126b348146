package router

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// composeRootSchema builds the tagged-union root schema described in
// spec.md §4.4 "Composed root schema": a oneOf over, for each route, an
// object requiring route == <name> and a <name> key holding that route's
// sub-schema.
func composeRootSchema(routes map[string]*Route, order []string) (map[string]any, error) {
	variants := make([]any, 0, len(order))
	for _, name := range order {
		r := routes[name]
		sub, err := r.currentSubSchema()
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", name, err)
		}
		if sub == nil {
			// A route whose schema arrives dynamically via its schema
			// input port and hasn't received one yet contributes no
			// variant; it simply cannot be routed to until it does.
			continue
		}
		variants = append(variants, map[string]any{
			"type": "object",
			"properties": map[string]any{
				"route": map[string]any{"const": name},
				name:    sub,
			},
			"required":             []any{"route", name},
			"additionalProperties": true,
		})
	}
	return map[string]any{"oneOf": variants}, nil
}

// compile parses and compiles a root schema document into a validator.
func compile(doc map[string]any) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("router-root.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("router-root.json")
	if err != nil {
		return nil, fmt.Errorf("compile root schema: %w", err)
	}
	return schema, nil
}

// jsonschemaSchema adapts *jsonschema.Schema to the schemaValidator
// interface so router.go doesn't need to import jsonschema directly.
type jsonschemaSchema struct {
	schema *jsonschema.Schema
}

func (j *jsonschemaSchema) Validate(v any) error { return j.schema.Validate(v) }

// decodeJSON is a small helper shared by route sub-schema loading and
// request parsing.
func decodeJSON(raw json.RawMessage) (any, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
