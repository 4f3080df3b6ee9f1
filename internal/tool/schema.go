package tool

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Schema returns the JSON Schema describing the parameters of the named
// tool. It is what the remote model sees as the function's parameters.
func (r *Registry) Schema(name string) (*jsonschema.Schema, error) {
	t, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return ParamsSchema(t.Definition()), nil
}

// ParamsSchema builds an object schema from a definition's parameters.
func ParamsSchema(def Definition) *jsonschema.Schema {
	props := jsonschema.NewProperties()
	var required []string

	for _, p := range def.Params {
		ps := &jsonschema.Schema{
			Description: p.Description,
			Default:     p.Default,
			Enum:        p.Enum,
		}
		if p.Type != TypeAny && p.Type != "" {
			ps.Type = string(p.Type)
		}
		if p.Type == TypeObject {
			ps.AdditionalProperties = jsonschema.TrueSchema
		}
		props.Set(p.Name, ps)
		if p.Required {
			required = append(required, p.Name)
		}
	}

	return &jsonschema.Schema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: jsonschema.FalseSchema,
	}
}

// RawSchema is ParamsSchema marshalled to JSON.
func RawSchema(def Definition) (json.RawMessage, error) {
	data, err := json.Marshal(ParamsSchema(def))
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", def.Name, err)
	}
	return data, nil
}
