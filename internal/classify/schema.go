package classify

import (
	"encoding/json"
	"errors"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// validateParameters checks params against the catalog's JSON Schema and
// returns human-readable violations. A schema that fails to compile is a
// catalog defect, not a caller violation, so it yields no violations.
func validateParameters(schema map[string]any, params map[string]any) []string {
	schemaDoc, err := toJSONValue(schema)
	if err != nil {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("tool-schema.json", schemaDoc); err != nil {
		return nil
	}
	compiled, err := compiler.Compile("tool-schema.json")
	if err != nil {
		return nil
	}

	if params == nil {
		params = map[string]any{}
	}
	paramsDoc, err := toJSONValue(params)
	if err != nil {
		return []string{"parameters are not valid JSON: " + err.Error()}
	}

	err = compiled.Validate(paramsDoc)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		return flattenCauses(verr)
	}
	return []string{err.Error()}
}

// toJSONValue round-trips v through encoding/json so the validator sees
// plain JSON types regardless of how the caller built the map.
func toJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// flattenCauses collects the leaf errors of a validation failure.
func flattenCauses(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		return []string{verr.Error()}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, flattenCauses(cause)...)
	}
	return out
}
