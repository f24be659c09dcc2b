package adapter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/ferro-labs/videoforge/contract"
)

// ParameterSchema validates UnifiedRequest.Parameters against a JSON
// Schema before ToNative is attempted, giving Adapter.Validate a real
// per-provider check instead of ad hoc range comparisons.
type ParameterSchema struct {
	mu     sync.Mutex
	schema *jsonschema.Schema
}

// NewParameterSchema compiles schemaJSON (a draft 2020-12 JSON Schema
// document) for later use against request parameters.
func NewParameterSchema(schemaJSON string) (*ParameterSchema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("params.json", bytes.NewReader([]byte(schemaJSON))); err != nil {
		return nil, fmt.Errorf("adding parameter schema resource: %w", err)
	}
	schema, err := compiler.Compile("params.json")
	if err != nil {
		return nil, fmt.Errorf("compiling parameter schema: %w", err)
	}
	return &ParameterSchema{schema: schema}, nil
}

// Validate checks params against the compiled schema. A validation
// failure is translated into an invalid_request ErrorDetails naming the
// first offending field in details.field, matching the Adapter.Validate
// contract.
func (p *ParameterSchema) Validate(provider string, params map[string]any) *contract.ErrorDetails {
	p.mu.Lock()
	defer p.mu.Unlock()

	// jsonschema validates against decoded JSON values (map[string]any /
	// []any / float64 / string / bool / nil); round-trip through JSON to
	// normalize numeric types the same way a wire-decoded request would.
	b, err := json.Marshal(params)
	if err != nil {
		return &contract.ErrorDetails{
			Code:      contract.ErrInvalidRequest,
			Message:   "parameters could not be encoded for validation: " + err.Error(),
			Provider:  provider,
			Timestamp: time.Now().UTC(),
		}
	}
	var decoded any
	if err := json.Unmarshal(b, &decoded); err != nil {
		return &contract.ErrorDetails{
			Code:      contract.ErrInvalidRequest,
			Message:   "parameters could not be decoded for validation: " + err.Error(),
			Provider:  provider,
			Timestamp: time.Now().UTC(),
		}
	}

	if err := p.schema.Validate(decoded); err != nil {
		field := "parameters"
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			if leaf := firstLeaf(ve); leaf != nil {
				field = fieldFromPointer(leaf.InstanceLocation)
			}
		}
		return &contract.ErrorDetails{
			Code:      contract.ErrInvalidRequest,
			Message:   "parameters failed schema validation: " + err.Error(),
			Provider:  provider,
			Retryable: false,
			Details:   map[string]any{"field": field},
			Timestamp: time.Now().UTC(),
		}
	}
	return nil
}

// firstLeaf descends to the most specific (deepest) validation error so
// the reported field is the actual offending one, not the schema root.
func firstLeaf(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return ve
	}
	return firstLeaf(ve.Causes[0])
}

// fieldFromPointer trims a leading "/" from a JSON pointer instance
// location so details.field reads as a plain parameter name.
func fieldFromPointer(pointer string) string {
	if len(pointer) > 0 && pointer[0] == '/' {
		return pointer[1:]
	}
	if pointer == "" {
		return "parameters"
	}
	return pointer
}
