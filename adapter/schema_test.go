package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testParamSchema = `{
	"type": "object",
	"properties": {
		"duration_s": {"type": "number", "minimum": 1, "maximum": 10},
		"size": {"type": "string", "enum": ["1280x720", "1920x1080"]}
	},
	"required": ["duration_s"]
}`

func TestParameterSchema_ValidParameters(t *testing.T) {
	schema, err := NewParameterSchema(testParamSchema)
	require.NoError(t, err)

	d := schema.Validate("sora", map[string]any{"duration_s": 5.0, "size": "1280x720"})
	assert.Nil(t, d)
}

func TestParameterSchema_MissingRequiredField(t *testing.T) {
	schema, err := NewParameterSchema(testParamSchema)
	require.NoError(t, err)

	d := schema.Validate("sora", map[string]any{"size": "1280x720"})
	require.NotNil(t, d)
	assert.Equal(t, "sora", d.Provider)
}

func TestParameterSchema_OutOfRangeValue(t *testing.T) {
	schema, err := NewParameterSchema(testParamSchema)
	require.NoError(t, err)

	d := schema.Validate("sora", map[string]any{"duration_s": 999.0})
	require.NotNil(t, d)
}

func TestParameterSchema_InvalidEnumValue(t *testing.T) {
	schema, err := NewParameterSchema(testParamSchema)
	require.NoError(t, err)

	d := schema.Validate("sora", map[string]any{"duration_s": 5.0, "size": "bogus"})
	require.NotNil(t, d)
}
