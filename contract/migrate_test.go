package contract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_V1_0_FillsDefaults(t *testing.T) {
	raw := []byte(`{
		"request_id": "req-1",
		"provider": "m1",
		"model": "x",
		"prompt": "hello",
		"media_type": "video",
		"parameters": {"w": 64},
		"timeout_ms": 30000,
		"created_at": "2026-01-01T00:00:00Z"
	}`)

	req, err := Parse(raw, V1_0)
	require.NoError(t, err)
	assert.Equal(t, V2_0, req.SchemaVersion)
	assert.Equal(t, "req-1", req.RequestID)
	assert.Equal(t, DefaultRetryConfig(), req.RetryConfig)
	assert.NotNil(t, req.Metadata)
}

func TestParse_MintsRequestIDWhenAbsent(t *testing.T) {
	raw := []byte(`{
		"provider": "auto",
		"model": "x",
		"prompt": "hello",
		"media_type": "video",
		"timeout_ms": 1000
	}`)
	req, err := Parse(raw, V2_0)
	require.NoError(t, err)
	assert.NotEmpty(t, req.RequestID)
}

func TestParse_RejectsMissingPrompt(t *testing.T) {
	raw := []byte(`{"model":"x","media_type":"video","timeout_ms":1000}`)
	_, err := Parse(raw, V2_0)
	require.Error(t, err)
	var details *ErrorDetails
	require.ErrorAs(t, err, &details)
	assert.Equal(t, ErrInvalidRequest, details.Code)
	assert.Equal(t, "prompt", details.Details["field"])
}

func TestParse_RejectsUnknownSchemaVersion(t *testing.T) {
	_, err := Parse([]byte(`{}`), SchemaVersion("9.9"))
	require.Error(t, err)
	var details *ErrorDetails
	require.ErrorAs(t, err, &details)
	assert.Equal(t, ErrInvalidRequest, details.Code)
}

func TestRoundTripMigration_RequestIDPreserved(t *testing.T) {
	raw := []byte(`{
		"request_id": "req-42",
		"provider": "m1",
		"model": "x",
		"prompt": "hello",
		"media_type": "video",
		"timeout_ms": 5000
	}`)
	req, err := Parse(raw, V1_1)
	require.NoError(t, err)

	resp := UnifiedResponse{
		RequestID:     req.RequestID,
		SchemaVersion: V2_0,
		Provider:      "m1",
		Model:         "x",
		Status:        StatusSuccess,
		Result:        map[string]any{"urls": []string{"https://example.com/v.mp4"}},
	}

	out, err := Serialize(resp, V1_1)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "req-42", decoded["request_id"])
	assert.Equal(t, "m1", decoded["provider"])
	_, hasProviderInfo := decoded["provider_info"]
	assert.False(t, hasProviderInfo, "1.1 responses must not expose provider_info")
}

func TestSerialize_V1_0_CollapsesURLsToScalar(t *testing.T) {
	resp := UnifiedResponse{
		RequestID:     "req-1",
		SchemaVersion: V2_0,
		Provider:      "m1",
		Model:         "x",
		Status:        StatusSuccess,
		Result:        map[string]any{"urls": []string{"https://example.com/v.mp4"}},
	}
	out, err := Serialize(resp, V1_0)
	require.NoError(t, err)

	var decoded struct {
		Result struct {
			OutputURL string `json:"output_url"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "https://example.com/v.mp4", decoded.Result.OutputURL)
}

func TestSerialize_V2_0_ExpandsProviderInfo(t *testing.T) {
	resp := UnifiedResponse{
		RequestID:     "req-1",
		SchemaVersion: V2_0,
		Provider:      "veo",
		Model:         "veo-3",
		Status:        StatusSuccess,
		Result:        map[string]any{"urls": []string{"https://example.com/v.mp4"}},
	}
	out, err := Serialize(resp, V2_0)
	require.NoError(t, err)

	var decoded struct {
		ProviderInfo struct {
			Name string `json:"name"`
		} `json:"provider_info"`
	}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, "veo", decoded.ProviderInfo.Name)
}

func TestSerialize_MintsCorrelationIDWhenAbsent(t *testing.T) {
	resp := UnifiedResponse{
		RequestID:     "req-1",
		SchemaVersion: V2_0,
		Provider:      "m1",
		Model:         "x",
		Status:        StatusFailed,
		Error:         &ErrorDetails{Code: ErrProviderError, Message: "boom", Provider: "m1"},
	}
	out, err := Serialize(resp, V1_1)
	require.NoError(t, err)

	var decoded struct {
		Error struct {
			CorrelationID string `json:"correlation_id"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.NotEmpty(t, decoded.Error.CorrelationID)
}

func TestErrorCode_Retryable(t *testing.T) {
	assert.False(t, ErrInvalidRequest.Retryable())
	assert.False(t, ErrAuthenticationFailed.Retryable())
	assert.True(t, ErrRateLimitExceeded.Retryable())
	assert.True(t, ErrProviderError.Retryable())
	assert.True(t, ErrUnknown.Retryable())
}

func TestErrorCode_CountsAgainstBreaker(t *testing.T) {
	assert.True(t, ErrProviderError.CountsAgainstBreaker())
	assert.True(t, ErrTimeout.CountsAgainstBreaker())
	assert.True(t, ErrNetworkError.CountsAgainstBreaker())
	assert.False(t, ErrRateLimitExceeded.CountsAgainstBreaker())
	assert.False(t, ErrInvalidRequest.CountsAgainstBreaker())
}
