package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ferro-labs/videoforge/contract"
)

var lumaModels = map[string]bool{
	"ray-2":     true,
	"ray-flash": true,
}

// LumaAdapter integrates Luma's Dream Machine (Ray) video models.
type LumaAdapter struct {
	Base
}

// NewLumaAdapter constructs the Luma adapter.
func NewLumaAdapter(apiKey, baseURL string) *LumaAdapter {
	if baseURL == "" {
		baseURL = "https://api.lumalabs.ai/dream-machine/v1"
	}
	return &LumaAdapter{Base{
		ProviderName: "luma",
		APIKey:       apiKey,
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Caps: contract.ProviderCapabilities{
			MaxResolutionWidth:  1360,
			MaxResolutionHeight: 752,
			SupportedFormats:    []contract.MediaType{contract.MediaVideo, contract.MediaImage},
			MaxDurationSeconds:  9,
			RateLimitPerMinute:  30,
			Features: map[string]bool{
				contract.FeatureImageToImage:    true,
				contract.FeatureKeyframeControl: true,
			},
		},
	}}
}

// Validate implements Adapter.
func (a *LumaAdapter) Validate(req contract.UnifiedRequest) *contract.ErrorDetails {
	if d := a.ValidateCommon(req); d != nil {
		return d
	}
	if !lumaModels[req.Model] {
		return &contract.ErrorDetails{
			Code:      contract.ErrInvalidModel,
			Message:   fmt.Sprintf("luma does not recognize model %q", req.Model),
			Provider:  a.ProviderName,
			Details:   map[string]any{"field": "model"},
			Timestamp: time.Now().UTC(),
		}
	}
	return nil
}

type lumaSubmitPayload struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type lumaGeneration struct {
	ID     string `json:"id"`
	State  string `json:"state"` // queued, dreaming, completed, failed
	Assets struct {
		Video string `json:"video"`
	} `json:"assets"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// ToNative implements Adapter.
func (a *LumaAdapter) ToNative(req contract.UnifiedRequest) (NativeRequest, error) {
	body, err := json.Marshal(lumaSubmitPayload{Model: req.Model, Prompt: req.Prompt})
	if err != nil {
		return NativeRequest{}, fmt.Errorf("marshaling luma submit payload: %w", err)
	}
	return NativeRequest{
		Method:  "POST",
		URL:     a.BaseURL + "/generations",
		Headers: map[string]string{"Authorization": "Bearer " + a.APIKey, "Content-Type": "application/json"},
		Body:    body,
	}, nil
}

// FromNative implements Adapter.
func (a *LumaAdapter) FromNative(raw []byte, req contract.UnifiedRequest) (contract.UnifiedResponse, error) {
	var gen lumaGeneration
	if err := json.Unmarshal(raw, &gen); err != nil {
		return contract.UnifiedResponse{}, fmt.Errorf("decoding luma generation: %w", err)
	}
	if gen.State == "failed" {
		return contract.UnifiedResponse{
			Status: contract.StatusFailed,
			Error: &contract.ErrorDetails{
				Code:      contract.ErrProviderError,
				Message:   gen.FailureReason,
				Provider:  a.ProviderName,
				Retryable: true,
				Timestamp: time.Now().UTC(),
			},
		}, nil
	}
	return contract.UnifiedResponse{Status: contract.StatusSuccess, Result: map[string]any{"urls": []string{gen.Assets.Video}}}, nil
}

// ClassifyTransportError implements Adapter.
func (a *LumaAdapter) ClassifyTransportError(status int, body []byte, err error) contract.ErrorDetails {
	return classifyCommon(a.ProviderName, status, body, err)
}

// HealthCheck implements Adapter.
func (a *LumaAdapter) HealthCheck(ctx context.Context) bool { return true }

// Submit implements PollingAdapter.
func (a *LumaAdapter) Submit(ctx context.Context, t Transport, req contract.UnifiedRequest) (string, error) {
	native, err := a.ToNative(req)
	if err != nil {
		return "", err
	}
	status, _, body, err := t.Do(ctx, native.Method, native.URL, native.Headers, native.Body)
	if err != nil {
		return "", err
	}
	if status >= 300 {
		return "", fmt.Errorf("luma submit returned status %d: %s", status, string(body))
	}
	var gen lumaGeneration
	if err := json.Unmarshal(body, &gen); err != nil {
		return "", fmt.Errorf("decoding luma submit response: %w", err)
	}
	return gen.ID, nil
}

// Poll implements PollingAdapter.
func (a *LumaAdapter) Poll(ctx context.Context, t Transport, jobID string) (bool, []byte, error) {
	status, _, body, err := t.Do(ctx, "GET", a.BaseURL+"/generations/"+jobID, map[string]string{"Authorization": "Bearer " + a.APIKey}, nil)
	if err != nil {
		return false, nil, err
	}
	if status >= 300 {
		return false, nil, fmt.Errorf("luma poll returned status %d: %s", status, string(body))
	}
	var gen lumaGeneration
	if err := json.Unmarshal(body, &gen); err != nil {
		return false, nil, fmt.Errorf("decoding luma poll response: %w", err)
	}
	switch gen.State {
	case "completed", "failed":
		return true, body, nil
	default:
		return false, nil, nil
	}
}

// PollInterval implements PollingAdapter.
func (a *LumaAdapter) PollInterval() time.Duration { return 3 * time.Second }

var _ Adapter = (*LumaAdapter)(nil)
var _ PollingAdapter = (*LumaAdapter)(nil)
