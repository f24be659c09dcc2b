package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ferro-labs/videoforge/contract"
)

var runwayModels = map[string]bool{
	"gen-3-alpha":       true,
	"gen-3-alpha-turbo": true,
	"gen-4":             true,
}

// RunwayAdapter integrates Runway's Gen-series video models.
type RunwayAdapter struct {
	Base
}

// NewRunwayAdapter constructs the Runway adapter.
func NewRunwayAdapter(apiKey, baseURL string) *RunwayAdapter {
	if baseURL == "" {
		baseURL = "https://api.dev.runwayml.com/v1"
	}
	return &RunwayAdapter{Base{
		ProviderName: "runway",
		APIKey:       apiKey,
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Caps: contract.ProviderCapabilities{
			MaxResolutionWidth:  1280,
			MaxResolutionHeight: 768,
			SupportedFormats:    []contract.MediaType{contract.MediaVideo, contract.MediaImage},
			MaxDurationSeconds:  10,
			RateLimitPerMinute:  40,
			Features: map[string]bool{
				contract.FeatureImageToImage:    true,
				contract.FeatureKeyframeControl: true,
			},
		},
	}}
}

// Validate implements Adapter.
func (a *RunwayAdapter) Validate(req contract.UnifiedRequest) *contract.ErrorDetails {
	if d := a.ValidateCommon(req); d != nil {
		return d
	}
	if !runwayModels[req.Model] {
		return &contract.ErrorDetails{
			Code:      contract.ErrInvalidModel,
			Message:   fmt.Sprintf("runway does not recognize model %q", req.Model),
			Provider:  a.ProviderName,
			Details:   map[string]any{"field": "model"},
			Timestamp: time.Now().UTC(),
		}
	}
	return nil
}

type runwaySubmitPayload struct {
	Model     string `json:"model"`
	PromptTxt string `json:"promptText"`
	Duration  int    `json:"duration,omitempty"`
}

type runwayTask struct {
	ID     string `json:"id"`
	Status string `json:"status"` // PENDING, RUNNING, SUCCEEDED, FAILED
	Output []string `json:"output"`
	Failure string `json:"failure,omitempty"`
}

// ToNative implements Adapter.
func (a *RunwayAdapter) ToNative(req contract.UnifiedRequest) (NativeRequest, error) {
	payload := runwaySubmitPayload{Model: req.Model, PromptTxt: req.Prompt}
	if d, ok := req.Parameters["duration_s"].(float64); ok {
		payload.Duration = int(d)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return NativeRequest{}, fmt.Errorf("marshaling runway submit payload: %w", err)
	}
	return NativeRequest{
		Method:  "POST",
		URL:     a.BaseURL + "/image_to_video",
		Headers: map[string]string{"Authorization": "Bearer " + a.APIKey, "Content-Type": "application/json"},
		Body:    body,
	}, nil
}

// FromNative implements Adapter.
func (a *RunwayAdapter) FromNative(raw []byte, req contract.UnifiedRequest) (contract.UnifiedResponse, error) {
	var task runwayTask
	if err := json.Unmarshal(raw, &task); err != nil {
		return contract.UnifiedResponse{}, fmt.Errorf("decoding runway task: %w", err)
	}
	if task.Status == "FAILED" {
		return contract.UnifiedResponse{
			Status: contract.StatusFailed,
			Error: &contract.ErrorDetails{
				Code:      contract.ErrProviderError,
				Message:   task.Failure,
				Provider:  a.ProviderName,
				Retryable: true,
				Timestamp: time.Now().UTC(),
			},
		}, nil
	}
	return contract.UnifiedResponse{Status: contract.StatusSuccess, Result: map[string]any{"urls": task.Output}}, nil
}

// ClassifyTransportError implements Adapter.
func (a *RunwayAdapter) ClassifyTransportError(status int, body []byte, err error) contract.ErrorDetails {
	return classifyCommon(a.ProviderName, status, body, err)
}

// HealthCheck implements Adapter.
func (a *RunwayAdapter) HealthCheck(ctx context.Context) bool { return true }

// Submit implements PollingAdapter.
func (a *RunwayAdapter) Submit(ctx context.Context, t Transport, req contract.UnifiedRequest) (string, error) {
	native, err := a.ToNative(req)
	if err != nil {
		return "", err
	}
	status, _, body, err := t.Do(ctx, native.Method, native.URL, native.Headers, native.Body)
	if err != nil {
		return "", err
	}
	if status >= 300 {
		return "", fmt.Errorf("runway submit returned status %d: %s", status, string(body))
	}
	var task runwayTask
	if err := json.Unmarshal(body, &task); err != nil {
		return "", fmt.Errorf("decoding runway submit response: %w", err)
	}
	return task.ID, nil
}

// Poll implements PollingAdapter.
func (a *RunwayAdapter) Poll(ctx context.Context, t Transport, jobID string) (bool, []byte, error) {
	status, _, body, err := t.Do(ctx, "GET", a.BaseURL+"/tasks/"+jobID, map[string]string{"Authorization": "Bearer " + a.APIKey}, nil)
	if err != nil {
		return false, nil, err
	}
	if status >= 300 {
		return false, nil, fmt.Errorf("runway poll returned status %d: %s", status, string(body))
	}
	var task runwayTask
	if err := json.Unmarshal(body, &task); err != nil {
		return false, nil, fmt.Errorf("decoding runway poll response: %w", err)
	}
	switch task.Status {
	case "SUCCEEDED", "FAILED":
		return true, body, nil
	default:
		return false, nil, nil
	}
}

// PollInterval implements PollingAdapter.
func (a *RunwayAdapter) PollInterval() time.Duration { return 3 * time.Second }

var _ Adapter = (*RunwayAdapter)(nil)
var _ PollingAdapter = (*RunwayAdapter)(nil)
