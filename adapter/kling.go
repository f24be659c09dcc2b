package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ferro-labs/videoforge/contract"
)

var klingModels = map[string]bool{
	"kling-v1":    true,
	"kling-v1-5":  true,
	"kling-v2":    true,
}

// KlingAdapter integrates Kuaishou's Kling video generation API.
type KlingAdapter struct {
	Base
}

// NewKlingAdapter constructs the Kling adapter.
func NewKlingAdapter(apiKey, baseURL string) *KlingAdapter {
	if baseURL == "" {
		baseURL = "https://api.klingai.com/v1"
	}
	return &KlingAdapter{Base{
		ProviderName: "kling",
		APIKey:       apiKey,
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Caps: contract.ProviderCapabilities{
			MaxResolutionWidth:  1920,
			MaxResolutionHeight: 1080,
			SupportedFormats:    []contract.MediaType{contract.MediaVideo, contract.MediaImage},
			MaxDurationSeconds:  10,
			RateLimitPerMinute:  20,
			Features: map[string]bool{
				contract.FeatureImageToImage: true,
			},
		},
	}}
}

// Validate implements Adapter.
func (a *KlingAdapter) Validate(req contract.UnifiedRequest) *contract.ErrorDetails {
	if d := a.ValidateCommon(req); d != nil {
		return d
	}
	if !klingModels[req.Model] {
		return &contract.ErrorDetails{
			Code:      contract.ErrInvalidModel,
			Message:   fmt.Sprintf("kling does not recognize model %q", req.Model),
			Provider:  a.ProviderName,
			Details:   map[string]any{"field": "model"},
			Timestamp: time.Now().UTC(),
		}
	}
	return nil
}

type klingSubmitPayload struct {
	ModelName string `json:"model_name"`
	Prompt    string `json:"prompt"`
}

type klingTask struct {
	TaskID     string `json:"task_id"`
	TaskStatus string `json:"task_status"` // submitted, processing, succeed, failed
	TaskResult struct {
		Videos []struct {
			URL string `json:"url"`
		} `json:"videos"`
	} `json:"task_result"`
	TaskStatusMsg string `json:"task_status_msg,omitempty"`
}

// ToNative implements Adapter.
func (a *KlingAdapter) ToNative(req contract.UnifiedRequest) (NativeRequest, error) {
	body, err := json.Marshal(klingSubmitPayload{ModelName: req.Model, Prompt: req.Prompt})
	if err != nil {
		return NativeRequest{}, fmt.Errorf("marshaling kling submit payload: %w", err)
	}
	return NativeRequest{
		Method:  "POST",
		URL:     a.BaseURL + "/videos/text2video",
		Headers: map[string]string{"Authorization": "Bearer " + a.APIKey, "Content-Type": "application/json"},
		Body:    body,
	}, nil
}

// FromNative implements Adapter.
func (a *KlingAdapter) FromNative(raw []byte, req contract.UnifiedRequest) (contract.UnifiedResponse, error) {
	var task klingTask
	if err := json.Unmarshal(raw, &task); err != nil {
		return contract.UnifiedResponse{}, fmt.Errorf("decoding kling task: %w", err)
	}
	if task.TaskStatus == "failed" {
		return contract.UnifiedResponse{
			Status: contract.StatusFailed,
			Error: &contract.ErrorDetails{
				Code:      contract.ErrProviderError,
				Message:   task.TaskStatusMsg,
				Provider:  a.ProviderName,
				Retryable: true,
				Timestamp: time.Now().UTC(),
			},
		}, nil
	}
	urls := make([]string, 0, len(task.TaskResult.Videos))
	for _, v := range task.TaskResult.Videos {
		urls = append(urls, v.URL)
	}
	return contract.UnifiedResponse{Status: contract.StatusSuccess, Result: map[string]any{"urls": urls}}, nil
}

// ClassifyTransportError implements Adapter.
func (a *KlingAdapter) ClassifyTransportError(status int, body []byte, err error) contract.ErrorDetails {
	return classifyCommon(a.ProviderName, status, body, err)
}

// HealthCheck implements Adapter.
func (a *KlingAdapter) HealthCheck(ctx context.Context) bool { return true }

// Submit implements PollingAdapter.
func (a *KlingAdapter) Submit(ctx context.Context, t Transport, req contract.UnifiedRequest) (string, error) {
	native, err := a.ToNative(req)
	if err != nil {
		return "", err
	}
	status, _, body, err := t.Do(ctx, native.Method, native.URL, native.Headers, native.Body)
	if err != nil {
		return "", err
	}
	if status >= 300 {
		return "", fmt.Errorf("kling submit returned status %d: %s", status, string(body))
	}
	var task klingTask
	if err := json.Unmarshal(body, &task); err != nil {
		return "", fmt.Errorf("decoding kling submit response: %w", err)
	}
	return task.TaskID, nil
}

// Poll implements PollingAdapter.
func (a *KlingAdapter) Poll(ctx context.Context, t Transport, jobID string) (bool, []byte, error) {
	status, _, body, err := t.Do(ctx, "GET", a.BaseURL+"/videos/text2video/"+jobID, map[string]string{"Authorization": "Bearer " + a.APIKey}, nil)
	if err != nil {
		return false, nil, err
	}
	if status >= 300 {
		return false, nil, fmt.Errorf("kling poll returned status %d: %s", status, string(body))
	}
	var task klingTask
	if err := json.Unmarshal(body, &task); err != nil {
		return false, nil, fmt.Errorf("decoding kling poll response: %w", err)
	}
	switch task.TaskStatus {
	case "succeed", "failed":
		return true, body, nil
	default:
		return false, nil, nil
	}
}

// PollInterval implements PollingAdapter.
func (a *KlingAdapter) PollInterval() time.Duration { return 4 * time.Second }

var _ Adapter = (*KlingAdapter)(nil)
var _ PollingAdapter = (*KlingAdapter)(nil)
