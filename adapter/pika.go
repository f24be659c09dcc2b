package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ferro-labs/videoforge/contract"
)

var pikaModels = map[string]bool{
	"pika-1.5": true,
	"pika-2.0": true,
	"pika-2.1": true,
}

// PikaAdapter integrates Pika Labs' video generation API.
type PikaAdapter struct {
	Base
}

// NewPikaAdapter constructs the Pika adapter.
func NewPikaAdapter(apiKey, baseURL string) *PikaAdapter {
	if baseURL == "" {
		baseURL = "https://api.pika.art/v1"
	}
	return &PikaAdapter{Base{
		ProviderName: "pika",
		APIKey:       apiKey,
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Caps: contract.ProviderCapabilities{
			MaxResolutionWidth:  1280,
			MaxResolutionHeight: 720,
			SupportedFormats:    []contract.MediaType{contract.MediaVideo, contract.MediaImage},
			MaxDurationSeconds:  8,
			RateLimitPerMinute:  60,
			Features: map[string]bool{
				contract.FeatureImageToImage: true,
				contract.FeatureAudioSync:    true,
			},
		},
	}}
}

// Validate implements Adapter.
func (a *PikaAdapter) Validate(req contract.UnifiedRequest) *contract.ErrorDetails {
	if d := a.ValidateCommon(req); d != nil {
		return d
	}
	if !pikaModels[req.Model] {
		return &contract.ErrorDetails{
			Code:      contract.ErrInvalidModel,
			Message:   fmt.Sprintf("pika does not recognize model %q", req.Model),
			Provider:  a.ProviderName,
			Details:   map[string]any{"field": "model"},
			Timestamp: time.Now().UTC(),
		}
	}
	return nil
}

type pikaSubmitPayload struct {
	Model          string `json:"model"`
	PromptText     string `json:"promptText"`
}

type pikaJob struct {
	ID       string `json:"id"`
	Status   string `json:"status"` // queued, processing, finished, failed
	Videos   []struct {
		ResultURL string `json:"resultUrl"`
	} `json:"videos"`
	Error string `json:"error,omitempty"`
}

// ToNative implements Adapter.
func (a *PikaAdapter) ToNative(req contract.UnifiedRequest) (NativeRequest, error) {
	body, err := json.Marshal(pikaSubmitPayload{Model: req.Model, PromptText: req.Prompt})
	if err != nil {
		return NativeRequest{}, fmt.Errorf("marshaling pika submit payload: %w", err)
	}
	return NativeRequest{
		Method:  "POST",
		URL:     a.BaseURL + "/generate",
		Headers: map[string]string{"Authorization": "Bearer " + a.APIKey, "Content-Type": "application/json"},
		Body:    body,
	}, nil
}

// FromNative implements Adapter.
func (a *PikaAdapter) FromNative(raw []byte, req contract.UnifiedRequest) (contract.UnifiedResponse, error) {
	var job pikaJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return contract.UnifiedResponse{}, fmt.Errorf("decoding pika job: %w", err)
	}
	if job.Status == "failed" {
		return contract.UnifiedResponse{
			Status: contract.StatusFailed,
			Error: &contract.ErrorDetails{
				Code:      contract.ErrProviderError,
				Message:   job.Error,
				Provider:  a.ProviderName,
				Retryable: true,
				Timestamp: time.Now().UTC(),
			},
		}, nil
	}
	urls := make([]string, 0, len(job.Videos))
	for _, v := range job.Videos {
		urls = append(urls, v.ResultURL)
	}
	return contract.UnifiedResponse{Status: contract.StatusSuccess, Result: map[string]any{"urls": urls}}, nil
}

// ClassifyTransportError implements Adapter.
func (a *PikaAdapter) ClassifyTransportError(status int, body []byte, err error) contract.ErrorDetails {
	return classifyCommon(a.ProviderName, status, body, err)
}

// HealthCheck implements Adapter.
func (a *PikaAdapter) HealthCheck(ctx context.Context) bool { return true }

// Submit implements PollingAdapter.
func (a *PikaAdapter) Submit(ctx context.Context, t Transport, req contract.UnifiedRequest) (string, error) {
	native, err := a.ToNative(req)
	if err != nil {
		return "", err
	}
	status, _, body, err := t.Do(ctx, native.Method, native.URL, native.Headers, native.Body)
	if err != nil {
		return "", err
	}
	if status >= 300 {
		return "", fmt.Errorf("pika submit returned status %d: %s", status, string(body))
	}
	var job pikaJob
	if err := json.Unmarshal(body, &job); err != nil {
		return "", fmt.Errorf("decoding pika submit response: %w", err)
	}
	return job.ID, nil
}

// Poll implements PollingAdapter.
func (a *PikaAdapter) Poll(ctx context.Context, t Transport, jobID string) (bool, []byte, error) {
	status, _, body, err := t.Do(ctx, "GET", a.BaseURL+"/jobs/"+jobID, map[string]string{"Authorization": "Bearer " + a.APIKey}, nil)
	if err != nil {
		return false, nil, err
	}
	if status >= 300 {
		return false, nil, fmt.Errorf("pika poll returned status %d: %s", status, string(body))
	}
	var job pikaJob
	if err := json.Unmarshal(body, &job); err != nil {
		return false, nil, fmt.Errorf("decoding pika poll response: %w", err)
	}
	switch job.Status {
	case "finished", "failed":
		return true, body, nil
	default:
		return false, nil, nil
	}
}

// PollInterval implements PollingAdapter.
func (a *PikaAdapter) PollInterval() time.Duration { return 3 * time.Second }

var _ Adapter = (*PikaAdapter)(nil)
var _ PollingAdapter = (*PikaAdapter)(nil)
