package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ferro-labs/videoforge/contract"
)

// soraModels lists the model IDs this adapter accepts in
// UnifiedRequest.Model.
var soraModels = map[string]bool{
	"sora-2":     true,
	"sora-2-pro": true,
	"sora-turbo": true,
}

// SoraAdapter integrates OpenAI's Sora video generation API. Like every
// provider videoforge targets, Sora's API is asynchronous: a generation
// job is created, then polled until it reports succeeded or failed.
type SoraAdapter struct {
	Base
	httpTransport Transport
	params        *ParameterSchema
}

// soraParamSchema constrains the parameters Sora's /videos endpoint
// actually accepts: size must be one of the resolutions Sora documents,
// and seconds must fall within its published 1-20s range.
const soraParamSchema = `{
	"type": "object",
	"properties": {
		"duration_s": {"type": "number", "minimum": 1, "maximum": 20},
		"size": {"type": "string", "enum": ["720x1280", "1280x720", "1024x1792", "1792x1024"]}
	}
}`

// NewSoraAdapter constructs the Sora adapter with its static capabilities.
func NewSoraAdapter(apiKey, baseURL string) *SoraAdapter {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	params, err := NewParameterSchema(soraParamSchema)
	if err != nil {
		// soraParamSchema is a fixed, compile-time-known document; a
		// failure here means the schema itself is broken, not the
		// request — fail loud rather than silently skip validation.
		panic("adapter: invalid sora parameter schema: " + err.Error())
	}
	return &SoraAdapter{
		Base: Base{
			ProviderName: "sora",
			APIKey:       apiKey,
			BaseURL:      strings.TrimRight(baseURL, "/"),
			Caps: contract.ProviderCapabilities{
				MaxResolutionWidth:  1920,
				MaxResolutionHeight: 1080,
				SupportedFormats:    []contract.MediaType{contract.MediaVideo, contract.MediaImage},
				MaxDurationSeconds:  20,
				SupportsBatch:       false,
				SupportsStreaming:   false,
				RateLimitPerMinute:  30,
				Features: map[string]bool{
					contract.FeatureTextToImage:  true,
					contract.FeatureImageToImage: true,
				},
			},
		},
		params: params,
	}
}

// Validate implements Adapter.
func (a *SoraAdapter) Validate(req contract.UnifiedRequest) *contract.ErrorDetails {
	if d := a.ValidateCommon(req); d != nil {
		return d
	}
	if !soraModels[req.Model] {
		return &contract.ErrorDetails{
			Code:      contract.ErrInvalidModel,
			Message:   fmt.Sprintf("sora does not recognize model %q", req.Model),
			Provider:  a.ProviderName,
			Retryable: false,
			Details:   map[string]any{"field": "model"},
			Timestamp: time.Now().UTC(),
		}
	}
	if len(req.Parameters) > 0 {
		if d := a.params.Validate(a.ProviderName, req.Parameters); d != nil {
			return d
		}
	}
	return nil
}

type soraSubmitPayload struct {
	Model    string  `json:"model"`
	Prompt   string  `json:"prompt"`
	Seconds  float64 `json:"seconds,omitempty"`
	Size     string  `json:"size,omitempty"`
}

type soraJobResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"` // queued, in_progress, completed, failed
	Error    string `json:"error,omitempty"`
	Video    struct {
		URL string `json:"url"`
	} `json:"video"`
}

// ToNative implements Adapter: builds the initial job-submission request.
func (a *SoraAdapter) ToNative(req contract.UnifiedRequest) (NativeRequest, error) {
	payload := soraSubmitPayload{Model: req.Model, Prompt: req.Prompt}
	if d, ok := req.Parameters["duration_s"].(float64); ok {
		payload.Seconds = d
	}
	if size, ok := req.Parameters["size"].(string); ok {
		payload.Size = size
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return NativeRequest{}, fmt.Errorf("marshaling sora submit payload: %w", err)
	}
	return NativeRequest{
		Method: "POST",
		URL:    a.BaseURL + "/videos",
		Headers: map[string]string{
			"Authorization": "Bearer " + a.APIKey,
			"Content-Type":  "application/json",
		},
		Body: body,
	}, nil
}

// FromNative implements Adapter: parses a terminal job response.
func (a *SoraAdapter) FromNative(raw []byte, req contract.UnifiedRequest) (contract.UnifiedResponse, error) {
	var job soraJobResponse
	if err := json.Unmarshal(raw, &job); err != nil {
		return contract.UnifiedResponse{}, fmt.Errorf("decoding sora job response: %w", err)
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
	return contract.UnifiedResponse{
		Status: contract.StatusSuccess,
		Result: map[string]any{"urls": []string{job.Video.URL}},
	}, nil
}

// ClassifyTransportError implements Adapter.
func (a *SoraAdapter) ClassifyTransportError(status int, body []byte, err error) contract.ErrorDetails {
	return classifyCommon(a.ProviderName, status, body, err)
}

// HealthCheck implements Adapter.
func (a *SoraAdapter) HealthCheck(ctx context.Context) bool {
	if a.httpTransport == nil {
		return true
	}
	status, _, _, err := a.httpTransport.Do(ctx, "GET", a.BaseURL+"/models/"+soraHealthModel, map[string]string{
		"Authorization": "Bearer " + a.APIKey,
	}, nil)
	return err == nil && status < 500
}

const soraHealthModel = "sora-2"

// Submit implements PollingAdapter.
func (a *SoraAdapter) Submit(ctx context.Context, t Transport, req contract.UnifiedRequest) (string, error) {
	native, err := a.ToNative(req)
	if err != nil {
		return "", err
	}
	status, _, body, err := t.Do(ctx, native.Method, native.URL, native.Headers, native.Body)
	if err != nil {
		return "", err
	}
	if status >= 300 {
		return "", fmt.Errorf("sora submit returned status %d: %s", status, string(body))
	}
	var job soraJobResponse
	if err := json.Unmarshal(body, &job); err != nil {
		return "", fmt.Errorf("decoding sora submit response: %w", err)
	}
	return job.ID, nil
}

// Poll implements PollingAdapter.
func (a *SoraAdapter) Poll(ctx context.Context, t Transport, jobID string) (bool, []byte, error) {
	status, _, body, err := t.Do(ctx, "GET", a.BaseURL+"/videos/"+jobID, map[string]string{
		"Authorization": "Bearer " + a.APIKey,
	}, nil)
	if err != nil {
		return false, nil, err
	}
	if status >= 300 {
		return false, nil, fmt.Errorf("sora poll returned status %d: %s", status, string(body))
	}
	var job soraJobResponse
	if err := json.Unmarshal(body, &job); err != nil {
		return false, nil, fmt.Errorf("decoding sora poll response: %w", err)
	}
	switch job.Status {
	case "completed", "failed":
		return true, body, nil
	default:
		return false, nil, nil
	}
}

// PollInterval implements PollingAdapter.
func (a *SoraAdapter) PollInterval() time.Duration { return 2 * time.Second }

var _ Adapter = (*SoraAdapter)(nil)
var _ PollingAdapter = (*SoraAdapter)(nil)
