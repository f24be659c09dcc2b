package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/ferro-labs/videoforge/contract"
)

var veoModels = map[string]bool{
	"veo-2": true,
	"veo-3": true,
}

// VeoAdapter integrates Google's Veo video generation API. Veo uses
// OAuth2 client-credentials service auth rather than a static bearer
// token, so this adapter owns a token source and refreshes it as needed.
type VeoAdapter struct {
	Base

	mu          sync.Mutex
	tokenSource oauth2.TokenSource
}

// NewVeoAdapter constructs the Veo adapter. clientID/clientSecret/tokenURL
// configure the OAuth2 client-credentials flow used to mint bearer tokens.
func NewVeoAdapter(clientID, clientSecret, tokenURL, baseURL string) *VeoAdapter {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
	}
	return &VeoAdapter{
		Base: Base{
			ProviderName: "veo",
			BaseURL:      strings.TrimRight(baseURL, "/"),
			Caps: contract.ProviderCapabilities{
				MaxResolutionWidth:  3840,
				MaxResolutionHeight: 2160,
				SupportedFormats:    []contract.MediaType{contract.MediaVideo},
				MaxDurationSeconds:  60,
				SupportsBatch:       true,
				RateLimitPerMinute:  20,
				Features: map[string]bool{
					contract.FeatureImageToImage:         true,
					contract.FeatureCharacterConsistency: true,
				},
			},
		},
		tokenSource: cfg.TokenSource(context.Background()),
	}
}

func (a *VeoAdapter) bearerToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	tok, err := a.tokenSource.Token()
	if err != nil {
		return "", fmt.Errorf("refreshing veo oauth2 token: %w", err)
	}
	return tok.AccessToken, nil
}

// Validate implements Adapter.
func (a *VeoAdapter) Validate(req contract.UnifiedRequest) *contract.ErrorDetails {
	if d := a.ValidateCommon(req); d != nil {
		return d
	}
	if !veoModels[req.Model] {
		return &contract.ErrorDetails{
			Code:      contract.ErrInvalidModel,
			Message:   fmt.Sprintf("veo does not recognize model %q", req.Model),
			Provider:  a.ProviderName,
			Retryable: false,
			Details:   map[string]any{"field": "model"},
			Timestamp: time.Now().UTC(),
		}
	}
	return nil
}

type veoSubmitPayload struct {
	Model             string         `json:"model"`
	Prompt            string         `json:"prompt"`
	GenerationConfig  map[string]any `json:"generationConfig,omitempty"`
}

type veoOperation struct {
	Name     string `json:"name"`
	Done     bool   `json:"done"`
	Response struct {
		Videos []struct {
			URI string `json:"uri"`
		} `json:"videos"`
	} `json:"response"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ToNative implements Adapter.
func (a *VeoAdapter) ToNative(req contract.UnifiedRequest) (NativeRequest, error) {
	payload := veoSubmitPayload{Model: req.Model, Prompt: req.Prompt}
	if cfg, ok := req.Parameters["generation_config"].(map[string]any); ok {
		payload.GenerationConfig = cfg
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return NativeRequest{}, fmt.Errorf("marshaling veo submit payload: %w", err)
	}
	token, err := a.bearerToken(context.Background())
	if err != nil {
		return NativeRequest{}, err
	}
	return NativeRequest{
		Method: "POST",
		URL:    fmt.Sprintf("%s/models/%s:predictLongRunning", a.BaseURL, req.Model),
		Headers: map[string]string{
			"Authorization": "Bearer " + token,
			"Content-Type":  "application/json",
		},
		Body: body,
	}, nil
}

// FromNative implements Adapter.
func (a *VeoAdapter) FromNative(raw []byte, req contract.UnifiedRequest) (contract.UnifiedResponse, error) {
	var op veoOperation
	if err := json.Unmarshal(raw, &op); err != nil {
		return contract.UnifiedResponse{}, fmt.Errorf("decoding veo operation: %w", err)
	}
	if op.Error != nil {
		return contract.UnifiedResponse{
			Status: contract.StatusFailed,
			Error: &contract.ErrorDetails{
				Code:      contract.ErrProviderError,
				Message:   op.Error.Message,
				Provider:  a.ProviderName,
				Retryable: true,
				Timestamp: time.Now().UTC(),
			},
		}, nil
	}
	urls := make([]string, 0, len(op.Response.Videos))
	for _, v := range op.Response.Videos {
		urls = append(urls, v.URI)
	}
	return contract.UnifiedResponse{
		Status: contract.StatusSuccess,
		Result: map[string]any{"urls": urls},
	}, nil
}

// ClassifyTransportError implements Adapter.
func (a *VeoAdapter) ClassifyTransportError(status int, body []byte, err error) contract.ErrorDetails {
	return classifyCommon(a.ProviderName, status, body, err)
}

// HealthCheck implements Adapter.
func (a *VeoAdapter) HealthCheck(ctx context.Context) bool {
	_, err := a.bearerToken(ctx)
	return err == nil
}

// Submit implements PollingAdapter: starts Veo's long-running operation.
func (a *VeoAdapter) Submit(ctx context.Context, t Transport, req contract.UnifiedRequest) (string, error) {
	native, err := a.ToNative(req)
	if err != nil {
		return "", err
	}
	status, _, body, err := t.Do(ctx, native.Method, native.URL, native.Headers, native.Body)
	if err != nil {
		return "", err
	}
	if status >= 300 {
		return "", fmt.Errorf("veo submit returned status %d: %s", status, string(body))
	}
	var op veoOperation
	if err := json.Unmarshal(body, &op); err != nil {
		return "", fmt.Errorf("decoding veo submit response: %w", err)
	}
	return op.Name, nil
}

// Poll implements PollingAdapter: fetches the long-running operation.
func (a *VeoAdapter) Poll(ctx context.Context, t Transport, jobID string) (bool, []byte, error) {
	token, err := a.bearerToken(ctx)
	if err != nil {
		return false, nil, err
	}
	status, _, body, err := t.Do(ctx, "GET", a.BaseURL+"/"+jobID, map[string]string{
		"Authorization": "Bearer " + token,
	}, nil)
	if err != nil {
		return false, nil, err
	}
	if status >= 300 {
		return false, nil, fmt.Errorf("veo poll returned status %d: %s", status, string(body))
	}
	var op veoOperation
	if err := json.Unmarshal(body, &op); err != nil {
		return false, nil, fmt.Errorf("decoding veo poll response: %w", err)
	}
	return op.Done, body, nil
}

// PollInterval implements PollingAdapter.
func (a *VeoAdapter) PollInterval() time.Duration { return 5 * time.Second }

type veoModelList struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// DiscoverModels implements DiscoveryAdapter: it lists every model the
// Generative Language API currently exposes and returns the bare model
// IDs (the "models/" prefix stripped), so a refreshed name like "veo-4"
// becomes visible to the router without a code change.
func (a *VeoAdapter) DiscoverModels(ctx context.Context, t Transport) ([]string, error) {
	token, err := a.bearerToken(ctx)
	if err != nil {
		return nil, err
	}
	status, _, body, err := t.Do(ctx, "GET", a.BaseURL+"/models", map[string]string{
		"Authorization": "Bearer " + token,
	}, nil)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("veo list models returned status %d: %s", status, string(body))
	}
	var list veoModelList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decoding veo model list: %w", err)
	}
	names := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		names = append(names, strings.TrimPrefix(m.Name, "models/"))
	}
	return names, nil
}

var _ Adapter = (*VeoAdapter)(nil)
var _ PollingAdapter = (*VeoAdapter)(nil)
var _ DiscoveryAdapter = (*VeoAdapter)(nil)
