// Package adapter defines the stateless per-provider translator contract
// and the seven concrete video-generation adapters that implement it.
// Adapters never retry, never touch the cache, and never mutate
// router-owned state — they only know how to translate one UnifiedRequest
// into one provider-native call and back.
package adapter

import (
	"context"
	"time"

	"github.com/ferro-labs/videoforge/contract"
)

// Transport is the injected HTTP collaborator every adapter is built
// against. The core never references a concrete HTTP client so adapters
// stay trivially testable with a fake.
type Transport interface {
	Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (status int, respHeaders map[string]string, respBody []byte, err error)
}

// Adapter is the contract every provider integration implements.
type Adapter interface {
	// Name returns the provider's registration name (e.g. "veo", "sora").
	Name() string

	// Capabilities returns the adapter's static, never-changing
	// description of what it can serve.
	Capabilities() contract.ProviderCapabilities

	// Validate rejects a request before any network call on known-bad
	// combinations (unsupported format, duration too long, unknown
	// model). A nil return means the request is acceptable to attempt.
	Validate(req contract.UnifiedRequest) *contract.ErrorDetails

	// ToNative translates req into the provider's native submission
	// payload (method, URL, headers, body) ready for Transport.Do.
	ToNative(req contract.UnifiedRequest) (NativeRequest, error)

	// FromNative translates a provider-native response back into a
	// UnifiedResponse. It does not set RequestID/SchemaVersion/Provider —
	// the router fills those in from req so adapters need not repeat them.
	FromNative(raw []byte, req contract.UnifiedRequest) (contract.UnifiedResponse, error)

	// ClassifyTransportError maps a transport-layer failure (non-2xx
	// status, or err from Transport.Do itself) into the closed ErrorCode
	// set. Non-HTTP transport errors become network_error or timeout.
	ClassifyTransportError(status int, body []byte, err error) contract.ErrorDetails

	// HealthCheck performs a lightweight call used by the circuit
	// breaker's half-open probe.
	HealthCheck(ctx context.Context) bool
}

// NativeRequest is the provider-native submission an adapter's ToNative
// produces. The router hands this to Transport.Do verbatim.
type NativeRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// PollingAdapter is an optional extension for providers whose API is
// asynchronous (submit a job, poll until done) rather than synchronous —
// the shape every one of videoforge's seven named providers actually uses.
type PollingAdapter interface {
	Adapter

	// Submit issues the initial generation request and returns a
	// provider job ID to poll.
	Submit(ctx context.Context, t Transport, req contract.UnifiedRequest) (jobID string, err error)

	// Poll checks job status once. done is true once the job has
	// reached a terminal state (succeeded or failed); result/err are
	// only meaningful when done is true.
	Poll(ctx context.Context, t Transport, jobID string) (done bool, result []byte, err error)

	// PollInterval is the delay between successive Poll calls.
	PollInterval() time.Duration
}

// DiscoveryAdapter is an optional extension for providers that can
// enumerate their available models live.
type DiscoveryAdapter interface {
	Adapter
	DiscoverModels(ctx context.Context, t Transport) ([]string, error)
}

// Base provides the common fields and methods shared by REST-based
// adapters.
type Base struct {
	ProviderName string
	APIKey       string
	BaseURL      string
	Caps         contract.ProviderCapabilities
}

// Name implements Adapter.
func (b Base) Name() string { return b.ProviderName }

// Capabilities implements Adapter.
func (b Base) Capabilities() contract.ProviderCapabilities { return b.Caps }

// ValidateCommon applies the capability checks shared by every adapter:
// media format support and max duration. Per-provider adapters call this
// first, then layer their own model/parameter checks on top.
func (b Base) ValidateCommon(req contract.UnifiedRequest) *contract.ErrorDetails {
	if !b.Caps.SupportsFormat(req.MediaType) {
		return &contract.ErrorDetails{
			Code:      contract.ErrInvalidRequest,
			Message:   "provider does not support media_type " + string(req.MediaType),
			Provider:  b.ProviderName,
			Retryable: false,
			Details:   map[string]any{"field": "media_type"},
			Timestamp: time.Now().UTC(),
		}
	}
	if d, ok := req.Parameters["duration_s"]; ok {
		if durationExceeds(d, b.Caps.MaxDurationSeconds) {
			return &contract.ErrorDetails{
				Code:      contract.ErrInvalidRequest,
				Message:   "requested duration exceeds provider maximum",
				Provider:  b.ProviderName,
				Retryable: false,
				Details:   map[string]any{"field": "duration_s"},
				Timestamp: time.Now().UTC(),
			}
		}
	}
	return nil
}

func durationExceeds(v any, max float64) bool {
	switch n := v.(type) {
	case float64:
		return n > max
	case int:
		return float64(n) > max
	case int64:
		return float64(n) > max
	default:
		return false
	}
}

// ClassifyHTTPStatus maps a raw HTTP status code to the closed ErrorCode
// set, the portion of ClassifyTransportError shared by every adapter. The
// response body is not inspected; no adapter adds provider-specific
// error-code mapping on top of this.
func ClassifyHTTPStatus(status int) contract.ErrorCode {
	switch {
	case status == 401 || status == 403:
		return contract.ErrAuthenticationFailed
	case status == 402:
		return contract.ErrInsufficientCredits
	case status == 404 || status == 422:
		return contract.ErrInvalidModel
	case status == 429:
		return contract.ErrRateLimitExceeded
	case status == 400:
		return contract.ErrInvalidRequest
	case status >= 500:
		return contract.ErrProviderError
	case status == 0:
		return contract.ErrNetworkError
	default:
		return contract.ErrUnknown
	}
}
