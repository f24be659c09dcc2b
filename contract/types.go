// Package contract defines the provider-agnostic request/response envelope
// used across the videoforge orchestration core, its closed error taxonomy,
// and schema versioning between the wire formats callers may submit.
//
// UnifiedRequest and UnifiedResponse are the only shapes that cross the
// core's boundary (see Parse and Serialize in migrate.go); every other
// package in this module operates on the v2.0 in-memory shape defined here.
package contract

import (
	"fmt"
	"time"
)

// SchemaVersion identifies the wire-format version a caller used.
type SchemaVersion string

// Supported schema versions. The core always operates internally on V2,
// migrating older versions up on entry and back down on exit.
const (
	V1_0 SchemaVersion = "1.0"
	V1_1 SchemaVersion = "1.1"
	V2_0 SchemaVersion = "2.0"
)

// Valid reports whether v is one of the three supported versions.
func (v SchemaVersion) Valid() bool {
	switch v {
	case V1_0, V1_1, V2_0:
		return true
	default:
		return false
	}
}

// MediaType enumerates the kind of artifact a request asks a provider to
// produce.
type MediaType string

// Supported media types.
const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
	MediaText  MediaType = "text"
)

// Status enumerates the terminal (or provisional) state of a routed call.
type Status string

// Supported response statuses.
const (
	StatusSuccess        Status = "success"
	StatusFailed         Status = "failed"
	StatusProcessing     Status = "processing"
	StatusPartialSuccess Status = "partial_success"
)

// ErrorCode is the closed set of error classifications every adapter must
// map transport outcomes into. Routing and retry decisions are made
// exclusively over this set, never over raw transport errors.
type ErrorCode string

// The closed ErrorCode set.
const (
	ErrInvalidRequest          ErrorCode = "invalid_request"
	ErrAuthenticationFailed    ErrorCode = "authentication_failed"
	ErrInsufficientCredits     ErrorCode = "insufficient_credits"
	ErrContentPolicyViolation ErrorCode = "content_policy_violation"
	ErrInvalidModel            ErrorCode = "invalid_model"
	ErrRateLimitExceeded       ErrorCode = "rate_limit_exceeded"
	ErrProviderError           ErrorCode = "provider_error"
	ErrTimeout                 ErrorCode = "timeout"
	ErrNetworkError            ErrorCode = "network_error"
	ErrUnknown                 ErrorCode = "unknown_error"
)

// nonRetryable is the set of error codes that must never contribute to
// retry attempts, breaker failure counts, or fallback decisions beyond the
// immediate candidate.
var nonRetryable = map[ErrorCode]bool{
	ErrInvalidRequest:          true,
	ErrAuthenticationFailed:    true,
	ErrInsufficientCredits:     true,
	ErrContentPolicyViolation: true,
	ErrInvalidModel:            true,
}

// Retryable reports whether an error of this code may be retried or
// failed-over. rate_limit_exceeded and provider_error/timeout/network_error
// are retryable; unknown_error is retryable, but the retry engine
// (retry.Next) retries it at most once, since its provenance is unclear.
func (c ErrorCode) Retryable() bool {
	return !nonRetryable[c]
}

// CountsAgainstBreaker reports whether a failure with this code should
// increment a circuit breaker's consecutive-failure counter. Only the
// "retryable" provider/network/timeout family degrades provider health;
// rate limiting and caller errors do not.
func (c ErrorCode) CountsAgainstBreaker() bool {
	switch c {
	case ErrProviderError, ErrTimeout, ErrNetworkError:
		return true
	default:
		return false
	}
}

// ErrorDetails carries a classified error back to the caller.
type ErrorDetails struct {
	Code          ErrorCode      `json:"code"`
	Message       string         `json:"message"`
	Provider      string         `json:"provider"`
	Retryable     bool           `json:"retryable"`
	RetryAfterMs  *int64         `json:"retry_after_ms,omitempty"`
	CorrelationID string         `json:"correlation_id"`
	Details       map[string]any `json:"details,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Error implements the error interface so ErrorDetails can be returned and
// wrapped like any other Go error.
func (e *ErrorDetails) Error() string {
	if e == nil {
		return "<nil error details>"
	}
	return fmt.Sprintf("%s: %s (provider=%s retryable=%t)", e.Code, e.Message, e.Provider, e.Retryable)
}

// RetryConfig bounds the retry engine for a single routed call.
type RetryConfig struct {
	MaxRetries  int `json:"max_retries"`
	BaseDelayMs int `json:"base_delay_ms"`
}

// DefaultRetryConfig returns the default retry budget of 3 retries (up to 4
// attempts in all) with a 1-second base delay.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelayMs: 1000}
}

// UnifiedRequest is one attempt against one provider for one artifact.
type UnifiedRequest struct {
	RequestID     string         `json:"request_id"`
	SchemaVersion SchemaVersion  `json:"schema_version"`
	Provider      string         `json:"provider"` // provider name, or "auto"
	Model         string         `json:"model"`
	Prompt        string         `json:"prompt"`
	MediaType     MediaType      `json:"media_type"`
	Parameters    map[string]any `json:"parameters"`
	Metadata      map[string]any `json:"metadata"`
	TimeoutMs     int            `json:"timeout_ms"`
	RetryConfig   RetryConfig    `json:"retry_config"`
	CallbackURL   *string        `json:"callback_url,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// AutoProvider is the sentinel provider value that asks the router to pick
// a candidate using its configured strategy rather than a fixed provider.
const AutoProvider = "auto"

// Validate checks the fields every adapter and the router both depend on
// being present before a request is ever dispatched.
func (r UnifiedRequest) Validate() error {
	if r.Prompt == "" {
		return &ErrorDetails{Code: ErrInvalidRequest, Message: "prompt must not be empty", Details: map[string]any{"field": "prompt"}}
	}
	if r.Model == "" {
		return &ErrorDetails{Code: ErrInvalidRequest, Message: "model must not be empty", Details: map[string]any{"field": "model"}}
	}
	if r.TimeoutMs <= 0 {
		return &ErrorDetails{Code: ErrInvalidRequest, Message: "timeout_ms must be positive", Details: map[string]any{"field": "timeout_ms"}}
	}
	switch r.MediaType {
	case MediaImage, MediaVideo, MediaAudio, MediaText:
	default:
		return &ErrorDetails{Code: ErrInvalidRequest, Message: "media_type must be one of image/video/audio/text", Details: map[string]any{"field": "media_type"}}
	}
	return nil
}

// ResponseMetadata carries routing-observable facts about how a response
// was produced — never used to drive routing decisions themselves.
type ResponseMetadata struct {
	Degraded     bool `json:"degraded"`
	Cached       bool `json:"cached"`
	Attempts     int  `json:"attempts"`
	FallbackUsed bool `json:"fallback_used"`
}

// UnifiedResponse is the result of one routed call.
type UnifiedResponse struct {
	RequestID        string            `json:"request_id"`
	SchemaVersion    SchemaVersion     `json:"schema_version"`
	Provider         string            `json:"provider"`
	Model            string            `json:"model"`
	Status           Status            `json:"status"`
	Result           map[string]any    `json:"result,omitempty"`
	Error            *ErrorDetails     `json:"error,omitempty"`
	Metadata         ResponseMetadata  `json:"metadata"`
	ProcessingTimeMs int64             `json:"processing_time_ms"`
	TokensUsed       *int64            `json:"tokens_used,omitempty"`
	Cost             *float64          `json:"cost,omitempty"`
}

// Validate checks that status, result, and error are mutually consistent.
func (r UnifiedResponse) Validate() error {
	switch r.Status {
	case StatusSuccess:
		if r.Result == nil {
			return fmt.Errorf("status=success requires result to be present")
		}
		if r.Error != nil {
			return fmt.Errorf("status=success requires error to be absent")
		}
	case StatusFailed:
		if r.Error == nil {
			return fmt.Errorf("status=failed requires error to be present")
		}
	case StatusProcessing, StatusPartialSuccess:
	default:
		return fmt.Errorf("unrecognized status %q", r.Status)
	}
	return nil
}

// ProviderCapabilities is the static, per-adapter description of what a
// provider can serve. The router uses it to reject candidates that cannot
// possibly satisfy a request before ever calling ToNative.
//
// Declared here in package contract, rather than in package router or
// package adapter, so that both can depend on it without adapter importing
// router (which itself must import adapter to drive candidates).
type ProviderCapabilities struct {
	MaxResolutionWidth  int             `json:"max_resolution_width"`
	MaxResolutionHeight int             `json:"max_resolution_height"`
	SupportedFormats    []MediaType     `json:"supported_formats"`
	MaxDurationSeconds  float64         `json:"max_duration_seconds"`
	SupportsBatch       bool            `json:"supports_batch"`
	SupportsStreaming   bool            `json:"supports_streaming"`
	RateLimitPerMinute  int             `json:"rate_limit_per_minute"`
	Features            map[string]bool `json:"features,omitempty"`
}

// Feature flag names used in ProviderCapabilities.Features.
const (
	FeatureTextToImage          = "text_to_image"
	FeatureImageToImage         = "image_to_image"
	FeatureAudioSync            = "audio_sync"
	FeatureKeyframeControl      = "keyframe_control"
	FeatureCharacterConsistency = "character_consistency"
)

// HasFeature reports whether c declares feature as supported.
func (c ProviderCapabilities) HasFeature(feature string) bool {
	return c.Features[feature]
}

// SupportsFormat reports whether c lists mt among its supported formats.
func (c ProviderCapabilities) SupportsFormat(mt MediaType) bool {
	for _, f := range c.SupportedFormats {
		if f == mt {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------- Shots --

// Shot is one atomic generation unit within a multi-shot IntentRequest.
type Shot struct {
	ShotID           string         `json:"shot_id"`
	SceneID          string         `json:"scene_id"`
	ImageRef         string         `json:"image_ref"`
	IntentText       string         `json:"intent_text"`
	TargetProviders  []string       `json:"target_providers"`
	LockedControls   map[string]any `json:"locked_controls,omitempty"`
	DerivedControls  map[string]any `json:"derived_controls,omitempty"`
}

// ConsistencyPolicy configures cross-shot identity/style consistency
// validation for a multi-shot IntentRequest.
type ConsistencyPolicy struct {
	Threshold      float64 `json:"threshold"`
	AutoRegenerate bool    `json:"auto_regenerate"`
}

// IntentRequest is an ordered sequence of Shots plus an optional cross-shot
// consistency policy.
type IntentRequest struct {
	Shots             []Shot             `json:"shots"`
	Consistency       *ConsistencyPolicy `json:"consistency,omitempty"`
	ConcurrencyLimit  int                `json:"concurrency_limit,omitempty"` // default 3, see pipeline package
}
