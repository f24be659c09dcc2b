package videoforge

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferro-labs/videoforge/adapter"
	"github.com/ferro-labs/videoforge/contract"
)

// fakeAdapter is a minimal PollingAdapter test double: Submit/Poll never
// touch a real Transport, so tests run with no network at all.
type fakeAdapter struct {
	name       string
	caps       contract.ProviderCapabilities
	submitErr  error
	resultCode contract.ErrorCode // "" means success
	calls      atomic.Int64
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{
		name: name,
		caps: contract.ProviderCapabilities{
			SupportedFormats:   []contract.MediaType{contract.MediaVideo},
			MaxDurationSeconds: 30,
			RateLimitPerMinute: 6000,
		},
	}
}

func (f *fakeAdapter) Name() string                                { return f.name }
func (f *fakeAdapter) Capabilities() contract.ProviderCapabilities { return f.caps }
func (f *fakeAdapter) Validate(req contract.UnifiedRequest) *contract.ErrorDetails {
	return nil
}
func (f *fakeAdapter) ToNative(req contract.UnifiedRequest) (adapter.NativeRequest, error) {
	return adapter.NativeRequest{Method: "POST", URL: "https://fake/" + f.name}, nil
}
func (f *fakeAdapter) FromNative(raw []byte, req contract.UnifiedRequest) (contract.UnifiedResponse, error) {
	return contract.UnifiedResponse{
		Status: contract.StatusSuccess,
		Result: map[string]any{"url": "https://fake/" + f.name + "/result.mp4"},
	}, nil
}
func (f *fakeAdapter) ClassifyTransportError(status int, body []byte, err error) contract.ErrorDetails {
	if f.resultCode != "" {
		return contract.ErrorDetails{Code: f.resultCode, Message: "fake provider error", Retryable: f.resultCode.Retryable()}
	}
	return contract.ErrorDetails{Code: contract.ErrNetworkError, Message: "fake transport error", Retryable: true}
}
func (f *fakeAdapter) HealthCheck(ctx context.Context) bool { return true }

func (f *fakeAdapter) Submit(ctx context.Context, t adapter.Transport, req contract.UnifiedRequest) (string, error) {
	f.calls.Add(1)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "job-1", nil
}

func (f *fakeAdapter) Poll(ctx context.Context, t adapter.Transport, jobID string) (bool, []byte, error) {
	if f.resultCode != "" {
		return false, nil, &contract.ErrorDetails{Code: f.resultCode}
	}
	return true, []byte(`{}`), nil
}

func (f *fakeAdapter) PollInterval() time.Duration { return time.Millisecond }

var _ adapter.PollingAdapter = (*fakeAdapter)(nil)

func testRouter() *Router {
	cfg := DefaultRouterConfig()
	cfg.Cache.DefaultTTLSeconds = 60
	return NewRouter(cfg)
}

func videoRequest(provider, model string) contract.UnifiedRequest {
	return contract.UnifiedRequest{
		RequestID: "req-1",
		Provider:  provider,
		Model:     model,
		Prompt:    "a cat surfing",
		MediaType: contract.MediaVideo,
		TimeoutMs: 5000,
	}
}

func TestRouter_Execute_SucceedsOnPrimaryProvider(t *testing.T) {
	r := testRouter()
	a := newFakeAdapter("sora")
	r.Register(a, 10, 1, true)

	resp, err := r.Execute(context.Background(), videoRequest("sora", "sora-2"))
	require.NoError(t, err)
	assert.Equal(t, contract.StatusSuccess, resp.Status)
	assert.Equal(t, "sora", resp.Provider)
	assert.False(t, resp.Metadata.FallbackUsed)
	assert.Equal(t, 1, resp.Metadata.Attempts)
}

func TestRouter_Execute_FallsOverToSecondCandidateOnRetryableError(t *testing.T) {
	r := testRouter()
	bad := newFakeAdapter("veo")
	bad.resultCode = contract.ErrProviderError
	good := newFakeAdapter("kling")
	r.Register(bad, 10, 1, true)
	r.Register(good, 5, 1, true)

	req := videoRequest(contract.AutoProvider, "any-model")
	req.RetryConfig = contract.RetryConfig{MaxRetries: 1, BaseDelayMs: 1}
	resp, err := r.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, contract.StatusSuccess, resp.Status)
	assert.Equal(t, "kling", resp.Provider)
	assert.True(t, resp.Metadata.FallbackUsed)
}

func TestRouter_Execute_NonRetryableErrorShortCircuits(t *testing.T) {
	r := testRouter()
	bad := newFakeAdapter("veo")
	bad.resultCode = contract.ErrInvalidModel
	good := newFakeAdapter("kling")
	r.Register(bad, 10, 1, true)
	r.Register(good, 5, 1, true)

	resp, err := r.Execute(context.Background(), videoRequest("veo", "veo-3"))
	require.NoError(t, err)
	assert.Equal(t, contract.StatusFailed, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, contract.ErrInvalidModel, resp.Error.Code)
	assert.False(t, resp.Metadata.FallbackUsed)
}

func TestRouter_Execute_OpensBreakerAfterRepeatedFailures(t *testing.T) {
	r := testRouter()
	bad := newFakeAdapter("veo")
	bad.resultCode = contract.ErrProviderError
	r.Register(bad, 10, 1, true)

	req := videoRequest("veo", "veo-3")
	req.RetryConfig = contract.RetryConfig{MaxRetries: 0, BaseDelayMs: 1}
	for i := 0; i < breakerFailureThresholdForTest(r); i++ {
		_, err := r.Execute(context.Background(), req)
		require.NoError(t, err)
	}

	p, ok := r.provider("veo")
	require.True(t, ok)
	assert.Equal(t, "open", p.breaker.State().String())
}

func breakerFailureThresholdForTest(r *Router) int {
	return r.config.failureThreshold()
}

func TestRouter_Execute_ServesFromCacheOnSecondCall(t *testing.T) {
	r := testRouter()
	a := newFakeAdapter("sora")
	r.Register(a, 10, 1, true)

	req := videoRequest("sora", "sora-2")
	_, err := r.Execute(context.Background(), req)
	require.NoError(t, err)

	resp, err := r.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, resp.Metadata.Cached)
}

func TestRouter_Execute_NoCandidatesReturnsProviderError(t *testing.T) {
	r := testRouter()
	resp, err := r.Execute(context.Background(), videoRequest(contract.AutoProvider, "any-model"))
	require.NoError(t, err)
	assert.Equal(t, contract.StatusFailed, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, contract.ErrProviderError, resp.Error.Code)
}

func TestRouter_Execute_InvalidRequestNeverReachesAProvider(t *testing.T) {
	r := testRouter()
	a := newFakeAdapter("sora")
	r.Register(a, 10, 1, true)

	req := videoRequest("sora", "sora-2")
	req.Prompt = ""
	resp, err := r.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, contract.StatusFailed, resp.Status)
	assert.Equal(t, contract.ErrInvalidRequest, resp.Error.Code)
	assert.Equal(t, int64(0), a.calls.Load())
}
