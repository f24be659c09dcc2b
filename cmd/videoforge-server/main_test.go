package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	videoforge "github.com/ferro-labs/videoforge"
	"github.com/ferro-labs/videoforge/adapter"
	"github.com/ferro-labs/videoforge/contract"
	"github.com/ferro-labs/videoforge/pipeline"
)

// fakeAdapter is a stub PollingAdapter standing in for a real provider
// integration in these handler-level tests.
type fakeAdapter struct {
	name string
	caps contract.ProviderCapabilities
}

func (f *fakeAdapter) Name() string                               { return f.name }
func (f *fakeAdapter) Capabilities() contract.ProviderCapabilities { return f.caps }
func (f *fakeAdapter) Validate(req contract.UnifiedRequest) *contract.ErrorDetails {
	if !f.caps.SupportsFormat(req.MediaType) {
		return &contract.ErrorDetails{Code: contract.ErrInvalidRequest, Message: "unsupported media_type", Provider: f.name}
	}
	return nil
}
func (f *fakeAdapter) ToNative(req contract.UnifiedRequest) (adapter.NativeRequest, error) {
	return adapter.NativeRequest{Method: "POST", URL: "https://fake/submit"}, nil
}
func (f *fakeAdapter) FromNative(raw []byte, req contract.UnifiedRequest) (contract.UnifiedResponse, error) {
	return contract.UnifiedResponse{
		Status: contract.StatusSuccess,
		Result: map[string]any{"url": "https://fake/result.mp4"},
	}, nil
}
func (f *fakeAdapter) ClassifyTransportError(status int, body []byte, err error) contract.ErrorDetails {
	return contract.ErrorDetails{Code: contract.ErrProviderError, Provider: f.name}
}
func (f *fakeAdapter) HealthCheck(ctx context.Context) bool { return true }
func (f *fakeAdapter) Submit(ctx context.Context, t adapter.Transport, req contract.UnifiedRequest) (string, error) {
	return "job-1", nil
}
func (f *fakeAdapter) Poll(ctx context.Context, t adapter.Transport, jobID string) (bool, []byte, error) {
	return true, []byte(`{}`), nil
}
func (f *fakeAdapter) PollInterval() time.Duration { return time.Millisecond }

type fakeTransport struct{}

func (fakeTransport) Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (int, map[string]string, []byte, error) {
	return 200, nil, []byte(`{}`), nil
}

func testRouter() *videoforge.Router {
	r := videoforge.NewRouter(videoforge.DefaultRouterConfig())
	r.WithTransport(fakeTransport{})
	r.Register(&fakeAdapter{
		name: "test-provider",
		caps: contract.ProviderCapabilities{
			SupportedFormats:   []contract.MediaType{contract.MediaVideo},
			MaxDurationSeconds: 30,
			RateLimitPerMinute: 600,
		},
	}, 0, 1, true)
	return r
}

func testPipeline(r *videoforge.Router) *pipeline.Pipeline {
	return pipeline.New(r, noopAnalyzer{}, passthroughCompiler{}, nil, nil)
}

func TestHealthz(t *testing.T) {
	router := testRouter()
	h := newHTTPRouter(router, testPipeline(router))
	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := testRouter()
	h := newHTTPRouter(router, testPipeline(router))
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestGenerateHandler_Success(t *testing.T) {
	router := testRouter()
	h := newHTTPRouter(router, testPipeline(router))

	body, _ := json.Marshal(contract.UnifiedRequest{
		RequestID: "req-1",
		Provider:  "test-provider",
		Model:     "test-model",
		Prompt:    "a cat riding a bike",
		MediaType: contract.MediaVideo,
		TimeoutMs: 5000,
	})
	req := httptest.NewRequest("POST", "/v1/generate", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	var resp contract.UnifiedResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != contract.StatusSuccess {
		t.Errorf("status = %s, want success", resp.Status)
	}
	if resp.RequestID != "req-1" {
		t.Errorf("request_id = %s, want req-1", resp.RequestID)
	}
}

func TestGenerateHandler_MalformedJSON(t *testing.T) {
	router := testRouter()
	h := newHTTPRouter(router, testPipeline(router))

	req := httptest.NewRequest("POST", "/v1/generate", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGenerateHandler_ValidationError(t *testing.T) {
	router := testRouter()
	h := newHTTPRouter(router, testPipeline(router))

	body, _ := json.Marshal(contract.UnifiedRequest{RequestID: "req-2"})
	req := httptest.NewRequest("POST", "/v1/generate", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (router returns a failed envelope, not an HTTP error)", w.Code)
	}
	var resp contract.UnifiedResponse
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if resp.Status != contract.StatusFailed {
		t.Errorf("status = %s, want failed", resp.Status)
	}
}

func TestPipelineHandler_Success(t *testing.T) {
	router := testRouter()
	h := newHTTPRouter(router, testPipeline(router))

	body, _ := json.Marshal(contract.IntentRequest{
		Shots: []contract.Shot{
			{ShotID: "shot-1", IntentText: "opening shot", TargetProviders: []string{"test-provider"}},
		},
	})
	req := httptest.NewRequest("POST", "/v1/pipeline", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", w.Code, w.Body.String())
	}
	var result pipeline.IntentResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(result.Shots) != 1 {
		t.Fatalf("shots = %d, want 1", len(result.Shots))
	}
}

func TestRegisterProviders_NoneConfigured(t *testing.T) {
	router := videoforge.NewRouter(videoforge.DefaultRouterConfig())
	if n := registerProviders(router); n != 0 {
		t.Errorf("registered = %d, want 0 with no env vars set", n)
	}
}

func TestRegisterProviders_SoraFromEnv(t *testing.T) {
	t.Setenv("SORA_API_KEY", "sk-test")
	router := videoforge.NewRouter(videoforge.DefaultRouterConfig())
	if n := registerProviders(router); n != 1 {
		t.Errorf("registered = %d, want 1", n)
	}
}
