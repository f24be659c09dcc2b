package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferro-labs/videoforge/contract"
)

type fakeAnalyzer struct {
	calls atomic.Int64
	err   error
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, imageRef string) (AnalysisFeatures, error) {
	a.calls.Add(1)
	if a.err != nil {
		return nil, a.err
	}
	return AnalysisFeatures{"scene": imageRef}, nil
}

type fakeCompiler struct{}

func (fakeCompiler) Compile(ctx context.Context, intentText string, features AnalysisFeatures, provider, model string) (CompiledPrompt, error) {
	return CompiledPrompt{Text: intentText + "/" + provider, DefaultParameters: map[string]any{"duration_s": 4}}, nil
}

type fakeExecutor struct {
	responses map[string]*contract.UnifiedResponse
	err       error
	calls     atomic.Int64
}

func (f *fakeExecutor) Execute(ctx context.Context, req contract.UnifiedRequest) (*contract.UnifiedResponse, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if resp, ok := f.responses[req.Provider]; ok {
		return resp, nil
	}
	return &contract.UnifiedResponse{
		RequestID: req.RequestID,
		Provider:  req.Provider,
		Model:     req.Model,
		Status:    contract.StatusSuccess,
		Result:    map[string]any{"url": "https://example.test/" + req.Provider},
	}, nil
}

type fakeExtractor struct {
	embeddings map[string][]float32
}

func (f *fakeExtractor) Embed(ctx context.Context, frame []byte) ([]float32, error) {
	if emb, ok := f.embeddings[string(frame)]; ok {
		return emb, nil
	}
	return nil, errors.New("no embedding for frame")
}

func shot(id string, providers ...string) contract.Shot {
	return contract.Shot{ShotID: id, SceneID: "scene-" + id, ImageRef: "ref-" + id, IntentText: "intent-" + id, TargetProviders: providers}
}

func TestPipeline_Execute_RoutesEachShotEachProvider(t *testing.T) {
	exec := &fakeExecutor{}
	p := New(exec, &fakeAnalyzer{}, fakeCompiler{}, nil, nil)

	req := contract.IntentRequest{Shots: []contract.Shot{shot("s1", "sora", "veo"), shot("s2", "runway")}}
	result, err := p.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, result.Shots, 2)

	assert.Equal(t, "s1", result.Shots[0].ShotID)
	assert.Equal(t, contract.StatusSuccess, result.Shots[0].Status)
	assert.Len(t, result.Shots[0].Responses, 2)

	assert.Equal(t, "s2", result.Shots[1].ShotID)
	assert.Equal(t, contract.StatusSuccess, result.Shots[1].Status)
	assert.Len(t, result.Shots[1].Responses, 1)

	assert.EqualValues(t, 3, exec.calls.Load())
}

func TestPipeline_Execute_PreservesShotOrderUnderConcurrency(t *testing.T) {
	exec := &fakeExecutor{}
	p := New(exec, &fakeAnalyzer{}, fakeCompiler{}, nil, nil)

	shots := make([]contract.Shot, 10)
	for i := range shots {
		shots[i] = shot(string(rune('a'+i)), "sora")
	}
	req := contract.IntentRequest{Shots: shots, ConcurrencyLimit: 4}

	result, err := p.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, result.Shots, 10)
	for i, r := range result.Shots {
		assert.Equal(t, shots[i].ShotID, r.ShotID)
	}
}

func TestPipeline_Execute_AnalyzerFailureMarksShotFailed(t *testing.T) {
	exec := &fakeExecutor{}
	p := New(exec, &fakeAnalyzer{err: errors.New("analysis unavailable")}, fakeCompiler{}, nil, nil)

	req := contract.IntentRequest{Shots: []contract.Shot{shot("s1", "sora")}}
	result, err := p.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, result.Shots, 1)
	assert.Equal(t, contract.StatusFailed, result.Shots[0].Status)
	assert.Error(t, result.Shots[0].Err)
	assert.EqualValues(t, 0, exec.calls.Load())
}

func TestPipeline_Execute_PartialProviderFailureMarksPartialSuccess(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]*contract.UnifiedResponse{
		"sora": {Status: contract.StatusSuccess, Result: map[string]any{"url": "ok"}},
		"veo":  {Status: contract.StatusFailed, Error: &contract.ErrorDetails{Code: contract.ErrProviderError}},
	}}
	p := New(exec, &fakeAnalyzer{}, fakeCompiler{}, nil, nil)

	req := contract.IntentRequest{Shots: []contract.Shot{shot("s1", "sora", "veo")}}
	result, err := p.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, contract.StatusPartialSuccess, result.Shots[0].Status)
}

func TestPipeline_ValidateConsistency_FlagsBelowThresholdPair(t *testing.T) {
	extractor := &fakeExtractor{embeddings: map[string][]float32{
		"frame-a": {1, 0, 0},
		"frame-b": {0, 1, 0},
	}}
	exec := &fakeExecutor{responses: map[string]*contract.UnifiedResponse{
		"sora": {Status: contract.StatusSuccess, Result: map[string]any{"preview_frame": []byte("frame-a")}},
	}}
	p := New(exec, &fakeAnalyzer{}, fakeCompiler{}, extractor, nil)

	s1 := shot("s1", "sora")
	s2 := shot("s2", "sora")
	req := contract.IntentRequest{
		Shots:       []contract.Shot{s1, s2},
		Consistency: &contract.ConsistencyPolicy{Threshold: 0.9},
	}

	// Swap the second shot's response after construction so each shot's
	// lone provider response differs (fakeExecutor is keyed by provider
	// name alone, so route both shots through distinct provider names).
	req.Shots[1].TargetProviders = []string{"veo"}
	exec.responses["veo"] = &contract.UnifiedResponse{Status: contract.StatusSuccess, Result: map[string]any{"preview_frame": []byte("frame-b")}}

	result, err := p.Execute(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result.Shots[0].ConsistencyViolation)
	require.NotNil(t, result.Shots[1].ConsistencyViolation)
	assert.Equal(t, contract.StatusPartialSuccess, result.Shots[0].Status)
	assert.Equal(t, contract.StatusPartialSuccess, result.Shots[1].Status)
	assert.InDelta(t, 0.0, result.Shots[0].ConsistencyViolation.Score, 1e-9)
}

func TestPipeline_ValidateConsistency_AutoRegenerateSchedulesRetryAttempt(t *testing.T) {
	extractor := &fakeExtractor{embeddings: map[string][]float32{
		"frame-a": {1, 0, 0},
		"frame-b": {0, 1, 0},
	}}
	exec := &fakeExecutor{responses: map[string]*contract.UnifiedResponse{
		"sora": {Status: contract.StatusSuccess, Result: map[string]any{"preview_frame": []byte("frame-a")}},
		"veo":  {Status: contract.StatusSuccess, Result: map[string]any{"preview_frame": []byte("frame-b")}},
	}}
	p := New(exec, &fakeAnalyzer{}, fakeCompiler{}, extractor, nil)

	req := contract.IntentRequest{
		Shots:       []contract.Shot{shot("s1", "sora"), shot("s2", "veo")},
		Consistency: &contract.ConsistencyPolicy{Threshold: 0.9, AutoRegenerate: true},
	}

	result, err := p.Execute(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result.Shots[0].ConsistencyViolation)
	assert.Equal(t, contract.StatusPartialSuccess, result.Shots[0].Status)
	// The flagged shot is re-routed once with a modified prompt; the
	// fake executor reports success again, clearing its violation.
	assert.Equal(t, contract.StatusSuccess, result.Shots[1].Status)
	assert.Nil(t, result.Shots[1].ConsistencyViolation)
	assert.EqualValues(t, 3, exec.calls.Load())
}

func TestPipeline_ValidateConsistency_SkippedWithoutExtractor(t *testing.T) {
	exec := &fakeExecutor{}
	p := New(exec, &fakeAnalyzer{}, fakeCompiler{}, nil, nil)

	req := contract.IntentRequest{
		Shots:       []contract.Shot{shot("s1", "sora"), shot("s2", "sora")},
		Consistency: &contract.ConsistencyPolicy{Threshold: 0.9},
	}
	result, err := p.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, result.Shots[0].ConsistencyViolation)
	assert.Nil(t, result.Shots[1].ConsistencyViolation)
}

func TestCosineSimilarity_IdenticalVectorsScoreOne(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-9)
}

func TestCosineSimilarity_OrthogonalVectorsScoreZero(t *testing.T) {
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
}
