// Package pipeline turns a multi-shot IntentRequest into a correlated
// sequence of routed generations: per shot it calls out to an injected
// analyzer and prompt compiler, routes the assembled request through a
// Router, then — when the caller supplied a consistency policy — compares
// embeddings across adjacent shots and flags the pairs that drift too far
// apart.
//
// Analyzer, PromptCompiler, and ConsistencyExtractor are pure-function
// collaborators the pipeline consumes but never implements itself; real CV
// and embedding work lives behind whatever implementation the caller wires
// in.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ferro-labs/videoforge/contract"
	"github.com/ferro-labs/videoforge/internal/metrics"
	"github.com/ferro-labs/videoforge/internal/telemetry"
)

// AnalysisFeatures is the opaque result of analyzing a source image —
// scene/movement detection, subject detection, whatever the injected
// Analyzer produces. The pipeline passes it through to PromptCompiler
// without interpreting it.
type AnalysisFeatures map[string]any

// CompiledPrompt is the result of compiling a shot's creative intent plus
// its analysis features for one target provider.
type CompiledPrompt struct {
	Text              string
	DefaultParameters map[string]any
}

// Analyzer extracts AnalysisFeatures from a source image reference.
type Analyzer interface {
	Analyze(ctx context.Context, imageRef string) (AnalysisFeatures, error)
}

// PromptCompiler compiles one shot's intent, for one target provider and
// model, into a CompiledPrompt.
type PromptCompiler interface {
	Compile(ctx context.Context, intentText string, features AnalysisFeatures, provider, model string) (CompiledPrompt, error)
}

// ConsistencyExtractor embeds a rendered frame for cross-shot comparison.
type ConsistencyExtractor interface {
	Embed(ctx context.Context, frame []byte) ([]float32, error)
}

// Executor is the subset of Router the pipeline depends on — routing a
// single UnifiedRequest to completion. Accepting the interface rather than
// *videoforge.Router keeps the pipeline testable without a live router.
type Executor interface {
	Execute(ctx context.Context, req contract.UnifiedRequest) (*contract.UnifiedResponse, error)
}

// defaultConcurrency is used when an IntentRequest leaves
// ConcurrencyLimit unset.
const defaultConcurrency = 3

// ShotResult is one shot's outcome: its per-provider responses plus
// whatever the consistency validation pass (if any) found.
type ShotResult struct {
	ShotID               string
	Responses            map[string]*contract.UnifiedResponse
	Status               contract.Status
	ConsistencyViolation *ConsistencyViolation
	Err                   error
}

// ConsistencyViolation records that a shot's embedding drifted too far
// from an adjacent shot's.
type ConsistencyViolation struct {
	WithShotID string  `json:"with_shot_id"`
	Score      float64 `json:"score"`
}

// IntentResult aggregates every shot's outcome, in shot order.
type IntentResult struct {
	Shots []ShotResult
}

// Pipeline drives IntentRequest execution: per-shot analyze → compile →
// route, bounded parallel fan-out, and cross-shot consistency validation.
type Pipeline struct {
	router    Executor
	analyzer  Analyzer
	compiler  PromptCompiler
	extractor ConsistencyExtractor
	hooks     *telemetry.Hooks
}

// New constructs a Pipeline. extractor may be nil if no caller ever
// supplies a ConsistencyPolicy; hooks may be nil to disable event
// publishing.
func New(router Executor, analyzer Analyzer, compiler PromptCompiler, extractor ConsistencyExtractor, hooks *telemetry.Hooks) *Pipeline {
	return &Pipeline{router: router, analyzer: analyzer, compiler: compiler, extractor: extractor, hooks: hooks}
}

func (p *Pipeline) publish(ctx context.Context, subject string, data map[string]any) {
	if p.hooks == nil {
		return
	}
	p.hooks.Publish(ctx, subject, data)
}

// Execute runs every shot in req, up to req.ConcurrencyLimit (default 3)
// at a time, then validates cross-shot consistency if req.Consistency is
// set. Cancelling ctx cancels every still-pending shot. Results are
// returned in shot order regardless of completion order.
func (p *Pipeline) Execute(ctx context.Context, req contract.IntentRequest) (*IntentResult, error) {
	concurrency := req.ConcurrencyLimit
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	results := make([]ShotResult, len(req.Shots))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, shot := range req.Shots {
		i, shot := i, shot
		g.Go(func() error {
			results[i] = p.runShot(gctx, shot)
			return nil
		})
	}
	// Shot failures are captured per-result, never aborting siblings, and
	// every shot goroutine returns nil, so Wait never reports an error; a
	// cancelled ctx shows up in the affected shots' results instead.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if req.Consistency != nil {
		p.validateConsistency(ctx, req.Shots, results, *req.Consistency)
	}

	for _, r := range results {
		outcome := "success"
		switch {
		case r.Status == contract.StatusPartialSuccess:
			outcome = "partial_success"
		case r.Status == contract.StatusFailed:
			outcome = "failed"
		}
		metrics.ShotsTotal.WithLabelValues(outcome).Inc()
	}

	return &IntentResult{Shots: results}, nil
}

// runShot analyzes the shot's source image once, then compiles and routes
// one UnifiedRequest per target provider.
func (p *Pipeline) runShot(ctx context.Context, shot contract.Shot) ShotResult {
	result := ShotResult{ShotID: shot.ShotID, Responses: make(map[string]*contract.UnifiedResponse, len(shot.TargetProviders))}

	features, err := p.analyzer.Analyze(ctx, shot.ImageRef)
	if err != nil {
		result.Status = contract.StatusFailed
		result.Err = fmt.Errorf("analyzing shot %s: %w", shot.ShotID, err)
		return result
	}

	succeeded, failed := 0, 0
	for _, provider := range shot.TargetProviders {
		resp, err := p.routeOneProvider(ctx, shot, features, provider, "")
		if err != nil {
			failed++
			result.Err = err
			continue
		}
		result.Responses[provider] = resp
		if resp.Status == contract.StatusSuccess {
			succeeded++
		} else {
			failed++
		}
	}

	switch {
	case succeeded > 0 && failed == 0:
		result.Status = contract.StatusSuccess
	case succeeded > 0 && failed > 0:
		result.Status = contract.StatusPartialSuccess
	default:
		result.Status = contract.StatusFailed
	}

	p.publish(ctx, telemetry.SubjectShotCompleted, map[string]any{"shot_id": shot.ShotID, "status": string(result.Status)})
	return result
}

// routeOneProvider compiles shot's prompt for provider/model and routes
// the assembled UnifiedRequest, merging locked_controls over
// derived_controls over the compiler's suggested defaults.
func (p *Pipeline) routeOneProvider(ctx context.Context, shot contract.Shot, features AnalysisFeatures, provider, model string) (*contract.UnifiedResponse, error) {
	compiled, err := p.compiler.Compile(ctx, shot.IntentText, features, provider, model)
	if err != nil {
		return nil, fmt.Errorf("compiling prompt for shot %s/%s: %w", shot.ShotID, provider, err)
	}

	params := make(map[string]any, len(compiled.DefaultParameters)+len(shot.DerivedControls)+len(shot.LockedControls))
	for k, v := range compiled.DefaultParameters {
		params[k] = v
	}
	for k, v := range shot.DerivedControls {
		params[k] = v
	}
	for k, v := range shot.LockedControls {
		params[k] = v
	}

	if model == "" {
		if m, ok := params["model"].(string); ok && m != "" {
			model = m
		} else {
			model = "default"
		}
	}

	req := contract.UnifiedRequest{
		RequestID:     uuid.NewString(),
		SchemaVersion: contract.V2_0,
		Provider:      provider,
		Model:         model,
		Prompt:        compiled.Text,
		MediaType:     contract.MediaVideo,
		Parameters:    params,
		Metadata:      map[string]any{"shot_id": shot.ShotID, "scene_id": shot.SceneID},
		TimeoutMs:     60000,
		CreatedAt:     time.Now(),
	}

	return p.router.Execute(ctx, req)
}

// validateConsistency extracts an embedding from each successful shot's
// first provider result, compares adjacent shots pairwise, and marks the
// pair partial_success when their similarity falls below the policy
// threshold. Regeneration is attempted at most once per flagged shot, and
// only when the policy opts in.
func (p *Pipeline) validateConsistency(ctx context.Context, shots []contract.Shot, results []ShotResult, policy contract.ConsistencyPolicy) {
	if p.extractor == nil || len(results) < 2 {
		return
	}

	embeddings := make([][]float32, len(results))
	var wg sync.WaitGroup
	for i := range results {
		i := i
		frame, ok := previewFrame(results[i], shots[i].TargetProviders)
		if !ok {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			emb, err := p.extractor.Embed(ctx, frame)
			if err == nil {
				embeddings[i] = emb
			}
		}()
	}
	wg.Wait()

	for i := 0; i < len(results)-1; i++ {
		a, b := embeddings[i], embeddings[i+1]
		if a == nil || b == nil {
			continue
		}
		score := cosineSimilarity(a, b)
		if score >= policy.Threshold {
			continue
		}

		results[i].Status = contract.StatusPartialSuccess
		results[i].ConsistencyViolation = &ConsistencyViolation{WithShotID: results[i+1].ShotID, Score: score}
		results[i+1].Status = contract.StatusPartialSuccess
		results[i+1].ConsistencyViolation = &ConsistencyViolation{WithShotID: results[i].ShotID, Score: score}

		if policy.AutoRegenerate && i+1 < len(shots) {
			resp, err := p.regenerateShot(ctx, shots[i+1], results[i].ShotID, score)
			if err != nil {
				results[i+1].Err = err
			} else if len(shots[i+1].TargetProviders) > 0 {
				results[i+1].Responses[shots[i+1].TargetProviders[0]] = resp
				if resp.Status == contract.StatusSuccess {
					results[i+1].Status = contract.StatusSuccess
					results[i+1].ConsistencyViolation = nil
				}
			}
			// A single regeneration attempt; the policy does not retry a
			// regeneration that still fails the threshold.
			p.publish(ctx, telemetry.SubjectShotRegenerated, map[string]any{
				"shot_id":      results[i+1].ShotID,
				"with_shot_id": results[i].ShotID,
				"score":        score,
			})
		}
	}
}

// regenerateShot re-analyzes shot's source image and routes a single
// modified-prompt attempt to its first target provider, instructing the
// provider to stay visually consistent with the shot that triggered the
// drift flag.
func (p *Pipeline) regenerateShot(ctx context.Context, shot contract.Shot, anchorShotID string, score float64) (*contract.UnifiedResponse, error) {
	if len(shot.TargetProviders) == 0 {
		return nil, fmt.Errorf("shot %s has no target providers to regenerate", shot.ShotID)
	}
	features, err := p.analyzer.Analyze(ctx, shot.ImageRef)
	if err != nil {
		return nil, fmt.Errorf("re-analyzing shot %s for regeneration: %w", shot.ShotID, err)
	}
	modified := shot
	modified.IntentText = fmt.Sprintf("%s (maintain visual consistency with shot %s; prior attempt scored %.2f similarity)", shot.IntentText, anchorShotID, score)
	return p.routeOneProvider(ctx, modified, features, shot.TargetProviders[0], "")
}

// previewFrame extracts a rendered preview frame from a shot's first
// successful response, taken in target-provider order, if its adapter
// populated one under result["preview_frame"].
func previewFrame(r ShotResult, providers []string) ([]byte, bool) {
	for _, provider := range providers {
		resp := r.Responses[provider]
		if resp == nil || resp.Status != contract.StatusSuccess || resp.Result == nil {
			continue
		}
		if frame, ok := resp.Result["preview_frame"].([]byte); ok {
			return frame, true
		}
	}
	return nil, false
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
