package videoforge

import (
	"context"
	"time"

	"github.com/ferro-labs/videoforge/adapter"
	"github.com/ferro-labs/videoforge/contract"
	"github.com/ferro-labs/videoforge/internal/cache"
	"github.com/ferro-labs/videoforge/internal/metrics"
	"github.com/ferro-labs/videoforge/internal/retry"
	"github.com/ferro-labs/videoforge/internal/telemetry"
)

// Execute routes req through cache lookup, candidate selection, and the
// per-candidate cache/singleflight/breaker/rate-limit/transport/retry
// pipeline, falling over to the next candidate on a retryable error and
// surfacing immediately on a non-retryable one.
func (r *Router) Execute(ctx context.Context, req contract.UnifiedRequest) (resp *contract.UnifiedResponse, err error) {
	req = r.resolveAlias(req)
	start := time.Now()
	defer func() {
		if resp == nil {
			return
		}
		status := "success"
		if resp.Status == contract.StatusFailed {
			status = "error"
			if resp.Error != nil {
				metrics.ProviderErrors.WithLabelValues(resp.Provider, string(resp.Error.Code)).Inc()
			}
			r.hooks.Publish(ctx, telemetry.SubjectRequestFailed, map[string]any{"request_id": req.RequestID, "provider": resp.Provider})
		} else {
			r.hooks.Publish(ctx, telemetry.SubjectRequestCompleted, map[string]any{"request_id": req.RequestID, "provider": resp.Provider})
		}
		metrics.RequestsTotal.WithLabelValues(resp.Provider, resp.Model, status).Inc()
		metrics.RequestDuration.WithLabelValues(resp.Provider, resp.Model).Observe(time.Since(start).Seconds())
		if resp.Metadata.Cached {
			metrics.CacheResultsTotal.WithLabelValues("hit").Inc()
		} else {
			metrics.CacheResultsTotal.WithLabelValues("miss").Inc()
		}
		if resp.Metadata.FallbackUsed {
			metrics.FallbacksTotal.WithLabelValues(req.Provider, resp.Provider).Inc()
		}
	}()
	r.hooks.Publish(ctx, telemetry.SubjectRequestReceived, map[string]any{"request_id": req.RequestID, "provider": req.Provider, "media_type": string(req.MediaType)})

	if err := req.Validate(); err != nil {
		ed := err.(*contract.ErrorDetails)
		return errorResponse(req, ed, contract.ResponseMetadata{}, time.Since(start)), nil
	}

	timeout := r.timeoutFor(req)
	deadline := start.Add(timeout)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// A fixed-provider request has a single deterministic cache key and can
	// be satisfied before any candidate is even chosen. An "auto" request's
	// key depends on which candidate ultimately serves it, so its cache
	// lookup happens per-candidate inside executeCandidate instead.
	if req.Provider != "" && req.Provider != contract.AutoProvider {
		if key, err := r.cacheKeyForProvider(req.Provider, req); err == nil {
			if resp, ok := r.cache.Get(ctx, key); ok {
				r.hooks.Publish(ctx, telemetry.SubjectCacheHit, map[string]any{"request_id": req.RequestID, "key": key})
				out := *resp
				out.Metadata.Cached = true
				out.RequestID = req.RequestID
				return &out, nil
			}
			r.hooks.Publish(ctx, telemetry.SubjectCacheMiss, map[string]any{"request_id": req.RequestID, "key": key})
		}
	}

	candidates := r.candidates(req)
	if len(candidates) == 0 {
		return errorResponse(req, errNoCandidates, contract.ResponseMetadata{FallbackUsed: false, Attempts: 0}, time.Since(start)), nil
	}

	var lastErr *contract.ErrorDetails
	totalAttempts := 0
	primary := candidates[0].name

	for candidateIdx, p := range candidates {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		r.hooks.Publish(ctx, telemetry.SubjectProviderSelected, map[string]any{"request_id": req.RequestID, "provider": p.name, "candidate_index": candidateIdx})

		resp, errDetails, attempts, retryable := r.executeCandidate(ctx, p, req, remaining)
		totalAttempts += attempts

		if errDetails == nil {
			resp.Metadata.FallbackUsed = p.name != primary
			resp.Metadata.Attempts = totalAttempts
			return resp, nil
		}

		lastErr = errDetails
		if !retryable {
			// Non-retryable errors (caller mistakes, auth, policy, credits,
			// unknown model) short-circuit: no further candidates are tried.
			return errorResponse(req, errDetails, contract.ResponseMetadata{
				FallbackUsed: candidateIdx > 0,
				Attempts:     totalAttempts,
			}, time.Since(start)), nil
		}
		r.hooks.Publish(ctx, telemetry.SubjectFallbackTriggered, map[string]any{"request_id": req.RequestID, "from": p.name})
	}

	if lastErr == nil {
		lastErr = errNoCandidates
	}
	return errorResponse(req, lastErr, contract.ResponseMetadata{
		FallbackUsed: true,
		Attempts:     totalAttempts,
	}, time.Since(start)), nil
}

// executeCandidate drives the full cache→singleflight→breaker→rate-limit→
// transport→retry sequence against a single candidate provider. retryable
// reports whether errDetails (if non-nil) should trigger fallback to the
// next candidate rather than being surfaced immediately.
func (r *Router) executeCandidate(ctx context.Context, p *registeredProvider, req contract.UnifiedRequest, budget time.Duration) (resp *contract.UnifiedResponse, errDetails *contract.ErrorDetails, attempts int, retryable bool) {
	retryCfg := r.retryConfigFor(req)
	cacheKey, cacheable := r.cacheKeyForProviderOK(p.name, req)

	for attempt := 0; ; attempt++ {
		attempts++
		r.hooks.Publish(ctx, telemetry.SubjectAttemptStarted, map[string]any{"request_id": req.RequestID, "provider": p.name, "attempt": attempt})

		if cacheable {
			if cached, ok := r.cache.Get(ctx, cacheKey); ok {
				r.hooks.Publish(ctx, telemetry.SubjectCacheHit, map[string]any{"request_id": req.RequestID, "key": cacheKey})
				out := *cached
				out.RequestID = req.RequestID
				out.Metadata.Cached = true
				return &out, nil, attempts, false
			}
			r.hooks.Publish(ctx, telemetry.SubjectCacheMiss, map[string]any{"request_id": req.RequestID, "key": cacheKey})
			if r.cache.IsNegative(p.name) {
				ed := &contract.ErrorDetails{
					Code:     contract.ErrRateLimitExceeded,
					Message:  "provider recently reported rate_limit_exceeded",
					Provider: p.name,
				}
				return nil, ed, attempts, true
			}
		}

		if !p.breaker.Allow() {
			ed := &contract.ErrorDetails{Code: contract.ErrProviderError, Message: "circuit breaker open", Provider: p.name}
			return nil, ed, attempts, true
		}

		if r.cfg().Singleflight && cacheable {
			var sfErr error
			resp, sfErr, _ = r.cache.Coalesced(cacheKey, func() (*contract.UnifiedResponse, error) {
				rl := r.limiters.Acquire(ctx, p.name, budget)
				if !rl.Allowed {
					return nil, &contract.ErrorDetails{Code: contract.ErrRateLimitExceeded, Message: "rate limit budget exhausted", Provider: p.name, RetryAfterMs: &rl.RetryAfterMs}
				}
				out, ed := r.callOnce(ctx, p, req)
				if ed != nil {
					return nil, ed
				}
				return out, nil
			})
			if sfErr != nil {
				errDetails, _ = sfErr.(*contract.ErrorDetails)
				if errDetails == nil {
					errDetails = &contract.ErrorDetails{Code: contract.ErrProviderError, Message: sfErr.Error(), Provider: p.name}
				}
			} else {
				errDetails = nil
			}
		} else {
			rl := r.limiters.Acquire(ctx, p.name, budget)
			if !rl.Allowed {
				errDetails = &contract.ErrorDetails{Code: contract.ErrRateLimitExceeded, Message: "rate limit budget exhausted", Provider: p.name, RetryAfterMs: &rl.RetryAfterMs}
			} else {
				resp, errDetails = r.callOnce(ctx, p, req)
			}
		}

		if errDetails == nil {
			if p.breaker.RecordSuccess() {
				r.hooks.Publish(ctx, telemetry.SubjectBreakerClosed, map[string]any{"request_id": req.RequestID, "provider": p.name})
			}
			metrics.CircuitBreakerState.WithLabelValues(p.name).Set(float64(p.breaker.State()))
			r.hooks.Publish(ctx, telemetry.SubjectAttemptSucceeded, map[string]any{"request_id": req.RequestID, "provider": p.name, "attempt": attempt})
			if cacheable && resp.Status == contract.StatusSuccess {
				r.cache.Set(ctx, cacheKey, resp, r.ttlFor())
			}
			return resp, nil, attempts, false
		}

		r.hooks.Publish(ctx, telemetry.SubjectAttemptFailed, map[string]any{"request_id": req.RequestID, "provider": p.name, "attempt": attempt, "code": string(errDetails.Code)})
		if p.breaker.RecordFailure(errDetails.Code) {
			r.hooks.Publish(ctx, telemetry.SubjectBreakerOpened, map[string]any{"request_id": req.RequestID, "provider": p.name})
			if r.cfg().Cache.InvalidateOnBreakerOpen {
				r.cache.Invalidate(ctx, p.name+":")
			}
		}
		metrics.CircuitBreakerState.WithLabelValues(p.name).Set(float64(p.breaker.State()))
		if errDetails.Code == contract.ErrRateLimitExceeded && cacheable {
			r.cache.SetNegative(p.name)
		}
		if errDetails.Code == contract.ErrRateLimitExceeded {
			metrics.RateLimitRejections.WithLabelValues(p.name).Inc()
		}

		if !errDetails.Code.Retryable() {
			return nil, errDetails, attempts, false
		}

		decision := retry.Next(retryCfg, attempt, errDetails, budget)
		if !decision.Retry {
			return nil, errDetails, attempts, true
		}
		r.hooks.Publish(ctx, telemetry.SubjectRetryScheduled, map[string]any{"request_id": req.RequestID, "provider": p.name, "attempt": attempt, "delay_ms": decision.Delay.Milliseconds()})
		if err := retry.Sleep(ctx, decision.Delay); err != nil {
			return nil, errDetails, attempts, true
		}
		budget -= decision.Delay
		if budget <= 0 {
			return nil, errDetails, attempts, true
		}
	}
}

// callOnce performs exactly one ToNative→transport→FromNative round trip
// against p, tracking concurrency and latency bookkeeping around it.
func (r *Router) callOnce(ctx context.Context, p *registeredProvider, req contract.UnifiedRequest) (*contract.UnifiedResponse, *contract.ErrorDetails) {
	if v := p.adapter.Validate(req); v != nil {
		return nil, v
	}

	p.incConcurrency()
	start := time.Now()
	defer func() {
		p.decConcurrency()
		p.recordLatency(time.Since(start))
	}()

	pa, ok := p.adapter.(adapter.PollingAdapter)
	if !ok {
		ed := &contract.ErrorDetails{Code: contract.ErrProviderError, Message: "adapter does not support the polling transport", Provider: p.name}
		return nil, ed
	}

	raw, err := adapter.RunPollingAdapter(ctx, r.transport, pa, req)
	if err != nil {
		ed := pa.ClassifyTransportError(0, nil, err)
		ed.Provider = p.name
		return nil, &ed
	}

	resp, parseErr := pa.FromNative(raw, req)
	if parseErr != nil {
		ed := &contract.ErrorDetails{Code: contract.ErrProviderError, Message: "parsing provider response: " + parseErr.Error(), Provider: p.name}
		return nil, ed
	}
	resp.RequestID = req.RequestID
	resp.SchemaVersion = contract.V2_0
	resp.Provider = p.name
	if resp.Model == "" {
		resp.Model = req.Model
	}
	if resp.Status == contract.StatusSuccess {
		if cost, ok := r.costFor(p.name, req); ok {
			resp.Cost = &cost
		}
	}
	return &resp, nil
}

// cacheKeyForProvider derives the deterministic cache key as if provider
// were the one serving req.
func (r *Router) cacheKeyForProvider(provider string, req contract.UnifiedRequest) (string, error) {
	return cache.Key(provider, req.Model, req.Prompt, req.Parameters, r.cache.NonCacheableParams())
}

func (r *Router) cacheKeyForProviderOK(provider string, req contract.UnifiedRequest) (string, bool) {
	key, err := r.cacheKeyForProvider(provider, req)
	if err != nil {
		return "", false
	}
	return key, true
}

func (r *Router) ttlFor() time.Duration {
	ttl := r.cfg().Cache.DefaultTTLSeconds
	if ttl <= 0 {
		return 3600 * time.Second
	}
	return time.Duration(ttl) * time.Second
}
