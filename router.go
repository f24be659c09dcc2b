package videoforge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ferro-labs/videoforge/adapter"
	"github.com/ferro-labs/videoforge/contract"
	"github.com/ferro-labs/videoforge/internal/breaker"
	"github.com/ferro-labs/videoforge/internal/cache"
	"github.com/ferro-labs/videoforge/internal/httptransport"
	"github.com/ferro-labs/videoforge/internal/pricing"
	"github.com/ferro-labs/videoforge/internal/ratelimit"
	"github.com/ferro-labs/videoforge/internal/telemetry"
)

// latencyWindow is a small fixed-capacity ring buffer of recent call
// latencies, used by the latency_based strategy. Not safe for concurrent
// use on its own — callers hold registeredProvider.mu.
type latencyWindow struct {
	samples []time.Duration
	cap     int
	next    int
	filled  bool
}

func newLatencyWindow(capacity int) *latencyWindow {
	if capacity <= 0 {
		capacity = 100
	}
	return &latencyWindow{samples: make([]time.Duration, capacity), cap: capacity}
}

func (w *latencyWindow) add(d time.Duration) {
	w.samples[w.next] = d
	w.next = (w.next + 1) % w.cap
	if w.next == 0 {
		w.filled = true
	}
}

func (w *latencyWindow) average() (time.Duration, bool) {
	n := w.next
	if w.filled {
		n = w.cap
	}
	if n == 0 {
		return 0, false
	}
	var total time.Duration
	for i := 0; i < n; i++ {
		total += w.samples[i]
	}
	return total / time.Duration(n), true
}

// registeredProvider is everything the router tracks about one registered
// adapter: its static identity, its mutable health/load state, and the
// collaborators (breaker, rate limiter slot) that guard calls to it. Every
// field under mu is owned exclusively by the router and is never mutated
// by the adapter itself or held across an I/O call.
type registeredProvider struct {
	name     string
	adapter  adapter.Adapter
	caps     contract.ProviderCapabilities
	priority int
	weight   float64

	mu          sync.Mutex
	enabled     bool
	concurrency int
	latency     *latencyWindow

	breaker *breaker.Breaker
}

// Concurrency returns the provider's current in-flight call count.
func (p *registeredProvider) Concurrency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.concurrency
}

// RollingLatency returns the provider's rolling average latency, and
// false if no samples have been recorded yet.
func (p *registeredProvider) RollingLatency() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latency.average()
}

func (p *registeredProvider) isEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

func (p *registeredProvider) incConcurrency() {
	p.mu.Lock()
	p.concurrency++
	p.mu.Unlock()
}

func (p *registeredProvider) decConcurrency() {
	p.mu.Lock()
	p.concurrency--
	p.mu.Unlock()
}

func (p *registeredProvider) recordLatency(d time.Duration) {
	p.mu.Lock()
	p.latency.add(d)
	p.mu.Unlock()
}

// Router is the central orchestration point: it holds every registered
// provider, the shared response cache, per-provider rate limiters, and the
// candidate-ordering strategy, and drives each routed call through
// cache → breaker → rate limit → transport → retry → fallback.
type Router struct {
	configMu sync.RWMutex
	config   RouterConfig

	mu        sync.RWMutex
	providers map[string]*registeredProvider

	cache       *cache.Cache
	limiters    *ratelimit.Store
	transport   adapter.Transport
	catalog     pricing.Catalog
	cursor      atomic.Uint64
	hooks       telemetry.Hooks
	discoveryMu sync.Mutex
	discovered  map[string][]string
}

// AddHook registers an async event hook, called for every lifecycle event
// the router emits (see internal/telemetry's Subject constants). Multiple
// hooks may be registered; all are invoked for every event. Intended for
// startup-time wiring, not concurrent with routing.
func (r *Router) AddHook(fn telemetry.HookFunc) {
	r.hooks.Add(fn)
}

// NewRouter constructs a Router from cfg with no providers registered and
// no L2 tier. Callers that want the optional shared warm cache tier
// described by cfg.Cache.L2Enabled construct one (e.g.
// cache.NewSQLiteStore) and pass it via WithL2 before the router serves any
// traffic.
func NewRouter(cfg RouterConfig) *Router {
	c := cache.New(cache.Config{
		L1MaxEntries:       cfg.Cache.L1MaxEntries,
		L1Policy:           cache.Policy(cfg.Cache.L1Policy),
		DefaultTTL:         time.Duration(cfg.Cache.DefaultTTLSeconds) * time.Second,
		L2TTL:              time.Duration(cfg.Cache.L2TTLSeconds) * time.Second,
		NonCacheableParams: cfg.Cache.NonCacheableParams,
	})
	catalog, _ := pricing.Load()
	return &Router{
		config:     cfg,
		providers:  make(map[string]*registeredProvider),
		cache:      c,
		limiters:   ratelimit.NewStore(),
		transport:  httptransport.New(),
		catalog:    catalog,
		discovered: make(map[string][]string),
	}
}

// WithTransport overrides the router's Transport (the default is a plain
// net/http client) — tests substitute a fake here to avoid real network
// calls.
func (r *Router) WithTransport(t adapter.Transport) *Router {
	r.transport = t
	return r
}

// WithL2 attaches l2 as the router's shared warm cache tier. Only
// meaningful when cfg.Cache.L2Enabled was true at construction time —
// callers read that flag themselves to decide whether to build an l2 at
// all (e.g. cache.NewSQLiteStore/cache.NewPostgresStore against a
// configured DSN).
func (r *Router) WithL2(l2 cache.L2) *Router {
	r.cache.SetL2(l2)
	return r
}

// cfg returns a snapshot of the router's current configuration, safe to
// read concurrently with Reload.
func (r *Router) cfg() RouterConfig {
	r.configMu.RLock()
	defer r.configMu.RUnlock()
	return r.config
}

// GetConfig returns the router's current configuration.
func (r *Router) GetConfig() RouterConfig {
	return r.cfg()
}

// Reload validates cfg and, if valid, atomically replaces the router's
// configuration. Already-registered providers, their breakers, and their
// accumulated health state are left untouched — only config-derived
// decisions (strategy, retry defaults, timeouts, aliases, cache TTLs) pick
// up the new values on the next routed call.
func (r *Router) Reload(cfg RouterConfig) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}
	r.configMu.Lock()
	r.config = cfg
	r.configMu.Unlock()
	return nil
}

// resolveAlias rewrites req.Model through the configured alias table, if
// model has an entry there. An unaliased model is returned unchanged.
func (r *Router) resolveAlias(req contract.UnifiedRequest) contract.UnifiedRequest {
	cfg := r.cfg()
	if target, ok := cfg.Aliases[req.Model]; ok {
		req.Model = target
	}
	return req
}

// Register installs an adapter under its own Name(), with the given
// priority and weight, enabled for routing immediately. Registering a name
// a second time replaces the previous registration's adapter/capabilities
// but preserves its current health state (concurrency, latency window,
// breaker), so a live config reload never resets an already-healthy
// provider's breaker or load counters.
func (r *Router) Register(a adapter.Adapter, priority int, weight float64, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	caps := a.Capabilities()
	existing, ok := r.providers[name]
	if ok {
		existing.adapter = a
		existing.caps = caps
		existing.priority = priority
		existing.weight = weight
		existing.mu.Lock()
		existing.enabled = enabled
		existing.mu.Unlock()
	} else {
		cfg := r.cfg()
		r.providers[name] = &registeredProvider{
			name:     name,
			adapter:  a,
			caps:     caps,
			priority: priority,
			weight:   weight,
			enabled:  enabled,
			latency:  newLatencyWindow(cfg.LatencyWindowSize),
			breaker:  breaker.New(cfg.failureThreshold(), cfg.openTimeout()),
		}
	}
	r.limiters.Register(name, caps.RateLimitPerMinute)
}

// Deregister removes provider from the router entirely.
func (r *Router) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, name)
}

// SetEnabled toggles whether provider participates in candidate selection,
// without discarding its accumulated health state.
func (r *Router) SetEnabled(name string, enabled bool) {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return
	}
	p.mu.Lock()
	p.enabled = enabled
	p.mu.Unlock()
}


func (r *Router) snapshotProviders() []*registeredProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*registeredProvider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}

func (r *Router) provider(name string) (*registeredProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// candidates builds the ordered list of providers to attempt for req,
// applying the fixed-provider-first rule and filtering on capability fit.
func (r *Router) candidates(req contract.UnifiedRequest) []*registeredProvider {
	cfg := r.cfg()
	all := r.snapshotProviders()

	usable := make([]*registeredProvider, 0, len(all))
	for _, p := range all {
		if !p.isEnabled() {
			continue
		}
		if p.breaker.State() == breaker.StateOpen {
			continue
		}
		if !p.caps.SupportsFormat(req.MediaType) {
			continue
		}
		if v := p.adapter.Validate(req); v != nil {
			// A provider that cannot serve this exact request (unknown
			// model, duration over its cap, unsupported parameter) is not
			// a candidate at all — never tried, never counted as a
			// fallback. Filtering here, rather than only inside
			// callOnce's per-attempt Validate, keeps a sibling candidate
			// reachable instead of short-circuiting on the first
			// non-retryable rejection.
			continue
		}
		usable = append(usable, p)
	}

	if req.Provider == "" || req.Provider == contract.AutoProvider {
		return orderByStrategy(usable, cfg.Strategy, r.cursor.Add(1))
	}

	var pinned *registeredProvider
	fallbacks := make([]*registeredProvider, 0, len(usable))
	for _, p := range usable {
		if p.name == req.Provider {
			pinned = p
			continue
		}
		fallbacks = append(fallbacks, p)
	}
	if pinned == nil {
		// The pinned provider is unregistered, disabled, breaker-open, or
		// fails Validate: fall back to the strategy over whatever remains
		// usable.
		return orderByStrategy(usable, cfg.Strategy, r.cursor.Add(1))
	}
	ordered := orderByStrategy(fallbacks, cfg.Strategy, r.cursor.Add(1))
	return append([]*registeredProvider{pinned}, ordered...)
}

// StartDiscovery periodically refreshes the model lists of every
// registered provider that implements adapter.DiscoveryAdapter, in a
// background goroutine, until ctx is cancelled. interval must be greater
// than zero.
func (r *Router) StartDiscovery(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("StartDiscovery: interval must be greater than zero, got %v", interval)
	}
	go func() {
		r.runDiscovery(ctx)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.runDiscovery(ctx)
			}
		}
	}()
	return nil
}

func (r *Router) runDiscovery(ctx context.Context) {
	for _, p := range r.snapshotProviders() {
		dp, ok := p.adapter.(adapter.DiscoveryAdapter)
		if !ok {
			continue
		}
		models, err := dp.DiscoverModels(ctx, r.transport)
		if err != nil {
			r.hooks.Publish(ctx, telemetry.SubjectDiscoveryFailed, map[string]any{"provider": p.name, "error": err.Error()})
			continue
		}
		r.discoveryMu.Lock()
		r.discovered[p.name] = models
		r.discoveryMu.Unlock()
		r.hooks.Publish(ctx, telemetry.SubjectDiscoveryCompleted, map[string]any{"provider": p.name, "models": len(models)})
	}
}

// DiscoveredModels returns the most recently discovered model list for
// provider, and false if no discovery run has yet succeeded for it. A
// successful run that found no models reports an empty list and true.
func (r *Router) DiscoveredModels(provider string) ([]string, bool) {
	r.discoveryMu.Lock()
	defer r.discoveryMu.Unlock()
	models, ok := r.discovered[provider]
	return models, ok
}

func (r *Router) retryConfigFor(req contract.UnifiedRequest) contract.RetryConfig {
	if req.RetryConfig.MaxRetries > 0 || req.RetryConfig.BaseDelayMs > 0 {
		return req.RetryConfig
	}
	cfg := r.cfg()
	return contract.RetryConfig{MaxRetries: cfg.DefaultRetry.MaxRetries, BaseDelayMs: cfg.DefaultRetry.BaseDelayMs}
}

// costFor estimates the USD cost of req against provider/model using the
// requested duration and resolution as a stand-in for the delivered
// artifact's actual duration — providers in this pack don't echo clip
// length back in their terminal job response.
func (r *Router) costFor(provider string, req contract.UnifiedRequest) (float64, bool) {
	duration, _ := req.Parameters["duration_s"].(float64)
	resolution, _ := req.Parameters["resolution"].(string)
	var imageCount int
	if req.MediaType == contract.MediaImage {
		imageCount = 1
	}
	result := pricing.Calculate(r.catalog, provider+"/"+req.Model, pricing.Usage{
		DurationSeconds: duration,
		Resolution:      resolution,
		ImageCount:      imageCount,
	})
	if !result.ModelFound {
		return 0, false
	}
	return result.TotalUSD, true
}

func (r *Router) timeoutFor(req contract.UnifiedRequest) time.Duration {
	ms := req.TimeoutMs
	if ms <= 0 {
		ms = r.cfg().DefaultTimeoutMs
	}
	if ms <= 0 {
		ms = 60000
	}
	return time.Duration(ms) * time.Millisecond
}

func errorResponse(req contract.UnifiedRequest, errDetails *contract.ErrorDetails, meta contract.ResponseMetadata, elapsed time.Duration) *contract.UnifiedResponse {
	return &contract.UnifiedResponse{
		RequestID:        req.RequestID,
		SchemaVersion:    contract.V2_0,
		Provider:         errDetails.Provider,
		Model:            req.Model,
		Status:           contract.StatusFailed,
		Error:            errDetails,
		Metadata:         meta,
		ProcessingTimeMs: elapsed.Milliseconds(),
	}
}

var errNoCandidates = &contract.ErrorDetails{
	Code:    contract.ErrProviderError,
	Message: "no provider available to serve this request",
}
