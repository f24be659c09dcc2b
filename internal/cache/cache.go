// Package cache implements a multi-tier response cache: a bounded,
// content-addressed L1 hot tier with selectable eviction policy, an
// optional L2 warm tier behind an abstract key-value interface,
// singleflight coalescing of concurrent misses, and negative caching for
// rate_limit_exceeded responses.
//
// Cache keys are deterministic across processes: they depend only on
// provider, model, prompt, and parameters — never on metadata,
// callback_url, request_id, or created_at.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ferro-labs/videoforge/contract"
)

// Policy selects the L1 eviction strategy.
type Policy string

// Supported L1 eviction policies.
const (
	PolicyLRU Policy = "LRU"
	PolicyLFU Policy = "LFU"
	PolicyTTL Policy = "TTL"
)

// Entry is a single cached response plus its bookkeeping metadata.
type Entry struct {
	Key          string
	Response     contract.UnifiedResponse
	CreatedAt    time.Time
	ExpiresAt    time.Time
	AccessCount  int64
	LastAccessed time.Time
}

// Stats holds the cache's observability counters.
type Stats struct {
	Hits             int64
	Misses           int64
	Evictions        int64
	Expirations      int64
	CoalescedWaiters int64
}

// H16 returns the first 16 hex characters of the SHA-256 digest of s, the
// truncated hash the cache-key format uses for both the prompt and the
// canonical parameter JSON.
func H16(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// CanonicalJSON marshals v with map keys in sorted order (Go's
// encoding/json already sorts map[string]any keys at every nesting level,
// so a plain Marshal is canonical) after stripping any key named in drop.
func CanonicalJSON(params map[string]any, drop []string) (string, error) {
	if len(drop) == 0 {
		b, err := json.Marshal(params)
		return string(b), err
	}
	dropSet := make(map[string]bool, len(drop))
	for _, k := range drop {
		dropSet[k] = true
	}
	filtered := make(map[string]any, len(params))
	for k, v := range params {
		if dropSet[k] {
			continue
		}
		filtered[k] = v
	}
	b, err := json.Marshal(filtered)
	return string(b), err
}

// Key derives the deterministic cache key for a (provider, model, prompt,
// parameters) tuple: "{provider}:{model}:{H16(prompt)}:{H16(canonical_params)}".
func Key(provider, model, prompt string, parameters map[string]any, nonCacheableParams []string) (string, error) {
	canonical, err := CanonicalJSON(parameters, nonCacheableParams)
	if err != nil {
		return "", err
	}
	return provider + ":" + model + ":" + H16(prompt) + ":" + H16(canonical), nil
}

// ThrottledKey returns the negative-cache key for a provider's
// rate_limit_exceeded state.
func ThrottledKey(provider string) string {
	return provider + ":throttled"
}

// L2 is the abstract key-value interface an optional shared warm tier
// must implement. SQLStore is the SQL-backed implementation.
type L2 interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Scan(ctx context.Context, prefix string) ([]string, error)
}

// Cache is the multi-tier response cache: L1 is always present, L2 is
// optional. All cache errors (L1 corruption, L2 transport failures) are
// treated as misses — they are never surfaced to the router.
type Cache struct {
	l1                 *Memory
	l2                 L2
	l2TTL              time.Duration
	sf                 singleflight.Group
	nonCacheableParams []string

	mu       sync.Mutex
	negative map[string]time.Time // key -> expiry, for rate_limit_exceeded negative entries

	hits             atomic.Int64
	misses           atomic.Int64
	coalescedWaiters atomic.Int64
}

// Config configures a new Cache.
type Config struct {
	L1MaxEntries       int
	L1Policy           Policy
	DefaultTTL         time.Duration
	L2                 L2 // nil disables the L2 tier
	L2TTL              time.Duration
	NonCacheableParams []string
}

// New constructs a Cache from cfg, applying sensible defaults for zero
// values.
func New(cfg Config) *Cache {
	if cfg.L1MaxEntries <= 0 {
		cfg.L1MaxEntries = 1000
	}
	if cfg.L1Policy == "" {
		cfg.L1Policy = PolicyLRU
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 3600 * time.Second
	}
	if cfg.L2TTL <= 0 {
		cfg.L2TTL = 86400 * time.Second
	}
	if cfg.NonCacheableParams == nil {
		cfg.NonCacheableParams = contract.NonCacheableParams()
	}
	return &Cache{
		l1:                 NewMemory(cfg.L1MaxEntries, cfg.L1Policy, cfg.DefaultTTL),
		l2:                 cfg.L2,
		l2TTL:              cfg.L2TTL,
		nonCacheableParams: cfg.NonCacheableParams,
		negative:           make(map[string]time.Time),
	}
}

// NonCacheableParams returns the configured non-cacheable parameter keys.
func (c *Cache) NonCacheableParams() []string { return c.nonCacheableParams }

// SetL2 attaches l2 as the cache's shared warm tier, replacing any
// previous one (nil detaches it). Intended for startup-time wiring, not
// safe to call concurrently with Get/Set.
func (c *Cache) SetL2(l2 L2) {
	c.l2 = l2
}

// Get looks up key in L1, falling back to L2 on miss. A successful L2 hit
// is promoted into L1. Any L2 error is treated as a miss.
func (c *Cache) Get(ctx context.Context, key string) (*contract.UnifiedResponse, bool) {
	if resp, ok := c.l1.Get(key); ok {
		c.hits.Add(1)
		return resp, true
	}
	if c.l2 != nil {
		if b, ok, err := c.l2.Get(ctx, key); err == nil && ok {
			var resp contract.UnifiedResponse
			if jsonErr := decodeEntry(b, &resp); jsonErr == nil {
				c.l1.Set(key, &resp, c.l1.ttl)
				c.hits.Add(1)
				return &resp, true
			}
		}
	}
	c.misses.Add(1)
	return nil, false
}

// Set writes a response into L1 (and L2, if configured) with ttl. Only
// status==success responses may be cached — callers must enforce this
// before calling Set; Set itself does not re-check status so that tests
// can exercise cache mechanics directly.
func (c *Cache) Set(ctx context.Context, key string, resp *contract.UnifiedResponse, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.l1.ttl
	}
	c.l1.Set(key, resp, ttl)
	if c.l2 != nil {
		if b, err := encodeEntry(resp); err == nil {
			if err := c.l2.Set(ctx, key, b, c.l2TTL); err != nil { // L2 errors are logged, never fatal here
				slog.Warn("l2 cache write failed", "key", key, "error", err)
			}
		}
	}
}

// SetNegative marks provider as throttled for 5 minutes.
func (c *Cache) SetNegative(provider string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.negative[ThrottledKey(provider)] = time.Now().Add(5 * time.Minute)
}

// IsNegative reports whether provider currently carries an unexpired
// rate_limit_exceeded negative cache entry.
func (c *Cache) IsNegative(provider string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	expiry, ok := c.negative[ThrottledKey(provider)]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(c.negative, ThrottledKey(provider))
		return false
	}
	return true
}

// Invalidate removes every L1 (and, if configured, L2) entry whose key has
// the given prefix.
func (c *Cache) Invalidate(ctx context.Context, prefix string) {
	c.l1.InvalidatePrefix(prefix)
	if c.l2 != nil {
		keys, err := c.l2.Scan(ctx, prefix)
		if err != nil {
			return
		}
		for _, k := range keys {
			_ = c.l2.Delete(ctx, k)
		}
	}
}

// Coalesced runs fn at most once per concurrently-requested key: additional
// callers block on the same in-flight call and receive its result. The
// returned bool is true when the result was shared with at least one other
// concurrent caller; the caller that led the call sees true as well.
func (c *Cache) Coalesced(key string, fn func() (*contract.UnifiedResponse, error)) (*contract.UnifiedResponse, error, bool) {
	v, err, shared := c.sf.Do(key, func() (interface{}, error) {
		return fn()
	})
	if shared {
		c.coalescedWaiters.Add(1)
	}
	if err != nil {
		return nil, err, shared
	}
	resp, _ := v.(*contract.UnifiedResponse)
	return resp, nil, shared
}

// Stats returns a snapshot of the cache's observability counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:             c.hits.Load(),
		Misses:           c.misses.Load(),
		Evictions:        c.l1.evictions.Load(),
		Expirations:      c.l1.expirations.Load(),
		CoalescedWaiters: c.coalescedWaiters.Load(),
	}
}

func encodeEntry(resp *contract.UnifiedResponse) ([]byte, error) {
	return json.Marshal(resp)
}

func decodeEntry(b []byte, out *contract.UnifiedResponse) error {
	return json.Unmarshal(b, out)
}
