package videoforge

import "time"

// StrategyMode selects how the router orders fallback candidates when a
// request does not pin a specific provider (or once the pinned provider's
// fallbacks are appended).
type StrategyMode string

// Supported strategy modes.
const (
	StrategyPriority     StrategyMode = "priority"
	StrategyRoundRobin   StrategyMode = "round_robin"
	StrategyWeighted     StrategyMode = "weighted"
	StrategyLeastLoaded  StrategyMode = "least_loaded"
	StrategyLatencyBased StrategyMode = "latency_based"
)

// BreakerConfig configures every provider's circuit breaker identically.
type BreakerConfig struct {
	Threshold   int `json:"threshold" yaml:"threshold"`
	OpenSeconds int `json:"open_seconds" yaml:"open_seconds"`
}

// CacheConfig configures the router's response cache.
type CacheConfig struct {
	L1MaxEntries            int      `json:"l1_max_entries" yaml:"l1_max_entries"`
	L1Policy                string   `json:"l1_policy" yaml:"l1_policy"`
	DefaultTTLSeconds       int      `json:"default_ttl_s" yaml:"default_ttl_s"`
	L2Enabled               bool     `json:"l2_enabled" yaml:"l2_enabled"`
	L2Driver                string   `json:"l2_driver" yaml:"l2_driver"` // "sqlite" or "postgres", required when L2Enabled
	L2DSN                   string   `json:"l2_dsn" yaml:"l2_dsn"`
	L2TTLSeconds            int      `json:"l2_ttl_s" yaml:"l2_ttl_s"`
	NonCacheableParams      []string `json:"non_cacheable_params" yaml:"non_cacheable_params"`
	InvalidateOnBreakerOpen bool     `json:"invalidate_on_breaker_open" yaml:"invalidate_on_breaker_open"`
}

// RouterConfig is the single struct consumed at router construction.
type RouterConfig struct {
	Strategy          StrategyMode      `json:"strategy" yaml:"strategy"`
	DefaultTimeoutMs  int               `json:"default_timeout_ms" yaml:"default_timeout_ms"`
	DefaultRetry      RetryConfigYAML   `json:"default_retry" yaml:"default_retry"`
	Breaker           BreakerConfig     `json:"breaker" yaml:"breaker"`
	Cache             CacheConfig       `json:"cache" yaml:"cache"`
	Singleflight      bool              `json:"singleflight" yaml:"singleflight"`
	Aliases           map[string]string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	LatencyWindowSize int               `json:"latency_window_size" yaml:"latency_window_size"`
}

// RetryConfigYAML mirrors contract.RetryConfig with wire tags matching
// RouterConfig's own json/yaml tag style.
type RetryConfigYAML struct {
	MaxRetries  int `json:"max_retries" yaml:"max_retries"`
	BaseDelayMs int `json:"base_delay_ms" yaml:"base_delay_ms"`
}

// DefaultRouterConfig returns the documented defaults for every field.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Strategy:         StrategyPriority,
		DefaultTimeoutMs: 60000,
		DefaultRetry:     RetryConfigYAML{MaxRetries: 3, BaseDelayMs: 1000},
		Breaker:          BreakerConfig{Threshold: 5, OpenSeconds: 60},
		Cache: CacheConfig{
			L1MaxEntries:       1000,
			L1Policy:           "LRU",
			DefaultTTLSeconds:  3600,
			L2Enabled:          false,
			L2TTLSeconds:       86400,
			NonCacheableParams: []string{"metadata", "callback_url", "request_id", "created_at"},
		},
		Singleflight:      true,
		LatencyWindowSize: 100,
	}
}

// openTimeout returns the breaker open duration as a time.Duration,
// applying the default when unset.
func (c RouterConfig) openTimeout() time.Duration {
	if c.Breaker.OpenSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Breaker.OpenSeconds) * time.Second
}

func (c RouterConfig) failureThreshold() int {
	if c.Breaker.Threshold <= 0 {
		return 5
	}
	return c.Breaker.Threshold
}
