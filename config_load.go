package videoforge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads and parses a router config file. Supported formats:
// JSON (.json), YAML (.yaml, .yml).
func LoadConfig(path string) (*RouterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading router config file: %w", err)
	}

	cfg := DefaultRouterConfig()
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML router config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON router config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}

	return &cfg, nil
}

// ValidateConfig validates cfg for correctness, defaulting an empty
// strategy to priority the same way an empty mode resolves at runtime.
func ValidateConfig(cfg RouterConfig) error {
	mode := cfg.Strategy
	if mode == "" {
		mode = StrategyPriority
	}
	switch mode {
	case StrategyPriority, StrategyRoundRobin, StrategyWeighted, StrategyLeastLoaded, StrategyLatencyBased:
	default:
		return fmt.Errorf("unknown strategy mode: %q", cfg.Strategy)
	}

	if cfg.DefaultTimeoutMs < 0 {
		return fmt.Errorf("default_timeout_ms must not be negative")
	}
	if cfg.Breaker.Threshold < 0 {
		return fmt.Errorf("breaker.threshold must not be negative")
	}
	switch strings.ToUpper(cfg.Cache.L1Policy) {
	case "", "LRU", "LFU", "TTL":
	default:
		return fmt.Errorf("unknown cache l1_policy: %q", cfg.Cache.L1Policy)
	}
	if cfg.Cache.L2Enabled {
		switch cfg.Cache.L2Driver {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("cache.l2_driver must be %q or %q when l2_enabled is true, got %q", "sqlite", "postgres", cfg.Cache.L2Driver)
		}
		if cfg.Cache.L2DSN == "" {
			return fmt.Errorf("cache.l2_dsn must not be empty when l2_enabled is true")
		}
	}
	return nil
}
