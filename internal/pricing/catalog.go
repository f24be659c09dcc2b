// Package pricing provides the video generation model catalog — a
// structured map of every supported provider/model's per-second rate and
// resolution multipliers.
//
// The catalog is loaded once at router startup from a remote URL with an
// embedded backup as fallback. Cost calculation via [Calculate] is
// performed synchronously after a provider call succeeds, before
// UnifiedResponse.Cost is set.
package pricing

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

//go:embed catalog_backup.json
var bundledCatalog []byte

// CatalogURLEnv is the env var operators set to override the catalog
// source. Useful for air-gapped deployments or custom negotiated rates.
const CatalogURLEnv = "VIDEOFORGE_PRICING_CATALOG_URL"

const defaultCatalogURL = "https://raw.githubusercontent.com/ferro-labs/videoforge/main/internal/pricing/catalog.json"

// Catalog is a flat map of "provider/model-id" → Model.
type Catalog map[string]Model

// Model holds the billing metadata for a single provider/model pair.
type Model struct {
	Provider             string             `json:"provider"`
	ModelID              string             `json:"model_id"`
	DisplayName          string             `json:"display_name"`
	PerSecondUSD         float64            `json:"per_second_usd"`
	MinBillableSeconds   float64            `json:"min_billable_seconds"`
	ResolutionMultiplier map[string]float64 `json:"resolution_multiplier"`
	ImageFlatUSD         *float64           `json:"image_flat_usd"`
	Lifecycle            Lifecycle          `json:"lifecycle"`
}

// Lifecycle describes a model's release and deprecation state.
type Lifecycle struct {
	Status          string  `json:"status"` // preview | ga | deprecated
	DeprecationDate *string `json:"deprecation_date"`
	Successor       *string `json:"successor"`
}

// IsDeprecated reports whether m's lifecycle status is deprecated.
func (m Model) IsDeprecated() bool {
	return m.Lifecycle.Status == "deprecated"
}

// Load fetches the model catalog from a remote URL (1s timeout). On any
// failure it falls back to the embedded catalog_backup.json. The router
// never fails to start due to catalog unavailability.
func Load() (Catalog, error) {
	url := os.Getenv(CatalogURLEnv)
	if url == "" {
		url = defaultCatalogURL
	}

	if data, err := fetchRemote(url); err == nil {
		if c, err := parse(data); err == nil {
			return c, nil
		}
		// Remote payload fetched but invalid JSON — fall through to the
		// embedded copy below.
	}
	return parse(bundledCatalog)
}

func fetchRemote(url string) ([]byte, error) {
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog fetch: HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func parse(data []byte) (Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("catalog parse: %w", err)
	}
	return c, nil
}

// Get looks up a model by "provider/model-id". If not found, scans for a
// bare model ID match as fallback.
func (c Catalog) Get(key string) (Model, bool) {
	if m, ok := c[key]; ok {
		return m, true
	}
	for _, v := range c {
		if v.ModelID == key {
			return v, true
		}
	}
	return Model{}, false
}
