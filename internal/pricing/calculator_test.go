package pricing

import (
	"math"
	"testing"
)

func approxEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

func ptr(f float64) *float64 { return &f }

func catalogWith(key string, m Model) Catalog {
	return Catalog{key: m}
}

func TestCalculateVideoBasic(t *testing.T) {
	c := catalogWith("sora/sora-2", Model{
		Provider:             "sora",
		ModelID:              "sora-2",
		PerSecondUSD:         0.10,
		MinBillableSeconds:   4,
		ResolutionMultiplier: map[string]float64{"720p": 1.0, "1080p": 1.8},
	})

	got := Calculate(c, "sora/sora-2", Usage{DurationSeconds: 10, Resolution: "1080p"})

	if !got.ModelFound {
		t.Fatal("ModelFound should be true")
	}
	want := 0.10 * 10 * 1.8
	if !approxEqual(got.VideoUSD, want, 1e-9) {
		t.Errorf("VideoUSD: got %v, want %v", got.VideoUSD, want)
	}
	if !approxEqual(got.TotalUSD, want, 1e-9) {
		t.Errorf("TotalUSD: got %v, want %v", got.TotalUSD, want)
	}
}

func TestCalculateVideoAppliesMinimumBillableSeconds(t *testing.T) {
	c := catalogWith("kling/kling-2.1", Model{
		PerSecondUSD:         0.08,
		MinBillableSeconds:   5,
		ResolutionMultiplier: map[string]float64{"720p": 1.0},
	})

	got := Calculate(c, "kling/kling-2.1", Usage{DurationSeconds: 2, Resolution: "720p"})

	want := 0.08 * 5 * 1.0
	if !approxEqual(got.VideoUSD, want, 1e-9) {
		t.Errorf("VideoUSD: got %v, want %v (minimum billable seconds should apply)", got.VideoUSD, want)
	}
}

func TestCalculateVideoUnknownResolutionDefaultsToUnitMultiplier(t *testing.T) {
	c := catalogWith("veo/veo-3", Model{
		PerSecondUSD:         0.12,
		ResolutionMultiplier: map[string]float64{"1080p": 1.6},
	})

	got := Calculate(c, "veo/veo-3", Usage{DurationSeconds: 4, Resolution: "8k"})

	want := 0.12 * 4 * 1.0
	if !approxEqual(got.VideoUSD, want, 1e-9) {
		t.Errorf("VideoUSD: got %v, want %v", got.VideoUSD, want)
	}
}

func TestCalculateImageFlatRate(t *testing.T) {
	c := catalogWith("flux/flux-1.1-pro", Model{
		ImageFlatUSD: ptr(0.055),
	})

	got := Calculate(c, "flux/flux-1.1-pro", Usage{ImageCount: 3})

	want := 0.055 * 3
	if !approxEqual(got.ImageUSD, want, 1e-9) {
		t.Errorf("ImageUSD: got %v, want %v", got.ImageUSD, want)
	}
	if !approxEqual(got.TotalUSD, want, 1e-9) {
		t.Errorf("TotalUSD: got %v, want %v", got.TotalUSD, want)
	}
}

func TestCalculateUnknownModelReturnsNotFound(t *testing.T) {
	got := Calculate(Catalog{}, "sora/sora-2", Usage{DurationSeconds: 5})
	if got.ModelFound {
		t.Fatal("ModelFound should be false for an empty catalog")
	}
	if got.TotalUSD != 0 {
		t.Errorf("TotalUSD: got %v, want 0", got.TotalUSD)
	}
}

func TestCatalogGetByBareModelID(t *testing.T) {
	c := Catalog{"sora/sora-2": Model{ModelID: "sora-2"}}
	m, ok := c.Get("sora-2")
	if !ok {
		t.Fatal("Get should find a bare model ID match")
	}
	if m.ModelID != "sora-2" {
		t.Errorf("ModelID: got %v, want sora-2", m.ModelID)
	}
}

func TestModelIsDeprecated(t *testing.T) {
	m := Model{Lifecycle: Lifecycle{Status: "deprecated"}}
	if !m.IsDeprecated() {
		t.Error("IsDeprecated should be true")
	}
	m.Lifecycle.Status = "ga"
	if m.IsDeprecated() {
		t.Error("IsDeprecated should be false for ga status")
	}
}
