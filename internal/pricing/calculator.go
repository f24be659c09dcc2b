package pricing

// Usage carries the billable facts from a completed provider response.
type Usage struct {
	DurationSeconds float64 // output clip length, video/audio modes
	Resolution      string  // e.g. "720p", "1080p", "4k" — matched against Model.ResolutionMultiplier
	ImageCount      int     // image generation requests (flat-rate billing)
}

// CostResult breaks down the total cost by billing component.
type CostResult struct {
	TotalUSD float64
	VideoUSD float64
	ImageUSD float64
	// ModelFound is false when the catalog has no entry for the requested
	// model. All cost fields are zero in that case.
	ModelFound bool
}

// Calculate computes the full cost for one completed request. modelKey
// should be "provider/model-id"; a bare model ID is also accepted but
// triggers a linear scan of the catalog.
func Calculate(catalog Catalog, modelKey string, usage Usage) CostResult {
	model, ok := catalog.Get(modelKey)
	if !ok {
		return CostResult{ModelFound: false}
	}

	r := CostResult{ModelFound: true}

	if usage.ImageCount > 0 && model.ImageFlatUSD != nil {
		r.ImageUSD = *model.ImageFlatUSD * float64(usage.ImageCount)
	}

	if usage.DurationSeconds > 0 && model.PerSecondUSD > 0 {
		billable := usage.DurationSeconds
		if model.MinBillableSeconds > billable {
			billable = model.MinBillableSeconds
		}
		mult := 1.0
		if m, ok := model.ResolutionMultiplier[usage.Resolution]; ok {
			mult = m
		}
		r.VideoUSD = model.PerSecondUSD * billable * mult
	}

	r.TotalUSD = r.VideoUSD + r.ImageUSD
	return r
}
