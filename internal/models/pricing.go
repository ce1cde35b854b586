package models

// Pricing holds per-model prices in USD per million tokens.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
	// Cache reads are discounted, cache writes carry a premium, relative
	// to the input price.
	CacheReadDiscount float64
	CacheWritePremium float64
}

var defaultPricing = Pricing{3.0, 15.0, 0.90, 1.25}

var modelPricing = map[string]Pricing{
	"claude-opus-4-5-20251101":   {15.0, 75.0, 0.90, 1.25},
	"claude-sonnet-4-5-20250929": {3.0, 15.0, 0.90, 1.25},
	"claude-haiku-4-5-20251001":  {0.80, 4.0, 0.90, 1.25},
	"claude-opus-4-1-20250805":   {15.0, 75.0, 0.90, 1.25},
	"claude-sonnet-4-20250514":   {3.0, 15.0, 0.90, 1.25},
	"claude-3-5-sonnet-20241022": {3.0, 15.0, 0.90, 1.25},
	"claude-3-5-haiku-20241022":  {0.80, 4.0, 0.90, 1.25},
}

// PricingFor returns pricing for a model, falling back to Sonnet-class
// pricing for unknown models.
func PricingFor(model string) Pricing {
	if p, ok := modelPricing[model]; ok {
		return p
	}
	return defaultPricing
}

// Cost computes the USD cost of a request from its token counters.
// Cache-read tokens are billed at the discounted input rate and
// cache-creation tokens at the premium input rate; both are assumed to be
// included in the plain input counter and are re-priced here.
func (p Pricing) Cost(inputTokens, outputTokens, cacheReadTokens, cacheCreationTokens int) float64 {
	inPrice := p.InputPerMillion / 1e6
	outPrice := p.OutputPerMillion / 1e6

	plain := inputTokens - cacheReadTokens - cacheCreationTokens
	if plain < 0 {
		plain = 0
	}
	cost := float64(plain) * inPrice
	cost += float64(cacheReadTokens) * inPrice * (1 - p.CacheReadDiscount)
	cost += float64(cacheCreationTokens) * inPrice * p.CacheWritePremium
	cost += float64(outputTokens) * outPrice
	return cost
}
