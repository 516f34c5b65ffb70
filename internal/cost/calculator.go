// Package cost prices enrichment lookups and outreach generations.
package cost

import "strings"

// Rates holds pricing for every billable dependency.
type Rates struct {
	// Lookups is USD per provider lookup, keyed by provider name.
	Lookups map[string]float64 `yaml:"lookups" mapstructure:"lookups"`
	// Models is per-model token pricing for the outreach writer.
	Models map[string]ModelRate `yaml:"models" mapstructure:"models"`
}

// ModelRate holds USD per million tokens.
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Calculator computes costs from Rates.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Lookup returns the unit cost of one lookup against provider. Unknown
// providers are free.
func (c *Calculator) Lookup(provider string) float64 {
	return c.rates.Lookups[strings.ToLower(provider)]
}

// MaxLookup returns the highest unit cost among providers, the pre-flight
// estimate shown before a lookup whose provider is not yet known.
func (c *Calculator) MaxLookup(providers []string) float64 {
	var highest float64
	for _, p := range providers {
		if v := c.Lookup(p); v > highest {
			highest = v
		}
	}
	return highest
}

// Generation returns the cost of one outreach message generation.
func (c *Calculator) Generation(model string, inputTokens, outputTokens int64) float64 {
	rate, ok := c.rates.Models[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1e6*rate.Input + float64(outputTokens)/1e6*rate.Output
}

// DefaultRates returns list pricing.
func DefaultRates() Rates {
	return Rates{
		Lookups: map[string]float64{
			"apollo":  0.03,
			"lusha":   0.05,
			"website": 0,
		},
		Models: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		},
	}
}
