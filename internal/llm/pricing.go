package llm

import "strings"

// ModelPricing is USD per million tokens. Models absent from the table cost
// zero so metrics stay usable against local or unbilled endpoints.
type ModelPricing struct {
	InputPerMillion  float64 `yaml:"input_per_million" json:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million" json:"output_per_million"`
}

type PriceTable map[string]ModelPricing

// DefaultPrices covers the models the product ships against. Config may
// override or extend any entry.
func DefaultPrices() PriceTable {
	return PriceTable{
		"gpt-4o":       {InputPerMillion: 2.50, OutputPerMillion: 10.00},
		"gpt-4o-mini":  {InputPerMillion: 0.15, OutputPerMillion: 0.60},
		"gpt-4.1":      {InputPerMillion: 2.00, OutputPerMillion: 8.00},
		"gpt-4.1-mini": {InputPerMillion: 0.40, OutputPerMillion: 1.60},
		"o4-mini":      {InputPerMillion: 1.10, OutputPerMillion: 4.40},
	}
}

// Merge overlays other on top of t, returning a new table.
func (t PriceTable) Merge(other PriceTable) PriceTable {
	out := make(PriceTable, len(t)+len(other))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range other {
		out[strings.TrimSpace(k)] = v
	}
	return out
}

// CostUSD prices one usage report for a model.
func (t PriceTable) CostUSD(model string, usage Usage) float64 {
	p, ok := t[strings.TrimSpace(model)]
	if !ok {
		return 0
	}
	in := float64(usage.PromptTokens) / 1_000_000 * p.InputPerMillion
	out := float64(usage.CompletionTokens) / 1_000_000 * p.OutputPerMillion
	return in + out
}
