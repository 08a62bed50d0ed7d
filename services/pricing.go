package services

// ModelPrice is the USD price per million tokens.
type ModelPrice struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// PriceTable maps model identifiers to prices. Unknown models are billed at
// the Default price.
type PriceTable struct {
	Default ModelPrice
	Models  map[string]ModelPrice
}

var sonnetPrice = ModelPrice{InputPerMillion: 3.00, OutputPerMillion: 15.00}

// DefaultPriceTable is the static price list used in production.
var DefaultPriceTable = PriceTable{
	Default: sonnetPrice,
	Models: map[string]ModelPrice{
		"claude-sonnet-4-20250514":   sonnetPrice,
		"claude-sonnet-4-5-20250929": sonnetPrice,
		"claude-3-7-sonnet-20250219": sonnetPrice,
		"claude-3-5-sonnet-20241022": sonnetPrice,
		"claude-3-5-haiku-20241022":  {InputPerMillion: 0.80, OutputPerMillion: 4.00},
		"gpt-4o":                     {InputPerMillion: 2.50, OutputPerMillion: 10.00},
		"gpt-4o-mini":                {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	},
}

func (t PriceTable) Lookup(model string) ModelPrice {
	if p, ok := t.Models[model]; ok {
		return p
	}
	return t.Default
}

// CalculateCost returns the USD cost of one call.
func (t PriceTable) CalculateCost(model string, inputTokens, outputTokens int) float64 {
	p := t.Lookup(model)
	return float64(inputTokens)/1e6*p.InputPerMillion + float64(outputTokens)/1e6*p.OutputPerMillion
}
