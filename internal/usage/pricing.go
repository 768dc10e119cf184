package usage

import "strings"

// ModelPrice is the cost per one million tokens.
type ModelPrice struct {
	Input  float64
	Output float64
}

// pricing is matched by case-insensitive substring on the model name, first
// match wins, so keep more specific names (e.g. "gpt-4o-mini") before their
// prefixes. Advisory only: the worker's UsageInfo is the billing authority.
var pricing = []struct {
	Substr string
	Price  ModelPrice
}{
	{"claude-opus", ModelPrice{Input: 15.0, Output: 75.0}},
	{"claude-sonnet", ModelPrice{Input: 3.0, Output: 15.0}},
	{"claude-haiku", ModelPrice{Input: 0.8, Output: 4.0}},
	{"gpt-4o-mini", ModelPrice{Input: 0.15, Output: 0.6}},
	{"gpt-4o", ModelPrice{Input: 2.5, Output: 10.0}},
	{"gpt-4.1", ModelPrice{Input: 2.0, Output: 8.0}},
	{"o1", ModelPrice{Input: 15.0, Output: 60.0}},
	{"gemini-1.5-pro", ModelPrice{Input: 1.25, Output: 5.0}},
	{"gemini", ModelPrice{Input: 0.1, Output: 0.4}},
	{"deepseek", ModelPrice{Input: 0.27, Output: 1.1}},
}

// defaultRate is the flat combined per-1M-token rate for unmatched models.
const defaultRate = 5.0

const tokensPerUnit = 1e6

// Cost computes the advisory dollar cost of one call.
func Cost(model string, inputTokens, outputTokens int64) float64 {
	lower := strings.ToLower(model)
	for _, p := range pricing {
		if strings.Contains(lower, p.Substr) {
			return float64(inputTokens)*p.Price.Input/tokensPerUnit +
				float64(outputTokens)*p.Price.Output/tokensPerUnit
		}
	}
	return float64(inputTokens+outputTokens) * defaultRate / tokensPerUnit
}
