// Package pricing estimates LLM call cost from token counts when events do
// not carry an explicit cost.
package pricing

// rate is USD per 1k tokens.
type rate struct {
	InPer1K  float64
	OutPer1K float64
}

// rates is a static catalog keyed by model identifier. Unknown models yield no
// estimate rather than a zero cost.
var rates = map[string]rate{
	"gpt-4o":            {InPer1K: 0.0025, OutPer1K: 0.01},
	"gpt-4o-mini":       {InPer1K: 0.00015, OutPer1K: 0.0006},
	"gpt-4.1":           {InPer1K: 0.002, OutPer1K: 0.008},
	"gpt-4.1-mini":      {InPer1K: 0.0004, OutPer1K: 0.0016},
	"o3":                {InPer1K: 0.002, OutPer1K: 0.008},
	"claude-opus-4":     {InPer1K: 0.015, OutPer1K: 0.075},
	"claude-sonnet-4":   {InPer1K: 0.003, OutPer1K: 0.015},
	"claude-haiku-3.5":  {InPer1K: 0.0008, OutPer1K: 0.004},
	"gemini-2.5-pro":    {InPer1K: 0.00125, OutPer1K: 0.01},
	"gemini-2.5-flash":  {InPer1K: 0.0003, OutPer1K: 0.0025},
	"llama-3.3-70b":     {InPer1K: 0.00059, OutPer1K: 0.00079},
	"mistral-large":     {InPer1K: 0.002, OutPer1K: 0.006},
	"deepseek-chat":     {InPer1K: 0.00027, OutPer1K: 0.0011},
	"deepseek-reasoner": {InPer1K: 0.00055, OutPer1K: 0.00219},
}

// Estimate returns the estimated cost of a call, or false when the model is
// not in the catalog.
func Estimate(model string, tokensIn, tokensOut int64) (float64, bool) {
	r, ok := rates[model]
	if !ok {
		return 0, false
	}
	return float64(tokensIn)/1000*r.InPer1K + float64(tokensOut)/1000*r.OutPer1K, true
}
