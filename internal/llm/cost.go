package llm

// modelPricing maps a model identifier to its per-token USD price.
type modelPricing struct {
	prompt     float64
	completion float64
}

// knownPricing holds per-token prices for the models the gateway commonly
// routes. Prices are per single token, not per thousand.
var knownPricing = map[string]modelPricing{
	"gpt-4o":            {prompt: 0.0000025, completion: 0.00001},
	"gpt-4o-mini":       {prompt: 0.00000015, completion: 0.0000006},
	"gpt-3.5-turbo":     {prompt: 0.0000005, completion: 0.0000015},
	"claude-sonnet-4-5": {prompt: 0.000003, completion: 0.000015},
	"claude-haiku-3-5":  {prompt: 0.0000008, completion: 0.000004},
}

// Fallback per-token prices applied when the model is not in the table.
const (
	fallbackPromptPrice     = 0.00001
	fallbackCompletionPrice = 0.00002
)

// EstimateCost returns the estimated USD cost of a completion. Unknown
// models use conservative fallback prices so cost reporting never returns
// zero for billed traffic.
func EstimateCost(model string, usage Usage) float64 {
	pricing, ok := knownPricing[model]
	if !ok {
		pricing = modelPricing{prompt: fallbackPromptPrice, completion: fallbackCompletionPrice}
	}
	return float64(usage.PromptTokens)*pricing.prompt +
		float64(usage.CompletionTokens)*pricing.completion
}
