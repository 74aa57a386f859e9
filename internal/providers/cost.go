package providers

import (
	"math"

	"github.com/quorumchat/quorum/pkg/models"
)

// modelCosts maps concrete model ids to (input, output) USD per million tokens.
// Unlisted models estimate to zero.
var modelCosts = map[string][2]float64{
	// Claude
	"claude-opus-4-20250514":     {15.0, 75.0},
	"claude-sonnet-4-20250514":   {3.0, 15.0},
	"claude-3-5-sonnet-20241022": {3.0, 15.0},
	"claude-3-5-haiku-20241022":  {0.25, 1.25},
	// GPT
	"gpt-4o":      {2.5, 10.0},
	"gpt-4o-mini": {0.15, 0.6},
	"gpt-4-turbo": {10.0, 30.0},
	// Gemini
	"gemini-2.0-flash": {0.075, 0.3},
	"gemini-1.5-pro":   {1.25, 5.0},
	"gemini-1.5-flash": {0.075, 0.3},
	// Grok (estimated)
	"grok-3": {3.0, 15.0},
	"grok-2": {2.0, 10.0},
}

// EstimateCost returns the estimated USD cost for the given usage on modelID,
// rounded to 6 decimal places. Unknown models cost 0.
func EstimateCost(modelID string, usage models.Usage) float64 {
	costs, ok := modelCosts[modelID]
	if !ok {
		return 0
	}
	cost := float64(usage.PromptTokens)/1e6*costs[0] +
		float64(usage.CompletionTokens)/1e6*costs[1]
	return math.Round(cost*1e6) / 1e6
}
