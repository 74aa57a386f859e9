package providers

import (
	"os"

	"github.com/quorumchat/quorum/internal/observability"
)

// xaiBaseURL is xAI's OpenAI-compatible chat-completions endpoint.
const xaiBaseURL = "https://api.x.ai/v1"

// GrokConfig configures the Grok client.
type GrokConfig struct {
	// APIKey authenticates with xAI. Falls back to XAI_API_KEY.
	APIKey string

	// ModelID selects the concrete model. Default: grok-3.
	ModelID string

	// MaxTokens caps response length. Default: 8192.
	MaxTokens int

	// Temperature controls sampling. Default: 0.7.
	Temperature float64

	// BaseURL overrides the API endpoint (testing/proxies).
	BaseURL string

	// Logger receives request lifecycle logs. Optional.
	Logger *observability.Logger
}

// NewGrokClient creates the ModelClient for xAI's Grok models. Grok speaks
// the OpenAI wire format, so the client is the shared chat-completions
// implementation pointed at xAI's endpoint.
func NewGrokClient(cfg GrokConfig) ModelClient {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("XAI_API_KEY")
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "grok-3"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = xaiBaseURL
	}
	return newOpenAICompatClient(compatIdentity{
		id:          "grok",
		displayName: "Grok",
		color:       "#7C3AED",
	}, cfg.APIKey, cfg.ModelID, cfg.MaxTokens, cfg.Temperature, cfg.BaseURL, cfg.Logger)
}
