package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/quorumchat/quorum/internal/observability"
	"github.com/quorumchat/quorum/pkg/models"
)

// GeminiClient is the ModelClient implementation for Google's Gemini models,
// built on the google.golang.org/genai SDK.
//
// Gemini differs from the other providers in two ways the client papers over:
// function calls carry no ids (the client mints uuids so the tool loop can
// correlate results), and tool results are function-response parts keyed by
// function name rather than call id.
type GeminiClient struct {
	client      *genai.Client
	apiKey      string
	modelID     string
	maxTokens   int
	temperature float64
	logger      *observability.Logger
}

// GeminiConfig configures the Gemini client.
type GeminiConfig struct {
	// APIKey authenticates with Google AI. Falls back to GEMINI_API_KEY,
	// then GOOGLE_API_KEY.
	APIKey string

	// ModelID selects the concrete model. Default: gemini-2.0-flash.
	ModelID string

	// MaxTokens caps response length. Default: 8192.
	MaxTokens int

	// Temperature controls sampling. Default: 0.7.
	Temperature float64

	// Logger receives request lifecycle logs. Optional.
	Logger *observability.Logger
}

// NewGeminiClient creates a Gemini client from the given configuration.
// The underlying SDK client is constructed lazily on first request so that
// an unavailable client never dials.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("GOOGLE_API_KEY")
		}
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "gemini-2.0-flash"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}

	return &GeminiClient{
		apiKey:      cfg.APIKey,
		modelID:     cfg.ModelID,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      cfg.Logger.WithFields("component", "providers.gemini"),
	}
}

// ID returns the participant id used in mentions.
func (c *GeminiClient) ID() string { return "gemini" }

// DisplayName returns the human-readable participant name.
func (c *GeminiClient) DisplayName() string { return "Gemini" }

// Color returns the participant's display color.
func (c *GeminiClient) Color() string { return "#4285F4" }

// ModelID returns the concrete model identifier.
func (c *GeminiClient) ModelID() string { return c.modelID }

// Available reports whether an API key is configured.
func (c *GeminiClient) Available() bool { return c.apiKey != "" }

// CountTokens estimates tokens at ~4 characters per token.
func (c *GeminiClient) CountTokens(text string) int {
	return len(text) / 4
}

func (c *GeminiClient) getClient(ctx context.Context) (*genai.Client, error) {
	if c.client != nil {
		return c.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, NewProviderError(c.ID(), c.modelID, err)
	}
	c.client = client
	return client, nil
}

// Generate performs a one-shot completion by collecting the stream.
// Wrapped in exponential-backoff retry on rate-limit and transient errors.
func (c *GeminiClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	return callWithRetry(ctx, func(ctx context.Context) (*Response, error) {
		chunks, err := c.Stream(ctx, req)
		if err != nil {
			return nil, err
		}
		return CollectStream(chunks, c.ID())
	})
}

// Stream opens a streaming completion against the Gemini API.
func (c *GeminiClient) Stream(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
	if !c.Available() {
		return nil, (&ProviderError{
			Kind:     ErrorAuth,
			Provider: c.ID(),
			Model:    c.modelID,
		}).WithMessage("Gemini API key not configured")
	}

	client, err := c.getClient(ctx)
	if err != nil {
		return nil, err
	}

	contents := c.convertMessages(req.Messages)
	config := c.buildConfig(req)

	chunks := make(chan StreamChunk, 16)
	go func() {
		defer close(chunks)

		sawToolCall := false
		finishReason := models.FinishStop
		var usage *models.Usage

		for resp, err := range client.Models.GenerateContentStream(ctx, c.modelID, contents, config) {
			select {
			case <-ctx.Done():
				sendChunk(ctx, chunks, StreamChunk{Err: ctx.Err(), Done: true})
				return
			default:
			}

			if err != nil {
				sendChunk(ctx, chunks, StreamChunk{Err: c.wrapError(err), Done: true})
				return
			}
			if resp == nil {
				continue
			}

			if resp.UsageMetadata != nil {
				usage = &models.Usage{
					PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
					CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
					TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
				}
			}

			for _, candidate := range resp.Candidates {
				if candidate == nil || candidate.Content == nil {
					continue
				}
				if candidate.FinishReason == genai.FinishReasonMaxTokens {
					finishReason = models.FinishLength
				}

				for _, part := range candidate.Content.Parts {
					if part == nil {
						continue
					}
					if part.Text != "" {
						if !sendChunk(ctx, chunks, StreamChunk{Content: part.Text}) {
							return
						}
					}
					if part.FunctionCall != nil {
						argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
						if jsonErr != nil {
							argsJSON = []byte("{}")
						}
						sawToolCall = true
						if !sendChunk(ctx, chunks, StreamChunk{ToolCall: &models.ToolCall{
							ID:        "call_" + uuid.NewString(),
							Name:      part.FunctionCall.Name,
							Arguments: argsJSON,
						}}) {
							return
						}
					}
				}
			}
		}

		if sawToolCall {
			finishReason = models.FinishToolUse
		}
		if usage != nil {
			usage.CostEstimate = EstimateCost(c.modelID, *usage)
		}
		sendChunk(ctx, chunks, StreamChunk{
			Done:         true,
			FinishReason: finishReason,
			Usage:        usage,
		})
	}()

	return chunks, nil
}

// convertMessages renders the reauthored transcript into Gemini contents.
// System text is handled via SystemInstruction in the request config.
func (c *GeminiClient) convertMessages(messages []models.Message) []*genai.Content {
	reauthored := Reauthor(messages, c.ID())

	var result []*genai.Content
	for _, msg := range reauthored {
		if msg.Role == models.RoleSystem {
			continue
		}

		content := &genai.Content{}
		switch msg.Role {
		case models.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			// User and tool both come from the user side in Gemini's model.
			content.Role = genai.RoleUser
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}

		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal(tc.Arguments, &args); err != nil {
				args = make(map[string]any)
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					Name: tc.Name,
					Args: args,
				},
			})
		}

		for _, tr := range msg.ToolResults {
			var response map[string]any
			if err := json.Unmarshal([]byte(tr.Content), &response); err != nil {
				response = map[string]any{
					"result": tr.Content,
					"error":  tr.IsError,
				}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					Name:     toolNameForCallID(tr.ToolCallID, messages),
					Response: response,
				},
			})
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result
}

func (c *GeminiClient) buildConfig(req *Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	maxTokens := maxTokensOrDefault(req.MaxTokens, c.maxTokens)
	config.MaxOutputTokens = int32(maxTokens) // #nosec G115 -- config values are small

	temperature := float32(temperatureOrDefault(req.Temperature, c.temperature))
	config.Temperature = &temperature

	if len(req.Tools) > 0 {
		config.Tools = c.convertTools(req.Tools)
	}

	return config
}

func (c *GeminiClient) convertTools(tools []ToolDefinition) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  toGeminiSchema(tool.ParametersMap()),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// toGeminiSchema converts the JSON Schema subset to Gemini's Schema type.
func toGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}

	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = toGeminiSchema(propMap)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = toGeminiSchema(items)
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

// toolNameForCallID recovers the function name for a tool-call id by scanning
// prior assistant messages. Gemini keys function responses by name.
func toolNameForCallID(callID string, messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		for _, tc := range messages[i].ToolCalls {
			if tc.ID == callID {
				return tc.Name
			}
		}
	}
	return "unknown"
}

// wrapError wraps a Gemini SDK error in a ProviderError. The SDK surfaces
// gRPC-flavored errors, so the status code is recovered from the message.
func (c *GeminiClient) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}

	providerErr := NewProviderError(c.ID(), c.modelID, err)

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "401"), strings.Contains(errMsg, "unauthenticated"):
		providerErr = providerErr.WithStatus(http.StatusUnauthorized)
	case strings.Contains(errMsg, "403"), strings.Contains(errMsg, "permission denied"):
		providerErr = providerErr.WithStatus(http.StatusForbidden)
	case strings.Contains(errMsg, "404"), strings.Contains(errMsg, "not found"):
		providerErr = providerErr.WithStatus(http.StatusNotFound)
	case strings.Contains(errMsg, "429"), strings.Contains(errMsg, "resource exhausted"):
		providerErr = providerErr.WithStatus(http.StatusTooManyRequests)
	case strings.Contains(errMsg, "503"), strings.Contains(errMsg, "unavailable"):
		providerErr = providerErr.WithStatus(http.StatusServiceUnavailable)
	case strings.Contains(errMsg, "500"), strings.Contains(errMsg, "internal"):
		providerErr = providerErr.WithStatus(http.StatusInternalServerError)
	}

	return providerErr
}

var _ ModelClient = (*GeminiClient)(nil)
