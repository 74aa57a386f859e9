package providers

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/quorumchat/quorum/internal/observability"
	"github.com/quorumchat/quorum/pkg/models"
)

// ClaudeClient is the ModelClient implementation for Anthropic's Claude
// models, built on the official anthropic-sdk-go.
//
// The client renders the shared transcript through Reauthor before every
// request, emits tool calls and its own tool results as native content
// blocks, and streams deltas over a channel:
//
//	client := providers.NewClaudeClient(providers.ClaudeConfig{})
//	chunks, err := client.Stream(ctx, &providers.Request{Messages: transcript})
//	if err != nil { ... }
//	for chunk := range chunks {
//	    if chunk.Err != nil { ... }
//	    fmt.Print(chunk.Content)
//	}
type ClaudeClient struct {
	client      anthropic.Client
	apiKey      string
	modelID     string
	maxTokens   int
	temperature float64
	logger      *observability.Logger
}

// ClaudeConfig configures the Claude client.
type ClaudeConfig struct {
	// APIKey authenticates with Anthropic. Falls back to ANTHROPIC_API_KEY.
	APIKey string

	// ModelID selects the concrete model. Default: claude-opus-4-5-20251101.
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

// NewClaudeClient creates a Claude client from the given configuration.
func NewClaudeClient(cfg ClaudeConfig) *ClaudeClient {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "claude-opus-4-5-20251101"
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

	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &ClaudeClient{
		client:      anthropic.NewClient(options...),
		apiKey:      cfg.APIKey,
		modelID:     cfg.ModelID,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      cfg.Logger.WithFields("component", "providers.claude"),
	}
}

// ID returns the participant id used in mentions.
func (c *ClaudeClient) ID() string { return "claude" }

// DisplayName returns the human-readable participant name.
func (c *ClaudeClient) DisplayName() string { return "Claude" }

// Color returns the participant's display color.
func (c *ClaudeClient) Color() string { return "#E07B53" }

// ModelID returns the concrete model identifier.
func (c *ClaudeClient) ModelID() string { return c.modelID }

// Available reports whether an API key is configured.
func (c *ClaudeClient) Available() bool { return c.apiKey != "" }

// CountTokens estimates tokens at ~4 characters per token, which is typical
// for English text with Claude's tokenizer. The SDK does not expose a local
// tokenizer, and budget accounting tolerates the 10-20% error.
func (c *ClaudeClient) CountTokens(text string) int {
	return len(text) / 4
}

// Generate performs a one-shot completion by collecting the stream.
// Wrapped in exponential-backoff retry on rate-limit and transient errors.
func (c *ClaudeClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	return callWithRetry(ctx, func(ctx context.Context) (*Response, error) {
		chunks, err := c.Stream(ctx, req)
		if err != nil {
			return nil, err
		}
		return CollectStream(chunks, c.ID())
	})
}

// Stream opens a streaming completion. The returned channel is closed when
// the stream ends; mid-stream failures arrive as a chunk with Err set.
func (c *ClaudeClient) Stream(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
	if !c.Available() {
		return nil, (&ProviderError{
			Kind:     ErrorAuth,
			Provider: c.ID(),
			Model:    c.modelID,
		}).WithMessage("Anthropic API key not configured")
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.modelID),
		Messages:    c.convertMessages(req.Messages),
		MaxTokens:   int64(maxTokensOrDefault(req.MaxTokens, c.maxTokens)),
		Temperature: anthropic.Float(temperatureOrDefault(req.Temperature, c.temperature)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = c.convertTools(req.Tools)
	}

	stream := c.client.Messages.NewStreaming(ctx, params)

	chunks := make(chan StreamChunk, 16)
	go func() {
		defer close(chunks)
		c.processStream(ctx, stream, chunks)
	}()
	return chunks, nil
}

// processStream translates Anthropic SSE events into StreamChunks. Tool input
// JSON arrives as fragments and is accumulated until the content block stops.
func (c *ClaudeClient) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- StreamChunk) {
	var currentToolCall *models.ToolCall
	var currentToolInput strings.Builder
	var inputTokens, outputTokens int
	finishReason := models.FinishStop

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				inputTokens = int(messageStart.Message.Usage.InputTokens)
			}

		case "content_block_start":
			contentBlock := event.AsContentBlockStart().ContentBlock
			if contentBlock.Type == "tool_use" {
				toolUse := contentBlock.AsToolUse()
				currentToolCall = &models.ToolCall{
					ID:   toolUse.ID,
					Name: toolUse.Name,
				}
				currentToolInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !sendChunk(ctx, chunks, StreamChunk{Content: delta.Text}) {
						return
					}
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
				}
			}

		case "content_block_stop":
			if currentToolCall != nil {
				input := currentToolInput.String()
				if input == "" {
					input = "{}"
				}
				currentToolCall.Arguments = json.RawMessage(input)
				if !sendChunk(ctx, chunks, StreamChunk{ToolCall: currentToolCall}) {
					return
				}
				currentToolCall = nil
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				outputTokens = int(messageDelta.Usage.OutputTokens)
			}
			switch messageDelta.Delta.StopReason {
			case "tool_use":
				finishReason = models.FinishToolUse
			case "max_tokens":
				finishReason = models.FinishLength
			}

		case "message_stop":
			usage := models.Usage{
				PromptTokens:     inputTokens,
				CompletionTokens: outputTokens,
				TotalTokens:      inputTokens + outputTokens,
			}
			usage.CostEstimate = EstimateCost(c.modelID, usage)
			sendChunk(ctx, chunks, StreamChunk{
				Done:         true,
				FinishReason: finishReason,
				Usage:        &usage,
			})
			return
		}
	}

	if err := stream.Err(); err != nil {
		sendChunk(ctx, chunks, StreamChunk{Err: c.wrapError(err)})
	}
}

// convertMessages renders the reauthored transcript into Anthropic message
// params. System messages are hoisted into params.System by the caller; tool
// results become native tool_result blocks inside user messages.
func (c *ClaudeClient) convertMessages(messages []models.Message) []anthropic.MessageParam {
	reauthored := Reauthor(messages, c.ID())

	var result []anthropic.MessageParam
	for _, msg := range reauthored {
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, toolResult := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(
				toolResult.ToolCallID,
				toolResult.Content,
				toolResult.IsError,
			))
		}
		for _, toolCall := range msg.ToolCalls {
			var input map[string]any
			if err := json.Unmarshal(toolCall.Arguments, &input); err != nil {
				input = map[string]any{}
			}
			content = append(content, anthropic.NewToolUseBlock(
				toolCall.ID,
				input,
				toolCall.Name,
			))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			// User and tool roles both map to user messages in the Anthropic API.
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result
}

func (c *ClaudeClient) convertTools(tools []ToolDefinition) []anthropic.ToolUnionParam {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		params := tool.ParametersMap()
		if props, ok := params["properties"]; ok {
			schema.Properties = props
		}
		if required, ok := params["required"].([]any); ok {
			for _, r := range required {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if tool.Description != "" {
			toolParam.OfTool.Description = anthropic.String(tool.Description)
		}
		result = append(result, toolParam)
	}
	return result
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *ClaudeClient) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr := NewProviderError(c.ID(), c.modelID, err).WithStatus(apiErr.StatusCode)
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil && payload.Error.Message != "" {
				providerErr = providerErr.WithMessage(payload.Error.Message)
			}
		}
		if providerErr.Message == "" {
			providerErr = providerErr.WithMessage("anthropic request failed")
		}
		return providerErr
	}

	return NewProviderError(c.ID(), c.modelID, err)
}

func maxTokensOrDefault(requested, fallback int) int {
	if requested > 0 {
		return requested
	}
	return fallback
}

func temperatureOrDefault(requested *float64, fallback float64) float64 {
	if requested != nil {
		return *requested
	}
	return fallback
}

// CollectStream drains a stream into a one-shot Response. Used by adapters
// whose Generate is a specialization of Stream.
func CollectStream(chunks <-chan StreamChunk, model string) (*Response, error) {
	resp := &Response{Model: model, FinishReason: models.FinishStop}
	var content strings.Builder

	for chunk := range chunks {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		if chunk.Content != "" {
			content.WriteString(chunk.Content)
		}
		if chunk.ToolCall != nil {
			resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
		}
		if chunk.Done {
			resp.FinishReason = chunk.FinishReason
			if chunk.Usage != nil {
				resp.Usage = *chunk.Usage
			}
		}
	}

	resp.Content = content.String()
	if len(resp.ToolCalls) > 0 && resp.FinishReason == models.FinishStop {
		resp.FinishReason = models.FinishToolUse
	}
	return resp, nil
}

var _ ModelClient = (*ClaudeClient)(nil)
