package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/quorumchat/quorum/internal/observability"
	"github.com/quorumchat/quorum/internal/tokens"
	"github.com/quorumchat/quorum/pkg/models"
)

// openAICompatClient implements ModelClient over any chat-completions
// endpoint that speaks the OpenAI wire format. GPT uses it directly; Grok
// reuses it with xAI's base URL. The two differ only in identity, defaults,
// and endpoint.
type openAICompatClient struct {
	id          string
	displayName string
	color       string
	modelID     string
	apiKey      string
	client      *openai.Client
	maxTokens   int
	temperature float64
	counter     tokens.Counter
	logger      *observability.Logger
}

// GPTConfig configures the GPT client.
type GPTConfig struct {
	// APIKey authenticates with OpenAI. Falls back to OPENAI_API_KEY.
	APIKey string

	// ModelID selects the concrete model. Default: gpt-4o.
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

// NewGPTClient creates the ModelClient for OpenAI's GPT models.
func NewGPTClient(cfg GPTConfig) ModelClient {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "gpt-4o"
	}
	return newOpenAICompatClient(compatIdentity{
		id:          "gpt",
		displayName: "GPT",
		color:       "#10A37F",
	}, cfg.APIKey, cfg.ModelID, cfg.MaxTokens, cfg.Temperature, cfg.BaseURL, cfg.Logger)
}

type compatIdentity struct {
	id          string
	displayName string
	color       string
}

func newOpenAICompatClient(ident compatIdentity, apiKey, modelID string, maxTokens int, temperature float64, baseURL string, logger *observability.Logger) *openAICompatClient {
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	if temperature == 0 {
		temperature = 0.7
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	var client *openai.Client
	if apiKey != "" {
		config := openai.DefaultConfig(apiKey)
		if baseURL != "" {
			config.BaseURL = baseURL
		}
		client = openai.NewClientWithConfig(config)
	}

	return &openAICompatClient{
		id:          ident.id,
		displayName: ident.displayName,
		color:       ident.color,
		modelID:     modelID,
		apiKey:      apiKey,
		client:      client,
		maxTokens:   maxTokens,
		temperature: temperature,
		counter:     tokens.NewCounter(tokens.DefaultEncoding),
		logger:      logger.WithFields("component", "providers."+ident.id),
	}
}

func (c *openAICompatClient) ID() string          { return c.id }
func (c *openAICompatClient) DisplayName() string { return c.displayName }
func (c *openAICompatClient) Color() string       { return c.color }
func (c *openAICompatClient) ModelID() string     { return c.modelID }
func (c *openAICompatClient) Available() bool     { return c.apiKey != "" }

// CountTokens counts BPE tokens with tiktoken's cl100k_base encoding.
func (c *openAICompatClient) CountTokens(text string) int {
	return c.counter.Count(text)
}

// Generate performs a one-shot completion by collecting the stream.
// Wrapped in exponential-backoff retry on rate-limit and transient errors.
func (c *openAICompatClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	return callWithRetry(ctx, func(ctx context.Context) (*Response, error) {
		chunks, err := c.Stream(ctx, req)
		if err != nil {
			return nil, err
		}
		return CollectStream(chunks, c.id)
	})
}

// Stream opens a streaming completion against the chat-completions endpoint.
func (c *openAICompatClient) Stream(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
	if !c.Available() {
		return nil, (&ProviderError{
			Kind:     ErrorAuth,
			Provider: c.id,
			Model:    c.modelID,
		}).WithMessage(c.displayName + " API key not configured")
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       c.modelID,
		Messages:    c.convertMessages(req.Messages, req.System),
		Stream:      true,
		MaxTokens:   maxTokensOrDefault(req.MaxTokens, c.maxTokens),
		Temperature: float32(temperatureOrDefault(req.Temperature, c.temperature)),
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = c.convertTools(req.Tools)
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, c.wrapError(err)
	}

	chunks := make(chan StreamChunk, 16)
	go c.processStream(ctx, stream, chunks)
	return chunks, nil
}

// processStream consumes the chat-completions stream. Tool calls arrive as
// indexed fragments that are accumulated until the finish reason reports them
// complete; usage arrives on the final chunk when StreamOptions request it.
func (c *openAICompatClient) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- StreamChunk) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)
	var toolOrder []int
	finishReason := models.FinishStop
	var usage *models.Usage

	emitToolCalls := func() bool {
		for _, idx := range toolOrder {
			tc := toolCalls[idx]
			if tc == nil || tc.ID == "" || tc.Name == "" {
				continue
			}
			if len(tc.Arguments) == 0 {
				tc.Arguments = json.RawMessage("{}")
			}
			if !sendChunk(ctx, chunks, StreamChunk{ToolCall: tc}) {
				return false
			}
		}
		toolCalls = make(map[int]*models.ToolCall)
		toolOrder = nil
		return true
	}

	for {
		select {
		case <-ctx.Done():
			sendChunk(ctx, chunks, StreamChunk{Err: ctx.Err(), Done: true})
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !emitToolCalls() {
					return
				}
				if usage != nil {
					usage.CostEstimate = EstimateCost(c.modelID, *usage)
				}
				sendChunk(ctx, chunks, StreamChunk{
					Done:         true,
					FinishReason: finishReason,
					Usage:        usage,
				})
				return
			}
			sendChunk(ctx, chunks, StreamChunk{Err: c.wrapError(err), Done: true})
			return
		}

		if response.Usage != nil {
			usage = &models.Usage{
				PromptTokens:     response.Usage.PromptTokens,
				CompletionTokens: response.Usage.CompletionTokens,
				TotalTokens:      response.Usage.TotalTokens,
			}
		}

		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			if !sendChunk(ctx, chunks, StreamChunk{Content: delta.Content}) {
				return
			}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
				toolOrder = append(toolOrder, index)
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].Arguments = append(toolCalls[index].Arguments, tc.Function.Arguments...)
			}
		}

		switch choice.FinishReason {
		case openai.FinishReasonToolCalls:
			finishReason = models.FinishToolUse
			if !emitToolCalls() {
				return
			}
		case openai.FinishReasonLength:
			finishReason = models.FinishLength
		case openai.FinishReasonContentFilter:
			finishReason = models.FinishContentFilter
		case openai.FinishReasonStop:
			finishReason = models.FinishStop
		}
	}
}

// convertMessages renders the reauthored transcript into chat-completions
// messages. Unlike Anthropic, system text is the first array entry and each
// own tool result becomes a separate tool-role message.
func (c *openAICompatClient) convertMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	reauthored := Reauthor(messages, c.id)

	result := make([]openai.ChatCompletionMessage, 0, len(reauthored)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range reauthored {
		switch msg.Role {
		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Content,
			})

		case models.RoleUser:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Content,
			})

		case models.RoleAssistant:
			oaiMsg := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
			}
			if len(msg.ToolCalls) > 0 {
				oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					oaiMsg.ToolCalls[i] = openai.ToolCall{
						ID:   tc.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      tc.Name,
							Arguments: string(tc.Arguments),
						},
					}
				}
			}
			result = append(result, oaiMsg)

		case models.RoleTool:
			for _, tr := range msg.ToolResults {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
		}
	}

	return result
}

func (c *openAICompatClient) convertTools(tools []ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.ParametersMap(),
			},
		}
	}
	return result
}

func (c *openAICompatClient) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr := NewProviderError(c.id, c.modelID, err).WithStatus(apiErr.HTTPStatusCode)
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
		return providerErr
	}

	return NewProviderError(c.id, c.modelID, err)
}

var _ ModelClient = (*openAICompatClient)(nil)
