package orchestrator

import (
	"context"

	"github.com/quorumchat/quorum/internal/observability"
	"github.com/quorumchat/quorum/internal/providers"
	"github.com/quorumchat/quorum/pkg/models"
)

const (
	// DefaultMaxContextTokens is the context budget when none is configured.
	DefaultMaxContextTokens = 100_000

	// DefaultResponseReserve is held back for the model's own output.
	DefaultResponseReserve = 4096

	// MinConversationTokens is the floor for the conversation share of the
	// budget after system and pins are accounted for.
	MinConversationTokens = 2000

	// messageRoleOverhead approximates per-message formatting tokens.
	messageRoleOverhead = 4
)

// ContextAssembler builds the per-speaker (system, messages) pair within the
// model's token budget. Priority order: system prompt, pinned messages,
// then recent messages newest-first.
type ContextAssembler struct {
	maxTokens       int
	responseReserve int

	logger *observability.Logger
}

// NewContextAssembler creates an assembler with the given budget. Zero
// values fall back to the defaults.
func NewContextAssembler(maxTokens, responseReserve int, logger *observability.Logger) *ContextAssembler {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxContextTokens
	}
	if responseReserve <= 0 {
		responseReserve = DefaultResponseReserve
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &ContextAssembler{
		maxTokens:       maxTokens,
		responseReserve: responseReserve,
		logger:          logger.WithFields("component", "orchestrator.context"),
	}
}

// Assemble returns the system prompt and the transcript slice that fit the
// budget for this client. Pinned messages are always attempted first, in
// original order; a pin that would overflow is dropped with a warning.
// Regular messages are added newest to oldest, then emitted chronologically
// after the pins.
func (a *ContextAssembler) Assemble(
	ctx context.Context,
	conversation []models.Message,
	client providers.ModelClient,
	otherModels []string,
	pinnedIDs map[string]bool,
	extraContext string,
) (string, []models.Message) {
	available := a.maxTokens - a.responseReserve

	system := formatSystemPrompt(client.DisplayName(), otherModels, extraContext)
	used := client.CountTokens(system)

	var pinned, regular []models.Message
	for _, msg := range conversation {
		if msg.ID != "" && pinnedIDs[msg.ID] {
			pinned = append(pinned, msg)
		} else {
			regular = append(regular, msg)
		}
	}

	var included []models.Message
	for _, msg := range pinned {
		cost := a.estimateMessageTokens(msg, client)
		if used+cost >= available {
			a.logger.Warn(ctx, "pinned message dropped over token limit",
				"message_id", msg.ID, "tokens", cost)
			continue
		}
		included = append(included, msg)
		used += cost
	}

	if available-used < MinConversationTokens {
		a.logger.Debug(ctx, "conversation budget below minimum",
			"remaining", available-used, "minimum", MinConversationTokens)
	}

	// Newest first until the next message would overflow.
	var recent []models.Message
	for i := len(regular) - 1; i >= 0; i-- {
		cost := a.estimateMessageTokens(regular[i], client)
		if used+cost >= available {
			break
		}
		recent = append([]models.Message{regular[i]}, recent...)
		used += cost
	}

	result := append(included, recent...)
	a.logger.Debug(ctx, "context assembled",
		"model", client.ID(), "messages", len(result), "tokens", used, "budget", available)
	return system, result
}

// EstimateTokens returns the estimated total for a list of messages.
func (a *ContextAssembler) EstimateTokens(conversation []models.Message, client providers.ModelClient) int {
	total := 0
	for _, msg := range conversation {
		total += a.estimateMessageTokens(msg, client)
	}
	return total
}

// estimateMessageTokens approximates a message's cost: content plus role
// overhead, model-name overhead, and per-tool-call name and argument costs.
func (a *ContextAssembler) estimateMessageTokens(msg models.Message, client providers.ModelClient) int {
	tokens := client.CountTokens(msg.Content) + messageRoleOverhead
	if msg.Model != "" {
		tokens += client.CountTokens(msg.Model) + 2
	}
	for _, call := range msg.ToolCalls {
		tokens += client.CountTokens(call.Name) + 10
		tokens += client.CountTokens(string(call.Arguments))
	}
	for _, result := range msg.ToolResults {
		tokens += client.CountTokens(result.Content) + 10
	}
	return tokens
}
