package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/quorumchat/quorum/internal/observability"
	"github.com/quorumchat/quorum/internal/providers"
	"github.com/quorumchat/quorum/internal/sessions"
	"github.com/quorumchat/quorum/pkg/models"
)

const (
	// DefaultSummarizeThresholdTokens triggers incremental summarization.
	DefaultSummarizeThresholdTokens = 50_000

	// summaryMinMessages is the smallest older-half worth compressing.
	summaryMinMessages = 4

	// summaryMaxTokens bounds the generated summary.
	summaryMaxTokens = 1000
)

// SummaryManager compresses the older half of a long transcript into an
// incremental summary, persisted through the session store and re-injectable
// as extra context on later turns.
type SummaryManager struct {
	client    providers.ModelClient
	store     sessions.Store
	threshold int

	logger *observability.Logger
}

// NewSummaryManager creates a manager that summarizes with the given client.
// A zero threshold falls back to the default.
func NewSummaryManager(client providers.ModelClient, store sessions.Store, thresholdTokens int, logger *observability.Logger) *SummaryManager {
	if thresholdTokens <= 0 {
		thresholdTokens = DefaultSummarizeThresholdTokens
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &SummaryManager{
		client:    client,
		store:     store,
		threshold: thresholdTokens,
		logger:    logger.WithFields("component", "orchestrator.summary"),
	}
}

// MaybeSummarize summarizes the older half of the conversation when its
// estimated size exceeds the threshold. Returns nil when no summary was
// produced.
func (m *SummaryManager) MaybeSummarize(ctx context.Context, sessionID string, conversation []models.Message) (*models.Summary, error) {
	total := 0
	for _, msg := range conversation {
		total += m.client.CountTokens(msg.Content)
	}
	if total <= m.threshold {
		return nil, nil
	}

	older := conversation[:len(conversation)/2]
	if len(older) < summaryMinMessages {
		return nil, nil
	}

	prompt := formatContextSummaryPrompt(formatConversation(older, len(older)))
	temp := 0.3
	resp, err := m.client.Generate(ctx, &providers.Request{
		Messages:    []models.Message{{Role: models.RoleUser, Content: prompt}},
		MaxTokens:   summaryMaxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to summarize conversation: %w", err)
	}

	summary := models.Summary{
		SessionID:           sessionID,
		Type:                models.SummaryIncremental,
		Content:             resp.Content,
		RangeStartMessageID: older[0].ID,
		RangeEndMessageID:   older[len(older)-1].ID,
		TokenCount:          m.client.CountTokens(resp.Content),
		CreatedAt:           time.Now().UTC(),
	}
	if err := m.store.SaveSummary(ctx, summary); err != nil {
		return nil, fmt.Errorf("failed to persist summary: %w", err)
	}

	m.logger.Info(ctx, "conversation summarized",
		"session_id", sessionID, "messages", len(older), "summary_tokens", summary.TokenCount)
	return &summary, nil
}

// LatestSummary returns the most recent stored summary, or nil when none
// exists.
func (m *SummaryManager) LatestSummary(ctx context.Context, sessionID string) (*models.Summary, error) {
	return m.store.LatestSummary(ctx, sessionID)
}
