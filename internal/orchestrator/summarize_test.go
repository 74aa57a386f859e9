package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/quorumchat/quorum/internal/providers"
	"github.com/quorumchat/quorum/internal/sessions"
	"github.com/quorumchat/quorum/pkg/models"
)

func summarySession(t *testing.T, store sessions.Store) string {
	t.Helper()
	session, err := store.CreateSession(context.Background(), sessions.CreateSessionParams{Name: "test"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session.ID
}

func longConversation(n int) []models.Message {
	out := make([]models.Message, n)
	for i := range out {
		out[i] = models.Message{
			ID:      string(rune('a' + i)),
			Role:    models.RoleUser,
			Content: strings.Repeat("x", 400),
		}
	}
	return out
}

// TestMaybeSummarizeBelowThreshold tests that short transcripts are left
// alone.
func TestMaybeSummarizeBelowThreshold(t *testing.T) {
	store := sessions.NewMemoryStore()
	client := newFakeModel("claude")
	manager := NewSummaryManager(client, store, 1_000_000, nil)
	id := summarySession(t, store)

	summary, err := manager.MaybeSummarize(context.Background(), id, longConversation(8))
	if err != nil {
		t.Fatalf("MaybeSummarize: %v", err)
	}
	if summary != nil {
		t.Errorf("summary = %+v, want nil", summary)
	}
	if client.GenerateCalls() != 0 {
		t.Errorf("model was called %d times below threshold", client.GenerateCalls())
	}
}

// TestMaybeSummarizeCompressesOlderHalf tests the happy path: the older half
// is summarized, persisted, and the range recorded.
func TestMaybeSummarizeCompressesOlderHalf(t *testing.T) {
	store := sessions.NewMemoryStore()
	client := newFakeModel("claude")
	var prompt string
	client.generateFn = func(_ context.Context, req *providers.Request) (*providers.Response, error) {
		prompt = req.Messages[0].Content
		return &providers.Response{Content: "Decisions: use sqlite for sessions."}, nil
	}
	manager := NewSummaryManager(client, store, 10, nil)
	id := summarySession(t, store)

	conversation := longConversation(8)
	summary, err := manager.MaybeSummarize(context.Background(), id, conversation)
	if err != nil {
		t.Fatalf("MaybeSummarize: %v", err)
	}
	if summary == nil {
		t.Fatal("expected a summary")
	}
	if summary.Type != models.SummaryIncremental {
		t.Errorf("type = %s", summary.Type)
	}
	if summary.RangeStartMessageID != conversation[0].ID || summary.RangeEndMessageID != conversation[3].ID {
		t.Errorf("range = %s..%s, want older half", summary.RangeStartMessageID, summary.RangeEndMessageID)
	}
	if summary.TokenCount != client.CountTokens(summary.Content) {
		t.Errorf("token count = %d", summary.TokenCount)
	}
	if !strings.Contains(prompt, "Summarize this conversation") {
		t.Errorf("prompt = %q", prompt)
	}

	stored, err := manager.LatestSummary(context.Background(), id)
	if err != nil {
		t.Fatalf("LatestSummary: %v", err)
	}
	if stored == nil || stored.Content != "Decisions: use sqlite for sessions." {
		t.Errorf("stored summary = %+v", stored)
	}
}

// TestMaybeSummarizeNeedsEnoughHistory tests that a transcript over the
// token threshold but with too few older messages is skipped.
func TestMaybeSummarizeNeedsEnoughHistory(t *testing.T) {
	store := sessions.NewMemoryStore()
	client := newFakeModel("claude")
	manager := NewSummaryManager(client, store, 10, nil)
	id := summarySession(t, store)

	summary, err := manager.MaybeSummarize(context.Background(), id, longConversation(6))
	if err != nil {
		t.Fatalf("MaybeSummarize: %v", err)
	}
	if summary != nil {
		t.Errorf("summary = %+v, want nil for a 3-message older half", summary)
	}
	if client.GenerateCalls() != 0 {
		t.Errorf("model was called %d times", client.GenerateCalls())
	}
}

// TestMaybeSummarizeGenerateFailure tests error propagation from the model.
func TestMaybeSummarizeGenerateFailure(t *testing.T) {
	store := sessions.NewMemoryStore()
	client := newFakeModel("claude")
	client.generateFn = func(context.Context, *providers.Request) (*providers.Response, error) {
		return nil, errors.New("overloaded")
	}
	manager := NewSummaryManager(client, store, 10, nil)
	id := summarySession(t, store)

	_, err := manager.MaybeSummarize(context.Background(), id, longConversation(8))
	if err == nil || !strings.Contains(err.Error(), "failed to summarize") {
		t.Errorf("err = %v", err)
	}
	if stored, _ := manager.LatestSummary(context.Background(), id); stored != nil {
		t.Errorf("summary persisted despite failure: %+v", stored)
	}
}
