package sessions

import (
	"context"
	"fmt"
	"testing"

	"github.com/quorumchat/quorum/pkg/models"
)

// runStoreContract exercises the Store contract shared by every backend:
// append ordering, load round-trips, pins, and summaries.
func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	session, err := store.CreateSession(ctx, CreateSessionParams{
		Name:        "refactor sprint",
		ProjectPath: "/ws/project",
		Metadata:    map[string]any{"origin": "test"},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ID == "" {
		t.Fatal("session id missing")
	}

	// Appends are returned in call order on load.
	var ids []string
	for i := 0; i < 5; i++ {
		msg := models.Message{
			Role:    models.RoleUser,
			Content: fmt.Sprintf("message %d", i),
		}
		if i%2 == 1 {
			msg.Role = models.RoleAssistant
			msg.Model = "claude"
		}
		id, err := store.AppendMessage(ctx, session.ID, msg, nil)
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	loaded, err := store.LoadSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Session.Name != "refactor sprint" {
		t.Errorf("session name = %q", loaded.Session.Name)
	}
	if len(loaded.Messages) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(loaded.Messages))
	}
	for i, msg := range loaded.Messages {
		if msg.ID != ids[i] {
			t.Errorf("message %d out of order: %s != %s", i, msg.ID, ids[i])
		}
		if msg.Content != fmt.Sprintf("message %d", i) {
			t.Errorf("message %d content = %q", i, msg.Content)
		}
	}
	if loaded.Messages[1].Model != "claude" {
		t.Errorf("model not persisted: %q", loaded.Messages[1].Model)
	}

	// Tool calls and results round-trip through the message encoding.
	toolMsg := models.Message{
		Role:  models.RoleAssistant,
		Model: "gpt",
		ToolCalls: []models.ToolCall{
			{ID: "call_1", Name: "read_file", Arguments: []byte(`{"path":"a.go"}`)},
		},
	}
	toolID, err := store.AppendMessage(ctx, session.ID, toolMsg, &models.Usage{TotalTokens: 42, CostEstimate: 0.001})
	if err != nil {
		t.Fatalf("append tool message: %v", err)
	}
	resultMsg := models.Message{
		Role: models.RoleTool,
		ToolResults: []models.ToolResult{
			{ToolCallID: "call_1", Content: "package a", IsError: false},
		},
	}
	if _, err := store.AppendMessage(ctx, session.ID, resultMsg, nil); err != nil {
		t.Fatalf("append result message: %v", err)
	}

	loaded, err = store.LoadSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	withCalls := loaded.Messages[5]
	if len(withCalls.ToolCalls) != 1 || withCalls.ToolCalls[0].Name != "read_file" {
		t.Errorf("tool calls did not round-trip: %+v", withCalls.ToolCalls)
	}
	withResults := loaded.Messages[6]
	if len(withResults.ToolResults) != 1 || withResults.ToolResults[0].ToolCallID != "call_1" {
		t.Errorf("tool results did not round-trip: %+v", withResults.ToolResults)
	}

	// Pins persist and unpin removes them.
	if err := store.SetPin(ctx, session.ID, toolID, true); err != nil {
		t.Fatalf("pin: %v", err)
	}
	loaded, _ = store.LoadSession(ctx, session.ID)
	if !loaded.Pinned[toolID] {
		t.Error("pin not visible on load")
	}
	if err := store.SetPin(ctx, session.ID, toolID, false); err != nil {
		t.Fatalf("unpin: %v", err)
	}
	loaded, _ = store.LoadSession(ctx, session.ID)
	if loaded.Pinned[toolID] {
		t.Error("unpin not applied")
	}

	// Summaries: latest wins, none yields nil.
	if latest, err := store.LatestSummary(ctx, session.ID); err != nil || latest != nil {
		t.Errorf("expected no summary, got %v / %v", latest, err)
	}
	for i, content := range []string{"first pass", "second pass"} {
		err := store.SaveSummary(ctx, models.Summary{
			SessionID:  session.ID,
			Type:       models.SummaryIncremental,
			Content:    content,
			TokenCount: 10 * (i + 1),
		})
		if err != nil {
			t.Fatalf("save summary %d: %v", i, err)
		}
	}
	latest, err := store.LatestSummary(ctx, session.ID)
	if err != nil {
		t.Fatalf("latest summary: %v", err)
	}
	if latest == nil || latest.Content != "second pass" {
		t.Errorf("latest summary = %+v", latest)
	}

	// Unknown session ids fail.
	if _, err := store.LoadSession(ctx, "00000000-0000-0000-0000-000000000000"); err == nil {
		t.Error("loading an unknown session should fail")
	}
}

// TestMemoryStoreContract runs the shared contract on the in-memory store.
func TestMemoryStoreContract(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	runStoreContract(t, store)
}

// TestMemoryStoreIsolation tests that loads return copies, not aliases.
func TestMemoryStoreIsolation(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	session, err := store.CreateSession(ctx, CreateSessionParams{Name: "iso"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.AppendMessage(ctx, session.ID, models.Message{Role: models.RoleUser, Content: "hi"}, nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	loaded, _ := store.LoadSession(ctx, session.ID)
	loaded.Messages[0].Content = "mutated"

	reloaded, _ := store.LoadSession(ctx, session.ID)
	if reloaded.Messages[0].Content != "hi" {
		t.Error("store state leaked through a load")
	}
}

// TestMemoryStorePinUnknownMessage tests pin validation.
func TestMemoryStorePinUnknownMessage(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	session, _ := store.CreateSession(ctx, CreateSessionParams{})
	if err := store.SetPin(ctx, session.ID, "missing", true); err != ErrMessageNotFound {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
	if err := store.SetPin(ctx, "missing-session", "x", true); err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}
