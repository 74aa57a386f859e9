package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/quorumchat/quorum/internal/providers"
	"github.com/quorumchat/quorum/internal/sessions"
	"github.com/quorumchat/quorum/internal/tools"
	"github.com/quorumchat/quorum/pkg/models"
)

func runPersistentTurn(t *testing.T, p *PersistentEngine, text string) []Event {
	t.Helper()
	ch, err := p.Process(context.Background(), text)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	return collectEvents(t, ch)
}

// TestPersistentProcessWritesThrough tests that a completed turn lands in
// the store with usage on the assistant message.
func TestPersistentProcessWritesThrough(t *testing.T) {
	claude := newFakeModel("claude")
	claude.streams = [][]providers.StreamChunk{textStream("Hello.")}
	engine := newTestEngine(t, EngineConfig{}, claude)
	store := sessions.NewMemoryStore()
	p := NewPersistentEngine(engine, store, nil, nil)

	id, err := p.CreateSession(context.Background(), "test", "/tmp/proj")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	runPersistentTurn(t, p, "@claude hi")

	loaded, err := store.LoadSession(context.Background(), id)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if len(loaded.Messages) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(loaded.Messages))
	}
	user, assistant := loaded.Messages[0], loaded.Messages[1]
	if user.Role != models.RoleUser || user.Content != "hi" {
		t.Errorf("user message = %+v", user)
	}
	if assistant.Role != models.RoleAssistant || assistant.Content != "Hello." {
		t.Errorf("assistant message = %+v", assistant)
	}
	if got := assistant.Metadata["tokens_used"]; got != 15 {
		t.Errorf("assistant tokens_used = %v, want 15", got)
	}
	if _, ok := user.Metadata["tokens_used"]; ok {
		t.Error("usage attached to the user message")
	}
}

// TestPersistentUsageOnFinalAssistantMessage tests that in a tool-loop turn
// only the contributor's last assistant message carries usage.
func TestPersistentUsageOnFinalAssistantMessage(t *testing.T) {
	registry := newToolTestRegistry(t, &callLog{}, 0)
	executor := tools.NewExecutor(tools.ExecutorConfig{
		Registry:    registry,
		Permissions: tools.NewPermissionManager(tools.PermissionConfig{AutoApprove: true}),
	})

	claude := newFakeModel("claude")
	claude.streams = [][]providers.StreamChunk{
		toolUseStream("Reading.",
			models.ToolCall{ID: "c1", Name: "read_file", Arguments: json.RawMessage(`{"path":"go.mod"}`)}),
		textStream("Done."),
	}
	engine := newTestEngine(t, EngineConfig{Executor: executor, ToolRegistry: registry}, claude)
	store := sessions.NewMemoryStore()
	p := NewPersistentEngine(engine, store, nil, nil)

	id, err := p.CreateSession(context.Background(), "test", "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	runPersistentTurn(t, p, "@claude check deps")

	loaded, err := store.LoadSession(context.Background(), id)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	// user, assistant with tool call, tool results, final assistant.
	if len(loaded.Messages) != 4 {
		t.Fatalf("persisted %d messages, want 4", len(loaded.Messages))
	}
	first, final := loaded.Messages[1], loaded.Messages[3]
	if len(first.ToolCalls) != 1 {
		t.Errorf("first assistant message = %+v", first)
	}
	if _, ok := first.Metadata["tokens_used"]; ok {
		t.Error("usage attached to the intermediate assistant message")
	}
	if got := final.Metadata["tokens_used"]; got != 30 {
		t.Errorf("final assistant tokens_used = %v, want the summed turn usage", got)
	}
}

// TestPersistentLoadSessionRestores tests transcript and pin restoration.
func TestPersistentLoadSessionRestores(t *testing.T) {
	store := sessions.NewMemoryStore()
	ctx := context.Background()
	session, err := store.CreateSession(ctx, sessions.CreateSessionParams{Name: "old"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	msgID, err := store.AppendMessage(ctx, session.ID,
		models.Message{Role: models.RoleUser, Content: "remember this"}, nil)
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := store.AppendMessage(ctx, session.ID,
		models.Message{Role: models.RoleAssistant, Model: "claude", Content: "noted"}, nil); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := store.SetPin(ctx, session.ID, msgID, true); err != nil {
		t.Fatalf("SetPin: %v", err)
	}

	engine := newTestEngine(t, EngineConfig{}, newFakeModel("claude"))
	p := NewPersistentEngine(engine, store, nil, nil)
	if err := p.LoadSession(ctx, session.ID); err != nil {
		t.Fatalf("LoadSession: %v", err)
	}

	transcript := engine.Transcript()
	if len(transcript) != 2 || transcript[0].Content != "remember this" {
		t.Errorf("restored transcript = %+v", transcript)
	}
	if !engine.PinnedIDs()[msgID] {
		t.Error("pin not restored")
	}
	if p.SessionID() != session.ID {
		t.Errorf("session id = %q", p.SessionID())
	}

	// A later turn persists only the new suffix.
	runPersistentTurn(t, p, "@claude and now?")
	loaded, err := store.LoadSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	if len(loaded.Messages) != 4 {
		t.Errorf("persisted %d messages, want 4 without duplicates", len(loaded.Messages))
	}
}

// TestPersistentProcessWithoutSession tests the guard.
func TestPersistentProcessWithoutSession(t *testing.T) {
	engine := newTestEngine(t, EngineConfig{}, newFakeModel("claude"))
	p := NewPersistentEngine(engine, sessions.NewMemoryStore(), nil, nil)

	if _, err := p.Process(context.Background(), "hi"); err == nil ||
		!strings.Contains(err.Error(), "no active session") {
		t.Errorf("err = %v", err)
	}
}

// TestPersistentEnsureSession tests create-once semantics.
func TestPersistentEnsureSession(t *testing.T) {
	engine := newTestEngine(t, EngineConfig{}, newFakeModel("claude"))
	p := NewPersistentEngine(engine, sessions.NewMemoryStore(), nil, nil)
	ctx := context.Background()

	first, err := p.EnsureSession(ctx, "auto", "")
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	second, err := p.EnsureSession(ctx, "auto", "")
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	if first != second {
		t.Errorf("EnsureSession created a second session: %s then %s", first, second)
	}
}

// TestPersistentPins tests pin write-through and removal.
func TestPersistentPins(t *testing.T) {
	claude := newFakeModel("claude")
	claude.streams = [][]providers.StreamChunk{textStream("Pinned content.")}
	engine := newTestEngine(t, EngineConfig{}, claude)
	store := sessions.NewMemoryStore()
	p := NewPersistentEngine(engine, store, nil, nil)
	ctx := context.Background()

	id, err := p.CreateSession(ctx, "test", "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	runPersistentTurn(t, p, "@claude say something worth pinning")

	loaded, err := store.LoadSession(ctx, id)
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	msgID := loaded.Messages[1].ID

	if err := p.Pin(ctx, msgID); err != nil {
		t.Fatalf("Pin: %v", err)
	}
	loaded, _ = store.LoadSession(ctx, id)
	if !loaded.Pinned[msgID] {
		t.Error("pin not persisted")
	}
	if !engine.PinnedIDs()[msgID] {
		t.Error("pin not applied to the engine")
	}

	if err := p.Unpin(ctx, msgID); err != nil {
		t.Fatalf("Unpin: %v", err)
	}
	loaded, _ = store.LoadSession(ctx, id)
	if loaded.Pinned[msgID] {
		t.Error("pin survived removal")
	}
}

// TestPersistentSummarizesAfterTurn tests that a long restored transcript
// triggers summarization once the turn completes.
func TestPersistentSummarizesAfterTurn(t *testing.T) {
	store := sessions.NewMemoryStore()
	ctx := context.Background()
	session, err := store.CreateSession(ctx, sessions.CreateSessionParams{Name: "long"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	for i := 0; i < 8; i++ {
		if _, err := store.AppendMessage(ctx, session.ID,
			models.Message{Role: models.RoleUser, Content: strings.Repeat("x", 400)}, nil); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	claude := newFakeModel("claude")
	claude.streams = [][]providers.StreamChunk{textStream("Short answer.")}
	engine := newTestEngine(t, EngineConfig{}, claude)
	summaries := NewSummaryManager(claude, store, 10, nil)
	p := NewPersistentEngine(engine, store, summaries, nil)

	if err := p.LoadSession(ctx, session.ID); err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	runPersistentTurn(t, p, "@claude wrap up")

	summary, err := store.LatestSummary(ctx, session.ID)
	if err != nil {
		t.Fatalf("LatestSummary: %v", err)
	}
	if summary == nil {
		t.Fatal("no summary after a long turn")
	}
	if summary.RangeStartMessageID == "" || summary.RangeEndMessageID == "" {
		t.Errorf("summary range = %s..%s", summary.RangeStartMessageID, summary.RangeEndMessageID)
	}
}
