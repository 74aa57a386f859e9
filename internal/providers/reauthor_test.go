package providers

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/quorumchat/quorum/pkg/models"
)

// TestReauthorForeignAssistant tests that other models' turns are narrated
// as user messages with their tool calls dropped.
func TestReauthorForeignAssistant(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleUser, Content: "hello everyone"},
		{
			Role:    models.RoleAssistant,
			Model:   "gpt",
			Content: "I think we should use a mutex here.",
			ToolCalls: []models.ToolCall{
				{ID: "call_1", Name: "read_file", Arguments: json.RawMessage(`{"path":"main.go"}`)},
			},
		},
		{Role: models.RoleAssistant, Model: "claude", Content: "Agreed."},
	}

	out := Reauthor(messages, "claude")

	if len(out) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(out))
	}

	if out[1].Role != models.RoleUser {
		t.Errorf("foreign assistant should become user, got %s", out[1].Role)
	}
	if out[1].Content != "[gpt says]: I think we should use a mutex here." {
		t.Errorf("unexpected narration: %q", out[1].Content)
	}
	if len(out[1].ToolCalls) != 0 {
		t.Error("foreign tool calls should be dropped")
	}

	if out[2].Role != models.RoleAssistant {
		t.Errorf("own assistant message should pass through, got %s", out[2].Role)
	}
	if out[2].Content != "Agreed." {
		t.Errorf("own content should be unchanged, got %q", out[2].Content)
	}
}

// TestReauthorToolOwnership tests that tool results are split by which model
// issued the call: own results stay tool-role, foreign results are narrated.
func TestReauthorToolOwnership(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleUser, Content: "check both files"},
		{
			Role:  models.RoleAssistant,
			Model: "claude",
			ToolCalls: []models.ToolCall{
				{ID: "call_mine", Name: "read_file", Arguments: json.RawMessage(`{"path":"a.go"}`)},
			},
		},
		{
			Role:  models.RoleAssistant,
			Model: "gpt",
			ToolCalls: []models.ToolCall{
				{ID: "call_theirs", Name: "read_file", Arguments: json.RawMessage(`{"path":"b.go"}`)},
			},
		},
		{
			Role: models.RoleTool,
			ToolResults: []models.ToolResult{
				{ToolCallID: "call_mine", Content: "package a"},
				{ToolCallID: "call_theirs", Content: "package b", IsError: false},
			},
		},
	}

	out := Reauthor(messages, "claude")

	var toolMsgs, narrated []models.Message
	for _, msg := range out {
		switch {
		case msg.Role == models.RoleTool:
			toolMsgs = append(toolMsgs, msg)
		case msg.Role == models.RoleUser && strings.HasPrefix(msg.Content, "[Tool Result"):
			narrated = append(narrated, msg)
		}
	}

	if len(toolMsgs) != 1 {
		t.Fatalf("expected 1 native tool message, got %d", len(toolMsgs))
	}
	if toolMsgs[0].ToolResults[0].ToolCallID != "call_mine" {
		t.Errorf("wrong result kept native: %s", toolMsgs[0].ToolResults[0].ToolCallID)
	}

	if len(narrated) != 1 {
		t.Fatalf("expected 1 narrated result, got %d", len(narrated))
	}
	if narrated[0].Content != "[Tool Result (Success)]: package b" {
		t.Errorf("unexpected narration: %q", narrated[0].Content)
	}
}

// TestReauthorErrorResultNarration tests the error status marker.
func TestReauthorErrorResultNarration(t *testing.T) {
	messages := []models.Message{
		{
			Role:  models.RoleAssistant,
			Model: "gemini",
			ToolCalls: []models.ToolCall{
				{ID: "call_g", Name: "run_command", Arguments: json.RawMessage(`{}`)},
			},
		},
		{
			Role: models.RoleTool,
			ToolResults: []models.ToolResult{
				{ToolCallID: "call_g", Content: "command not found", IsError: true},
			},
		},
	}

	out := Reauthor(messages, "claude")

	last := out[len(out)-1]
	if last.Role != models.RoleUser {
		t.Fatalf("expected narrated user message, got role %s", last.Role)
	}
	if last.Content != "[Tool Result (Error)]: command not found" {
		t.Errorf("unexpected narration: %q", last.Content)
	}
}

// TestReauthorForeignResultTruncation tests that long foreign results are
// truncated to the bounded length with an ellipsis.
func TestReauthorForeignResultTruncation(t *testing.T) {
	long := strings.Repeat("x", 5000)
	messages := []models.Message{
		{
			Role:  models.RoleAssistant,
			Model: "gpt",
			ToolCalls: []models.ToolCall{
				{ID: "call_big", Name: "read_file", Arguments: json.RawMessage(`{}`)},
			},
		},
		{
			Role: models.RoleTool,
			ToolResults: []models.ToolResult{
				{ToolCallID: "call_big", Content: long},
			},
		},
	}

	out := Reauthor(messages, "claude")
	last := out[len(out)-1]

	prefix := "[Tool Result (Success)]: "
	body := strings.TrimPrefix(last.Content, prefix)
	if len(body) != foreignResultLimit {
		t.Errorf("expected body length %d, got %d", foreignResultLimit, len(body))
	}
	if !strings.HasSuffix(body, "...") {
		t.Error("truncated body should end with ellipsis")
	}
}

// TestReauthorOwnershipDefaults tests that assistant messages with no model
// field count as the client's own, and self matching is case-insensitive.
func TestReauthorOwnershipDefaults(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleAssistant, Content: "no model field"},
		{Role: models.RoleAssistant, Model: "Claude", Content: "capitalized"},
	}

	out := Reauthor(messages, "claude")

	for i, msg := range out {
		if msg.Role != models.RoleAssistant {
			t.Errorf("message %d should stay assistant, got %s", i, msg.Role)
		}
	}
}

// TestReauthorIdempotent tests that reauthoring an already-reauthored
// transcript changes nothing.
func TestReauthorIdempotent(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleSystem, Content: "you are in a group chat"},
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Model: "gpt", Content: "hello"},
		{
			Role:  models.RoleAssistant,
			Model: "claude",
			ToolCalls: []models.ToolCall{
				{ID: "call_1", Name: "list_directory", Arguments: json.RawMessage(`{}`)},
			},
		},
		{
			Role: models.RoleTool,
			ToolResults: []models.ToolResult{
				{ToolCallID: "call_1", Content: "main.go"},
			},
		},
	}

	once := Reauthor(messages, "claude")
	twice := Reauthor(once, "claude")

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("reauthoring is not idempotent:\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

// TestReauthorEmptyTranscript tests the degenerate input.
func TestReauthorEmptyTranscript(t *testing.T) {
	out := Reauthor(nil, "claude")
	if len(out) != 0 {
		t.Errorf("expected empty output, got %d messages", len(out))
	}
}
