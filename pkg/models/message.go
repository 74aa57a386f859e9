package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is the unified message format shared by all model participants.
// A message is immutable once appended to the transcript.
type Message struct {
	ID          string         `json:"id,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	Model       string         `json:"model,omitempty"` // producing model for assistant messages; for tool messages, the model whose calls the results answer
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ToolCall represents a model's request to execute a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// FinishReason explains why a model stopped generating.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolUse       FinishReason = "tool_use"
	FinishContentFilter FinishReason = "content_filter"
)

// Usage tracks token consumption for a single request or an accumulated turn.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CostEstimate     float64 `json:"cost_estimate,omitempty"`
}

// Add returns the element-wise sum of two usage records.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
		CostEstimate:     u.CostEstimate + other.CostEstimate,
	}
}

// IsZero reports whether no tokens were recorded.
func (u Usage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// Session represents a persisted conversation thread.
type Session struct {
	ID          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	ProjectPath string         `json:"project_path,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// SummaryType distinguishes incremental summaries from full-transcript ones.
type SummaryType string

const (
	SummaryIncremental SummaryType = "incremental"
	SummaryFull        SummaryType = "full"
)

// Summary is a stored compression of part of a session's transcript.
type Summary struct {
	ID                  string      `json:"id,omitempty"`
	SessionID           string      `json:"session_id"`
	Type                SummaryType `json:"type"`
	Content             string      `json:"content"`
	RangeStartMessageID string      `json:"range_start_message_id,omitempty"`
	RangeEndMessageID   string      `json:"range_end_message_id,omitempty"`
	TokenCount          int         `json:"token_count,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
}
