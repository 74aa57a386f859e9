// Package orchestrator coordinates multi-model conversation turns: parsing
// mentions, evaluating which models should speak, ordering contributors, and
// driving each contributor's response, including its tool loop, while
// emitting an ordered event stream for the consumer.
package orchestrator

import (
	"github.com/quorumchat/quorum/internal/providers"
	"github.com/quorumchat/quorum/pkg/models"
)

// EventType identifies the kind of an orchestrator event.
type EventType string

const (
	// EventThinking is emitted once before speaking evaluation starts.
	EventThinking EventType = "thinking"

	// EventWillSpeak and EventWillStaySilent carry one decision each,
	// emitted after evaluation in decision order.
	EventWillSpeak      EventType = "will_speak"
	EventWillStaySilent EventType = "will_stay_silent"

	// EventResponseStart precedes a contributor's stream.
	EventResponseStart EventType = "response_start"

	// EventResponseChunk carries incremental response text.
	EventResponseChunk EventType = "response_chunk"

	// EventToolCall carries a complete tool call parsed from the stream.
	EventToolCall EventType = "tool_call"

	// EventToolResult carries the outcome of executing a tool call.
	EventToolResult EventType = "tool_result"

	// EventResponseComplete ends a contributor after a non-tool-use finish.
	EventResponseComplete EventType = "response_complete"

	// EventError reports a model or tool failure the contributor cannot
	// recover from. Tool failures the model can see arrive as tool results,
	// not errors.
	EventError EventType = "error"

	// EventTurnComplete is the last event of every turn.
	EventTurnComplete EventType = "turn_complete"
)

// SpeakerDecision is the evaluator's verdict for one model.
type SpeakerDecision struct {
	Model      string  `json:"model"`
	WillSpeak  bool    `json:"will_speak"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	Forced     bool    `json:"forced"`
}

// ForcedDecision creates the decision for a model mandated by @mentions.
// Forced models bypass evaluation entirely.
func ForcedDecision(model string) SpeakerDecision {
	return SpeakerDecision{
		Model:      model,
		WillSpeak:  true,
		Confidence: 1.0,
		Reason:     "directly mentioned",
		Forced:     true,
	}
}

// SpeakDecision creates a will-speak decision.
func SpeakDecision(model string, confidence float64, reason string) SpeakerDecision {
	return SpeakerDecision{Model: model, WillSpeak: true, Confidence: confidence, Reason: reason}
}

// SilentDecision creates a stay-silent decision.
func SilentDecision(model string, confidence float64, reason string) SpeakerDecision {
	return SpeakerDecision{Model: model, Confidence: confidence, Reason: reason}
}

// Event is one entry in the ordered stream the engine produces per turn.
// Which fields are set depends on Type.
type Event struct {
	Type EventType `json:"type"`

	// Model is the participant the event concerns, when applicable.
	Model string `json:"model,omitempty"`

	// Content is the text delta for response_chunk events.
	Content string `json:"content,omitempty"`

	Decision   *SpeakerDecision    `json:"decision,omitempty"`
	ToolCall   *models.ToolCall    `json:"tool_call,omitempty"`
	ToolResult *models.ToolResult  `json:"tool_result,omitempty"`
	Response   *providers.Response `json:"response,omitempty"`

	// Err is the message for error events.
	Err string `json:"error,omitempty"`

	// Responses and Usage are set on turn_complete.
	Responses []providers.Response `json:"responses,omitempty"`
	Usage     *models.Usage        `json:"usage,omitempty"`
}

func thinkingEvent() Event {
	return Event{Type: EventThinking}
}

func decisionEvent(d SpeakerDecision) Event {
	t := EventWillSpeak
	if !d.WillSpeak {
		t = EventWillStaySilent
	}
	decision := d
	return Event{Type: t, Model: d.Model, Decision: &decision}
}

func responseStartEvent(model string) Event {
	return Event{Type: EventResponseStart, Model: model}
}

func responseChunkEvent(model, content string) Event {
	return Event{Type: EventResponseChunk, Model: model, Content: content}
}

func toolCallEvent(model string, call models.ToolCall) Event {
	return Event{Type: EventToolCall, Model: model, ToolCall: &call}
}

func toolResultEvent(model string, result models.ToolResult) Event {
	return Event{Type: EventToolResult, Model: model, ToolResult: &result}
}

func responseCompleteEvent(model string, resp providers.Response) Event {
	return Event{Type: EventResponseComplete, Model: model, Response: &resp}
}

func errorEvent(model, msg string) Event {
	return Event{Type: EventError, Model: model, Err: msg}
}

func turnCompleteEvent(responses []providers.Response, usage models.Usage) Event {
	ev := Event{Type: EventTurnComplete, Responses: responses}
	if !usage.IsZero() {
		u := usage
		ev.Usage = &u
	}
	return ev
}
