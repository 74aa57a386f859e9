// Package providers implements the uniform model-client abstraction over the
// Anthropic, OpenAI, Google, and xAI APIs.
//
// Each client exposes one-shot and streaming completion with tool support,
// and renders the shared multi-model transcript into a first-person view
// before every request: its own past turns stay assistant-authored, other
// models' turns are narrated as user messages. See Reauthor.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/quorumchat/quorum/pkg/models"
)

// ModelClient is the provider-agnostic interface the orchestrator speaks to.
//
// Implementations must be safe for concurrent use: the speaking evaluator
// fans out Generate calls across clients in parallel.
type ModelClient interface {
	// ID is the short participant identifier used in mentions ("claude", "gpt", ...).
	ID() string

	// DisplayName is the human-readable participant name.
	DisplayName() string

	// Color is the participant's hex display color for frontends.
	Color() string

	// ModelID is the concrete provider model identifier.
	ModelID() string

	// Available reports whether credentials are configured.
	Available() bool

	// Generate performs a one-shot completion.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// Stream performs a streaming completion. The returned channel is closed
	// when the stream ends; a chunk with Err set terminates the stream early.
	Stream(ctx context.Context, req *Request) (<-chan StreamChunk, error)

	// CountTokens returns a best-effort token count for text.
	CountTokens(text string) int
}

// Request carries everything a completion call needs. Messages are the shared
// transcript; clients reauthor them before hitting the wire.
type Request struct {
	Messages    []models.Message
	System      string
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature *float64
}

// Response is the unified one-shot completion result.
type Response struct {
	Content      string
	Model        string
	FinishReason models.FinishReason
	ToolCalls    []models.ToolCall
	Usage        models.Usage
}

// StreamChunk is one unit of a streaming completion: a text delta, a complete
// tool call, or the terminal marker carrying the finish reason and usage.
type StreamChunk struct {
	Content      string
	ToolCall     *models.ToolCall
	Done         bool
	FinishReason models.FinishReason
	Usage        *models.Usage
	Err          error
}

// sendChunk delivers one chunk unless the context is done first. Stream
// goroutines must use it for every send, terminal chunks included: a consumer
// that stops draining after cancellation would otherwise strand the goroutine
// on a full channel. Returns false when the consumer is gone.
func sendChunk(ctx context.Context, chunks chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// ToolDefinition describes a tool in the JSON Schema subset all four
// providers accept: an object schema with typed properties, optional enums
// and nested items, and a required list.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ParametersMap decodes the parameter schema into a generic map for providers
// whose SDKs take schemas as map[string]any.
func (d ToolDefinition) ParametersMap() map[string]any {
	if len(d.Parameters) == 0 {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	var m map[string]any
	if err := json.Unmarshal(d.Parameters, &m); err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return m
}

// Status summarizes a client's availability for frontends.
type Status struct {
	Available   bool   `json:"available"`
	DisplayName string `json:"display_name"`
	Color       string `json:"color"`
	ModelID     string `json:"model_id"`
}

// Registry holds the configured model clients keyed by participant id.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]ModelClient
}

// NewRegistry creates an empty client registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]ModelClient)}
}

// Register adds a client. Duplicate ids are an error.
func (r *Registry) Register(client ModelClient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[client.ID()]; ok {
		return fmt.Errorf("model client already registered: %s", client.ID())
	}
	r.clients[client.ID()] = client
	return nil
}

// Get returns a client by participant id.
func (r *Registry) Get(id string) (ModelClient, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// IDs returns all registered participant ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Available returns the clients that have credentials configured, sorted by id.
func (r *Registry) Available() []ModelClient {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ModelClient, 0, len(r.clients))
	for _, c := range r.clients {
		if c.Available() {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// StatusMap reports availability for every registered client.
func (r *Registry) StatusMap() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Status, len(r.clients))
	for id, c := range r.clients {
		out[id] = Status{
			Available:   c.Available(),
			DisplayName: c.DisplayName(),
			Color:       c.Color(),
			ModelID:     c.ModelID(),
		}
	}
	return out
}
