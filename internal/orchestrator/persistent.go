package orchestrator

import (
	"context"
	"fmt"

	"github.com/quorumchat/quorum/internal/observability"
	"github.com/quorumchat/quorum/internal/sessions"
	"github.com/quorumchat/quorum/pkg/models"
)

// PersistentEngine wraps an Engine with session-backed persistence: every
// message the engine appends during a turn is written through to the store,
// pins survive restarts, and long transcripts trigger summarization after
// the turn completes.
type PersistentEngine struct {
	engine    *Engine
	store     sessions.Store
	summaries *SummaryManager

	sessionID string
	// persisted is how many transcript messages have been written through.
	persisted int

	logger *observability.Logger
}

// NewPersistentEngine wraps an engine with the given store. The summary
// manager is optional.
func NewPersistentEngine(engine *Engine, store sessions.Store, summaries *SummaryManager, logger *observability.Logger) *PersistentEngine {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &PersistentEngine{
		engine:    engine,
		store:     store,
		summaries: summaries,
		logger:    logger.WithFields("component", "orchestrator.persistent"),
	}
}

// Engine returns the wrapped engine.
func (p *PersistentEngine) Engine() *Engine { return p.engine }

// SessionID returns the active session id, or empty when none is active.
func (p *PersistentEngine) SessionID() string { return p.sessionID }

// HasSession reports whether a session is active.
func (p *PersistentEngine) HasSession() bool { return p.sessionID != "" }

// CreateSession starts a fresh session and clears the engine state.
func (p *PersistentEngine) CreateSession(ctx context.Context, name, projectPath string) (string, error) {
	session, err := p.store.CreateSession(ctx, sessions.CreateSessionParams{
		Name:        name,
		ProjectPath: projectPath,
	})
	if err != nil {
		return "", err
	}
	p.engine.ClearConversation()
	p.sessionID = session.ID
	p.persisted = 0
	p.logger.Info(ctx, "session created", "session_id", session.ID)
	return session.ID, nil
}

// LoadSession restores a stored session into the engine: transcript and
// pins.
func (p *PersistentEngine) LoadSession(ctx context.Context, sessionID string) error {
	loaded, err := p.store.LoadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	p.engine.ClearConversation()
	p.engine.SetTranscript(loaded.Messages)
	for id := range loaded.Pinned {
		p.engine.Pin(id)
	}
	p.sessionID = sessionID
	p.persisted = len(loaded.Messages)
	p.logger.Info(ctx, "session loaded",
		"session_id", sessionID, "messages", len(loaded.Messages))
	return nil
}

// EnsureSession returns the active session, creating one when none exists.
func (p *PersistentEngine) EnsureSession(ctx context.Context, name, projectPath string) (string, error) {
	if p.HasSession() {
		return p.sessionID, nil
	}
	return p.CreateSession(ctx, name, projectPath)
}

// Process runs a turn and persists every message the engine appended once
// the turn's event stream ends, then triggers summarization if configured.
// Events are forwarded unchanged.
func (p *PersistentEngine) Process(ctx context.Context, userText string) (<-chan Event, error) {
	if !p.HasSession() {
		return nil, fmt.Errorf("no active session")
	}

	inner := p.engine.Process(ctx, userText)
	events := make(chan Event)
	go func() {
		defer close(events)

		// Usage arrives per contributor; attach each record to that
		// contributor's assistant messages in order during persistence.
		usageByModel := make(map[string]models.Usage)
		for ev := range inner {
			if ev.Type == EventResponseComplete && ev.Response != nil {
				usageByModel[ev.Response.Model] = ev.Response.Usage
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				// Drain so the engine can finish appending.
				for range inner {
				}
				p.persistNewMessages(context.WithoutCancel(ctx), usageByModel)
				return
			}
		}
		p.persistNewMessages(ctx, usageByModel)
		p.maybeSummarize(ctx)
	}()
	return events, nil
}

// persistNewMessages appends the transcript suffix the engine produced since
// the last persistence point. Store failures are logged, not fatal: the
// in-memory turn already succeeded.
func (p *PersistentEngine) persistNewMessages(ctx context.Context, usageByModel map[string]models.Usage) {
	transcript := p.engine.Transcript()

	// Usage attaches to each contributor's last assistant message; earlier
	// tool-loop messages persist without it.
	lastAssistant := make(map[string]int)
	for i := p.persisted; i < len(transcript); i++ {
		if transcript[i].Role == models.RoleAssistant && transcript[i].Model != "" {
			lastAssistant[transcript[i].Model] = i
		}
	}

	for i := p.persisted; i < len(transcript); i++ {
		msg := transcript[i]

		var usage *models.Usage
		if msg.Role == models.RoleAssistant && msg.Model != "" && lastAssistant[msg.Model] == i {
			if u, ok := usageByModel[msg.Model]; ok && !u.IsZero() {
				usage = &u
			}
		}

		if _, err := p.store.AppendMessage(ctx, p.sessionID, msg, usage); err != nil {
			p.logger.Error(ctx, "failed to persist message",
				"session_id", p.sessionID, "role", string(msg.Role), "error", err)
		}
	}
	p.persisted = len(transcript)
}

func (p *PersistentEngine) maybeSummarize(ctx context.Context) {
	if p.summaries == nil {
		return
	}
	if _, err := p.summaries.MaybeSummarize(ctx, p.sessionID, p.engine.Transcript()); err != nil {
		p.logger.Warn(ctx, "summarization failed", "session_id", p.sessionID, "error", err)
	}
}

// Pin pins a message in the engine and the store.
func (p *PersistentEngine) Pin(ctx context.Context, messageID string) error {
	p.engine.Pin(messageID)
	if !p.HasSession() {
		return nil
	}
	return p.store.SetPin(ctx, p.sessionID, messageID, true)
}

// Unpin removes a pin from the engine and the store.
func (p *PersistentEngine) Unpin(ctx context.Context, messageID string) error {
	p.engine.Unpin(messageID)
	if !p.HasSession() {
		return nil
	}
	return p.store.SetPin(ctx, p.sessionID, messageID, false)
}
