package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quorumchat/quorum/pkg/models"
)

// MemoryStore is the in-process Store used by default and in tests. Nothing
// survives a restart.
type MemoryStore struct {
	mu        sync.Mutex
	sessions  map[string]*models.Session
	messages  map[string][]models.Message
	pins      map[string]map[string]bool
	summaries map[string][]models.Summary
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  make(map[string]*models.Session),
		messages:  make(map[string][]models.Message),
		pins:      make(map[string]map[string]bool),
		summaries: make(map[string][]models.Summary),
	}
}

// CreateSession creates and returns a new session.
func (s *MemoryStore) CreateSession(ctx context.Context, params CreateSessionParams) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	session := &models.Session{
		ID:          uuid.NewString(),
		Name:        params.Name,
		ProjectPath: params.ProjectPath,
		Metadata:    params.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.sessions[session.ID] = session
	s.pins[session.ID] = make(map[string]bool)
	return copySession(session), nil
}

// LoadSession returns the session with its ordered transcript and pin set.
func (s *MemoryStore) LoadSession(ctx context.Context, id string) (*LoadedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	messages := make([]models.Message, len(s.messages[id]))
	copy(messages, s.messages[id])

	pinned := make(map[string]bool, len(s.pins[id]))
	for msgID, p := range s.pins[id] {
		if p {
			pinned[msgID] = true
		}
	}

	return &LoadedSession{
		Session:  *copySession(session),
		Messages: messages,
		Pinned:   pinned,
	}, nil
}

// AppendMessage persists a message in call order.
func (s *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg models.Message, usage *models.Usage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return "", ErrSessionNotFound
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.SessionID = sessionID
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if usage != nil {
		if msg.Metadata == nil {
			msg.Metadata = make(map[string]any)
		}
		msg.Metadata["tokens_used"] = usage.TotalTokens
		msg.Metadata["cost_estimate"] = usage.CostEstimate
	}

	s.messages[sessionID] = append(s.messages[sessionID], msg)
	session.UpdatedAt = time.Now().UTC()
	return msg.ID, nil
}

// SetPin pins or unpins a message.
func (s *MemoryStore) SetPin(ctx context.Context, sessionID, messageID string, pinned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	found := false
	for _, msg := range s.messages[sessionID] {
		if msg.ID == messageID {
			found = true
			break
		}
	}
	if !found {
		return ErrMessageNotFound
	}

	if pinned {
		s.pins[sessionID][messageID] = true
	} else {
		delete(s.pins[sessionID], messageID)
	}
	return nil
}

// SaveSummary stores a transcript summary.
func (s *MemoryStore) SaveSummary(ctx context.Context, summary models.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[summary.SessionID]; !ok {
		return ErrSessionNotFound
	}
	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now().UTC()
	}
	s.summaries[summary.SessionID] = append(s.summaries[summary.SessionID], summary)
	return nil
}

// LatestSummary returns the most recent summary, or nil when none exists.
func (s *MemoryStore) LatestSummary(ctx context.Context, sessionID string) (*models.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrSessionNotFound
	}
	summaries := s.summaries[sessionID]
	if len(summaries) == 0 {
		return nil, nil
	}
	latest := summaries[len(summaries)-1]
	return &latest, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

func copySession(session *models.Session) *models.Session {
	out := *session
	if session.Metadata != nil {
		out.Metadata = make(map[string]any, len(session.Metadata))
		for k, v := range session.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

var _ Store = (*MemoryStore)(nil)
