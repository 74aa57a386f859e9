// Package sessions persists conversation transcripts. Three Store
// implementations share one contract: appends for a session are applied in
// call order, and a successful append is visible to every later load of that
// session.
package sessions

import (
	"context"
	"errors"

	"github.com/quorumchat/quorum/pkg/models"
)

// ErrSessionNotFound is returned when a session id is unknown.
var ErrSessionNotFound = errors.New("session not found")

// ErrMessageNotFound is returned when a message id is unknown in the session.
var ErrMessageNotFound = errors.New("message not found")

// CreateSessionParams seeds a new session.
type CreateSessionParams struct {
	Name        string
	ProjectPath string
	Metadata    map[string]any
}

// LoadedSession is a session with its full ordered transcript and pin set.
type LoadedSession struct {
	Session  models.Session
	Messages []models.Message
	Pinned   map[string]bool
}

// Store is the persistence interface the engine consumes.
type Store interface {
	// CreateSession creates and returns a new session.
	CreateSession(ctx context.Context, params CreateSessionParams) (*models.Session, error)

	// LoadSession returns the session, its messages in append order, and
	// the set of pinned message ids.
	LoadSession(ctx context.Context, id string) (*LoadedSession, error)

	// AppendMessage persists a message and returns its id. Usage, when
	// present, is stored with the message.
	AppendMessage(ctx context.Context, sessionID string, msg models.Message, usage *models.Usage) (string, error)

	// SetPin pins or unpins a message.
	SetPin(ctx context.Context, sessionID, messageID string, pinned bool) error

	// SaveSummary stores a transcript summary for the session.
	SaveSummary(ctx context.Context, summary models.Summary) error

	// LatestSummary returns the most recent summary, or nil when none
	// exists.
	LatestSummary(ctx context.Context, sessionID string) (*models.Summary, error)

	// Close releases store resources.
	Close() error
}
