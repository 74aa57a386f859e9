package sessions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/quorumchat/quorum/pkg/models"
)

// SQLiteStore implements Store on a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	project_path TEXT NOT NULL DEFAULT '',
	metadata     TEXT,
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	id            TEXT NOT NULL UNIQUE,
	session_id    TEXT NOT NULL REFERENCES sessions(id),
	role          TEXT NOT NULL,
	content       TEXT NOT NULL,
	model         TEXT,
	tool_calls    TEXT,
	tool_results  TEXT,
	metadata      TEXT,
	tokens_used   INTEGER,
	cost_estimate REAL,
	created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);

CREATE TABLE IF NOT EXISTS pins (
	session_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	PRIMARY KEY (session_id, message_id)
);

CREATE TABLE IF NOT EXISTS summaries (
	id                     TEXT PRIMARY KEY,
	session_id             TEXT NOT NULL REFERENCES sessions(id),
	type                   TEXT NOT NULL,
	content                TEXT NOT NULL,
	range_start_message_id TEXT,
	range_end_message_id   TEXT,
	token_count            INTEGER,
	created_at             TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_summaries_session ON summaries(session_id, created_at);
`

// NewSQLiteStore opens (creating if needed) the database file and applies
// the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// CreateSession creates and returns a new session.
func (s *SQLiteStore) CreateSession(ctx context.Context, params CreateSessionParams) (*models.Session, error) {
	now := time.Now().UTC()
	session := &models.Session{
		ID:          uuid.NewString(),
		Name:        params.Name,
		ProjectPath: params.ProjectPath,
		Metadata:    params.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	metadata, err := encodeMetadata(params.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, project_path, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID, session.Name, session.ProjectPath, metadata, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// LoadSession returns the session, its messages in append order, and pins.
func (s *SQLiteStore) LoadSession(ctx context.Context, id string) (*LoadedSession, error) {
	var (
		session  models.Session
		metadata sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, project_path, metadata, created_at, updated_at
		FROM sessions WHERE id = ?`, id,
	).Scan(&session.ID, &session.Name, &session.ProjectPath, &metadata, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.Metadata, err = decodeMetadata(metadata); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, model, tool_calls, tool_results, metadata, created_at
		FROM messages WHERE session_id = ? ORDER BY seq ASC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var (
			row       messageRow
			createdAt time.Time
		)
		if err := rows.Scan(&row.ID, &row.SessionID, &row.Role, &row.Content,
			&row.Model, &row.ToolCalls, &row.ToolResults, &row.Metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg, err := row.decode()
		if err != nil {
			return nil, err
		}
		msg.CreatedAt = createdAt
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	pinned, err := s.loadPins(ctx, id)
	if err != nil {
		return nil, err
	}

	return &LoadedSession{Session: session, Messages: messages, Pinned: pinned}, nil
}

func (s *SQLiteStore) loadPins(ctx context.Context, sessionID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id FROM pins WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pins: %w", err)
	}
	defer rows.Close()

	pinned := make(map[string]bool)
	for rows.Next() {
		var messageID string
		if err := rows.Scan(&messageID); err != nil {
			return nil, fmt.Errorf("failed to scan pin: %w", err)
		}
		pinned[messageID] = true
	}
	return pinned, rows.Err()
}

// AppendMessage persists a message in call order.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg models.Message, usage *models.Usage) (string, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	row, err := encodeMessage(sessionID, msg, usage)
	if err != nil {
		return "", err
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, model, tool_calls, tool_results, metadata, tokens_used, cost_estimate, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.SessionID, row.Role, row.Content, row.Model,
		row.ToolCalls, row.ToolResults, row.Metadata, row.TokensUsed, row.CostEstimate, msg.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to append message: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return "", fmt.Errorf("failed to append message: no rows affected")
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, time.Now().UTC(), sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to touch session: %w", err)
	}
	return msg.ID, nil
}

// SetPin pins or unpins a message.
func (s *SQLiteStore) SetPin(ctx context.Context, sessionID, messageID string, pinned bool) error {
	if pinned {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO pins (session_id, message_id) VALUES (?, ?)
			ON CONFLICT (session_id, message_id) DO NOTHING`,
			sessionID, messageID)
		if err != nil {
			return fmt.Errorf("failed to pin message: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pins WHERE session_id = ? AND message_id = ?`, sessionID, messageID)
	if err != nil {
		return fmt.Errorf("failed to unpin message: %w", err)
	}
	return nil
}

// SaveSummary stores a transcript summary.
func (s *SQLiteStore) SaveSummary(ctx context.Context, summary models.Summary) error {
	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summaries (id, session_id, type, content, range_start_message_id, range_end_message_id, token_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.ID, summary.SessionID, string(summary.Type), summary.Content,
		nullString(summary.RangeStartMessageID), nullString(summary.RangeEndMessageID),
		summary.TokenCount, summary.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}

// LatestSummary returns the most recent summary, or nil when none exists.
func (s *SQLiteStore) LatestSummary(ctx context.Context, sessionID string) (*models.Summary, error) {
	var (
		summary              models.Summary
		summaryType          string
		rangeStart, rangeEnd sql.NullString
		tokenCount           sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, type, content, range_start_message_id, range_end_message_id, token_count, created_at
		FROM summaries WHERE session_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, sessionID,
	).Scan(&summary.ID, &summary.SessionID, &summaryType, &summary.Content,
		&rangeStart, &rangeEnd, &tokenCount, &summary.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load summary: %w", err)
	}

	summary.Type = models.SummaryType(summaryType)
	summary.RangeStartMessageID = rangeStart.String
	summary.RangeEndMessageID = rangeEnd.String
	summary.TokenCount = int(tokenCount.Int64)
	return &summary, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Store = (*SQLiteStore)(nil)
