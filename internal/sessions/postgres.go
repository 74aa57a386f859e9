package sessions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/quorumchat/quorum/pkg/models"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB

	// Prepared statements for the hot paths
	stmtCreateSession *sql.Stmt
	stmtGetSession    *sql.Stmt
	stmtAppendMessage *sql.Stmt
	stmtGetMessages   *sql.Stmt
	stmtTouchSession  *sql.Stmt
}

// PostgresConfig holds connection pool settings.
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns default pool settings.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// NewPostgresStore opens a connection pool from a DSN and prepares the hot
// statements. The schema is expected to exist; see Migrate.
func NewPostgresStore(dsn string, config *PostgresConfig) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config == nil {
		config = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewPostgresStoreFromDB(db)
}

// NewPostgresStoreFromDB wraps an existing connection. Used by tests.
func NewPostgresStoreFromDB(db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db}
	if err := store.prepareStatements(); err != nil {
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return store, nil
}

// Migrate applies the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sessions (
			id           UUID PRIMARY KEY,
			name         TEXT NOT NULL DEFAULT '',
			project_path TEXT NOT NULL DEFAULT '',
			metadata     JSONB,
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS messages (
			seq           BIGSERIAL PRIMARY KEY,
			id            UUID NOT NULL UNIQUE,
			session_id    UUID NOT NULL REFERENCES sessions(id),
			role          TEXT NOT NULL,
			content       TEXT NOT NULL,
			model         TEXT,
			tool_calls    JSONB,
			tool_results  JSONB,
			metadata      JSONB,
			tokens_used   INTEGER,
			cost_estimate DOUBLE PRECISION,
			created_at    TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);
		CREATE TABLE IF NOT EXISTS pins (
			session_id UUID NOT NULL,
			message_id UUID NOT NULL,
			PRIMARY KEY (session_id, message_id)
		);
		CREATE TABLE IF NOT EXISTS summaries (
			id                     UUID PRIMARY KEY,
			session_id             UUID NOT NULL REFERENCES sessions(id),
			type                   TEXT NOT NULL,
			content                TEXT NOT NULL,
			range_start_message_id UUID,
			range_end_message_id   UUID,
			token_count            INTEGER,
			created_at             TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_summaries_session ON summaries(session_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) prepareStatements() error {
	var err error

	s.stmtCreateSession, err = s.db.Prepare(`
		INSERT INTO sessions (id, name, project_path, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return fmt.Errorf("failed to prepare create session: %w", err)
	}

	s.stmtGetSession, err = s.db.Prepare(`
		SELECT id, name, project_path, metadata, created_at, updated_at
		FROM sessions WHERE id = $1`)
	if err != nil {
		return fmt.Errorf("failed to prepare get session: %w", err)
	}

	s.stmtAppendMessage, err = s.db.Prepare(`
		INSERT INTO messages (id, session_id, role, content, model, tool_calls, tool_results, metadata, tokens_used, cost_estimate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`)
	if err != nil {
		return fmt.Errorf("failed to prepare append message: %w", err)
	}

	s.stmtGetMessages, err = s.db.Prepare(`
		SELECT id, session_id, role, content, model, tool_calls, tool_results, metadata, created_at
		FROM messages WHERE session_id = $1 ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("failed to prepare get messages: %w", err)
	}

	s.stmtTouchSession, err = s.db.Prepare(`
		UPDATE sessions SET updated_at = $1 WHERE id = $2`)
	if err != nil {
		return fmt.Errorf("failed to prepare touch session: %w", err)
	}

	return nil
}

// CreateSession creates and returns a new session.
func (s *PostgresStore) CreateSession(ctx context.Context, params CreateSessionParams) (*models.Session, error) {
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

	_, err = s.stmtCreateSession.ExecContext(ctx,
		session.ID, session.Name, session.ProjectPath, metadata, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// LoadSession returns the session, its messages in append order, and pins.
func (s *PostgresStore) LoadSession(ctx context.Context, id string) (*LoadedSession, error) {
	var (
		session  models.Session
		metadata sql.NullString
	)
	err := s.stmtGetSession.QueryRowContext(ctx, id).Scan(
		&session.ID, &session.Name, &session.ProjectPath, &metadata, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.Metadata, err = decodeMetadata(metadata); err != nil {
		return nil, err
	}

	rows, err := s.stmtGetMessages.QueryContext(ctx, id)
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

func (s *PostgresStore) loadPins(ctx context.Context, sessionID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id FROM pins WHERE session_id = $1`, sessionID)
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
func (s *PostgresStore) AppendMessage(ctx context.Context, sessionID string, msg models.Message, usage *models.Usage) (string, error) {
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

	_, err = s.stmtAppendMessage.ExecContext(ctx,
		row.ID, row.SessionID, row.Role, row.Content, row.Model,
		row.ToolCalls, row.ToolResults, row.Metadata, row.TokensUsed, row.CostEstimate, msg.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to append message: %w", err)
	}

	if _, err := s.stmtTouchSession.ExecContext(ctx, time.Now().UTC(), sessionID); err != nil {
		return "", fmt.Errorf("failed to touch session: %w", err)
	}
	return msg.ID, nil
}

// SetPin pins or unpins a message.
func (s *PostgresStore) SetPin(ctx context.Context, sessionID, messageID string, pinned bool) error {
	if pinned {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO pins (session_id, message_id) VALUES ($1, $2)
			ON CONFLICT (session_id, message_id) DO NOTHING`,
			sessionID, messageID)
		if err != nil {
			return fmt.Errorf("failed to pin message: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pins WHERE session_id = $1 AND message_id = $2`, sessionID, messageID)
	if err != nil {
		return fmt.Errorf("failed to unpin message: %w", err)
	}
	return nil
}

// SaveSummary stores a transcript summary.
func (s *PostgresStore) SaveSummary(ctx context.Context, summary models.Summary) error {
	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	if summary.CreatedAt.IsZero() {
		summary.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summaries (id, session_id, type, content, range_start_message_id, range_end_message_id, token_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		summary.ID, summary.SessionID, string(summary.Type), summary.Content,
		nullString(summary.RangeStartMessageID), nullString(summary.RangeEndMessageID),
		summary.TokenCount, summary.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}

// LatestSummary returns the most recent summary, or nil when none exists.
func (s *PostgresStore) LatestSummary(ctx context.Context, sessionID string) (*models.Summary, error) {
	var (
		summary              models.Summary
		summaryType          string
		rangeStart, rangeEnd sql.NullString
		tokenCount           sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, type, content, range_start_message_id, range_end_message_id, token_count, created_at
		FROM summaries WHERE session_id = $1
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

// Close closes prepared statements and the pool.
func (s *PostgresStore) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.stmtCreateSession, s.stmtGetSession, s.stmtAppendMessage,
		s.stmtGetMessages, s.stmtTouchSession,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}

var _ Store = (*PostgresStore)(nil)
