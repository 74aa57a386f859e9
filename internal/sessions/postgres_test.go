package sessions

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/quorumchat/quorum/pkg/models"
)

// setupMockStore creates a sqlmock-backed PostgresStore with the prepared
// statements expected.
func setupMockStore(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}

	mock.ExpectPrepare("INSERT INTO sessions")
	mock.ExpectPrepare("SELECT (.+) FROM sessions WHERE id")
	mock.ExpectPrepare("INSERT INTO messages")
	mock.ExpectPrepare("SELECT (.+) FROM messages WHERE session_id")
	mock.ExpectPrepare("UPDATE sessions SET updated_at")

	store, err := NewPostgresStoreFromDB(db)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return db, mock, store
}

// TestPostgresCreateSession tests session insertion.
func TestPostgresCreateSession(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs(sqlmock.AnyArg(), "sprint", "/ws", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	session, err := store.CreateSession(context.Background(), CreateSessionParams{
		Name:        "sprint",
		ProjectPath: "/ws",
		Metadata:    map[string]any{"k": "v"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if session.ID == "" {
		t.Error("session id missing")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestPostgresCreateSessionDBError tests error propagation.
func TestPostgresCreateSessionDBError(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	mock.ExpectExec("INSERT INTO sessions").
		WillReturnError(errors.New("connection refused"))

	_, err := store.CreateSession(context.Background(), CreateSessionParams{Name: "x"})
	if err == nil || !strings.Contains(err.Error(), "failed to create session") {
		t.Errorf("expected wrapped create error, got %v", err)
	}
}

// TestPostgresLoadSession tests loading a session with messages and pins.
func TestPostgresLoadSession(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	now := time.Now().UTC()
	sessionID := "11111111-1111-1111-1111-111111111111"

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE id").
		WithArgs(sessionID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "project_path", "metadata", "created_at", "updated_at"}).
			AddRow(sessionID, "sprint", "/ws", `{"k":"v"}`, now, now))

	mock.ExpectQuery("SELECT (.+) FROM messages WHERE session_id").
		WithArgs(sessionID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "role", "content", "model", "tool_calls", "tool_results", "metadata", "created_at"}).
			AddRow("m1", sessionID, "user", "hello", nil, nil, nil, nil, now).
			AddRow("m2", sessionID, "assistant", "hi", "claude", `[{"id":"c1","name":"read_file","arguments":{"path":"a"}}]`, nil, nil, now))

	mock.ExpectQuery("SELECT message_id FROM pins").
		WithArgs(sessionID).
		WillReturnRows(sqlmock.NewRows([]string{"message_id"}).AddRow("m2"))

	loaded, err := store.LoadSession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Session.Metadata["k"] != "v" {
		t.Errorf("metadata = %+v", loaded.Session.Metadata)
	}
	if len(loaded.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(loaded.Messages))
	}
	if loaded.Messages[0].Content != "hello" || loaded.Messages[1].Model != "claude" {
		t.Errorf("messages decoded wrong: %+v", loaded.Messages)
	}
	if len(loaded.Messages[1].ToolCalls) != 1 || loaded.Messages[1].ToolCalls[0].Name != "read_file" {
		t.Errorf("tool calls decoded wrong: %+v", loaded.Messages[1].ToolCalls)
	}
	if !loaded.Pinned["m2"] {
		t.Error("pin missing")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestPostgresLoadSessionNotFound tests the missing-session mapping.
func TestPostgresLoadSessionNotFound(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE id").
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := store.LoadSession(context.Background(), "nope")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

// TestPostgresAppendMessage tests the insert plus session touch.
func TestPostgresAppendMessage(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	sessionID := "11111111-1111-1111-1111-111111111111"
	mock.ExpectExec("INSERT INTO messages").
		WithArgs(sqlmock.AnyArg(), sessionID, "assistant", "answer", "gpt",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			int64(100), 0.0025, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE sessions SET updated_at").
		WithArgs(sqlmock.AnyArg(), sessionID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := store.AppendMessage(context.Background(), sessionID, models.Message{
		Role:    models.RoleAssistant,
		Model:   "gpt",
		Content: "answer",
	}, &models.Usage{TotalTokens: 100, CostEstimate: 0.0025})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id == "" {
		t.Error("message id missing")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestPostgresPins tests pin upsert and delete.
func TestPostgresPins(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	mock.ExpectExec("INSERT INTO pins").
		WithArgs("s1", "m1").
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := store.SetPin(context.Background(), "s1", "m1", true); err != nil {
		t.Fatalf("pin: %v", err)
	}

	mock.ExpectExec("DELETE FROM pins").
		WithArgs("s1", "m1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.SetPin(context.Background(), "s1", "m1", false); err != nil {
		t.Fatalf("unpin: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestPostgresSummaries tests summary save and latest lookup.
func TestPostgresSummaries(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	mock.ExpectExec("INSERT INTO summaries").
		WillReturnResult(sqlmock.NewResult(1, 1))
	err := store.SaveSummary(context.Background(), models.Summary{
		SessionID: "s1",
		Type:      models.SummaryIncremental,
		Content:   "progress so far",
	})
	if err != nil {
		t.Fatalf("save summary: %v", err)
	}

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT (.+) FROM summaries WHERE session_id").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "type", "content", "range_start_message_id", "range_end_message_id", "token_count", "created_at"}).
			AddRow("sum1", "s1", "incremental", "progress so far", nil, nil, 25, now))

	latest, err := store.LatestSummary(context.Background(), "s1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.Content != "progress so far" || latest.TokenCount != 25 {
		t.Errorf("latest = %+v", latest)
	}

	mock.ExpectQuery("SELECT (.+) FROM summaries WHERE session_id").
		WithArgs("s2").
		WillReturnError(sql.ErrNoRows)
	latest, err = store.LatestSummary(context.Background(), "s2")
	if err != nil || latest != nil {
		t.Errorf("expected nil summary, got %+v / %v", latest, err)
	}
}
