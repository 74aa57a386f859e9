package sessions

import (
	"path/filepath"
	"testing"
)

// TestSQLiteStoreContract runs the shared contract on a real database file.
func TestSQLiteStoreContract(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "quorum.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	defer store.Close()

	runStoreContract(t, store)
}

// TestSQLiteStoreReopen tests durability across close and reopen.
func TestSQLiteStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quorum.db")

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	session, err := store.CreateSession(t.Context(), CreateSessionParams{Name: "durable"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	loaded, err := reopened.LoadSession(t.Context(), session.ID)
	if err != nil {
		t.Fatalf("load after reopen: %v", err)
	}
	if loaded.Session.Name != "durable" {
		t.Errorf("session name = %q", loaded.Session.Name)
	}
}

// TestSQLiteStoreRequiresPath tests the empty-path guard.
func TestSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(""); err == nil {
		t.Error("empty path should fail")
	}
}
