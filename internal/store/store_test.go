package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"identities", "pending_capabilities", "runs", "checkpoints"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name     string
		expected string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
		{"user_version", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.expected); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestSchema_PendingCapabilitiesTable(t *testing.T) {
	s := createTestStore(t)

	columns := getTableColumns(t, s.db, "pending_capabilities")
	expected := []string{
		"account", "chain_id", "id", "created_at", "expiry", "public_key",
		"key_type", "call_scope", "spend_scope", "fingerprint", "settlement_id",
	}
	for _, col := range expected {
		if !contains(columns, col) {
			t.Errorf("pending_capabilities table missing column %q", col)
		}
	}
}

func TestMigration_AddsSettlementColumnToV0Database(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	// Rebuild the v0 table shape.
	stmts := []string{
		"DROP TABLE pending_capabilities",
		`CREATE TABLE pending_capabilities (
			account TEXT NOT NULL, chain_id INTEGER NOT NULL, id TEXT NOT NULL,
			created_at INTEGER NOT NULL, expiry INTEGER NOT NULL,
			public_key TEXT NOT NULL, key_type TEXT NOT NULL,
			call_scope TEXT NOT NULL, spend_scope TEXT NOT NULL,
			fingerprint TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (account, chain_id))`,
		"PRAGMA user_version = 0",
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	if !contains(getTableColumns(t, s.db, "pending_capabilities"), "settlement_id") {
		t.Error("migration did not add settlement_id")
	}
	if err := s.verifyPragma("user_version", "1"); err != nil {
		t.Error(err)
	}
}
