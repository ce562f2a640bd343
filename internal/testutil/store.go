package testutil

import (
	"path/filepath"
	"testing"

	"github.com/jeanregisser/agent-wallet/internal/store"
)

// OpenTestStore opens a fresh SQLite store in t.TempDir and closes it
// on cleanup.
func OpenTestStore(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}
