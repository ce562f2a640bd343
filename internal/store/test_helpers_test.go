package store

import (
	"database/sql"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/jeanregisser/agent-wallet/internal/policy"
)

const (
	testAccount = "0x1111111111111111111111111111111111111111"
	testToken   = "0x2222222222222222222222222222222222222222"
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestPending creates a pending record with minimal required fields.
func createTestPending(id string, created time.Time) policy.CapabilityRecord {
	return policy.CapabilityRecord{
		ID:      id,
		Account: testAccount,
		ChainID: 84532,
		Expiry:  created.Add(7 * 24 * time.Hour),
		Key:     policy.Key{PublicKey: "0xabcdef", Type: policy.KeyTypeP256},
		Calls: []policy.CallEntry{
			{To: testToken, Selector: "0xa9059cbb"},
		},
		Spends: []policy.SpendEntry{
			{Limit: big.NewInt(100), Period: policy.PeriodDay, Token: testToken},
		},
		CreatedAt:   created,
		Fingerprint: "fp-" + id,
	}
}

func getTableColumns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		t.Fatalf("table_info(%s) failed: %v", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		columns = append(columns, name)
	}
	return columns
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
