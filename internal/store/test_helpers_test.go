package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/botsync/internal/record"
)

// createTestStore creates a new file-backed store for testing.
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

// company creates a storage-ready company row.
func company(uid, name string) record.Record {
	return record.Record{
		"uid":               uid,
		"name":              name,
		"company_number":    uid,
		"jurisdiction_code": "ie",
	}
}
