package vzfs

import (
	"testing"
)

// newTestDB opens a fresh filesystem under a throwaway origin directory and
// seeds its root, the fixture every store/tree/lock test below builds on.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := openFilesystem(dir, "test")
	if err != nil {
		t.Fatalf("openFilesystem: %v", err)
	}
	if err := seedRoot(db); err != nil {
		t.Fatalf("seedRoot: %v", err)
	}
	t.Cleanup(func() { db.bolt.Close() })
	return db
}
