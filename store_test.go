package vzfs

import (
	"errors"
	"testing"
)

func TestSeedRootIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	if err := seedRoot(db); err != nil {
		t.Fatalf("re-seeding root should be a no-op, got %v", err)
	}
	root, err := db.GetEntity("/")
	if err != nil {
		t.Fatalf("GetEntity(/): %v", err)
	}
	if root.IsLeaf || !root.IsRoot() {
		t.Errorf("root entity malformed: %+v", root)
	}
}

func TestInsertEntityRejectsDuplicatePrimaryKey(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.addFileEntity("/a.txt"); err != nil {
		t.Fatalf("addFileEntity: %v", err)
	}
	if _, err := db.addFileEntity("/a.txt"); err != ErrExists {
		t.Errorf("expected ErrExists on duplicate path, got %v", err)
	}
}

func TestInsertEntityRejectsDuplicateCompositeKey(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.addDirectoryEntity("/dir/"); err != nil {
		t.Fatalf("addDirectoryEntity: %v", err)
	}
	if _, err := db.addFileEntity("/dir/a.txt"); err != nil {
		t.Fatalf("addFileEntity: %v", err)
	}

	// Delete and recreate under the same (parentPath, name) to confirm the
	// composite index was cleaned up, not just the primary bucket.
	if err := db.deleteLeafEntity("/dir/a.txt"); err != nil {
		t.Fatalf("deleteLeafEntity: %v", err)
	}
	if _, err := db.addFileEntity("/dir/a.txt"); err != nil {
		t.Errorf("recreate after delete should succeed, got %v", err)
	}
}

func TestGetEntityNotFound(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.GetEntity("/nope.txt"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGetEntitiesByPrefixIncludesSelfAndDescendants(t *testing.T) {
	db := newTestDB(t)
	mustAddDir(t, db, "/a/")
	mustAddDir(t, db, "/a/b/")
	mustAddFile(t, db, "/a/b/c.txt")
	mustAddFile(t, db, "/ax.txt")

	got, err := db.GetEntitiesByPrefix("/a/")
	if err != nil {
		t.Fatalf("GetEntitiesByPrefix: %v", err)
	}
	paths := pathsOf(got)
	wantContains(t, paths, "/a/", "/a/b/", "/a/b/c.txt")
	wantNotContains(t, paths, "/ax.txt")
}

func TestGetImmediateChildKeys(t *testing.T) {
	db := newTestDB(t)
	mustAddDir(t, db, "/a/")
	mustAddDir(t, db, "/a/b/")
	mustAddFile(t, db, "/a/c.txt")
	mustAddFile(t, db, "/a/b/d.txt")

	children, err := db.getImmediateChildKeys("/a/")
	if err != nil {
		t.Fatalf("getImmediateChildKeys: %v", err)
	}
	wantContains(t, children, "/a/b/", "/a/c.txt")
	wantNotContains(t, children, "/a/b/d.txt")
}

func TestCacheServesGetEntity(t *testing.T) {
	db := newTestDB(t)
	mustAddFile(t, db, "/a.txt")

	if _, err := db.GetEntity("/a.txt"); err != nil {
		t.Fatalf("first GetEntity: %v", err)
	}
	stats := db.CacheStats()
	if stats.Size == 0 {
		t.Errorf("expected cache to hold the entity after a read")
	}
	if _, err := db.GetEntity("/a.txt"); err != nil {
		t.Fatalf("second GetEntity: %v", err)
	}
	stats = db.CacheStats()
	if stats.Hits == 0 {
		t.Errorf("expected at least one cache hit")
	}
}

// ---- helpers shared by store/tree tests ---------------------------------

func mustAddDir(t *testing.T, db *DB, path string) *Entity {
	t.Helper()
	e, err := db.addDirectoryEntity(path)
	if err != nil {
		t.Fatalf("addDirectoryEntity(%q): %v", path, err)
	}
	return e
}

func mustAddFile(t *testing.T, db *DB, path string) *Entity {
	t.Helper()
	e, err := db.addFileEntity(path)
	if err != nil {
		t.Fatalf("addFileEntity(%q): %v", path, err)
	}
	return e
}

func pathsOf(es []*Entity) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Path
	}
	return out
}

func wantContains(t *testing.T, haystack []string, wants ...string) {
	t.Helper()
	for _, w := range wants {
		found := false
		for _, h := range haystack {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected %q in %v", w, haystack)
		}
	}
}

func wantNotContains(t *testing.T, haystack []string, nots ...string) {
	t.Helper()
	for _, n := range nots {
		for _, h := range haystack {
			if h == n {
				t.Errorf("did not expect %q in %v", n, haystack)
			}
		}
	}
}
