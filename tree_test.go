package vzfs

import (
	"bytes"
	"testing"
)

func TestAddFileThenReadRoundTrips(t *testing.T) {
	db := newTestDB(t)
	mustAddFile(t, db, "/a.txt")
	if _, err := db.updateFile("/a.txt", []byte("hello")); err != nil {
		t.Fatalf("updateFile: %v", err)
	}

	f, err := db.joinContentToLeaf("/a.txt")
	if err != nil {
		t.Fatalf("joinContentToLeaf: %v", err)
	}
	if !bytes.Equal(f.Content, []byte("hello")) {
		t.Errorf("content = %q, want %q", f.Content, "hello")
	}
}

func TestUpdateFileTimestampLeavesContentAlone(t *testing.T) {
	db := newTestDB(t)
	mustAddFile(t, db, "/a.txt")
	if _, err := db.updateFile("/a.txt", []byte("body")); err != nil {
		t.Fatalf("updateFile: %v", err)
	}
	before, _ := db.GetEntity("/a.txt")

	if _, err := db.updateFileTimestamp("/a.txt"); err != nil {
		t.Fatalf("updateFileTimestamp: %v", err)
	}
	after, _ := db.GetEntity("/a.txt")
	if after.UpdatedAt < before.UpdatedAt {
		t.Errorf("updatedAt went backwards: %d -> %d", before.UpdatedAt, after.UpdatedAt)
	}

	f, err := db.joinContentToLeaf("/a.txt")
	if err != nil {
		t.Fatalf("joinContentToLeaf: %v", err)
	}
	if !bytes.Equal(f.Content, []byte("body")) {
		t.Errorf("content changed after timestamp-only update: %q", f.Content)
	}
}

func TestDeleteLeafRemovesContent(t *testing.T) {
	db := newTestDB(t)
	mustAddFile(t, db, "/a.txt")
	if _, err := db.updateFile("/a.txt", []byte("x")); err != nil {
		t.Fatalf("updateFile: %v", err)
	}
	if err := db.deleteLeafEntity("/a.txt"); err != nil {
		t.Fatalf("deleteLeafEntity: %v", err)
	}
	if _, err := db.GetEntity("/a.txt"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if data, _ := db.GetContent("/a.txt"); data != nil {
		t.Errorf("expected content to be gone, got %q", data)
	}
}

func TestDeleteDirectoryIfEmptyRejectsNonEmpty(t *testing.T) {
	db := newTestDB(t)
	mustAddDir(t, db, "/d/")
	mustAddFile(t, db, "/d/a.txt")

	if err := db.deleteDirectoryIfEmpty("/d/"); err != ErrNotEmpty {
		t.Errorf("expected ErrNotEmpty, got %v", err)
	}
}

func TestEmptyDirectoryPreservesDirectoryItself(t *testing.T) {
	db := newTestDB(t)
	mustAddDir(t, db, "/d/")
	mustAddFile(t, db, "/d/a.txt")
	mustAddDir(t, db, "/d/sub/")
	mustAddFile(t, db, "/d/sub/b.txt")

	if err := db.emptyDirectory("/d/"); err != nil {
		t.Fatalf("emptyDirectory: %v", err)
	}

	if _, err := db.GetEntity("/d/"); err != nil {
		t.Errorf("directory itself must survive emptyDirectory, got %v", err)
	}
	children, err := db.getImmediateChildKeys("/d/")
	if err != nil {
		t.Fatalf("getImmediateChildKeys: %v", err)
	}
	if len(children) != 0 {
		t.Errorf("expected no children after emptyDirectory, got %v", children)
	}
}

func TestEmptyDirectoryOnAlreadyEmptyFails(t *testing.T) {
	db := newTestDB(t)
	mustAddDir(t, db, "/d/")
	if err := db.emptyDirectory("/d/"); err != ErrAlreadyEmpty {
		t.Errorf("expected ErrAlreadyEmpty, got %v", err)
	}
}

func TestRenameFilePreservesContent(t *testing.T) {
	db := newTestDB(t)
	mustAddFile(t, db, "/a.txt")
	if _, err := db.updateFile("/a.txt", []byte("body")); err != nil {
		t.Fatalf("updateFile: %v", err)
	}

	moved, err := db.renameFile("/a.txt", "/b.txt")
	if err != nil {
		t.Fatalf("renameFile: %v", err)
	}
	if moved.Path != "/b.txt" {
		t.Errorf("moved.Path = %q, want /b.txt", moved.Path)
	}
	if _, err := db.GetEntity("/a.txt"); err != ErrNotFound {
		t.Errorf("source should be gone, got %v", err)
	}
	f, err := db.joinContentToLeaf("/b.txt")
	if err != nil {
		t.Fatalf("joinContentToLeaf: %v", err)
	}
	if !bytes.Equal(f.Content, []byte("body")) {
		t.Errorf("content lost across rename: %q", f.Content)
	}
}

func TestRenameFileRejectsExistingDestination(t *testing.T) {
	db := newTestDB(t)
	mustAddFile(t, db, "/a.txt")
	mustAddFile(t, db, "/b.txt")

	if _, err := db.renameFile("/a.txt", "/b.txt"); err != ErrExists {
		t.Errorf("expected ErrExists, got %v", err)
	}
	// the source must survive a failed rename
	if _, err := db.GetEntity("/a.txt"); err != nil {
		t.Errorf("source entity lost after failed rename: %v", err)
	}
}

func TestReparentLeafMovesAcrossDirectories(t *testing.T) {
	db := newTestDB(t)
	mustAddDir(t, db, "/src/")
	mustAddDir(t, db, "/dst/")
	mustAddFile(t, db, "/src/a.txt")

	moved, err := db.reparentLeaf("/src/a.txt", "/dst/a.txt")
	if err != nil {
		t.Fatalf("reparentLeaf: %v", err)
	}
	if moved.Path != "/dst/a.txt" {
		t.Errorf("moved.Path = %q, want /dst/a.txt", moved.Path)
	}
	if *moved.ParentPath != "/dst/" {
		t.Errorf("parentPath = %q, want /dst/", *moved.ParentPath)
	}
}

func TestTransplantAncestorsMovesWholeSubtree(t *testing.T) {
	db := newTestDB(t)
	mustAddDir(t, db, "/src/")
	mustAddDir(t, db, "/src/sub/")
	mustAddFile(t, db, "/src/sub/a.txt")
	if _, err := db.updateFile("/src/sub/a.txt", []byte("payload")); err != nil {
		t.Fatalf("updateFile: %v", err)
	}
	mustAddDir(t, db, "/dst/")

	newRoot, err := db.transplantAncestors("/src/", "/dst/moved/")
	if err != nil {
		t.Fatalf("transplantAncestors: %v", err)
	}
	if newRoot.Path != "/dst/moved/" {
		t.Errorf("newRoot.Path = %q, want /dst/moved/", newRoot.Path)
	}

	if _, err := db.GetEntity("/src/"); err != ErrNotFound {
		t.Errorf("old subtree root should be gone, got %v", err)
	}
	if _, err := db.GetEntity("/src/sub/a.txt"); err != ErrNotFound {
		t.Errorf("old descendant should be gone, got %v", err)
	}

	moved, err := db.GetEntity("/dst/moved/sub/a.txt")
	if err != nil {
		t.Fatalf("moved descendant missing: %v", err)
	}
	f, err := db.joinContentToLeaf(moved.Path)
	if err != nil {
		t.Fatalf("joinContentToLeaf: %v", err)
	}
	if !bytes.Equal(f.Content, []byte("payload")) {
		t.Errorf("content lost across transplant: %q", f.Content)
	}
}

func TestTransplantAncestorsRejectsExistingDestination(t *testing.T) {
	db := newTestDB(t)
	mustAddDir(t, db, "/src/")
	mustAddDir(t, db, "/dst/")

	if _, err := db.transplantAncestors("/src/", "/dst/"); err != ErrExists {
		t.Errorf("expected ErrExists, got %v", err)
	}
}

func TestTransplantAncestorsRejectsMoveIntoOwnDescendant(t *testing.T) {
	db := newTestDB(t)
	mustAddDir(t, db, "/a/")
	mustAddDir(t, db, "/a/b/")
	mustAddFile(t, db, "/a/b/f.txt")

	if _, err := db.transplantAncestors("/a/", "/a/b/c/"); err != ErrInvalidPath {
		t.Errorf("expected ErrInvalidPath, got %v", err)
	}

	if _, err := db.GetEntity("/a/"); err != nil {
		t.Errorf("original subtree root should survive a rejected transplant: %v", err)
	}
	if _, err := db.GetEntity("/a/b/f.txt"); err != nil {
		t.Errorf("original descendant should survive a rejected transplant: %v", err)
	}
}
