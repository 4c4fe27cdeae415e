package vzfs

import (
	"context"
	"testing"
)

func newTestOperator(t *testing.T) *Operator {
	t.Helper()
	dir := t.TempDir()
	o := NewOperator(dir)
	t.Cleanup(o.Stop)
	return o
}

func mustSubmit(t *testing.T, o *Operator, cmd Command) Reply {
	t.Helper()
	r, err := o.Submit(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Submit(%T): %v", cmd, err)
	}
	return r
}

func TestOperatorRejectsCommandsBeforeInit(t *testing.T) {
	o := newTestOperator(t)
	r := mustSubmit(t, o, NewReadFileCmd("/a.txt"))
	if _, ok := r.(*InitFailure); !ok {
		t.Errorf("expected InitFailure before init, got %T", r)
	}
}

func TestOperatorFullLifecycleHappyPath(t *testing.T) {
	o := newTestOperator(t)

	r := mustSubmit(t, o, NewInitCmd("main", 1))
	if _, ok := r.(*AwaitingCommandSignal); !ok {
		t.Fatalf("init: expected AwaitingCommandSignal, got %T (%+v)", r, r)
	}

	r = mustSubmit(t, o, NewCreateFileCmd("a.txt", "/", []byte("hello")))
	created, ok := r.(*CreateFileSuccess)
	if !ok {
		t.Fatalf("createFile: expected CreateFileSuccess, got %T (%+v)", r, r)
	}
	if created.NewFilePath != "/a.txt" {
		t.Errorf("createFile: NewFilePath = %q", created.NewFilePath)
	}

	r = mustSubmit(t, o, NewReadFileCmd("/a.txt"))
	read, ok := r.(*ReadFileSuccess)
	if !ok {
		t.Fatalf("readFile: expected ReadFileSuccess, got %T (%+v)", r, r)
	}
	if string(read.File.Content) != "hello" {
		t.Errorf("readFile: content = %q, want hello", read.File.Content)
	}

	if r = mustSubmit(t, o, NewUpdateFileTimestampCmd("/a.txt")); !isSuccess(r) {
		t.Fatalf("updateFileTimestamp failed: %+v", r)
	}

	r = mustSubmit(t, o, NewUpdateFileContentCmd("/a.txt", []byte("world")))
	if !isSuccess(r) {
		t.Fatalf("updateFileContent failed: %+v", r)
	}
	r = mustSubmit(t, o, NewReadFileCmd("/a.txt"))
	read = r.(*ReadFileSuccess)
	if string(read.File.Content) != "world" {
		t.Errorf("content after update = %q, want world", read.File.Content)
	}

	r = mustSubmit(t, o, NewCreateDirectoryCmd("sub", "/"))
	if !isSuccess(r) {
		t.Fatalf("createDirectory failed: %+v", r)
	}

	r = mustSubmit(t, o, NewCreateFileCmd("b.txt", "/sub/", []byte("inner")))
	if !isSuccess(r) {
		t.Fatalf("createFile in subdir failed: %+v", r)
	}

	r = mustSubmit(t, o, NewGetDirectoryRecordCmd("/sub/"))
	rec, ok := r.(*GetDirectoryRecordSuccess)
	if !ok {
		t.Fatalf("getDirectoryRecord: expected success, got %T (%+v)", r, r)
	}
	wantContains(t, rec.ChildKeys, "/sub/b.txt")

	r = mustSubmit(t, o, NewEmptyDirectoryCmd("/sub/"))
	if !isSuccess(r) {
		t.Fatalf("emptyDirectory failed: %+v", r)
	}
	r = mustSubmit(t, o, NewGetDirectoryRecordCmd("/sub/"))
	rec = r.(*GetDirectoryRecordSuccess)
	if len(rec.ChildKeys) != 0 {
		t.Errorf("expected /sub/ empty after emptyDirectory, got %v", rec.ChildKeys)
	}

	r = mustSubmit(t, o, NewDeleteDirectoryIfEmptyCmd("/sub/"))
	if !isSuccess(r) {
		t.Fatalf("deleteDirectoryIfEmpty failed: %+v", r)
	}

	r = mustSubmit(t, o, NewDeleteFileCmd("/a.txt"))
	if !isSuccess(r) {
		t.Fatalf("deleteFile failed: %+v", r)
	}
	r = mustSubmit(t, o, NewReadFileCmd("/a.txt"))
	if _, ok := r.(*ReadFileFailure); !ok {
		t.Errorf("expected ReadFileFailure after delete, got %T", r)
	}
}

func TestOperatorChangeDirectoryValidatesTarget(t *testing.T) {
	o := newTestOperator(t)
	mustSubmit(t, o, NewInitCmd("main", 1))
	mustSubmit(t, o, NewCreateFileCmd("a.txt", "/", nil))
	mustSubmit(t, o, NewCreateDirectoryCmd("sub", "/"))

	r := mustSubmit(t, o, NewChangeDirectoryCmd("/sub/"))
	cd, ok := r.(*ChangeDirectorySuccess)
	if !ok || cd.Cwd != "/sub/" {
		t.Fatalf("changeDirectory to a real dir should succeed, got %T (%+v)", r, r)
	}

	r = mustSubmit(t, o, NewChangeDirectoryCmd("/a.txt"))
	if _, ok := r.(*ChangeDirectoryFailure); !ok {
		t.Errorf("changeDirectory into a file should fail, got %T", r)
	}
}

func TestOperatorDeleteDirectoryIfEmptyRejectsRootAndCwdAncestor(t *testing.T) {
	o := newTestOperator(t)
	mustSubmit(t, o, NewInitCmd("main", 1))
	mustSubmit(t, o, NewCreateDirectoryCmd("sub", "/"))
	mustSubmit(t, o, NewChangeDirectoryCmd("/sub/"))

	if r := mustSubmit(t, o, NewDeleteDirectoryIfEmptyCmd("/")); isSuccess(r) {
		t.Errorf("deleting root should never succeed, got %T", r)
	}
	if r := mustSubmit(t, o, NewDeleteDirectoryIfEmptyCmd("/sub/")); isSuccess(r) {
		t.Errorf("deleting an ancestor of cwd should be rejected, got %T", r)
	}
}

func TestOperatorRenameAndReparentAndTransplant(t *testing.T) {
	o := newTestOperator(t)
	mustSubmit(t, o, NewInitCmd("main", 1))
	mustSubmit(t, o, NewCreateDirectoryCmd("src", "/"))
	mustSubmit(t, o, NewCreateDirectoryCmd("dst", "/"))
	mustSubmit(t, o, NewCreateFileCmd("a.txt", "/src/", []byte("x")))

	r := mustSubmit(t, o, NewRenameFileCmd("/src/a.txt", "b.txt"))
	ren, ok := r.(*RenameFileSuccess)
	if !ok || ren.NewPath != "/src/b.txt" {
		t.Fatalf("renameFile: got %T (%+v)", r, r)
	}

	r = mustSubmit(t, o, NewReparentLeafCmd("/src/b.txt", "/dst/"))
	rep, ok := r.(*ReparentLeafSuccess)
	if !ok || rep.NewPath != "/dst/b.txt" {
		t.Fatalf("reparentLeaf: got %T (%+v)", r, r)
	}

	r = mustSubmit(t, o, NewTransplantAncestorsCmd("/src/", "/dst/moved/"))
	tr, ok := r.(*TransplantAncestorsSuccess)
	if !ok || tr.NewPath != "/dst/moved/" {
		t.Fatalf("transplantAncestors: got %T (%+v)", r, r)
	}
}

func TestOperatorTransplantAncestorsRejectsMoveIntoOwnDescendant(t *testing.T) {
	o := newTestOperator(t)
	mustSubmit(t, o, NewInitCmd("main", 1))
	mustSubmit(t, o, NewCreateDirectoryCmd("a", "/"))
	mustSubmit(t, o, NewCreateDirectoryCmd("b", "/a/"))

	r := mustSubmit(t, o, NewTransplantAncestorsCmd("/a/", "/a/b/c/"))
	fail, ok := r.(*TransplantAncestorsFailure)
	if !ok || fail.Err != ErrInvalidPath {
		t.Fatalf("transplantAncestors into own descendant: got %T (%+v), want TransplantAncestorsFailure{ErrInvalidPath}", r, r)
	}
}

func TestOperatorRipAndClose(t *testing.T) {
	o := newTestOperator(t)
	mustSubmit(t, o, NewInitCmd("main", 1))
	mustSubmit(t, o, NewCreateFileCmd("a.txt", "/", []byte("hi")))

	r := mustSubmit(t, o, NewRipFilesystemToJSONCmd())
	rip, ok := r.(*RipFilesystemToJSONSuccess)
	if !ok || rip.Backup == "" {
		t.Fatalf("ripFilesystemToJSON: got %T (%+v)", r, r)
	}

	r = mustSubmit(t, o, NewCloseCmd())
	if _, ok := r.(*CloseSuccess); !ok {
		t.Fatalf("close: got %T (%+v)", r, r)
	}

	r = mustSubmit(t, o, NewReadFileCmd("/a.txt"))
	if _, ok := r.(*InitFailure); !ok {
		t.Errorf("commands after close should see an uninitialized operator, got %T", r)
	}
}

func TestOperatorConcurrentCreateFileContention(t *testing.T) {
	o := newTestOperator(t)
	mustSubmit(t, o, NewInitCmd("main", 1))

	const n = 8
	results := make(chan Reply, n)
	for i := 0; i < n; i++ {
		go func() {
			r, err := o.Submit(context.Background(), NewCreateFileCmd("race.txt", "/", []byte("x")))
			if err != nil {
				results <- &CreateFileFailure{Err: err}
				return
			}
			results <- r
		}()
	}

	successes := 0
	for i := 0; i < n; i++ {
		if isSuccess(<-results) {
			successes++
		}
	}
	if successes != 1 {
		t.Errorf("expected exactly one winning createFile under contention, got %d", successes)
	}
}

func isSuccess(r Reply) bool {
	switch r.(type) {
	case *CreateFileFailure, *ReadFileFailure, *UpdateFileTimestampFailure, *UpdateFileFailure,
		*DeleteFileFailure, *CreateDirectoryFailure, *GetDirectoryRecordFailure, *EmptyDirectoryFailure,
		*DeleteDirectoryIfEmptyFailure, *RipFilesystemToJSONFailure, *ChangeDirectoryFailure,
		*RenameFileFailure, *ReparentLeafFailure, *TransplantAncestorsFailure, *InitFailure,
		*ListFilesystemsFailure, *DropFilesystemFailure, *RestoreFilesystemFromJSONFailure:
		return false
	default:
		return true
	}
}
