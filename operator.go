package vzfs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultPruneInterval = 2 * time.Second

// Operator is the hierarchical state machine described by the system's
// request/response protocol, realized as one goroutine driving a select
// loop: a command dispatcher and a lock-table pruner, the two parallel
// regions the design calls for, share the same loop iteration instead of
// separate goroutines, since the pruner never blocks the dispatcher for
// longer than one prune pass and a single goroutine keeps every store
// access confined to its own thread the way bbolt expects.
type Operator struct {
	originDir string

	cwd         string
	db          *DB
	initialized bool

	submissions chan submission
	commandsIn  chan Command
	repliesOut  chan Reply
	awaiting    chan struct{}
	stop        chan struct{}
	stopped     chan struct{}
}

type submission struct {
	cmd   Command
	reply chan Reply
}

// NewOperator starts an Operator's loop rooted at originDir — the
// directory "<origin-dir>/<name>.db" filesystems live under.
func NewOperator(originDir string) *Operator {
	o := &Operator{
		originDir:   originDir,
		cwd:         "/",
		submissions: make(chan submission),
		commandsIn:  make(chan Command),
		repliesOut:  make(chan Reply, 32),
		awaiting:    make(chan struct{}, 1),
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	go o.run()
	return o
}

// Submit enqueues cmd and blocks for its matching reply, the synchronous
// binding of the protocol.
func (o *Operator) Submit(ctx context.Context, cmd Command) (Reply, error) {
	replyCh := make(chan Reply, 1)
	select {
	case o.submissions <- submission{cmd: cmd, reply: replyCh}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-o.stopped:
		return nil, fmt.Errorf("vzfs: operator stopped")
	}
	select {
	case r := <-replyCh:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-o.stopped:
		return nil, fmt.Errorf("vzfs: operator stopped")
	}
}

// Commands is the fire-and-forget binding: send a Command, read its
// reply (and every other actor event) off Replies().
func (o *Operator) Commands() chan<- Command { return o.commandsIn }

// Replies streams the replies the Operator emits, in command arrival
// order, including the vzfsAwaitingCommand signal. A reply that finds the
// 32-slot buffer full is dropped.
func (o *Operator) Replies() <-chan Reply { return o.repliesOut }

// Awaiting fires once on every entry to awaitingCommand. Buffered by one
// so a dispatcher that isn't currently listening doesn't stall the loop;
// a missed signal is superseded by the next one.
func (o *Operator) Awaiting() <-chan struct{} { return o.awaiting }

// Stop halts the loop without going through the close command, for a
// host that is tearing down regardless of in-flight work.
func (o *Operator) Stop() {
	close(o.stop)
	<-o.stopped
}

func (o *Operator) run() {
	defer close(o.stopped)

	var pruneTicker *time.Ticker
	var pruneCh <-chan time.Time

	for {
		o.signalAwaiting()
		if o.initialized && pruneTicker == nil {
			pruneTicker = time.NewTicker(defaultPruneInterval)
			pruneCh = pruneTicker.C
		}
		if !o.initialized && pruneTicker != nil {
			pruneTicker.Stop()
			pruneTicker = nil
			pruneCh = nil
		}

		select {
		case <-o.stop:
			if pruneTicker != nil {
				pruneTicker.Stop()
			}
			return
		case sub := <-o.submissions:
			reply := o.dispatch(sub.cmd)
			sub.reply <- reply
			o.emit(reply)
		case cmd := <-o.commandsIn:
			reply := o.dispatch(cmd)
			o.emit(reply)
		case <-pruneCh:
			if o.db != nil {
				o.db.pruneExpiredLocks()
			}
		}
	}
}

func (o *Operator) signalAwaiting() {
	select {
	case o.awaiting <- struct{}{}:
	default:
	}
	o.emit(&AwaitingCommandSignal{})
}

func (o *Operator) emit(r Reply) {
	select {
	case o.repliesOut <- r:
	default:
		// a slow or absent Replies() reader must never stall the
		// dispatcher; drop rather than block.
	}
}

// dispatch runs exactly one command to completion and returns its reply.
// Every mutating path-addressed branch follows resolve → lock →
// reject-on-conflict → mutate → guaranteed release → reply; the read-only
// branches (changeDirectory, readFile, getDirectoryRecord) take no lock.
func (o *Operator) dispatch(cmd Command) Reply {
	if !o.initialized {
		switch c := cmd.(type) {
		case *InitCmd:
			return o.handleInit(c)
		case *ListFilesystemsCmd:
			return o.handleListFilesystems()
		case *DropFilesystemCmd:
			return o.handleDropFilesystem(c)
		case *RestoreFilesystemFromJSONCmd:
			return o.handleRestoreFilesystemFromJSON(c)
		default:
			return &InitFailure{Err: fmt.Errorf("vzfs: operator is uninitialized")}
		}
	}

	switch c := cmd.(type) {
	case *CloseCmd:
		return o.handleClose()
	case *ChangeDirectoryCmd:
		return o.handleChangeDirectory(c)
	case *CreateFileCmd:
		return o.handleCreateFile(c)
	case *ReadFileCmd:
		return o.handleReadFile(c)
	case *UpdateFileTimestampCmd:
		return o.handleUpdateFileTimestamp(c)
	case *UpdateFileContentCmd:
		return o.handleUpdateFileContent(c)
	case *DeleteFileCmd:
		return o.handleDeleteFile(c)
	case *CreateDirectoryCmd:
		return o.handleCreateDirectory(c)
	case *GetDirectoryRecordCmd:
		return o.handleGetDirectoryRecord(c)
	case *EmptyDirectoryCmd:
		return o.handleEmptyDirectory(c)
	case *DeleteDirectoryIfEmptyCmd:
		return o.handleDeleteDirectoryIfEmpty(c)
	case *RipFilesystemToJSONCmd:
		return o.handleRipFilesystemToJSON()
	case *RenameFileCmd:
		return o.handleRenameFile(c)
	case *ReparentLeafCmd:
		return o.handleReparentLeaf(c)
	case *TransplantAncestorsCmd:
		return o.handleTransplantAncestors(c)
	default:
		return &CreateFileFailure{Err: fmt.Errorf("vzfs: unknown command while initialized")}
	}
}

// ---- lifecycle commands -------------------------------------------------

// InitFailure is the uninitialized-state counterpart of a *Failure reply
// for the init command, which the protocol table otherwise gives no
// payload at all (init's only documented success is the awaitingCommand
// signal once seeding completes).
type InitFailure struct{ Err error }

func (*InitFailure) replyName() string { return "initFailure" }

func (o *Operator) handleInit(c *InitCmd) Reply {
	db, err := openFilesystem(o.originDir, c.FilesystemName)
	if err != nil {
		return &InitFailure{Err: err}
	}
	if err := seedRoot(db); err != nil {
		db.bolt.Close()
		return &InitFailure{Err: err}
	}
	o.db = db
	o.cwd = "/"
	o.initialized = true
	logrus.WithField("filesystem", c.FilesystemName).Debug("operator initialized")
	return &AwaitingCommandSignal{}
}

func (o *Operator) handleListFilesystems() Reply {
	names, err := listFilesystems(o.originDir)
	if err != nil {
		return &ListFilesystemsFailure{Err: err}
	}
	return &ListFilesystemsSuccess{Filesystems: names}
}

func (o *Operator) handleDropFilesystem(c *DropFilesystemCmd) Reply {
	if err := dropFilesystem(o.originDir, c.FsName); err != nil {
		return &DropFilesystemFailure{Err: err}
	}
	return &DropFilesystemSuccess{}
}

func (o *Operator) handleRestoreFilesystemFromJSON(c *RestoreFilesystemFromJSONCmd) Reply {
	if err := restoreFilesystemFromJSON(o.originDir, c.FsName, c.Backup); err != nil {
		return &RestoreFilesystemFromJSONFailure{Err: err}
	}
	return &RestoreFilesystemFromJSONSuccess{}
}

func (o *Operator) handleClose() Reply {
	if o.db != nil {
		o.db.bolt.Close()
		o.db = nil
	}
	o.initialized = false
	o.cwd = "/"
	return &CloseSuccess{}
}

func (o *Operator) handleRipFilesystemToJSON() Reply {
	backup, err := ripFilesystemToJSON(o.db)
	if err != nil {
		return &RipFilesystemToJSONFailure{Err: err}
	}
	return &RipFilesystemToJSONSuccess{Backup: backup}
}

// ---- working directory --------------------------------------------------

func (o *Operator) handleChangeDirectory(c *ChangeDirectoryCmd) Reply {
	target, err := normalizeDir(c.NewDirectoryPath, absPathToPieces(o.cwd))
	if err != nil {
		return &ChangeDirectoryFailure{Err: err}
	}
	e, err := o.db.getEntity(target)
	if err != nil {
		return &ChangeDirectoryFailure{Err: err}
	}
	if e.IsLeaf {
		return &ChangeDirectoryFailure{Err: ErrNotADirectory}
	}
	o.cwd = target
	return &ChangeDirectorySuccess{Cwd: o.cwd}
}

// ---- path-addressed operations ------------------------------------------

// withLock acquires the lock on an already-normalized path, rejects on an
// overlapping already-held lock, runs fn, and always releases — the
// per-command pattern every mutating handler below follows.
func (o *Operator) withLock(path string, fn func() error) error {
	rec, err := o.db.lockPath(context.Background(), path)
	if err != nil {
		logrus.WithField("path", path).WithError(err).Debug("lock contended")
		return err
	}
	defer o.db.removeLock(rec.PathPrefix)

	if err := o.db.rejectIfConflictingPrefixes(rec.PathPrefix); err != nil {
		return err
	}
	return fn()
}

// withTwoPathLock is withLock's two-subtree counterpart: the lock prefix
// is the greatest common prefix of both paths, per the spec's two-path
// locking rule for rename/reparent/transplant.
func (o *Operator) withTwoPathLock(a, b string, fn func() error) error {
	prefix := greatestCommonPrefix(a, b)
	return o.withLock(prefix, fn)
}

func (o *Operator) handleCreateFile(c *CreateFileCmd) Reply {
	parent, err := normalizeDir(c.ParentPath, absPathToPieces(o.cwd))
	if err != nil {
		return &CreateFileFailure{Err: err}
	}
	if !validNameChars(c.Name) {
		return &CreateFileFailure{Err: ErrInvalidPath}
	}
	newPath := parent + c.Name

	var created *Entity
	err = o.withLock(parent, func() error {
		e, addErr := o.db.addFileEntity(newPath)
		if addErr != nil {
			return addErr
		}
		if _, updErr := o.db.updateFile(newPath, c.Content); updErr != nil {
			return updErr
		}
		created = e
		return nil
	})
	if err != nil {
		return &CreateFileFailure{Err: err}
	}
	return &CreateFileSuccess{NewFilePath: created.Path}
}

func (o *Operator) handleReadFile(c *ReadFileCmd) Reply {
	path, err := normalizeLeaf(c.Path, absPathToPieces(o.cwd))
	if err != nil {
		return &ReadFileFailure{Err: err}
	}
	f, err := o.db.joinContentToLeaf(path)
	if err != nil {
		return &ReadFileFailure{Err: err}
	}
	if !f.IsLeaf {
		return &ReadFileFailure{Err: ErrNotALeaf}
	}
	return &ReadFileSuccess{File: f}
}

func (o *Operator) handleUpdateFileTimestamp(c *UpdateFileTimestampCmd) Reply {
	path, err := normalizeLeaf(c.Path, absPathToPieces(o.cwd))
	if err != nil {
		return &UpdateFileTimestampFailure{Err: err}
	}
	err = o.withLock(path, func() error {
		_, updErr := o.db.updateFileTimestamp(path)
		return updErr
	})
	if err != nil {
		return &UpdateFileTimestampFailure{Err: err}
	}
	return &UpdateFileTimestampSuccess{}
}

func (o *Operator) handleUpdateFileContent(c *UpdateFileContentCmd) Reply {
	path, err := normalizeLeaf(c.Path, absPathToPieces(o.cwd))
	if err != nil {
		return &UpdateFileFailure{Err: err}
	}
	err = o.withLock(path, func() error {
		_, updErr := o.db.updateFile(path, c.Content)
		return updErr
	})
	if err != nil {
		return &UpdateFileFailure{Err: err}
	}
	return &UpdateFileSuccess{}
}

func (o *Operator) handleDeleteFile(c *DeleteFileCmd) Reply {
	path, err := normalizeLeaf(c.Path, absPathToPieces(o.cwd))
	if err != nil {
		return &DeleteFileFailure{Err: err}
	}
	err = o.withLock(path, func() error {
		return o.db.deleteLeafEntity(path)
	})
	if err != nil {
		return &DeleteFileFailure{Err: err}
	}
	return &DeleteFileSuccess{}
}

func (o *Operator) handleCreateDirectory(c *CreateDirectoryCmd) Reply {
	parent, err := normalizeDir(c.ParentPath, absPathToPieces(o.cwd))
	if err != nil {
		return &CreateDirectoryFailure{Err: err}
	}
	if !validNameChars(c.Name) {
		return &CreateDirectoryFailure{Err: ErrInvalidPath}
	}
	newPath := parent + c.Name + "/"

	err = o.withLock(parent, func() error {
		_, addErr := o.db.addDirectoryEntity(newPath)
		return addErr
	})
	if err != nil {
		return &CreateDirectoryFailure{Err: err}
	}
	return &CreateDirectorySuccess{}
}

func (o *Operator) handleGetDirectoryRecord(c *GetDirectoryRecordCmd) Reply {
	if !c.HasPath {
		children, err := o.db.getImmediateChildKeys(o.cwd)
		if err != nil {
			return &GetDirectoryRecordFailure{Err: err}
		}
		return &GetDirectoryRecordSuccess{ChildKeys: children, Cwd: o.cwd}
	}

	path, err := normalizeDir(c.Path, absPathToPieces(o.cwd))
	if err != nil {
		return &GetDirectoryRecordFailure{Err: err}
	}
	e, err := o.db.getEntity(path)
	if err != nil {
		return &GetDirectoryRecordFailure{Err: err}
	}
	if e.IsLeaf {
		return &GetDirectoryRecordFailure{Err: ErrNotADirectory}
	}
	children, err := o.db.getImmediateChildKeys(path)
	if err != nil {
		return &GetDirectoryRecordFailure{Err: err}
	}
	return &GetDirectoryRecordSuccess{Entity: e, ChildKeys: children, Cwd: o.cwd}
}

func (o *Operator) handleEmptyDirectory(c *EmptyDirectoryCmd) Reply {
	path, err := normalizeDir(c.Path, absPathToPieces(o.cwd))
	if err != nil {
		return &EmptyDirectoryFailure{Err: err}
	}
	err = o.withLock(path, func() error {
		return o.db.emptyDirectory(path)
	})
	if err != nil {
		return &EmptyDirectoryFailure{Err: err}
	}
	return &EmptyDirectorySuccess{}
}

func (o *Operator) handleDeleteDirectoryIfEmpty(c *DeleteDirectoryIfEmptyCmd) Reply {
	path, err := normalizeDir(c.Path, absPathToPieces(o.cwd))
	if err != nil {
		return &DeleteDirectoryIfEmptyFailure{Err: err}
	}
	if path == "/" {
		return &DeleteDirectoryIfEmptyFailure{Err: ErrInvalidPath}
	}
	if hasPathPrefix(o.cwd, path) {
		return &DeleteDirectoryIfEmptyFailure{Err: ErrInvalidPath}
	}

	err = o.withLock(path, func() error {
		return o.db.deleteDirectoryIfEmpty(path)
	})
	if err != nil {
		return &DeleteDirectoryIfEmptyFailure{Err: err}
	}
	return &DeleteDirectoryIfEmptySuccess{}
}

func hasPathPrefix(cwd, target string) bool {
	return len(cwd) >= len(target) && cwd[:len(target)] == target
}

func (o *Operator) handleRenameFile(c *RenameFileCmd) Reply {
	oldPath, err := normalizeLeaf(c.OldPath, absPathToPieces(o.cwd))
	if err != nil {
		return &RenameFileFailure{Err: err}
	}
	if !validNameChars(c.NewName) {
		return &RenameFileFailure{Err: ErrInvalidPath}
	}
	newPath := parentOf(oldPath) + c.NewName

	var moved *Entity
	err = o.withLock(parentOf(oldPath), func() error {
		m, renErr := o.db.renameFile(oldPath, newPath)
		moved = m
		return renErr
	})
	if err != nil {
		return &RenameFileFailure{Err: err}
	}
	return &RenameFileSuccess{NewPath: moved.Path}
}

func (o *Operator) handleReparentLeaf(c *ReparentLeafCmd) Reply {
	oldPath, err := normalizeLeaf(c.Path, absPathToPieces(o.cwd))
	if err != nil {
		return &ReparentLeafFailure{Err: err}
	}
	newParent, err := normalizeDir(c.NewParentPath, absPathToPieces(o.cwd))
	if err != nil {
		return &ReparentLeafFailure{Err: err}
	}
	newPath := newParent + nameOf(oldPath)

	var moved *Entity
	err = o.withTwoPathLock(oldPath, newPath, func() error {
		m, repErr := o.db.reparentLeaf(oldPath, newPath)
		moved = m
		return repErr
	})
	if err != nil {
		return &ReparentLeafFailure{Err: err}
	}
	return &ReparentLeafSuccess{NewPath: moved.Path}
}

func (o *Operator) handleTransplantAncestors(c *TransplantAncestorsCmd) Reply {
	oldPath, err := normalizeDir(c.OldPath, absPathToPieces(o.cwd))
	if err != nil {
		return &TransplantAncestorsFailure{Err: err}
	}
	newPath, err := normalizeDir(c.NewPath, absPathToPieces(o.cwd))
	if err != nil {
		return &TransplantAncestorsFailure{Err: err}
	}
	if hasPathPrefix(o.cwd, oldPath) {
		return &TransplantAncestorsFailure{Err: ErrInvalidPath}
	}
	if strings.HasPrefix(newPath, oldPath) {
		return &TransplantAncestorsFailure{Err: ErrInvalidPath}
	}

	var moved *Entity
	err = o.withTwoPathLock(oldPath, newPath, func() error {
		m, tErr := o.db.transplantAncestors(oldPath, newPath)
		moved = m
		return tErr
	})
	if err != nil {
		return &TransplantAncestorsFailure{Err: err}
	}
	return &TransplantAncestorsSuccess{NewPath: moved.Path}
}
