package vzfs

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// Error kinds signaled by the core. Tree Ops and the Lock Manager signal
// each condition below with an error that satisfies errors.Is against the
// matching value. Lifecycle failures, content-backend failures, and
// commands sent to an uninitialized Operator carry their own errors.
var (
	// ErrInvalidPath means a path failed the Normalizer's grammar, or
	// normalized to something that escapes the root.
	ErrInvalidPath = errors.New("vzfs: invalid path")

	// ErrNotFound means the entity or content a primitive looked up does
	// not exist.
	ErrNotFound = errors.New("vzfs: not found")

	// ErrNotALeaf means an operation that requires a leaf (file) was
	// given a directory.
	ErrNotALeaf = errors.New("vzfs: not a leaf")

	// ErrNotADirectory means an operation that requires a directory was
	// given a leaf.
	ErrNotADirectory = errors.New("vzfs: not a directory")

	// ErrExists means a composite (parentPath, name) or primary-key
	// collision on create, rename, or reparent.
	ErrExists = errors.New("vzfs: already exists")

	// ErrNotEmpty means a directory delete was refused because it still
	// has children.
	ErrNotEmpty = errors.New("vzfs: directory not empty")

	// ErrAlreadyEmpty means emptyDirectory was asked to empty a
	// directory that already has no children.
	ErrAlreadyEmpty = errors.New("vzfs: directory already empty")

	// ErrContended means lock acquisition collided, or an
	// overlapping-prefix conflict was detected after acquisition.
	ErrContended = errors.New("vzfs: lock contended")

	// ErrStoreError wraps any failure surfaced by the underlying engine
	// that is not one of the above.
	ErrStoreError = errors.New("vzfs: store error")
)

// constraintError marks a primary-key or unique-index collision detected by
// the store primitives layer. It is never returned to a Tree Ops caller —
// the primitives return it, and Tree Ops and the Lock Manager translate it
// into ErrExists or ErrContended depending on which constraint fired.
type constraintError struct {
	cause error
}

func (e *constraintError) Error() string { return "vzfs: constraint violation" }
func (e *constraintError) Unwrap() error { return e.cause }

func newConstraintError(cause error) error {
	return &constraintError{cause: cause}
}

func isConstraintError(err error) bool {
	var c *constraintError
	return errors.As(err, &c)
}

// storeError classifies a low-level bbolt/i-o failure as ErrStoreError while
// keeping the original cause reachable for logging.
type storeError struct {
	cause error
}

func (e *storeError) Error() string { return "vzfs: store error: " + e.cause.Error() }
func (e *storeError) Unwrap() error { return e.cause }
func (e *storeError) Cause() error  { return e.cause }
func (e *storeError) Is(target error) bool {
	return target == ErrStoreError
}

// wrapStoreError classifies a low-level bbolt/i-o failure as ErrStoreError,
// preserving the original cause for logging via pkgerrors.Cause.
func wrapStoreError(err error) error {
	if err == nil {
		return nil
	}
	return &storeError{cause: pkgerrors.WithStack(err)}
}
