package vzfs

import (
	"context"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// defaultLockDuration is how long a freshly acquired lock is valid before
// the pruner is allowed to reap it. The Operator never renews a lock; it
// releases it as soon as the mutate step finishes, so in the normal path
// this window is never actually exhausted.
const defaultLockDuration = 30 * time.Second

// lockPath claims exclusive use of everything under prefix. On a
// collision it loads the existing lock: if that lock has already expired
// (the pruner simply hasn't gotten to it yet) it is deleted and the insert
// is retried exactly once; if it is still live, lockPath fails with
// ErrContended without retrying.
func (d *DB) lockPath(ctx context.Context, prefix string) (*LockRecord, error) {
	holderID := uuid.New().String()
	var rec *LockRecord
	var clearedStale bool
	err := retry.Do(
		func() error {
			now := nowMillis()
			clearedStale = false
			var innerErr error
			txErr := d.bolt.Update(func(tx *bolt.Tx) error {
				created, lockErr := insertLockTx(tx, prefix, holderID, int64(defaultLockDuration/time.Millisecond), now)
				if lockErr == nil {
					rec = created
					return nil
				}
				if !isConstraintError(lockErr) {
					return lockErr
				}
				innerErr = ErrContended
				existing, getErr := getLockTx(tx, prefix)
				if getErr == nil && existing.Expiry <= now {
					// stale: clear it so the retry can claim the slot.
					clearedStale = true
					return deleteLockTx(tx, prefix)
				}
				return nil
			})
			if txErr != nil {
				return txErr
			}
			return innerErr
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(5*time.Millisecond),
		retry.RetryIf(func(err error) bool {
			return err == ErrContended && clearedStale
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// removeLock releases a previously acquired lock. It is best-effort: an
// already-missing lock (pruned out from under the caller, or never
// acquired) is not an error, matching the Operator's guarantee that
// release always runs even on a failed mutate.
func (d *DB) removeLock(prefix string) {
	d.bolt.Update(func(tx *bolt.Tx) error {
		return deleteLockTx(tx, prefix)
	})
}

// rejectIfConflictingPrefixes checks every other live lock for an
// ancestor/descendant (or equal) relationship with prefix, returning
// ErrContended if one overlaps. Called immediately after a lock is
// acquired, closing the window between "insert my lock row" and "no other
// actor is already working on an overlapping subtree" that a single
// unique-key insert can't rule out by itself, since two prefixes can be
// distinct strings yet nest.
func (d *DB) rejectIfConflictingPrefixes(ownPrefix string) error {
	now := nowMillis()
	var conflict bool
	err := d.bolt.View(func(tx *bolt.Tx) error {
		locks, err := listLocksByExpiryTx(tx, now, true)
		if err != nil {
			return err
		}
		for _, l := range locks {
			if l.PathPrefix == ownPrefix {
				continue
			}
			if prefixesOverlap(l.PathPrefix, ownPrefix) {
				conflict = true
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if conflict {
		return ErrContended
	}
	return nil
}

// prefixesOverlap reports whether a and b are equal or one is a string
// prefix of the other. For directory paths (ending in "/") that is exactly
// the ancestor relationship; leaf paths such as "/a.txt" and "/a.txt2"
// also count as overlapping.
func prefixesOverlap(a, b string) bool {
	if a == b {
		return true
	}
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// greatestCommonPrefix returns the longest directory path that is an
// ancestor of (or equal to) both a and b, used to take a single lock that
// covers both sides of a two-path operation like a rename or reparent.
func greatestCommonPrefix(a, b string) string {
	aPieces := absPathToPieces(a)
	bPieces := absPathToPieces(b)

	n := len(aPieces)
	if len(bPieces) < n {
		n = len(bPieces)
	}

	var common []string
	for i := 0; i < n; i++ {
		if aPieces[i] != bPieces[i] {
			break
		}
		common = append(common, aPieces[i])
	}

	if len(common) == 0 {
		return "/"
	}
	return "/" + strings.Join(common, "/") + "/"
}

// pruneExpiredLocks deletes every lock whose expiry has passed. Run
// periodically by the Operator's lock-table pruner region.
func (d *DB) pruneExpiredLocks() (int, error) {
	now := nowMillis()
	var expired []*LockRecord
	err := d.bolt.View(func(tx *bolt.Tx) error {
		found, err := listLocksByExpiryTx(tx, now, false)
		expired = found
		return err
	})
	if err != nil {
		return 0, err
	}

	for _, l := range expired {
		d.bolt.Update(func(tx *bolt.Tx) error {
			return deleteLockTx(tx, l.PathPrefix)
		})
	}
	return len(expired), nil
}
