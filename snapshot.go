package vzfs

import (
	bolt "go.etcd.io/bbolt"
)

// Snapshot is a consistent, read-only view of a filesystem at the moment
// it was taken: one long-lived bbolt read transaction, released by
// Close. Useful for a caller that needs several reads (a tree walk, an
// export) to see the same state even while other actors keep writing.
type Snapshot struct {
	tx *bolt.Tx
	db *DB
}

// NewSnapshot opens a read-only transaction and returns a Snapshot over
// it. The caller must call Close when done, or the underlying bbolt
// transaction (and the write transactions it blocks) leaks.
func (d *DB) NewSnapshot() (*Snapshot, error) {
	tx, err := d.bolt.Begin(false)
	if err != nil {
		return nil, wrapStoreError(err)
	}
	return &Snapshot{tx: tx, db: d}, nil
}

// Close releases the snapshot's underlying transaction.
func (s *Snapshot) Close() error {
	return s.tx.Rollback()
}

// GetEntity reads one entity as of the snapshot. It reads the snapshot's
// transaction directly, never the shared entity cache, which later writes
// keep current.
func (s *Snapshot) GetEntity(path string) (*Entity, error) {
	return decodeJSON[Entity](bkt(s.tx, bucketEntity).Get([]byte(path)))
}

// GetEntitiesByPrefix reads every entity in [n, prefixRangeEnd(n)) as of
// the snapshot.
func (s *Snapshot) GetEntitiesByPrefix(n string) ([]*Entity, error) {
	return s.db.scanEntityRange(s.tx, n, prefixRangeEnd(n), true)
}

// GetContent reads one leaf's content row as of the snapshot. Only
// meaningful for the default embedded content backend: an external
// absfs.FileSystem backend has no transactional tie to this snapshot.
func (s *Snapshot) GetContent(leafPath string) ([]byte, error) {
	rec, err := getContentTx(s.tx, leafPath)
	if err != nil {
		return nil, err
	}
	return rec.Content, nil
}
