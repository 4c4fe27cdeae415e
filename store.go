package vzfs

import (
	bolt "go.etcd.io/bbolt"
)

// DB is a single open filesystem: one bbolt database file, the three
// object stores and their indexes, an entity cache, and a pluggable
// content backend. Every Store Primitive below is wrapped in exactly one
// transaction; Tree Ops compose several of these outside any single
// transaction, relying on the Lock Manager for cross-transaction safety.
type DB struct {
	bolt    *bolt.DB
	name    string
	cache   *entityCache
	content ContentStore
}

// SetContentStore swaps the content backend. Intended to be called right
// after openFilesystem, before any file operations.
func (d *DB) SetContentStore(cs ContentStore) {
	d.content = cs
}

// CacheStats reports the entity cache's hit/miss performance.
func (d *DB) CacheStats() CacheStats {
	return d.cache.Stats()
}

// FlushCache drops every cached entity.
func (d *DB) FlushCache() {
	d.cache.Flush()
}

// ---- entity primitives ----------------------------------------------

func parentKeyOf(e *Entity) string {
	if e.ParentPath == nil {
		return ""
	}
	return *e.ParentPath
}

// getEntityTx fetches the entity at path, consulting the cache first.
func (d *DB) getEntityTx(tx *bolt.Tx, path string) (*Entity, error) {
	if cached := d.cache.Get(path); cached != nil {
		return cached, nil
	}
	b := bkt(tx, bucketEntity)
	data := b.Get([]byte(path))
	e, err := decodeJSON[Entity](data)
	if err != nil {
		return nil, err
	}
	d.cache.Put(e)
	return e, nil
}

// GetEntity fetches the entity at its canonical path.
func (d *DB) GetEntity(path string) (*Entity, error) {
	var e *Entity
	err := d.bolt.View(func(tx *bolt.Tx) error {
		found, err := d.getEntityTx(tx, path)
		if err != nil {
			return err
		}
		e = found
		return nil
	})
	return e, err
}

// insertEntityTx inserts a brand-new entity row, maintaining every index.
// Returns a constraintError if the primary key or the composite
// (parentPath, name) key already exists.
func (d *DB) insertEntityTx(tx *bolt.Tx, e *Entity) error {
	entities := bkt(tx, bucketEntity)
	if entities.Get([]byte(e.Path)) != nil {
		return newConstraintError(ErrExists)
	}

	if !e.IsRoot() {
		byParentName := bkt(tx, bucketEntityByParentName)
		pnKey := compositeKey(parentKeyOf(e), e.Name)
		if byParentName.Get(pnKey) != nil {
			return newConstraintError(ErrExists)
		}
		if err := byParentName.Put(pnKey, []byte(e.Path)); err != nil {
			return wrapStoreError(err)
		}
		if err := bkt(tx, bucketEntityByName).Put(compositeKey(e.Name, e.Path), []byte(e.Path)); err != nil {
			return wrapStoreError(err)
		}
	}

	if err := bkt(tx, bucketEntityByCreatedAt).Put(timeIndexKey(e.CreatedAt, e.Path), []byte(e.Path)); err != nil {
		return wrapStoreError(err)
	}
	if err := bkt(tx, bucketEntityByUpdatedAt).Put(timeIndexKey(e.UpdatedAt, e.Path), []byte(e.Path)); err != nil {
		return wrapStoreError(err)
	}
	if err := entities.Put([]byte(e.Path), encodeJSON(e)); err != nil {
		return wrapStoreError(err)
	}
	d.cache.Put(e)
	return nil
}

// updateEntityTx rewrites an entity whose path, parentPath, and name are
// unchanged (a timestamp or content touch). old must be the record's state
// immediately before this write, so the updatedAt index's stale key can be
// removed.
func (d *DB) updateEntityTx(tx *bolt.Tx, old, updated *Entity) error {
	if old.UpdatedAt != updated.UpdatedAt {
		byUpdated := bkt(tx, bucketEntityByUpdatedAt)
		if err := byUpdated.Delete(timeIndexKey(old.UpdatedAt, old.Path)); err != nil {
			return wrapStoreError(err)
		}
		if err := byUpdated.Put(timeIndexKey(updated.UpdatedAt, updated.Path), []byte(updated.Path)); err != nil {
			return wrapStoreError(err)
		}
	}
	if err := bkt(tx, bucketEntity).Put([]byte(updated.Path), encodeJSON(updated)); err != nil {
		return wrapStoreError(err)
	}
	d.cache.Put(updated)
	return nil
}

// deleteEntityTx removes an entity row and every index entry pointing at
// it. e must be the record's current state.
func (d *DB) deleteEntityTx(tx *bolt.Tx, e *Entity) error {
	if !e.IsRoot() {
		if err := bkt(tx, bucketEntityByParentName).Delete(compositeKey(parentKeyOf(e), e.Name)); err != nil {
			return wrapStoreError(err)
		}
		if err := bkt(tx, bucketEntityByName).Delete(compositeKey(e.Name, e.Path)); err != nil {
			return wrapStoreError(err)
		}
	}
	if err := bkt(tx, bucketEntityByCreatedAt).Delete(timeIndexKey(e.CreatedAt, e.Path)); err != nil {
		return wrapStoreError(err)
	}
	if err := bkt(tx, bucketEntityByUpdatedAt).Delete(timeIndexKey(e.UpdatedAt, e.Path)); err != nil {
		return wrapStoreError(err)
	}
	if err := bkt(tx, bucketEntity).Delete([]byte(e.Path)); err != nil {
		return wrapStoreError(err)
	}
	d.cache.Invalidate(e.Path)
	return nil
}

// scanEntityRange returns every entity whose path falls in [start, end) (or
// (start, end) when inclusiveStart is false), in ascending path order.
func (d *DB) scanEntityRange(tx *bolt.Tx, start, end string, inclusiveStart bool) ([]*Entity, error) {
	b := bkt(tx, bucketEntity)
	c := b.Cursor()
	var out []*Entity
	endB := []byte(end)
	for k, v := c.Seek([]byte(start)); k != nil && bytesLess(k, endB); k, v = c.Next() {
		if !inclusiveStart && string(k) == start {
			continue
		}
		e, err := decodeJSON[Entity](v)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func bytesLess(a, b []byte) bool {
	return string(a) < string(b)
}

// GetEntitiesByPrefix returns every entity whose path falls in
// [n, prefixRangeEnd(n)) — the entity at n itself is included.
func (d *DB) GetEntitiesByPrefix(n string) ([]*Entity, error) {
	var out []*Entity
	err := d.bolt.View(func(tx *bolt.Tx) error {
		found, err := d.scanEntityRange(tx, n, prefixRangeEnd(n), true)
		out = found
		return err
	})
	return out, err
}

// GetImmediateChildKeys returns the paths of every direct child of the
// directory at targetPath, via the composite index (so it never needs a
// full prefix scan of descendants).
func (d *DB) GetImmediateChildKeys(targetPath string) ([]string, error) {
	var out []string
	err := d.bolt.View(func(tx *bolt.Tx) error {
		b := bkt(tx, bucketEntityByParentName)
		c := b.Cursor()
		prefix := []byte(targetPath + keySep)
		for k, v := c.Seek(prefix); k != nil && hasBytesPrefix(k, prefix); k, v = c.Next() {
			out = append(out, string(v))
		}
		return nil
	})
	return out, err
}

func hasBytesPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	return string(k[:len(prefix)]) == string(prefix)
}

// ---- content primitives ----------------------------------------------

func getContentTx(tx *bolt.Tx, leafPath string) (*ContentRecord, error) {
	b := bkt(tx, bucketContent)
	data := b.Get([]byte(leafPath))
	return decodeJSON[ContentRecord](data)
}

func putContentTx(tx *bolt.Tx, leafPath string, data []byte) error {
	rec := &ContentRecord{LeafPath: leafPath, Content: data}
	return wrapStoreError(bkt(tx, bucketContent).Put([]byte(leafPath), encodeJSON(rec)))
}

func deleteContentTx(tx *bolt.Tx, leafPath string) error {
	return wrapStoreError(bkt(tx, bucketContent).Delete([]byte(leafPath)))
}

// GetContent fetches a leaf's content through the filesystem's configured
// ContentStore.
func (d *DB) GetContent(leafPath string) ([]byte, error) {
	return d.content.Get(leafPath)
}

// ---- lock primitives ---------------------------------------------------

func getLockTx(tx *bolt.Tx, prefix string) (*LockRecord, error) {
	b := bkt(tx, bucketLock)
	data := b.Get([]byte(prefix))
	return decodeJSON[LockRecord](data)
}

func insertLockTx(tx *bolt.Tx, prefix string, holderID string, durationMs int64, now int64) (*LockRecord, error) {
	locks := bkt(tx, bucketLock)
	if locks.Get([]byte(prefix)) != nil {
		return nil, newConstraintError(ErrContended)
	}
	rec := &LockRecord{PathPrefix: prefix, HolderID: holderID, Expiry: now + durationMs, CreatedAt: now}
	if err := bkt(tx, bucketLockByExpiry).Put(timeIndexKey(rec.Expiry, prefix), []byte(prefix)); err != nil {
		return nil, wrapStoreError(err)
	}
	if err := bkt(tx, bucketLockByCreatedAt).Put(timeIndexKey(rec.CreatedAt, prefix), []byte(prefix)); err != nil {
		return nil, wrapStoreError(err)
	}
	if err := locks.Put([]byte(prefix), encodeJSON(rec)); err != nil {
		return nil, wrapStoreError(err)
	}
	return rec, nil
}

func deleteLockTx(tx *bolt.Tx, prefix string) error {
	rec, err := getLockTx(tx, prefix)
	if err != nil {
		// best-effort: nothing to remove
		return nil
	}
	bkt(tx, bucketLockByExpiry).Delete(timeIndexKey(rec.Expiry, prefix))
	bkt(tx, bucketLockByCreatedAt).Delete(timeIndexKey(rec.CreatedAt, prefix))
	bkt(tx, bucketLock).Delete([]byte(prefix))
	return nil
}

// listLocksByExpiryTx scans the expiry index. When unexpiredOnly is true it
// returns locks with expiry > now; otherwise it returns locks with
// expiry <= now (the pruner's candidate set).
func listLocksByExpiryTx(tx *bolt.Tx, now int64, unexpiredOnly bool) ([]*LockRecord, error) {
	b := bkt(tx, bucketLockByExpiry)
	c := b.Cursor()
	var out []*LockRecord
	locks := bkt(tx, bucketLock)

	collect := func(prefix []byte) error {
		data := locks.Get(prefix)
		if data == nil {
			return nil
		}
		rec, err := decodeJSON[LockRecord](data)
		if err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	}

	if unexpiredOnly {
		nowKey := i64ToBytes(now + 1)
		for k, v := c.Seek(nowKey); k != nil; k, v = c.Next() {
			if err := collect(v); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	endKey := i64ToBytes(now + 1)
	for k, v := c.First(); k != nil && bytesLess(k, endKey); k, v = c.Next() {
		if err := collect(v); err != nil {
			return nil, err
		}
	}
	return out, nil
}
