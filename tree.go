package vzfs

import (
	"strings"

	bolt "go.etcd.io/bbolt"
)

// Tree Ops composes several Store Primitives, each in its own transaction,
// into the filesystem-level operations the Operator dispatches. None of
// these functions take a lock themselves — the caller (the Operator) is
// responsible for holding whatever path-prefix locks the operation needs
// before calling in, and releasing them after.

// getEntity is a thin re-export so tree operations read uniformly through
// this file; it is the same lookup the Operator uses to resolve arguments.
func (d *DB) getEntity(path string) (*Entity, error) {
	return d.GetEntity(path)
}

// getEntitiesByPrefix returns every entity in [n, prefixRangeEnd(n)).
func (d *DB) getEntitiesByPrefix(n string) ([]*Entity, error) {
	return d.GetEntitiesByPrefix(n)
}

// getImmediateChildKeys returns the canonical paths of dirPath's direct
// children, after confirming dirPath names a directory.
func (d *DB) getImmediateChildKeys(dirPath string) ([]string, error) {
	e, err := d.getEntity(dirPath)
	if err != nil {
		return nil, err
	}
	if e.IsLeaf {
		return nil, ErrNotADirectory
	}
	return d.GetImmediateChildKeys(dirPath)
}

// joinContentToLeaf fetches a leaf entity together with its content,
// returning a File. dir entities have a nil Content.
func (d *DB) joinContentToLeaf(leafPath string) (*File, error) {
	e, err := d.getEntity(leafPath)
	if err != nil {
		return nil, err
	}
	f := &File{Entity: *e}
	if e.IsLeaf {
		content, err := d.GetContent(leafPath)
		if err != nil {
			return nil, err
		}
		f.Content = content
	}
	return f, nil
}

// addEntity is the shared body of addFileEntity and addDirectoryEntity: it
// validates the parent exists and is a directory, then inserts the new row
// in one transaction.
func (d *DB) addEntity(path string, isLeaf bool) (*Entity, error) {
	parent := parentOf(path)
	now := nowMillis()

	var e *Entity
	err := d.bolt.Update(func(tx *bolt.Tx) error {
		if path != "/" {
			parentEntity, err := d.getEntityTx(tx, parent)
			if err != nil {
				return err
			}
			if parentEntity.IsLeaf {
				return ErrNotADirectory
			}
		}

		var parentPtr *string
		if path != "/" {
			p := parent
			parentPtr = &p
		}

		candidate := &Entity{
			Path:       path,
			Name:       nameOf(path),
			IsLeaf:     isLeaf,
			ParentPath: parentPtr,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		insErr := d.insertEntityTx(tx, candidate)
		if insErr != nil {
			if isConstraintError(insErr) {
				return ErrExists
			}
			return insErr
		}
		e = candidate
		return nil
	})
	return e, err
}

// addFileEntity creates a new, empty leaf at path. The caller writes
// content with updateFile afterward.
func (d *DB) addFileEntity(path string) (*Entity, error) {
	return d.addEntity(path, true)
}

// addDirectoryEntity creates a new, empty directory at path.
func (d *DB) addDirectoryEntity(path string) (*Entity, error) {
	return d.addEntity(path, false)
}

// deleteLeafEntity removes a leaf's entity row and its content row. The
// content delete runs in its own transaction (or through the pluggable
// ContentStore) after the entity row is gone, so a crash between the two
// leaves an orphaned content row rather than a dangling entity.
func (d *DB) deleteLeafEntity(path string) error {
	e, err := d.getEntity(path)
	if err != nil {
		return err
	}
	if !e.IsLeaf {
		return ErrNotALeaf
	}

	err = d.bolt.Update(func(tx *bolt.Tx) error {
		return d.deleteEntityTx(tx, e)
	})
	if err != nil {
		return err
	}

	return d.content.Delete(path)
}

// deleteDirectoryIfEmpty removes a directory's entity row, failing with
// ErrNotEmpty if it still has children.
func (d *DB) deleteDirectoryIfEmpty(path string) error {
	e, err := d.getEntity(path)
	if err != nil {
		return err
	}
	if e.IsLeaf {
		return ErrNotADirectory
	}

	return d.bolt.Update(func(tx *bolt.Tx) error {
		// re-check under the write transaction so a concurrent create
		// inside this exact prefix (impossible once the caller holds the
		// path-prefix lock, but cheap to assert) can't slip through.
		children, err := d.GetImmediateChildKeys(path)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return ErrNotEmpty
		}
		return d.deleteEntityTx(tx, e)
	})
}

// emptyDirectory deletes every descendant of a directory without deleting
// the directory itself: every entity in the EXCLUSIVE range (dirPath, end).
// Content rows for any deleted leaves are removed afterward.
func (d *DB) emptyDirectory(path string) error {
	e, err := d.getEntity(path)
	if err != nil {
		return err
	}
	if e.IsLeaf {
		return ErrNotADirectory
	}

	descendants, err := d.viewDescendants(path)
	if err != nil {
		return err
	}
	if len(descendants) == 0 {
		return ErrAlreadyEmpty
	}

	var leafPaths []string
	err = d.bolt.Update(func(tx *bolt.Tx) error {
		for _, desc := range descendants {
			if err := d.deleteEntityTx(tx, desc); err != nil {
				return err
			}
			if desc.IsLeaf {
				leafPaths = append(leafPaths, desc.Path)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, lp := range leafPaths {
		d.content.Delete(lp)
	}
	return nil
}

// viewDescendants returns every strict descendant of dirPath, in ascending
// path order, excluding dirPath itself.
func (d *DB) viewDescendants(dirPath string) ([]*Entity, error) {
	var out []*Entity
	err := d.bolt.View(func(tx *bolt.Tx) error {
		found, err := d.scanEntityRange(tx, dirPath, prefixRangeEnd(dirPath), false)
		out = found
		return err
	})
	return out, err
}

// updateFile overwrites a leaf's content and bumps updatedAt.
func (d *DB) updateFile(path string, content []byte) (*Entity, error) {
	old, err := d.getEntity(path)
	if err != nil {
		return nil, err
	}
	if !old.IsLeaf {
		return nil, ErrNotALeaf
	}

	updated := old.clone()
	updated.UpdatedAt = nowMillis()

	err = d.bolt.Update(func(tx *bolt.Tx) error {
		return d.updateEntityTx(tx, old, updated)
	})
	if err != nil {
		return nil, err
	}

	if err := d.content.Put(path, content); err != nil {
		return nil, err
	}
	return updated, nil
}

// updateFileTimestamp bumps a leaf's updatedAt without touching content.
func (d *DB) updateFileTimestamp(path string) (*Entity, error) {
	old, err := d.getEntity(path)
	if err != nil {
		return nil, err
	}
	if !old.IsLeaf {
		return nil, ErrNotALeaf
	}

	updated := old.clone()
	updated.UpdatedAt = nowMillis()

	err = d.bolt.Update(func(tx *bolt.Tx) error {
		return d.updateEntityTx(tx, old, updated)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// renameFile moves a leaf within the same directory, changing only its
// name. It probes the destination for a collision before touching anything
// so a failed rename never loses the source row.
func (d *DB) renameFile(oldPath, newPath string) (*Entity, error) {
	return d.moveLeaf(oldPath, newPath)
}

// reparentLeaf moves a leaf to a new directory, possibly under a new name.
// Mechanically identical to renameFile: both are a delete-then-insert of
// one entity row under the new (parentPath, name) key.
func (d *DB) reparentLeaf(oldPath, newPath string) (*Entity, error) {
	return d.moveLeaf(oldPath, newPath)
}

// moveLeaf is the shared engine behind renameFile and reparentLeaf: probe
// the destination, insert the new row, delete the old row, and on any
// failure after the insert roll the insert back so the source is never
// left dangling alongside a half-written destination.
func (d *DB) moveLeaf(oldPath, newPath string) (*Entity, error) {
	old, err := d.getEntity(oldPath)
	if err != nil {
		return nil, err
	}
	if !old.IsLeaf {
		return nil, ErrNotALeaf
	}

	if _, err := d.getEntity(newPath); err == nil {
		return nil, ErrExists
	} else if err != ErrNotFound {
		return nil, err
	}

	newParent := parentOf(newPath)
	var newParentPtr *string
	if newPath != "/" {
		p := newParent
		newParentPtr = &p
	}

	now := nowMillis()
	moved := &Entity{
		Path:       newPath,
		Name:       nameOf(newPath),
		IsLeaf:     true,
		ParentPath: newParentPtr,
		CreatedAt:  old.CreatedAt,
		UpdatedAt:  now,
	}

	err = d.bolt.Update(func(tx *bolt.Tx) error {
		if insErr := d.insertEntityTx(tx, moved); insErr != nil {
			if isConstraintError(insErr) {
				return ErrExists
			}
			return insErr
		}
		if delErr := d.deleteEntityTx(tx, old); delErr != nil {
			// roll back the insert: the source row must survive a
			// failed move.
			d.deleteEntityTx(tx, moved)
			return delErr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// carry the content row (or external blob) forward under the new key.
	if data, getErr := d.content.Get(oldPath); getErr == nil && data != nil {
		d.content.Put(newPath, data)
		d.content.Delete(oldPath)
	}

	return moved, nil
}

// transplantAncestors moves an entire directory subtree (dirPath, with
// every descendant) under a new parent, possibly renaming the subtree root.
// One write transaction inserts every rewritten row (the root first, then
// descendants in ascending path order) and then deletes every old row, so
// the whole subtree moves at once when it commits. Content for moved leaves
// is copied to the new paths and removed from the old ones after that
// transaction commits.
func (d *DB) transplantAncestors(oldDirPath, newDirPath string) (*Entity, error) {
	root, err := d.getEntity(oldDirPath)
	if err != nil {
		return nil, err
	}
	if root.IsLeaf {
		return nil, ErrNotADirectory
	}
	if strings.HasPrefix(newDirPath, oldDirPath) {
		return nil, ErrInvalidPath
	}

	if _, err := d.getEntity(newDirPath); err == nil {
		return nil, ErrExists
	} else if err != ErrNotFound {
		return nil, err
	}

	descendants, err := d.viewDescendants(oldDirPath)
	if err != nil {
		return nil, err
	}

	rewrite := func(e *Entity, oldPath, newPath string) *Entity {
		var parentPtr *string
		if newPath != "/" {
			p := parentOf(newPath)
			parentPtr = &p
		}
		c := e.clone()
		c.Path = newPath
		c.Name = nameOf(newPath)
		c.ParentPath = parentPtr
		return c
	}

	newRoot := rewrite(root, oldDirPath, newDirPath)
	newRoot.UpdatedAt = nowMillis()

	type move struct {
		old *Entity
		new *Entity
	}
	moves := []move{{old: root, new: newRoot}}
	for _, desc := range descendants {
		suffix := desc.Path[len(oldDirPath):]
		moves = append(moves, move{old: desc, new: rewrite(desc, desc.Path, newDirPath+suffix)})
	}

	err = d.bolt.Update(func(tx *bolt.Tx) error {
		for _, m := range moves {
			if insErr := d.insertEntityTx(tx, m.new); insErr != nil {
				for _, done := range moves {
					if done.new.Path != m.new.Path {
						d.deleteEntityTx(tx, done.new)
					} else {
						break
					}
				}
				if isConstraintError(insErr) {
					return ErrExists
				}
				return insErr
			}
		}
		for _, m := range moves {
			if delErr := d.deleteEntityTx(tx, m.old); delErr != nil {
				return delErr
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, m := range moves {
		if !m.old.IsLeaf {
			continue
		}
		oldLeaf, newLeaf := m.old.Path, m.new.Path
		if data, getErr := d.content.Get(oldLeaf); getErr == nil && data != nil {
			d.content.Put(newLeaf, data)
			d.content.Delete(oldLeaf)
		}
	}

	return newRoot, nil
}
