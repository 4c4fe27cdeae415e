package vzfs

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

// defaultCacheSize is the entity cache's default capacity, applied to
// every filesystem a Lifecycle call opens.
const defaultCacheSize = 4096

// openFilesystem opens (creating if absent) "<originDir>/<name>.db",
// initializes its buckets and indexes, and wraps it in a *DB with a fresh
// entity cache and the default (embedded-bucket) content store.
func openFilesystem(originDir, name string) (*DB, error) {
	if err := os.MkdirAll(originDir, 0755); err != nil {
		return nil, pkgerrors.Wrap(err, "vzfs: create origin dir")
	}
	bdb, err := bolt.Open(dbPath(originDir, name), 0644, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, wrapStoreError(err)
	}
	if err := bdb.Update(bucketsInit); err != nil {
		bdb.Close()
		return nil, wrapStoreError(err)
	}
	logrus.WithField("filesystem", name).Debug("opened filesystem")
	return &DB{
		bolt:    bdb,
		name:    name,
		cache:   newEntityCache(defaultCacheSize),
		content: newBoltContentStore(bdb),
	}, nil
}

func dbPath(originDir, name string) string {
	return filepath.Join(originDir, name+".db")
}

// seedRoot inserts the root entity if it isn't present yet. A collision
// (the database already had a root) is treated as success.
func seedRoot(db *DB) error {
	now := nowMillis()
	root := &Entity{Path: "/", Name: "", IsLeaf: false, ParentPath: nil, CreatedAt: now, UpdatedAt: now}
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		return db.insertEntityTx(tx, root)
	})
	if err == nil {
		return nil
	}
	if isConstraintError(err) {
		return nil
	}
	return err
}

// listFilesystems enumerates every "*.db" file directly under originDir.
// A missing origin directory is the "not universally available" case the
// spec calls out — it maps to an empty list, not an error.
func listFilesystems(originDir string) ([]string, error) {
	entries, err := os.ReadDir(originDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, pkgerrors.Wrap(err, "vzfs: list filesystems")
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".db") {
			names = append(names, strings.TrimSuffix(entry.Name(), ".db"))
		}
	}
	sort.Strings(names)
	return names, nil
}

// dropFilesystem removes a named filesystem's backing database file.
func dropFilesystem(originDir, name string) error {
	err := os.Remove(dbPath(originDir, name))
	if err != nil && !os.IsNotExist(err) {
		return pkgerrors.Wrap(err, "vzfs: drop filesystem")
	}
	logrus.WithField("filesystem", name).Info("dropped filesystem")
	return nil
}

// filesystemExists reports whether a named filesystem's database file is
// present under originDir.
func filesystemExists(originDir, name string) bool {
	_, err := os.Stat(dbPath(originDir, name))
	return err == nil
}

// backupPayload is the wire shape of ripFilesystemToJSON /
// restoreFilesystemFromJSON: every row of all three object stores.
type backupPayload struct {
	Entity  []*Entity        `json:"entity"`
	Content []*ContentRecord `json:"content"`
	Lock    []*LockRecord    `json:"lock"`
}

// ripFilesystemToJSON reads every entity, content, and lock row into a
// single JSON document.
func ripFilesystemToJSON(db *DB) (string, error) {
	var payload backupPayload
	err := db.bolt.View(func(tx *bolt.Tx) error {
		if err := bkt(tx, bucketEntity).ForEach(func(_, v []byte) error {
			e, err := decodeJSON[Entity](v)
			if err != nil {
				return err
			}
			payload.Entity = append(payload.Entity, e)
			return nil
		}); err != nil {
			return err
		}
		if err := bkt(tx, bucketContent).ForEach(func(_, v []byte) error {
			c, err := decodeJSON[ContentRecord](v)
			if err != nil {
				return err
			}
			payload.Content = append(payload.Content, c)
			return nil
		}); err != nil {
			return err
		}
		return bkt(tx, bucketLock).ForEach(func(_, v []byte) error {
			l, err := decodeJSON[LockRecord](v)
			if err != nil {
				return err
			}
			payload.Lock = append(payload.Lock, l)
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return "", pkgerrors.Wrap(err, "vzfs: marshal backup")
	}
	return string(out), nil
}

// restoreFilesystemFromJSON creates a fresh filesystem named name and
// populates it from backup. Refuses if name already exists; never merges
// into a live database. Expired locks in the backup are dropped rather
// than carried over, since a lock from a previous process incarnation can
// never legitimately be held by anything in the restored one.
func restoreFilesystemFromJSON(originDir, name, backup string) error {
	if filesystemExists(originDir, name) {
		return ErrExists
	}

	var payload backupPayload
	if err := json.Unmarshal([]byte(backup), &payload); err != nil {
		return pkgerrors.Wrap(err, "vzfs: unmarshal backup")
	}

	db, err := openFilesystem(originDir, name)
	if err != nil {
		return err
	}
	defer db.bolt.Close()

	now := nowMillis()
	err = db.bolt.Update(func(tx *bolt.Tx) error {
		for _, e := range payload.Entity {
			if insErr := db.insertEntityTx(tx, e); insErr != nil && !isConstraintError(insErr) {
				return insErr
			}
		}
		for _, c := range payload.Content {
			if putErr := putContentTx(tx, c.LeafPath, c.Content); putErr != nil {
				return putErr
			}
		}
		for _, l := range payload.Lock {
			if l.Expiry <= now {
				continue
			}
			if _, lockErr := insertLockTx(tx, l.PathPrefix, l.HolderID, l.Expiry-l.CreatedAt, l.CreatedAt); lockErr != nil && !isConstraintError(lockErr) {
				return lockErr
			}
		}
		return nil
	})
	if err != nil {
		dropFilesystem(originDir, name)
		return err
	}
	return nil
}

// FilesystemStat reports a named filesystem's backing-file metadata
// without opening it.
type FilesystemStat struct {
	Name    string
	Exists  bool
	SizeB   int64
	ModTime time.Time
}

// Stat reports a named filesystem's existence, size, and modification
// time, for a host that wants to show metadata without a full open.
func Stat(originDir, name string) (FilesystemStat, error) {
	info, err := os.Stat(dbPath(originDir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return FilesystemStat{Name: name, Exists: false}, nil
		}
		return FilesystemStat{}, pkgerrors.Wrap(err, "vzfs: stat filesystem")
	}
	return FilesystemStat{Name: name, Exists: true, SizeB: info.Size(), ModTime: info.ModTime()}, nil
}

// CompactFilesystem copies every bucket into a fresh file and swaps it in.
// Materialized-path rewrites (transplantAncestors, emptyDirectory) leave
// free pages behind that a long-lived origin database accumulates; this
// reclaims them. The filesystem must not be open elsewhere: the source is
// opened read-only and waits at most one second for bbolt's file lock.
func CompactFilesystem(originDir, name string) error {
	srcPath := dbPath(originDir, name)
	dstPath := srcPath + ".compact"

	src, err := bolt.Open(srcPath, 0644, &bolt.Options{Timeout: 1 * time.Second, ReadOnly: true})
	if err != nil {
		return wrapStoreError(err)
	}
	defer src.Close()

	dst, err := bolt.Open(dstPath, 0644, nil)
	if err != nil {
		return wrapStoreError(err)
	}

	if err := compactBolt(dst, src); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return wrapStoreError(err)
	}

	if err := os.Rename(dstPath, srcPath); err != nil {
		os.Remove(dstPath)
		return pkgerrors.Wrap(err, "vzfs: swap compacted filesystem")
	}
	logrus.WithField("filesystem", name).Info("compacted filesystem")
	return nil
}

// compactBolt copies every bucket of src into dst, bucket by bucket, the
// same top-level walk bbolt's own compact tool performs.
func compactBolt(dst, src *bolt.DB) error {
	return dst.Update(func(dtx *bolt.Tx) error {
		return src.View(func(stx *bolt.Tx) error {
			return stx.ForEach(func(name []byte, b *bolt.Bucket) error {
				nb, err := dtx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return b.ForEach(func(k, v []byte) error {
					return nb.Put(append([]byte{}, k...), append([]byte{}, v...))
				})
			})
		})
	})
}
