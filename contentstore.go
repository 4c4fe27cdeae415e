package vzfs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	filepath "path"

	"github.com/absfs/absfs"
	bolt "go.etcd.io/bbolt"
)

// ContentStore stores and retrieves leaf content, keyed by canonical leaf
// path. The default backend keeps content in the database's own content
// bucket; SetContentStore on a DB swaps it for an external absfs.FileSystem
// (memfs for tests, osfs for a real disk-backed blob store, or any other
// absfs implementation) while metadata stays in the entity rows; the
// content bucket is then not written.
type ContentStore interface {
	Put(leafPath string, data []byte) error
	Get(leafPath string) ([]byte, error)
	Delete(leafPath string) error
	Exists(leafPath string) bool
}

// boltContentStore is the default ContentStore: content lives in the
// database's own content bucket. Each call runs in its own transaction,
// separate from the transaction that writes the entity row.
type boltContentStore struct {
	db *bolt.DB
}

func newBoltContentStore(db *bolt.DB) *boltContentStore {
	return &boltContentStore{db: db}
}

func (s *boltContentStore) Put(leafPath string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putContentTx(tx, leafPath, data)
	})
}

func (s *boltContentStore) Get(leafPath string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		rec, err := getContentTx(tx, leafPath)
		if err != nil {
			if err == ErrNotFound {
				return nil
			}
			return err
		}
		data = rec.Content
		return nil
	})
	return data, err
}

func (s *boltContentStore) Delete(leafPath string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return deleteContentTx(tx, leafPath)
	})
}

func (s *boltContentStore) Exists(leafPath string) bool {
	var exists bool
	s.db.View(func(tx *bolt.Tx) error {
		_, err := getContentTx(tx, leafPath)
		exists = err == nil
		return nil
	})
	return exists
}

// absfsContentStore writes leaf content through to an external
// absfs.FileSystem, addressed by a SHA-256 hash of the leaf's canonical
// path. A leaf whose path changes (rename, reparent, transplant) has its
// blob copied to the new hash and removed from the old one.
type absfsContentStore struct {
	fs absfs.FileSystem
}

// newAbsfsContentStore adapts any absfs.FileSystem (memfs, osfs, ...) into
// a ContentStore for leaf blobs.
func newAbsfsContentStore(fs absfs.FileSystem) *absfsContentStore {
	return &absfsContentStore{fs: fs}
}

func (s *absfsContentStore) blobPath(leafPath string) string {
	sum := sha256.Sum256([]byte(leafPath))
	hexSum := hex.EncodeToString(sum[:])
	return filepath.Join("/", hexSum[:2], hexSum)
}

func (s *absfsContentStore) Put(leafPath string, data []byte) error {
	p := s.blobPath(leafPath)
	if err := s.fs.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("vzfs: content mkdir: %w", err)
	}
	f, err := s.fs.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("vzfs: content create: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("vzfs: content write: %w", err)
	}
	return nil
}

func (s *absfsContentStore) Get(leafPath string) ([]byte, error) {
	p := s.blobPath(leafPath)
	f, err := s.fs.OpenFile(p, os.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("vzfs: content open: %w", err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *absfsContentStore) Delete(leafPath string) error {
	p := s.blobPath(leafPath)
	err := s.fs.Remove(p)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("vzfs: content remove: %w", err)
	}
	return nil
}

func (s *absfsContentStore) Exists(leafPath string) bool {
	_, err := s.fs.Stat(s.blobPath(leafPath))
	return err == nil
}
