package vzfs

import (
	"encoding/binary"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names. entity/content/lock are the three object stores of the
// data model; the rest are secondary indexes the store primitives layer
// maintains by hand, since bbolt gives only ordered byte-keyed buckets, not
// indexes.
const (
	bucketEntity             = "entity"
	bucketEntityByParentName = "entity_by_parent_name" // composite unique (parentPath, name); also the parentPath index
	bucketEntityByName       = "entity_by_name"
	bucketEntityByCreatedAt  = "entity_by_created_at"
	bucketEntityByUpdatedAt  = "entity_by_updated_at"
	bucketContent            = "content"
	bucketLock               = "lock"
	bucketLockByExpiry       = "lock_by_expiry"
	bucketLockByCreatedAt    = "lock_by_created_at"
	bucketMeta               = "meta"
)

var allBuckets = []string{
	bucketEntity,
	bucketEntityByParentName,
	bucketEntityByName,
	bucketEntityByCreatedAt,
	bucketEntityByUpdatedAt,
	bucketContent,
	bucketLock,
	bucketLockByExpiry,
	bucketLockByCreatedAt,
	bucketMeta,
}

const keySep = "\x00"

// nowMillis is the clock the whole package reads timestamps from. A single
// indirection point so tests can stub it.
var nowMillis = func() int64 {
	return time.Now().UnixMilli()
}

func i64ToBytes(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func bytesToI64(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

// timeIndexKey builds a lexicographically-sortable key for a timestamp
// index: the big-endian millisecond timestamp followed by the primary key,
// so range scans over the timestamp prefix visit entries in time order and
// remain unique across ties.
func timeIndexKey(ts int64, primaryKey string) []byte {
	k := i64ToBytes(ts)
	return append(k, []byte(keySep+primaryKey)...)
}

func compositeKey(parts ...string) []byte {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += keySep
		}
		out += p
	}
	return []byte(out)
}

func encodeJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("vzfs: unmarshalable record: " + err.Error())
	}
	return b
}

func decodeJSON[T any](data []byte) (*T, error) {
	if data == nil {
		return nil, ErrNotFound
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, wrapStoreError(err)
	}
	return &v, nil
}

// bucketsInit creates every object store and index bucket. Called on every
// open and is idempotent (CreateBucketIfNotExists).
func bucketsInit(tx *bolt.Tx) error {
	for _, name := range allBuckets {
		if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
			return err
		}
	}
	return nil
}

func bkt(tx *bolt.Tx, name string) *bolt.Bucket {
	return tx.Bucket([]byte(name))
}
