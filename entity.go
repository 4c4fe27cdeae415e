package vzfs

// Entity is one record in the entity store: a directory or leaf node in the
// materialized-path tree.
type Entity struct {
	Path       string  `json:"path"`
	Name       string  `json:"name"`
	IsLeaf     bool    `json:"isLeaf"`
	ParentPath *string `json:"parentPath"`
	CreatedAt  int64   `json:"createdAt"`
	UpdatedAt  int64   `json:"updatedAt"`
}

// IsRoot reports whether e is the single root entity.
func (e *Entity) IsRoot() bool {
	return e.ParentPath == nil
}

func (e *Entity) clone() *Entity {
	c := *e
	if e.ParentPath != nil {
		p := *e.ParentPath
		c.ParentPath = &p
	}
	return &c
}

// ContentRecord is one record in the content store: the body of a leaf.
type ContentRecord struct {
	LeafPath string `json:"leafPath"`
	Content  []byte `json:"content"`
}

// LockRecord is one record in the lock store: an advisory, expiring,
// path-prefix mutual-exclusion claim. HolderID identifies the lockPath call
// that created it, so a diagnostic dump of the lock table can tell two
// overlapping claims apart even when their prefixes collide.
type LockRecord struct {
	PathPrefix string `json:"pathPrefix"`
	HolderID   string `json:"holderId"`
	Expiry     int64  `json:"expiry"`
	CreatedAt  int64  `json:"createdAt"`
}

// File is the materialized view a readFile reply carries: an entity joined
// with its content (nil for directories, or for a leaf whose content row is
// missing).
type File struct {
	Entity
	Content []byte `json:"content"`
}
