// Package vzfs implements a persistent, hierarchical, multi-rooted
// filesystem emulation on top of a transactional key-value store. Entities
// form a rooted tree of directories and leaves with per-leaf content blobs,
// addressed by materialized path. A Lock Manager layers cross-transaction
// mutual exclusion on top of the store's single-transaction atomicity, and
// an Operator actor sequences each command as resolve, lock, mutate,
// release.
package vzfs
