package storage

// Backend is the pluggable storage vtable (§6: "Any backend satisfying
// this vtable ... is pluggable"), generalized from the teacher's
// store/adapter.Adapter CRUD-by-domain-object interface down to the raw
// byte get/set/iterate contract the storage engine actually needs.
//
// Engine wraps every call in a single reader-writer lock (§5): Set,
// Backup and ForEach (and so Iterator.Delete) run exclusively, while Get,
// RecordCount and LastError run under the read lock and may be called
// concurrently with each other. Implementations therefore need not guard
// writes against each other, but their read methods must be safe for
// concurrent use.
type Backend interface {
	// Open prepares the backend to serve requests against path. Open is
	// called at most once per Backend instance.
	Open(path string) error

	// Close releases all resources. No further calls are made after Close.
	Close() error

	// Get returns the raw value stored for rawKey, or nil if absent.
	Get(rawKey []byte) ([]byte, error)

	// Set unconditionally stores rawVal under rawKey, overwriting any
	// existing record.
	Set(rawKey, rawVal []byte) error

	// Delete physically removes rawKey from the backend. Used by the
	// garbage collector's iterator.Delete and never by the engine's own
	// Remove (which writes a tombstone via Set instead).
	Delete(rawKey []byte) error

	// RecordCount returns an approximate count of stored records.
	RecordCount() (uint64, error)

	// Backup produces, atomically with respect to concurrent Set/Delete
	// calls made through this same Backend, a copy of the backend's
	// persisted state at dstPath.
	Backup(dstPath string) error

	// ForEach invokes fn once per stored record in the backend's natural
	// iteration order. fn returns an error to abort iteration early, in
	// which case ForEach returns that error.
	ForEach(fn func(it Iterator) error) error

	// LastError returns a human-readable description of the most recent
	// backend failure, for operational surfacing only (§4.6).
	LastError() string
}

// Iterator exposes one stored record during a ForEach scan.
type Iterator interface {
	// Key returns the raw key of the current record. The returned slice
	// is only valid until the next iterator call or ForEach returns.
	Key() []byte

	// Value returns the raw value of the current record, with the same
	// lifetime rules as Key.
	Value() []byte

	// Delete removes the current record, for use by garbage collection
	// and repair.
	Delete() error
}
