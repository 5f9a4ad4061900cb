package storage

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/kumofs/kumofs/metrics"
)

// ErrRecordTooShort is returned by Set when the caller-supplied raw value
// cannot possibly carry an embedded clocktime (§4.5: every raw value is
// either a live record of at least ValueMetaSize bytes or an 8-byte
// tombstone).
var ErrRecordTooShort = errors.New("storage: raw value shorter than a tombstone")

// Engine is the storage engine of §4.5/§4.6: a single reader-writer lock
// protects the whole backend (§5 — "the backend is single-file", "fine
// grained locking is not attempted"), and a deferred-deletion garbage
// queue is ordered strictly after that lock.
type Engine struct {
	mu      sync.RWMutex
	backend Backend
	garbage *garbageQueue

	backupBasename string

	logger  *log.Logger
	metrics *metrics.Registry

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// Open constructs an Engine over backend, opening it at cfg.Path. logger
// and reg may be nil; nil logger defaults to log.Default(), nil reg
// disables metrics.
func Open(backend Backend, cfg Config, logger *log.Logger, reg *metrics.Registry) (*Engine, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := backend.Open(cfg.Path); err != nil {
		return nil, err
	}

	e := &Engine{
		backend:        backend,
		garbage:        newGarbageQueue(cfg.GarbageMinTime, cfg.GarbageMaxTime, cfg.GarbageMemLimit),
		backupBasename: cfg.BackupBasename,
		logger:         logger,
		metrics:        reg,
		sweepStop:      make(chan struct{}),
		sweepDone:      make(chan struct{}),
	}
	go e.sweepLoop(cfg.GarbageMinTime)
	return e, nil
}

// Close stops the garbage sweeper and closes the backend.
func (e *Engine) Close() error {
	close(e.sweepStop)
	<-e.sweepDone
	return e.backend.Close()
}

func (e *Engine) sweepLoop(period time.Duration) {
	defer close(e.sweepDone)
	if period <= 0 {
		period = time.Second
	}
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-e.sweepStop:
			return
		case <-t.C:
			e.garbage.sweep()
			e.reportGarbageMetrics()
		}
	}
}

func (e *Engine) reportGarbageMetrics() {
	if e.metrics == nil {
		return
	}
	e.metrics.SetGarbageQueue(e.garbage.Len(), e.garbage.Bytes())
}

// Get returns the live raw value for rawKey, or ok=false if the key is
// absent or holds a tombstone (§4.6).
func (e *Engine) Get(rawKey []byte) (rawVal []byte, ok bool, err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	v, err := e.backend.Get(rawKey)
	if err != nil {
		return nil, false, err
	}
	if v == nil || IsTombstone(v) {
		return nil, false, nil
	}
	return v, true, nil
}

// Set unconditionally overwrites rawKey with rawVal. Caller must have
// placed the clocktime in the first 8 bytes (I1).
func (e *Engine) Set(rawKey, rawVal []byte) error {
	if len(rawVal) < TombstoneSize {
		return ErrRecordTooShort
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backend.Set(rawKey, rawVal)
}

// Update is the conditional put used for last-writer-wins replication
// (I2): it succeeds only if rawKey is absent or the stored record's
// clocktime is strictly less than rawVal's.
func (e *Engine) Update(rawKey, rawVal []byte) (bool, error) {
	if len(rawVal) < TombstoneSize {
		return false, ErrRecordTooShort
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cur, err := e.backend.Get(rawKey)
	if err != nil {
		return false, err
	}
	if cur != nil && !ClockTimeOf(cur).Before(ClockTimeOf(rawVal)) {
		return false, nil
	}
	if err := e.backend.Set(rawKey, rawVal); err != nil {
		return false, err
	}
	e.deferRelease(cur)
	return true, nil
}

// UpdateBatch applies a batch of conditional updates under a single write
// lock acquisition, returning one bool per input pair in order. This
// restores the original's stated-but-unimplemented updatev() (see
// SPEC_FULL.md "Supplemented features" #5): a batched LWW write is the
// natural shape for the replicator-facing iteration protocol in §6.
func (e *Engine) UpdateBatch(rawKeys, rawVals [][]byte) ([]bool, error) {
	if len(rawKeys) != len(rawVals) {
		return nil, errors.New("storage: UpdateBatch key/value count mismatch")
	}
	results := make([]bool, len(rawKeys))

	e.mu.Lock()
	defer e.mu.Unlock()

	for i, rawKey := range rawKeys {
		rawVal := rawVals[i]
		if len(rawVal) < TombstoneSize {
			return nil, ErrRecordTooShort
		}
		cur, err := e.backend.Get(rawKey)
		if err != nil {
			return nil, err
		}
		if cur != nil && !ClockTimeOf(cur).Before(ClockTimeOf(rawVal)) {
			continue
		}
		if err := e.backend.Set(rawKey, rawVal); err != nil {
			return nil, err
		}
		e.deferRelease(cur)
		results[i] = true
	}
	return results, nil
}

// Remove replaces rawKey's record with a tombstone carrying
// updateClocktime, conditional on the same ordering rule as Update.
func (e *Engine) Remove(rawKey []byte, updateClocktime ClockTime) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur, err := e.backend.Get(rawKey)
	if err != nil {
		return false, err
	}
	if cur != nil && !ClockTimeOf(cur).Before(updateClocktime) {
		return false, nil
	}
	tomb := MakeTombstone(updateClocktime)
	if err := e.backend.Set(rawKey, tomb); err != nil {
		return false, err
	}
	e.deferRelease(cur)
	return true, nil
}

// deferRelease pushes a copy of the bytes a record held before being
// overwritten into the garbage queue, which holds them for its grace
// window (§4.6). Slices a reader already obtained from Get or ForEach are
// separate from this copy. Caller must hold e.mu for writing.
func (e *Engine) deferRelease(previous []byte) {
	if previous == nil {
		return
	}
	cp := make([]byte, len(previous))
	copy(cp, previous)
	e.garbage.push(cp)
}

// RecordCount returns the backend's approximate live record count.
func (e *Engine) RecordCount() (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n, err := e.backend.RecordCount()
	if err == nil && e.metrics != nil {
		e.metrics.SetStoredRecords(n)
	}
	return n, err
}

// Backup produces an atomic hot copy of the backend's persisted state at
// dstPath while holding the write lock, leaving the source open and
// consistent at call time (§4.6).
func (e *Engine) Backup(dstPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backend.Backup(dstPath)
}

// CreateBackup is the `CreateBackup` cluster RPC handler's storage-layer
// counterpart: it appends a caller-supplied suffix to the configured backup
// basename and writes the hot copy there, returning the path it wrote.
// suffix is not sanitized beyond this concatenation; the caller (the
// dispatcher handling the RPC, not this package) is responsible for
// rejecting suffixes it doesn't trust.
func (e *Engine) CreateBackup(suffix string) (string, error) {
	if e.backupBasename == "" {
		return "", errors.New("storage: backup_basename is not configured")
	}
	dst := e.backupBasename + suffix
	if err := e.Backup(dst); err != nil {
		return "", err
	}
	return dst, nil
}

// ForEach iterates every record whose clocktime is <= horizon (used by
// replication and garbage collection, §4.6). fn may call it.Delete() to
// drop a record mid-scan, so the whole scan holds the write lock — a
// concurrent reader must not observe the backend's iteration order change
// out from under it while a record is being deleted.
func (e *Engine) ForEach(horizon ClockTime, fn func(it Iterator) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.backend.ForEach(func(it Iterator) error {
		val := it.Value()
		if ClockTimeOf(val) > horizon {
			return nil
		}
		return fn(it)
	})
}

// Error returns the last backend error, for operational surfacing only.
func (e *Engine) Error() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.backend.LastError()
}
