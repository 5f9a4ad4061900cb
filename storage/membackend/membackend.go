// Package membackend implements an in-memory storage.Backend, the default
// backend used by tests and by a single-node deployment that does not need
// persistence (spec.md §6 names "an in-memory b-tree" as the example
// pluggable backend).
package membackend

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/kumofs/kumofs/storage"
)

// Backend is a sorted in-memory map guarded by its own mutex. Engine never
// calls into it concurrently from more than one writer at a time, but Get
// can race a concurrent ForEach snapshot copy, so the mutex stays.
type Backend struct {
	mu        sync.Mutex
	records   map[string][]byte
	lastError string
}

// New constructs an unopened membackend.Backend.
func New() *Backend {
	return &Backend{records: make(map[string][]byte)}
}

func (b *Backend) Open(path string) error {
	if b.records == nil {
		b.records = make(map[string][]byte)
	}
	return nil
}

func (b *Backend) Close() error {
	return nil
}

func (b *Backend) Get(rawKey []byte) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.records[string(rawKey)]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (b *Backend) Set(rawKey, rawVal []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := make([]byte, len(rawKey))
	copy(k, rawKey)
	v := make([]byte, len(rawVal))
	copy(v, rawVal)
	b.records[string(k)] = v
	return nil
}

func (b *Backend) Delete(rawKey []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, string(rawKey))
	return nil
}

func (b *Backend) RecordCount() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.records)), nil
}

// Backup writes a newline-free, length-prefixed snapshot of every record to
// dstPath. It is not meant to be space-efficient, only atomic with respect
// to the caller (the engine holds its write lock for the duration, §4.6).
func (b *Backend) Backup(dstPath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.Create(dstPath)
	if err != nil {
		b.lastError = err.Error()
		return err
	}
	defer f.Close()

	keys := b.sortedKeysLocked()
	for _, k := range keys {
		v := b.records[k]
		if _, err := fmt.Fprintf(f, "%d %d\n", len(k), len(v)); err != nil {
			b.lastError = err.Error()
			return err
		}
		if _, err := f.WriteString(k); err != nil {
			b.lastError = err.Error()
			return err
		}
		if _, err := f.Write(v); err != nil {
			b.lastError = err.Error()
			return err
		}
	}
	return nil
}

func (b *Backend) sortedKeysLocked() []string {
	keys := make([]string, 0, len(b.records))
	for k := range b.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b *Backend) ForEach(fn func(it storage.Iterator) error) error {
	b.mu.Lock()
	keys := b.sortedKeysLocked()
	b.mu.Unlock()

	for _, k := range keys {
		it := &iterator{backend: b, key: k}
		b.mu.Lock()
		val, ok := b.records[k]
		b.mu.Unlock()
		if !ok {
			continue
		}
		it.value = val
		if err := fn(it); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) LastError() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastError
}

type iterator struct {
	backend *Backend
	key     string
	value   []byte
}

func (it *iterator) Key() []byte   { return []byte(it.key) }
func (it *iterator) Value() []byte { return it.value }

func (it *iterator) Delete() error {
	return it.backend.Delete([]byte(it.key))
}
