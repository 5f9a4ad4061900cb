package boltbackend

import (
	"path/filepath"
	"testing"

	"github.com/kumofs/kumofs/storage"
)

func openTestBackend(t *testing.T, path string) *Backend {
	t.Helper()
	b := New()
	if err := b.Open(path); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := b.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return b
}

func TestBackendSetGetDelete(t *testing.T) {
	dir := t.TempDir()
	b := openTestBackend(t, filepath.Join(dir, "kumofs.db"))

	key, val := []byte("rawkey"), []byte("rawvalue-1234567890")
	if err := b.Set(key, val); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := b.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(val) {
		t.Fatalf("Get = %q, want %q", got, val)
	}

	if err := b.Delete(key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err = b.Get(key)
	if err != nil {
		t.Fatalf("Get after Delete: %v", err)
	}
	if got != nil {
		t.Fatalf("Get after Delete = %q, want nil", got)
	}
}

func TestBackendForEachDeletesMidScan(t *testing.T) {
	dir := t.TempDir()
	b := openTestBackend(t, filepath.Join(dir, "kumofs.db"))

	for _, k := range []string{"a", "b", "c"} {
		if err := b.Set([]byte(k), []byte("value-of-"+k)); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}

	var seen []string
	err := b.ForEach(func(it storage.Iterator) error {
		k := string(it.Key())
		seen = append(seen, k)
		if k == "b" {
			return it.Delete()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("ForEach visited %v, want 3 keys", seen)
	}

	n, err := b.RecordCount()
	if err != nil {
		t.Fatalf("RecordCount: %v", err)
	}
	if n != 2 {
		t.Fatalf("RecordCount after mid-scan delete = %d, want 2", n)
	}
}

// TestBackendBackupReopenYieldsSameRecords exercises spec.md §8 scenario 4:
// a hot backup, taken while the source continues to be open, reopens as an
// independent instance with the same records as of the backup call.
func TestBackendBackupReopenYieldsSameRecords(t *testing.T) {
	dir := t.TempDir()
	src := openTestBackend(t, filepath.Join(dir, "source.db"))

	want := map[string]string{}
	for i := 0; i < 50; i++ {
		k := []byte{byte(i)}
		v := []byte("value-" + string(rune('a'+i%26)))
		if err := src.Set(k, v); err != nil {
			t.Fatalf("Set: %v", err)
		}
		want[string(k)] = string(v)
	}

	dst := filepath.Join(dir, "backup.db")
	if err := src.Backup(dst); err != nil {
		t.Fatalf("Backup: %v", err)
	}

	// Mutate the source after the backup; the snapshot must not reflect
	// this.
	if err := src.Set([]byte{0}, []byte("mutated-after-backup")); err != nil {
		t.Fatalf("post-backup Set: %v", err)
	}

	reopened := openTestBackend(t, dst)
	got := map[string]string{}
	err := reopened.ForEach(func(it storage.Iterator) error {
		got[string(it.Key())] = string(it.Value())
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach on reopened backup: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("reopened backup has %d records, want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("reopened backup record %q = %q, want %q", k, got[k], v)
		}
	}
}
