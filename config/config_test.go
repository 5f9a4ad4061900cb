package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFileParsesSectionsAndComments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kumofs.conf")

	// JsonConfigReader strips // comments before the document reaches
	// encoding/json, the same convenience the teacher's own config files
	// rely on.
	doc := `{
		// this node's own cluster identity
		"self": {"role": 1, "address": "127.0.0.1:19800"},
		"cluster_config": {"retry_limit": 5, "connect_timeout": 2000000000},
		"store_config": {"path": "/var/lib/kumofs", "garbage_min_time": 1000000000}
	}`
	if err := os.WriteFile(path, []byte(doc), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if loaded.Identity.Role != 1 {
		t.Fatalf("Identity.Role = %d, want 1", loaded.Identity.Role)
	}
	if loaded.Identity.Address.String() != "127.0.0.1:19800" {
		t.Fatalf("Identity.Address = %s, want 127.0.0.1:19800", loaded.Identity.Address)
	}
	if loaded.Cluster.RetryLimit != 5 {
		t.Fatalf("Cluster.RetryLimit = %d, want 5", loaded.Cluster.RetryLimit)
	}
	if loaded.Cluster.ConnectTimeout != 2*time.Second {
		t.Fatalf("Cluster.ConnectTimeout = %s, want 2s", loaded.Cluster.ConnectTimeout)
	}
	if loaded.Storage.Path != "/var/lib/kumofs" {
		t.Fatalf("Storage.Path = %q, want /var/lib/kumofs", loaded.Storage.Path)
	}
	if loaded.Storage.GarbageMinTime != time.Second {
		t.Fatalf("Storage.GarbageMinTime = %s, want 1s", loaded.Storage.GarbageMinTime)
	}
	// Omitted from store_config: falls back to storage.DefaultConfig.
	if loaded.Storage.GarbageMaxTime != 30*time.Second {
		t.Fatalf("Storage.GarbageMaxTime = %s, want default 30s", loaded.Storage.GarbageMaxTime)
	}
}

func TestLoadFileRejectsUnparseableAddress(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kumofs.conf")
	doc := `{"self": {"role": 1, "address": "not-an-address"}}`
	if err := os.WriteFile(path, []byte(doc), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile accepted an unparseable self.address")
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "does-not-exist.conf")); err == nil {
		t.Fatal("LoadFile succeeded against a nonexistent path")
	}
}
