package storage

import (
	"encoding/json"
	"time"
)

// Config mirrors the teacher's nested-JSON config pattern
// (server/cluster.go's clusterConfig, tinode-db/main.go's configType):
// a plain struct unmarshaled from a json.RawMessage section of some larger
// document, rather than a bespoke config DSL.
type Config struct {
	// Path is the backend-specific location of the persisted database
	// (a single file for boltbackend; membackend ignores it).
	Path string `json:"path"`

	// GarbageMinTime is the grace window during which a deleted record's
	// bytes are never released, regardless of memory pressure.
	GarbageMinTime time.Duration `json:"garbage_min_time"`

	// GarbageMaxTime bounds how long a deleted record's bytes may survive
	// in the garbage queue even with no memory pressure.
	GarbageMaxTime time.Duration `json:"garbage_max_time"`

	// GarbageMemLimit is the byte budget for buffered (not-yet-released)
	// deleted record bytes.
	GarbageMemLimit int64 `json:"garbage_mem_limit"`

	// BackupBasename is the path prefix CreateBackup appends a
	// caller-supplied suffix to, matching the original's
	// configured-basename-plus-RPC-supplied-suffix backup naming.
	BackupBasename string `json:"backup_basename"`
}

// DefaultConfig returns conservative defaults matching the example
// scenario in spec.md §8 scenario 6.
func DefaultConfig() Config {
	return Config{
		GarbageMinTime:  5 * time.Second,
		GarbageMaxTime:  30 * time.Second,
		GarbageMemLimit: 1 << 20,
	}
}

// LoadConfig unmarshals a storage Config section, applying DefaultConfig
// for any zero-valued duration/limit fields.
func LoadConfig(raw json.RawMessage) (Config, error) {
	cfg := DefaultConfig()
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.GarbageMinTime == 0 {
		cfg.GarbageMinTime = DefaultConfig().GarbageMinTime
	}
	if cfg.GarbageMaxTime == 0 {
		cfg.GarbageMaxTime = DefaultConfig().GarbageMaxTime
	}
	if cfg.GarbageMemLimit == 0 {
		cfg.GarbageMemLimit = DefaultConfig().GarbageMemLimit
	}
	return cfg, nil
}
