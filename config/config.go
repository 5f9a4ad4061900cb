// Package config loads the root configuration document for a daemon
// embedding this module's rpc.Cluster and storage.Engine, matching the
// teacher's own config-loading shape in tinode-db/main.go's configType and
// server/cluster.go's clusterInit(configString json.RawMessage, ...):
// a single JSON-with-comments file holding one json.RawMessage section per
// subsystem.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	jcr "github.com/DisposaBoy/JsonConfigReader"

	"github.com/kumofs/kumofs/rpc"
	"github.com/kumofs/kumofs/storage"
)

// Document is the root config file shape: a nested json.RawMessage per
// subsystem, decoded lazily by rpc.LoadConfig/storage.LoadConfig.
type Document struct {
	Self          SelfConfig      `json:"self"`
	ClusterConfig json.RawMessage `json:"cluster_config"`
	StoreConfig   json.RawMessage `json:"store_config"`
}

// SelfConfig names this process's own role and advertised address, the
// Identity injected into rpc.NewCluster (§3 "Self-identity").
type SelfConfig struct {
	Role    rpc.Role `json:"role"`
	Address string   `json:"address"`
}

// Loaded is the fully resolved, typed configuration produced by LoadFile.
type Loaded struct {
	Identity rpc.Identity
	Cluster  rpc.Config
	Storage  storage.Config
}

// LoadFile reads path as a JSON-with-comments document — the teacher wraps
// its config file in jcr.New(file) before handing it to json.NewDecoder,
// exactly like tinode-db/main.go's
// `json.NewDecoder(jcr.New(file)).Decode(&config)` — and resolves it into
// typed rpc/storage configs plus this process's own cluster identity.
func LoadFile(path string) (Loaded, error) {
	f, err := os.Open(path)
	if err != nil {
		return Loaded{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	var doc Document
	if err := json.NewDecoder(jcr.New(f)).Decode(&doc); err != nil {
		return Loaded{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	addr, err := rpc.ParseAddress(doc.Self.Address)
	if err != nil {
		return Loaded{}, fmt.Errorf("config: self.address: %w", err)
	}

	clusterCfg, err := rpc.LoadConfig(doc.ClusterConfig)
	if err != nil {
		return Loaded{}, fmt.Errorf("config: cluster_config: %w", err)
	}
	storageCfg, err := storage.LoadConfig(doc.StoreConfig)
	if err != nil {
		return Loaded{}, fmt.Errorf("config: store_config: %w", err)
	}

	return Loaded{
		Identity: rpc.Identity{Role: doc.Self.Role, Address: addr},
		Cluster:  clusterCfg,
		Storage:  storageCfg,
	}, nil
}
