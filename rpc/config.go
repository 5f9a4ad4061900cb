package rpc

import "encoding/json"

// LoadConfig unmarshals a Config section out of raw, starting from
// DefaultConfig so an omitted field keeps its default — the same
// nested-json.RawMessage-section pattern storage.LoadConfig uses.
//
// RetryLimit is deliberately NOT coalesced back to the default when it
// unmarshals to zero: a configured RetryLimit of 0 is the meaningful,
// documented "exactly one reconnect attempt" boundary case (see
// transportLost), and json.Unmarshal into a DefaultConfig-seeded struct
// already leaves any field the caller's JSON omits at its default value.
func LoadConfig(raw json.RawMessage) (Config, error) {
	cfg := DefaultConfig()
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
