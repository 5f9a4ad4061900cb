// Package storage implements the raw byte-addressable key-value engine:
// record-embedded logical clocks, tombstone garbage collection, hot backup
// and the iteration protocol used by replication and repair.
package storage

// ClockTime is a 64-bit logical timestamp. It is monotonic per node and
// compared as an unsigned integer, so the zero value orders before every
// other value and wraparound never happens in practice.
type ClockTime uint64

// Before reports whether ct happened strictly before other.
func (ct ClockTime) Before(other ClockTime) bool {
	return ct < other
}
