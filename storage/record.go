package storage

import "encoding/binary"

// On-disk layout (§4.5, §4.6 of the kumofs core spec):
//
//	raw key:   hash64_be ‖ user_key_bytes
//	raw value (live):      clocktime64_be ‖ meta64_be ‖ user_value_bytes   (>= 16 bytes)
//	raw value (tombstone):  clocktime64_be                                  (== 8 bytes)
//
// All multibyte integers are big-endian on disk; host byte order is never
// exposed outside this file.
const (
	HashSize       = 8
	ClockSize      = 8
	MetaSize       = 8
	ValueMetaSize  = ClockSize + MetaSize // 16, the minimum length of a live value
	TombstoneSize  = ClockSize            // 8, the exact length of a tombstone
)

// HashOf returns the 8-byte big-endian hash prefix of a raw key.
func HashOf(rawKey []byte) uint64 {
	return binary.BigEndian.Uint64(rawKey[:HashSize])
}

// HashTo writes hash into the first 8 bytes of buf.
func HashTo(buf []byte, hash uint64) {
	binary.BigEndian.PutUint64(buf[:HashSize], hash)
}

// ClockTimeOf returns the clocktime embedded in a raw value, live or
// tombstone; the clocktime always occupies the first 8 bytes.
func ClockTimeOf(rawVal []byte) ClockTime {
	return ClockTime(binary.BigEndian.Uint64(rawVal[:ClockSize]))
}

// ClockTimeTo writes ct into the first 8 bytes of buf.
func ClockTimeTo(buf []byte, ct ClockTime) {
	binary.BigEndian.PutUint64(buf[:ClockSize], uint64(ct))
}

// MetaOf returns the meta field of a live raw value. Callers must not call
// this on a tombstone (len(rawVal) < ValueMetaSize).
func MetaOf(rawVal []byte) uint64 {
	return binary.BigEndian.Uint64(rawVal[ClockSize:ValueMetaSize])
}

// MetaTo writes meta into bytes [8:16) of buf.
func MetaTo(buf []byte, meta uint64) {
	binary.BigEndian.PutUint64(buf[ClockSize:ValueMetaSize], meta)
}

// IsTombstone reports whether a raw value (as returned by a backend) is a
// deletion marker: invariant I1 says every stored record is either >= 16
// bytes (live) or exactly 8 bytes (tombstone).
func IsTombstone(rawVal []byte) bool {
	return len(rawVal) < ValueMetaSize
}

// MakeRawKey builds a raw key from a partition hash and the caller's key
// bytes.
func MakeRawKey(hash uint64, userKey []byte) []byte {
	buf := make([]byte, HashSize+len(userKey))
	HashTo(buf, hash)
	copy(buf[HashSize:], userKey)
	return buf
}

// MakeRawValue builds a live raw value from a clocktime, an opaque meta
// word and the caller's value bytes.
func MakeRawValue(ct ClockTime, meta uint64, userVal []byte) []byte {
	buf := make([]byte, ValueMetaSize+len(userVal))
	ClockTimeTo(buf, ct)
	MetaTo(buf, meta)
	copy(buf[ValueMetaSize:], userVal)
	return buf
}

// MakeTombstone builds an 8-byte tombstone value carrying the deletion
// clocktime.
func MakeTombstone(ct ClockTime) []byte {
	buf := make([]byte, TombstoneSize)
	ClockTimeTo(buf, ct)
	return buf
}

// UserKey strips the hash prefix off a raw key.
func UserKey(rawKey []byte) []byte {
	return rawKey[HashSize:]
}

// UserValue strips the clocktime/meta header off a live raw value. Callers
// must not call this on a tombstone.
func UserValue(rawVal []byte) []byte {
	return rawVal[ValueMetaSize:]
}
