package storage

import "testing"

func TestMakeRawKeyRoundTrip(t *testing.T) {
	userKey := []byte("shipment:42")
	raw := MakeRawKey(0xdeadbeefcafebabe, userKey)

	if len(raw) != HashSize+len(userKey) {
		t.Fatalf("raw key length = %d, want %d", len(raw), HashSize+len(userKey))
	}
	if got := HashOf(raw); got != 0xdeadbeefcafebabe {
		t.Fatalf("HashOf = %#x, want %#x", got, uint64(0xdeadbeefcafebabe))
	}
	if got := UserKey(raw); string(got) != string(userKey) {
		t.Fatalf("UserKey = %q, want %q", got, userKey)
	}
}

func TestMakeRawValueRoundTrip(t *testing.T) {
	userVal := []byte("payload-bytes")
	raw := MakeRawValue(ClockTime(123456), 0xff, userVal)

	if IsTombstone(raw) {
		t.Fatal("live record misreported as tombstone")
	}
	if got := ClockTimeOf(raw); got != ClockTime(123456) {
		t.Fatalf("ClockTimeOf = %d, want 123456", got)
	}
	if got := MetaOf(raw); got != 0xff {
		t.Fatalf("MetaOf = %#x, want 0xff", got)
	}
	if got := UserValue(raw); string(got) != string(userVal) {
		t.Fatalf("UserValue = %q, want %q", got, userVal)
	}
}

func TestMakeTombstone(t *testing.T) {
	tomb := MakeTombstone(ClockTime(77))
	if !IsTombstone(tomb) {
		t.Fatal("tombstone misreported as live record")
	}
	if len(tomb) != TombstoneSize {
		t.Fatalf("tombstone length = %d, want %d", len(tomb), TombstoneSize)
	}
	if got := ClockTimeOf(tomb); got != ClockTime(77) {
		t.Fatalf("ClockTimeOf(tombstone) = %d, want 77", got)
	}
}

func TestClockTimeBefore(t *testing.T) {
	if !ClockTime(1).Before(ClockTime(2)) {
		t.Fatal("1 should be before 2")
	}
	if ClockTime(2).Before(ClockTime(2)) {
		t.Fatal("equal clocktimes must not be Before each other")
	}
	if ClockTime(3).Before(ClockTime(2)) {
		t.Fatal("3 should not be before 2")
	}
}
