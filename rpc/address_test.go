package rpc

import (
	"net"
	"testing"
)

func TestAddressPackUnpackRoundTripIPv4(t *testing.T) {
	addr := NewAddress(net.ParseIP("10.0.0.1"), 1111)
	got, err := UnpackAddress(addr.Pack())
	if err != nil {
		t.Fatalf("UnpackAddress: %v", err)
	}
	if got.String() != addr.String() {
		t.Fatalf("round trip = %s, want %s", got, addr)
	}
}

func TestAddressPackUnpackRoundTripIPv6(t *testing.T) {
	addr := NewAddress(net.ParseIP("2001:db8::1"), 2222)
	got, err := UnpackAddress(addr.Pack())
	if err != nil {
		t.Fatalf("UnpackAddress: %v", err)
	}
	if got.String() != addr.String() {
		t.Fatalf("round trip = %s, want %s", got, addr)
	}
}

func TestUnpackAddressRejectsMalformedLength(t *testing.T) {
	if _, err := UnpackAddress([]byte{1, 2, 3}); err != ErrMalformedAddress {
		t.Fatalf("UnpackAddress on 3 bytes = %v, want ErrMalformedAddress", err)
	}
}

func TestAddressConnectable(t *testing.T) {
	connectable := NewAddress(net.ParseIP("192.168.1.1"), 80)
	if !connectable.Connectable() {
		t.Fatal("192.168.1.1:80 should be connectable")
	}

	unspecified := NewAddress(net.IPv4zero, 80)
	if unspecified.Connectable() {
		t.Fatal("0.0.0.0:80 should not be connectable")
	}

	var zero Address
	if zero.Connectable() {
		t.Fatal("zero-value Address should not be connectable")
	}
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("127.0.0.1:19800")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if addr.Port != 19800 {
		t.Fatalf("Port = %d, want 19800", addr.Port)
	}
	if !addr.Connectable() {
		t.Fatal("127.0.0.1:19800 should be connectable")
	}
}
