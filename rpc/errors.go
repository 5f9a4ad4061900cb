package rpc

import "errors"

// ErrTransportLost is delivered to pending request continuations when the
// bound transport closes, and to any send attempted against an unbound
// session that has given up waiting for a rebind (§4.2 "Cancellation").
var ErrTransportLost = errors.New("rpc: transport lost")

// ErrProtocolViolation covers the §7 "Protocol violation" error kind: an
// unexpected message shape, a bound session where none should exist, or an
// unparseable address. The transport that observes it closes itself.
var ErrProtocolViolation = errors.New("rpc: protocol violation")

// ErrSessionClosed is returned by Send when the session has already been
// destroyed.
var ErrSessionClosed = errors.New("rpc: session closed")
