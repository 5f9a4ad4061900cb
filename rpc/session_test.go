package rpc

import (
	"log"
	"net"
	"testing"
	"time"
)

// waitForPendingCount polls s.pending (same package, so direct field access
// is fine) until it reaches n or the test times out.
func waitForPendingCount(t *testing.T, s *Session, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		got := len(s.pending)
		s.mu.Unlock()
		if got == n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d pending call(s)", n)
}

func TestSessionSetRoleIsWriteOnce(t *testing.T) {
	sess := newSession(Address{}, nil)
	if sess.Role() != RoleUnset {
		t.Fatalf("new session role = %v, want RoleUnset", sess.Role())
	}
	if !sess.SetRole(Role(2)) {
		t.Fatal("first SetRole should report the transition")
	}
	if sess.SetRole(Role(3)) {
		t.Fatal("second SetRole must be a no-op")
	}
	if sess.Role() != Role(2) {
		t.Fatalf("Role() = %v, want 2", sess.Role())
	}
}

func TestSessionProcessResponseUnknownMsgidIsNoop(t *testing.T) {
	sess := newSession(Address{}, nil)
	sess.ProcessResponse(999, "result", nil) // must not panic or block
}

func TestSessionUpdateAddressOnlyReplacesNonConnectable(t *testing.T) {
	sess := newSession(NewAddress(net.IPv4zero, 0), nil) // non-connectable placeholder
	real := NewAddress(net.ParseIP("10.0.0.5"), 5000)
	sess.updateAddress(real)
	if sess.Address().String() != real.String() {
		t.Fatalf("Address() = %s, want %s", sess.Address(), real)
	}

	other := NewAddress(net.ParseIP("10.0.0.6"), 6000)
	sess.updateAddress(other)
	if sess.Address().String() != real.String() {
		t.Fatalf("Address() changed after already connectable: got %s, want %s", sess.Address(), real)
	}
}

func TestSessionSendQueuesUntilTransportBoundThenFlushes(t *testing.T) {
	sess := newSession(Address{}, nil)

	type sendResult struct {
		result, errVal interface{}
		err            error
	}
	resultCh := make(chan sendResult, 1)
	go func() {
		result, errVal, err := sess.Send(7, []interface{}{"ping"})
		resultCh <- sendResult{result, errVal, err}
	}()

	waitForPendingCount(t, sess, 1)

	conn1, conn2 := net.Pipe()
	defer conn2.Close()
	transport := newClusterTransport(conn1, nil, log.Default())
	go transport.writeLoop()
	defer transport.shutdown()

	sess.BindTransport(transport)

	codec2 := newFrameCodec(conn2)
	frame, err := codec2.readFrame()
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if frame.Kind != frameRequest || frame.Method != 7 {
		t.Fatalf("flushed frame = %+v, want a method-7 request", frame)
	}

	sess.ProcessResponse(frame.Msgid, "pong", nil)

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("Send returned error: %v", res.err)
		}
		if res.result != "pong" {
			t.Fatalf("Send result = %v, want pong", res.result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not resolve after ProcessResponse")
	}
}

func TestSessionCloseFailsPendingAndRejectsFurtherSend(t *testing.T) {
	sess := newSession(Address{}, nil)

	errCh := make(chan error, 1)
	go func() {
		_, _, err := sess.Send(1, nil)
		errCh <- err
	}()
	waitForPendingCount(t, sess, 1)

	sess.close()

	select {
	case err := <-errCh:
		if err != ErrTransportLost {
			t.Fatalf("Send error after close = %v, want ErrTransportLost", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not resolve after session close")
	}

	if _, _, err := sess.Send(1, nil); err != ErrSessionClosed {
		t.Fatalf("Send on closed session = %v, want ErrSessionClosed", err)
	}
}

func TestSessionBindTransportUnbindsPrevious(t *testing.T) {
	sess := newSession(Address{}, nil)

	conn1a, _ := net.Pipe()
	t1 := newClusterTransport(conn1a, nil, log.Default())
	sess.BindTransport(t1)
	t1.mu.Lock()
	t1.session = sess
	t1.mu.Unlock()
	if sess.boundTransport() != t1 {
		t.Fatal("session did not bind t1")
	}

	conn2a, _ := net.Pipe()
	t2 := newClusterTransport(conn2a, nil, log.Default())
	sess.BindTransport(t2)
	if sess.boundTransport() != t2 {
		t.Fatal("session did not rebind to t2")
	}
	if t1.boundSession() != nil {
		t.Fatal("t1 should have been unbound when t2 took over (I3)")
	}
}
