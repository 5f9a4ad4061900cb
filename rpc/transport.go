package rpc

import (
	"log"
	"net"
	"sync"
)

// transportState is the tagged state kept inside a single transport value,
// re-expressing the original's virtual `init_message`/`process_request`
// overrides and member-function-pointer `process_state` (§4.3, §9) as a
// plain enum switch — no inheritance needed.
type transportState int32

const (
	tsInit transportState = iota
	tsCluster
	tsSubsys
)

// clusterTransport owns one socket 1:1 and, once classified, a binding to
// either a cluster Session or a subsystem peer (§3 "Transport"). Framing
// runs on a dedicated reader goroutine; writes are serialized through a
// buffered channel drained by a dedicated writer goroutine, the same
// send/stop channel-trio idiom the teacher's Session uses for its own
// socket-facing queue.
type clusterTransport struct {
	conn    net.Conn
	codec   *frameCodec
	cluster *Cluster
	logger  *log.Logger

	mu      sync.Mutex
	state   transportState
	session *Session
	subsys  *SubsystemPeer

	outbox   chan wireFrame
	stop     chan struct{}
	stopOnce sync.Once
}

func newClusterTransport(conn net.Conn, cluster *Cluster, logger *log.Logger) *clusterTransport {
	return &clusterTransport{
		conn:    conn,
		codec:   newFrameCodec(conn),
		cluster: cluster,
		logger:  logger,
		state:   tsInit,
		outbox:  make(chan wireFrame, 64),
		stop:    make(chan struct{}),
	}
}

// run starts the transport's reader and writer goroutines and blocks until
// the reader loop exits (i.e. until the socket closes or a protocol
// violation is observed). Callers accepting or dialing a connection should
// invoke run in its own goroutine.
func (t *clusterTransport) run() {
	go t.writeLoop()
	t.readLoop()
}

func (t *clusterTransport) writeLoop() {
	for {
		select {
		case f := <-t.outbox:
			if err := t.codec.writeFrame(f); err != nil {
				t.shutdown()
				return
			}
		case <-t.stop:
			return
		}
	}
}

func (t *clusterTransport) readLoop() {
	defer t.shutdown()
	for {
		frame, err := t.codec.readFrame()
		if err != nil {
			return
		}
		if !t.dispatchFrame(frame) {
			return
		}
	}
}

// writeFrame enqueues f for the writer goroutine. It never blocks past the
// transport's shutdown.
func (t *clusterTransport) writeFrame(f wireFrame) error {
	select {
	case t.outbox <- f:
		return nil
	case <-t.stop:
		return ErrTransportLost
	}
}

func (t *clusterTransport) currentState() transportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *clusterTransport) setState(s transportState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *clusterTransport) boundSession() *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

// dispatchFrame routes a decoded frame according to the transport's
// current state (§4.3), returning false if the connection must be torn
// down (protocol violation or dispatch-level fatal).
func (t *clusterTransport) dispatchFrame(frame wireFrame) bool {
	switch t.currentState() {
	case tsInit:
		return t.handleInitState(frame)
	case tsCluster:
		return t.handleClusterState(frame)
	case tsSubsys:
		return t.handleSubsysState(frame)
	default:
		// Logic error (§7): an unreachable base dispatch was invoked.
		t.logger.Panicf("rpc: transport in unknown state %v", t.currentState())
		return false
	}
}

// handleInitState implements §4.3's init_state entry node.
func (t *clusterTransport) handleInitState(frame wireFrame) bool {
	if frame.Kind == frameInit {
		peerAddr, err := UnpackAddress(frame.Addr)
		if err != nil {
			t.logger.Printf("rpc: malformed init address: %v", err)
			return false
		}
		peerRole := Role(frame.Role)

		bound := t.boundSession()
		if bound == nil {
			// Inbound accept: we haven't sent our own init yet.
			if err := t.writeFrame(newInitFrame(t.cluster.identity)); err != nil {
				return false
			}
			sess := t.cluster.GetNode(peerAddr)
			sess.BindTransport(t)
			t.mu.Lock()
			t.session = sess
			t.mu.Unlock()
			sess.resetRetriedCount()
			if sess.SetRole(peerRole) {
				t.cluster.dispatcher.NewNode(peerAddr, peerRole, sess)
			}
		} else {
			// Outbound connect: this is the peer's reply to our own init.
			bound.updateAddress(peerAddr)
			bound.resetRetriedCount()
			if bound.SetRole(peerRole) {
				t.cluster.dispatcher.NewNode(peerAddr, peerRole, bound)
			}
		}
		t.setState(tsCluster)
		return true
	}

	// Not an init message: external subsystem client. A bound session here
	// would mean this transport already claimed to be a cluster peer,
	// which is a protocol violation (§4.3: "A currently-bound session here
	// is an error").
	if t.boundSession() != nil {
		t.logger.Printf("rpc: subsystem client arrived on an already-bound transport")
		return false
	}
	peer := t.cluster.registerSubsystemPeer(t)
	t.mu.Lock()
	t.subsys = peer
	t.mu.Unlock()
	t.setState(tsSubsys)
	return t.handleSubsysState(frame)
}

func (t *clusterTransport) handleClusterState(frame wireFrame) bool {
	session := t.boundSession()
	switch frame.Kind {
	case frameRequest:
		responder := t.responderFor(frame.Msgid)
		t.cluster.dispatcher.ClusterDispatch(session, responder, frame.Method, frame.Params)
		return true
	case frameResponse:
		// session is nil when a newer transport has since rebound the same
		// Session (unbindSession, called from BindTransport) while this
		// socket is still open and draining in-flight frames. There is no
		// continuation to resolve on this transport any more, so drop the
		// frame rather than crash, matching the "unknown msgid is silently
		// dropped" handling ProcessResponse itself already does.
		if session == nil {
			return true
		}
		session.ProcessResponse(frame.Msgid, frame.Result, frame.Err)
		return true
	default:
		t.logger.Printf("rpc: unexpected frame kind %v in cluster state", frame.Kind)
		return false
	}
}

func (t *clusterTransport) handleSubsysState(frame wireFrame) bool {
	t.mu.Lock()
	peer := t.subsys
	t.mu.Unlock()

	switch frame.Kind {
	case frameRequest:
		responder := t.responderFor(frame.Msgid)
		t.cluster.dispatcher.SubsystemDispatch(peer, responder, frame.Method, frame.Params)
		return true
	default:
		t.logger.Printf("rpc: unexpected frame kind %v in subsystem state", frame.Kind)
		return false
	}
}

func (t *clusterTransport) responderFor(msgid uint32) Responder {
	return func(result, errVal interface{}) error {
		return t.writeFrame(newResponseFrame(msgid, result, errVal))
	}
}

// unbindSession is called by Session.BindTransport when a new transport
// replaces this one; it detaches the session without touching the socket,
// so later response frames on this transport are dropped and its shutdown
// no longer reports a transport loss for that session. Writes already
// queued or still issued on this transport are not affected.
func (t *clusterTransport) unbindSession() {
	t.mu.Lock()
	t.session = nil
	t.mu.Unlock()
}

// shutdown closes the socket in both directions (it is not a read-side
// half-close) and unwinds whatever binding this transport held, at most
// once: a bound session's pending requests fail with ErrTransportLost
// before the cluster's reconnection policy runs. It returns nothing.
func (t *clusterTransport) shutdown() {
	t.stopOnce.Do(func() {
		close(t.stop)
		t.conn.Close()
		if t.cluster != nil {
			t.cluster.untrackTransport(t)
		}

		t.mu.Lock()
		session := t.session
		subsys := t.subsys
		t.session = nil
		t.subsys = nil
		t.mu.Unlock()

		if session != nil {
			session.UnbindTransport(t)
			session.failAllPending()
			t.cluster.transportLost(session)
		}
		if subsys != nil {
			t.cluster.unregisterSubsystemPeer(subsys)
		}
	})
}
