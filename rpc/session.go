package rpc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kumofs/kumofs/metrics"
)

// pendingCall is a registered continuation awaiting a response for one
// outstanding msgid.
type pendingCall struct {
	resultCh chan callResult
	frame    wireFrame
	sent     bool
}

type callResult struct {
	result interface{}
	err    interface{}
	lost   bool
}

// Session is the logical peer endpoint of §3/§4.2: it outlives any single
// socket, carries the pending-request table, the reconnect counter, and a
// write-once role. The transport binding is a plain pointer guarded by
// mu — this package has no refcounted ownership model, so "weak" from the
// original design note is simply "don't assume it's non-nil without the
// lock" here.
type Session struct {
	addrMu sync.Mutex
	addr   Address

	role int32 // atomic, holds Role

	mu        sync.Mutex
	transport *clusterTransport
	pending   map[uint32]*pendingCall
	nextMsgid uint32
	closed    bool

	retriedCount int32 // atomic

	createdAt time.Time
	metrics   *metrics.Registry
}

func newSession(addr Address, reg *metrics.Registry) *Session {
	return &Session{
		addr:      addr,
		role:      int32(RoleUnset),
		pending:   make(map[uint32]*pendingCall),
		createdAt: time.Now(),
		metrics:   reg,
	}
}

// Age reports how long ago this session was created, used by the cluster's
// idle sweeper to prune role-unset sessions that never completed a
// handshake (§9 open questions).
func (s *Session) Age() time.Duration {
	return time.Since(s.createdAt)
}

// Address returns the session's currently known address.
func (s *Session) Address() Address {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.addr
}

// updateAddress replaces a non-connectable, accept-learned address with a
// real one once it's known (§4.4 get_node), and is a no-op otherwise — an
// address is "updated exactly once, when learned via init" (§3).
func (s *Session) updateAddress(addr Address) {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	if !s.addr.Connectable() {
		s.addr = addr
	}
}

// Role returns the session's current role (RoleUnset until set).
func (s *Session) Role() Role {
	return Role(atomic.LoadInt32(&s.role))
}

// SetRole performs the write-once compare-and-set against RoleUnset
// described in §3/I4, returning true only on the transition that actually
// happened.
func (s *Session) SetRole(r Role) bool {
	return atomic.CompareAndSwapInt32(&s.role, int32(RoleUnset), int32(r))
}

// ConnectRetriedCount returns the current reconnect-attempt counter.
func (s *Session) ConnectRetriedCount() int {
	return int(atomic.LoadInt32(&s.retriedCount))
}

func (s *Session) incrementRetriedCount() int {
	return int(atomic.AddInt32(&s.retriedCount, 1))
}

func (s *Session) resetRetriedCount() {
	atomic.StoreInt32(&s.retriedCount, 0)
}

// BindTransport attaches t to this session, enforcing the 1:1 invariant
// (I3): if a different transport was already bound, it is unbound first.
// Any requests that were registered while no transport was bound (§4.2
// "Send ... if no transport is bound, queues until rebind") are flushed
// onto the newly-bound transport here.
func (s *Session) BindTransport(t *clusterTransport) {
	s.mu.Lock()
	prev := s.transport
	s.transport = t
	var toFlush []*pendingCall
	for _, call := range s.pending {
		if !call.sent {
			call.sent = true
			toFlush = append(toFlush, call)
		}
	}
	s.mu.Unlock()

	if prev != nil && prev != t {
		prev.unbindSession()
	}

	for _, call := range toFlush {
		if err := t.writeFrame(call.frame); err != nil {
			s.mu.Lock()
			call.sent = false
			s.mu.Unlock()
		}
	}
}

// UnbindTransport clears the binding only if t is still the bound
// transport (a stale unbind from an already-replaced transport is a
// no-op).
func (s *Session) UnbindTransport(t *clusterTransport) {
	s.mu.Lock()
	if s.transport == t {
		s.transport = nil
	}
	s.mu.Unlock()
}

func (s *Session) boundTransport() *clusterTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// Send allocates a fresh msgid, registers a continuation, and enqueues the
// request on the bound transport. If no transport is currently bound the
// request stays queued until a transport rebinds and flushes it — matching
// §4.2's "if no transport is bound, queues until rebind". Either way the
// call blocks until the response arrives or the continuation is failed
// (transport loss or session close), in which case it returns
// ErrTransportLost. ErrSessionClosed is returned only when the session was
// already closed before the call.
func (s *Session) Send(method uint16, params []interface{}) (interface{}, interface{}, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, ErrSessionClosed
	}
	s.nextMsgid++
	msgid := s.nextMsgid
	frame := newRequestFrame(msgid, method, params)
	call := &pendingCall{resultCh: make(chan callResult, 1), frame: frame}
	s.pending[msgid] = call
	t := s.transport
	if t != nil {
		call.sent = true
	}
	s.mu.Unlock()

	if t == nil {
		// No transport bound right now; the continuation stays registered
		// and will be resolved either by a later rebind's flush (see
		// BindTransport), or by failAllPending if the session gives up
		// first.
		res := <-call.resultCh
		if res.lost {
			return nil, nil, ErrTransportLost
		}
		return res.result, res.err, nil
	}

	if err := t.writeFrame(frame); err != nil {
		s.mu.Lock()
		delete(s.pending, msgid)
		s.mu.Unlock()
		return nil, nil, err
	}

	res := <-call.resultCh
	if res.lost {
		return nil, nil, ErrTransportLost
	}
	return res.result, res.err, nil
}

// ProcessResponse resolves the continuation registered for msgid. An
// unknown msgid (response for a request this session never made, or one
// already resolved) is silently dropped rather than treated as an error
// (§4.2: "must not crash").
func (s *Session) ProcessResponse(msgid uint32, result, errVal interface{}) {
	s.mu.Lock()
	call, ok := s.pending[msgid]
	if ok {
		delete(s.pending, msgid)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	call.resultCh <- callResult{result: result, err: errVal}
}

// failAllPending resolves every outstanding continuation with a
// transport-lost error, the action taken when the session's transport is
// lost or the session itself is destroyed (§4.2 "Cancellation").
func (s *Session) failAllPending() {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[uint32]*pendingCall)
	s.mu.Unlock()

	for _, call := range pending {
		call.resultCh <- callResult{lost: true}
	}
}

// close marks the session destroyed: no further Send calls succeed and all
// pending continuations fail.
func (s *Session) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.failAllPending()
}
