package rpc

import (
	"context"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kumofs/kumofs/metrics"
)

// Responder answers a single decoded request. Calling it more than once
// for the same request is the handler's bug, not this package's concern.
type Responder func(result, errVal interface{}) error

// Dispatcher is the application-level callback surface a Cluster drives:
// new/lost node lifecycle events and the two request-routing hooks named
// by §4.3's cluster_state/subsys_state.
type Dispatcher interface {
	NewNode(addr Address, role Role, session *Session)
	LostNode(addr Address, role Role)
	ClusterDispatch(session *Session, respond Responder, method uint16, params []interface{})
	SubsystemDispatch(peer *SubsystemPeer, respond Responder, method uint16, params []interface{})
}

// SubsystemPeer is the lightweight session analogue of §3 representing an
// external, non-cluster-peer client multiplexed on the same listening
// port.
type SubsystemPeer struct {
	transport *clusterTransport
}

// Send writes a request to this subsystem peer's transport. Subsystem
// peers do not carry a pending-request table of their own in this design:
// a response frame arriving from a subsystem client is a protocol
// violation, since the cluster never expects one.
func (p *SubsystemPeer) Send(method uint16, params []interface{}) error {
	return p.transport.writeFrame(newRequestFrame(0, method, params))
}

// Respond answers a request received from this peer.
func (p *SubsystemPeer) Respond(msgid uint32, result, errVal interface{}) error {
	return p.transport.writeFrame(newResponseFrame(msgid, result, errVal))
}

// Config holds the reconnection-policy inputs named in §4.4: they are
// configuration, never hardcoded.
type Config struct {
	RetryLimit        int           `json:"retry_limit"`
	ConnectTimeout    time.Duration `json:"connect_timeout"`
	IdleSweepInterval time.Duration `json:"idle_sweep_interval"`
}

// DefaultConfig returns conservative defaults. A RetryLimit of N allows
// N+1 reconnect attempts before the session is marked lost, since
// retried_count is checked against the limit before being incremented for
// the attempt about to be scheduled (see transportLost and SPEC_FULL.md's
// Open Questions).
func DefaultConfig() Config {
	return Config{
		RetryLimit:        3,
		ConnectTimeout:    3 * time.Second,
		IdleSweepInterval: 10 * time.Second,
	}
}

// Cluster accepts connections, owns the address-keyed node session cache
// and the subsystem peer registry, and drives the reconnection policy on
// transport loss (§4.4).
type Cluster struct {
	identity   Identity
	dispatcher Dispatcher
	cfg        Config
	logger     *log.Logger
	metrics    *metrics.Registry

	nodesMu sync.Mutex
	nodes   map[string]*Session

	subsysMu sync.Mutex
	subsys   map[*SubsystemPeer]struct{}

	transportsMu sync.Mutex
	transports   map[*clusterTransport]struct{}

	dialer net.Dialer

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// NewCluster constructs a Cluster that advertises id as its own identity
// in every init handshake and routes classified traffic to dispatcher.
func NewCluster(id Identity, dispatcher Dispatcher, cfg Config, logger *log.Logger, reg *metrics.Registry) *Cluster {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	c := &Cluster{
		identity:   id,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		metrics:    reg,
		nodes:      make(map[string]*Session),
		subsys:     make(map[*SubsystemPeer]struct{}),
		transports: make(map[*clusterTransport]struct{}),
		group:      group,
		ctx:        gctx,
		cancel:     cancel,
	}
	c.group.Go(func() error {
		c.sweepLoop()
		return nil
	})
	return c
}

// Accepted hands a freshly accepted connection to a new init-state
// transport, applying the best-effort socket options named in §6.
func (c *Cluster) Accepted(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetLinger(0)
	}
	t := newClusterTransport(conn, c, c.logger)
	c.trackTransport(t)
	c.group.Go(func() error {
		t.run()
		return nil
	})
}

// trackTransport and untrackTransport let Shutdown find and close every
// live connection so a blocked readLoop's Decode call actually returns
// instead of holding group.Wait() open forever.
func (c *Cluster) trackTransport(t *clusterTransport) {
	c.transportsMu.Lock()
	c.transports[t] = struct{}{}
	c.transportsMu.Unlock()
}

func (c *Cluster) untrackTransport(t *clusterTransport) {
	c.transportsMu.Lock()
	delete(c.transports, t)
	c.transportsMu.Unlock()
}

// GetNode implements §4.4's address-keyed session cache: on miss it
// constructs a fresh session; on hit, and if the cached session's address
// is not yet connectable (an accept-learned placeholder), it adopts addr.
func (c *Cluster) GetNode(addr Address) *Session {
	key := addr.String()

	c.nodesMu.Lock()
	defer c.nodesMu.Unlock()

	if sess, ok := c.nodes[key]; ok {
		sess.updateAddress(addr)
		return sess
	}
	sess := newSession(addr, c.metrics)
	c.nodes[key] = sess
	if c.metrics != nil {
		c.metrics.SetLiveClusterNodes(len(c.nodes))
	}
	return sess
}

// Connect dials addr and runs the resulting transport as an outbound
// cluster connection, sending our own init immediately since we initiated
// the handshake (§4.3 describes the symmetric inbound case; the outbound
// side mirrors it by speaking first).
func (c *Cluster) Connect(ctx context.Context, addr Address) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, err := c.dialer.DialContext(dialCtx, "tcp", addr.String())
	if err != nil {
		return err
	}

	t := newClusterTransport(conn, c, c.logger)
	c.trackTransport(t)

	// Our init frame must be the first thing this transport ever writes:
	// BindTransport flushes any requests the session queued while
	// unbound, and the writer goroutine drains outbox in FIFO order, so
	// binding before sending init would let a queued request frame race
	// ahead of init and make the peer misclassify us as a subsystem
	// client (§4.3, P5). Enqueuing here is safe before t.run() starts
	// the writer goroutine: outbox is a buffered channel.
	if err := t.writeFrame(newInitFrame(c.identity)); err != nil {
		t.shutdown()
		return err
	}

	sess := c.GetNode(addr)
	sess.BindTransport(t)
	t.mu.Lock()
	t.session = sess
	t.mu.Unlock()

	c.group.Go(func() error {
		t.run()
		return nil
	})
	return nil
}

// transportLost runs the reconnection policy of §4.4 verbatim:
//
//	if retried_count > retry_limit: mark lost, maybe emit lost_node
//	else if addr is connectable: schedule async_connect (counts a retry)
//	else: mark lost, no retry possible
func (c *Cluster) transportLost(session *Session) {
	addr := session.Address()
	role := session.Role()

	select {
	case <-c.ctx.Done():
		// Cluster is shutting down: don't schedule more reconnect
		// goroutines concurrently with Shutdown's group.Wait().
		c.markLost(session, addr, role)
		return
	default:
	}

	if !addr.Connectable() {
		c.markLost(session, addr, role)
		return
	}

	// retried_count is checked BEFORE being incremented: the pseudocode's
	// "schedule async_connect(addr, session) // increments retried_count"
	// increments as a consequence of scheduling, not as a precondition for
	// the check. This yields retry_limit+1 reconnect attempts before
	// giving up, matching spec.md §8 scenario 5 (retry_limit=2 → 3
	// attempts, then exactly one lost_node).
	if session.ConnectRetriedCount() > c.cfg.RetryLimit {
		c.markLost(session, addr, role)
		return
	}
	session.incrementRetriedCount()

	if c.metrics != nil {
		c.metrics.IncReconnectAttempts()
	}
	c.group.Go(func() error {
		if err := c.Connect(c.ctx, addr); err != nil {
			c.logger.Printf("rpc: reconnect to %s failed: %v", addr, err)
			c.transportLost(session)
		}
		return nil
	})
}

func (c *Cluster) markLost(session *Session, addr Address, role Role) {
	session.close()
	c.nodesMu.Lock()
	delete(c.nodes, addr.String())
	if c.metrics != nil {
		c.metrics.SetLiveClusterNodes(len(c.nodes))
	}
	c.nodesMu.Unlock()

	if role != RoleUnset {
		if c.metrics != nil {
			c.metrics.IncLostNodes()
		}
		c.dispatcher.LostNode(addr, role)
	}
}

// registerSubsystemPeer allocates and registers a new subsystem peer for
// transport t.
func (c *Cluster) registerSubsystemPeer(t *clusterTransport) *SubsystemPeer {
	peer := &SubsystemPeer{transport: t}
	c.subsysMu.Lock()
	c.subsys[peer] = struct{}{}
	c.subsysMu.Unlock()
	return peer
}

func (c *Cluster) unregisterSubsystemPeer(peer *SubsystemPeer) {
	c.subsysMu.Lock()
	delete(c.subsys, peer)
	c.subsysMu.Unlock()
}

// sweepLoop prunes role-unset sessions once connect_timeout*(retry_limit+1)
// has passed since the session was created (Session.Age), resolving the FIXME noted in the design: a session whose
// peer never completes the handshake must not linger forever (§9 Open
// questions).
func (c *Cluster) sweepLoop() {
	interval := c.cfg.IdleSweepInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	idleBudget := c.cfg.ConnectTimeout * time.Duration(c.cfg.RetryLimit+1)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.sweepUnrouted(idleBudget)
		}
	}
}

func (c *Cluster) sweepUnrouted(idleBudget time.Duration) {
	c.nodesMu.Lock()
	stale := make([]*Session, 0)
	for addr, sess := range c.nodes {
		if sess.Role() != RoleUnset {
			continue
		}
		if sess.Age() < idleBudget {
			continue
		}
		stale = append(stale, sess)
		delete(c.nodes, addr)
	}
	if len(stale) > 0 && c.metrics != nil {
		c.metrics.SetLiveClusterNodes(len(c.nodes))
	}
	c.nodesMu.Unlock()

	for _, sess := range stale {
		sess.close()
	}
}

// Shutdown cancels all outstanding accept/reconnect goroutines and closes
// every live connection, then waits for the transports' reader/writer
// goroutines and the idle sweeper to exit. Closing the connections is what
// actually unblocks each transport's readLoop: a blocking frame decode
// does not observe context cancellation on its own.
func (c *Cluster) Shutdown() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		c.closeAllTransports()
		err = c.group.Wait()
	})
	return err
}

func (c *Cluster) closeAllTransports() {
	c.transportsMu.Lock()
	transports := make([]*clusterTransport, 0, len(c.transports))
	for t := range c.transports {
		transports = append(transports, t)
	}
	c.transportsMu.Unlock()

	for _, t := range transports {
		t.shutdown()
	}
}
