// Package dme implements the Ricart-Agrawala distributed mutual-exclusion
// algorithm: a peer broadcasts a REQUEST carrying a Lamport timestamp and
// enters the critical section once every other peer has sent a REPLY. A
// peer holding the CS, or WANTED with a higher-priority outstanding
// request, defers its REPLY until release.
//
// SenderID on a received frame is treated as authoritative and is never
// cross-checked against the originating TCP address; a misconfigured or
// hostile peer could spoof it. This is an accepted limitation, not a bug
// to fix here.
package dme

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sincronizacion-distribuida/chatmutex/internal/audit"
	"github.com/sincronizacion-distribuida/chatmutex/internal/logging"
)

// State is the node's relationship to the critical section.
type State int

const (
	Released State = iota
	Wanted
	Held
)

func (s State) String() string {
	switch s {
	case Released:
		return "RELEASED"
	case Wanted:
		return "WANTED"
	case Held:
		return "HELD"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// request is a (timestamp, node_id) pair; priority is lexicographic on
// (timestamp, then node_id), lower wins.
type request struct {
	timestamp uint64
	nodeID    string
}

// less reports whether r has strictly higher priority than other, i.e.
// r < other in lexicographic order. Equality cannot occur between
// distinct requests because node IDs are unique.
func (r request) less(other request) bool {
	if r.timestamp != other.timestamp {
		return r.timestamp < other.timestamp
	}
	return r.nodeID < other.nodeID
}

// Mutex is one node's participation in the distributed mutual-exclusion
// group. Construct with New, then call Listen in its own goroutine, then
// use RequestCS/ReleaseCS around critical sections.
type Mutex struct {
	nodeID string
	peers  map[string]string // peer_id -> host:port, excludes self
	trans  Transport
	log    logging.Logger
	audit  audit.Sink

	clock LogicalClock

	// mu guards everything below except clock, which is its own leaf lock.
	mu              sync.Mutex
	state           State
	ourRequest      *request
	repliesNeeded   map[string]struct{}
	deferredReplies map[string]struct{}
	granted         chan struct{} // recreated per round, closed when repliesNeeded empties
}

// New constructs a Mutex for nodeID with the given fixed peer set (excluding
// self). It does not start the listener; call Listen separately so callers
// can control its lifecycle (e.g. via errgroup alongside other goroutines).
func New(nodeID string, peers map[string]string, trans Transport, log logging.Logger, sink audit.Sink) *Mutex {
	if log == nil {
		log = logging.Noop()
	}
	if sink == nil {
		sink = audit.Noop()
	}
	peerCopy := make(map[string]string, len(peers))
	for id, addr := range peers {
		peerCopy[id] = addr
	}
	return &Mutex{
		nodeID: nodeID,
		peers:  peerCopy,
		trans:  trans,
		log:    log.With(logging.Fields{"node_id": nodeID}),
		audit:  sink,
		state:  Released,
	}
}

// Listen runs the DME peer listener on addr until ctx is cancelled. It is
// meant to run for the process lifetime in its own goroutine.
func (m *Mutex) Listen(ctx context.Context, addr string) error {
	return m.trans.Listen(ctx, addr, m.handleFrame)
}

// State returns the current state and, if WANTED or HELD, the outstanding
// request's Lamport timestamp. Used by the status/admin surface; taking this
// snapshot never blocks a concurrent RequestCS/ReleaseCS for longer than the
// coarse lock's critical section.
func (m *Mutex) State() (state State, timestamp uint64, clock uint64) {
	m.mu.Lock()
	s := m.state
	var ts uint64
	if m.ourRequest != nil {
		ts = m.ourRequest.timestamp
	}
	m.mu.Unlock()
	return s, ts, m.clock.Value()
}

// Snapshot returns the peer IDs currently in replies_needed and
// deferred_replies, for the status surface.
func (m *Mutex) Snapshot() (repliesNeeded, deferredReplies []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.repliesNeeded {
		repliesNeeded = append(repliesNeeded, id)
	}
	for id := range m.deferredReplies {
		deferredReplies = append(deferredReplies, id)
	}
	return repliesNeeded, deferredReplies
}

// RequestCS blocks until this node may enter the critical section. Its
// precondition is that the node is currently RELEASED; calling it again
// while WANTED or HELD is a programmer-contract error and panics rather
// than silently corrupting state.
func (m *Mutex) RequestCS() {
	m.mu.Lock()
	if m.state != Released {
		s := m.state
		m.mu.Unlock()
		panic("dme: RequestCS called while state is " + s.String() + ", want RELEASED")
	}

	m.state = Wanted
	ts := m.clock.Tick()
	m.ourRequest = &request{timestamp: ts, nodeID: m.nodeID}
	m.repliesNeeded = make(map[string]struct{}, len(m.peers))
	for id := range m.peers {
		m.repliesNeeded[id] = struct{}{}
	}
	granted := make(chan struct{})
	m.granted = granted
	needed := len(m.repliesNeeded)
	peers := m.snapshotPeersLocked()
	m.mu.Unlock()

	m.log.Infof("requesting CS, broadcasting REQUEST(t=%d), need %d replies", ts, needed)
	m.audit.Record(auditEvent(m.nodeID, audit.KindWanted, ts, 0))

	if needed == 0 {
		m.enterHeld(granted)
		m.audit.Record(auditEvent(m.nodeID, audit.KindHeld, m.clock.Value(), 0))
	} else {
		frame := Frame{Type: FrameRequest, Timestamp: ts, SenderID: m.nodeID}
		for peerID, addr := range peers {
			m.clock.Tick() // advance the clock for each REQUEST send event
			go m.send(peerID, addr, frame)
		}
		<-granted
	}
}

// enterHeld transitions WANTED -> HELD and signals granted. Called either
// directly (no peers) or from handleReply once repliesNeeded empties.
// Caller must NOT hold mu.
func (m *Mutex) enterHeld(granted chan struct{}) {
	m.mu.Lock()
	if m.state == Wanted {
		m.state = Held
		m.log.Info("all replies received, entering CS")
		close(granted)
	}
	m.mu.Unlock()
}

// ReleaseCS releases the critical section: transitions HELD -> RELEASED and
// drains deferred_replies, sending one REPLY to each.
func (m *Mutex) ReleaseCS() {
	m.mu.Lock()
	if m.state != Held {
		m.mu.Unlock()
		panic("dme: ReleaseCS called without a held CS")
	}
	m.state = Released
	m.ourRequest = nil
	m.repliesNeeded = nil
	deferred := m.deferredReplies
	m.deferredReplies = nil
	peers := m.snapshotPeersLocked()
	m.mu.Unlock()

	m.log.Infof("releasing CS, sending %d deferred replies", len(deferred))
	m.audit.Record(auditEvent(m.nodeID, audit.KindReleased, m.clock.Value(), len(deferred)))

	for peerID := range deferred {
		addr, ok := peers[peerID]
		if !ok {
			continue
		}
		ts := m.clock.Tick()
		m.send(peerID, addr, Frame{Type: FrameReply, Timestamp: ts, SenderID: m.nodeID})
	}
}

func (m *Mutex) snapshotPeersLocked() map[string]string {
	cp := make(map[string]string, len(m.peers))
	for id, addr := range m.peers {
		cp[id] = addr
	}
	return cp
}

// send transmits frame to peerID at addr. Failures are logged and dropped,
// never retried within this round.
func (m *Mutex) send(peerID, addr string, frame Frame) {
	if err := m.trans.Send(context.Background(), addr, frame); err != nil {
		m.log.Warnf("failed to send %s to %s (%s): %v", frame.Type, peerID, addr, err)
	}
}

// handleFrame is the receiver-side state machine. It runs on its own
// goroutine per inbound connection.
func (m *Mutex) handleFrame(f Frame) {
	m.clock.Witness(f.Timestamp)

	switch f.Type {
	case FrameRequest:
		m.handleRequest(f)
	case FrameReply:
		m.handleReply(f)
	default:
		m.log.Warnf("dropping frame of unknown type from %s", f.SenderID)
	}
}

func (m *Mutex) handleRequest(f Frame) {
	sender := request{timestamp: f.Timestamp, nodeID: f.SenderID}

	m.mu.Lock()
	state := m.state
	var mine request
	if m.ourRequest != nil {
		mine = *m.ourRequest
	}

	shouldDefer := state == Held || (state == Wanted && mine.less(sender))
	if shouldDefer {
		if m.deferredReplies == nil {
			m.deferredReplies = make(map[string]struct{})
		}
		m.deferredReplies[f.SenderID] = struct{}{}
		m.mu.Unlock()
		m.log.Infof("deferring REPLY to %s (my state=%s)", f.SenderID, state)
		return
	}
	addr, known := m.peers[f.SenderID]
	m.mu.Unlock()

	if !known {
		m.log.Warnf("REQUEST from unknown peer %s, ignoring", f.SenderID)
		return
	}

	ts := m.clock.Tick()
	m.log.Infof("replying immediately to %s (t=%d)", f.SenderID, ts)
	m.send(f.SenderID, addr, Frame{Type: FrameReply, Timestamp: ts, SenderID: m.nodeID})
}

func (m *Mutex) handleReply(f Frame) {
	m.mu.Lock()
	if m.state != Wanted {
		m.mu.Unlock()
		m.log.Debugf("stale REPLY from %s ignored (state=%s)", f.SenderID, m.state)
		return
	}
	if _, ok := m.repliesNeeded[f.SenderID]; !ok {
		m.mu.Unlock()
		m.log.Debugf("unexpected REPLY from %s, discarding", f.SenderID)
		return
	}
	delete(m.repliesNeeded, f.SenderID)
	remaining := len(m.repliesNeeded)
	granted := m.granted
	m.mu.Unlock()

	m.log.Infof("got REPLY from %s, %d more needed", f.SenderID, remaining)
	if remaining == 0 {
		m.enterHeld(granted)
		m.audit.Record(auditEvent(m.nodeID, audit.KindHeld, m.clock.Value(), 0))
	}
}

func auditEvent(nodeID, kind string, ts uint64, deferredCount int) audit.Event {
	return audit.Event{
		NodeID:             nodeID,
		Kind:               kind,
		LogicalTimestamp:   ts,
		WallClock:          time.Now(),
		PeersDeferredCount: deferredCount,
	}
}
