package dme

import (
	"context"
	"testing"
	"time"
)

// waitFor polls cond until it's true or the deadline passes, failing the
// test if it never becomes true. Used instead of a fixed sleep so tests
// don't flake under load; production code itself never polls like this,
// it blocks on a channel close.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before timeout")
	}
}

// Trivial single node. No peers: RequestCS returns immediately, state goes
// RELEASED->WANTED->HELD within the one call, and no network I/O occurs.
func TestRequestCS_NoPeers(t *testing.T) {
	trans := newFakeTransport()
	m := New("solo", nil, trans, nil, nil)

	done := make(chan struct{})
	go func() {
		m.RequestCS()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RequestCS with no peers should return immediately")
	}

	state, _, _ := m.State()
	if state != Held {
		t.Fatalf("state = %v, want Held", state)
	}
	if n := trans.sentCount(); n != 0 {
		t.Fatalf("expected no network I/O with zero peers, sent %d frames", n)
	}

	m.ReleaseCS()
	state, _, _ = m.State()
	if state != Released {
		t.Fatalf("state after release = %v, want Released", state)
	}
}

// Two nodes, no contention. A requests first; B is RELEASED and replies
// immediately; A enters the CS, then releases.
func TestRequestCS_TwoNodes_NoContention(t *testing.T) {
	trans := newFakeTransport()

	a := New("A", map[string]string{"B": "B"}, trans, nil, nil)
	b := New("B", map[string]string{"A": "A"}, trans, nil, nil)

	_, cancel := startListeners(t, trans, a, b)
	defer cancel()

	done := make(chan struct{})
	go func() {
		a.RequestCS()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("A should have entered the CS")
	}

	stateA, _, _ := a.State()
	if stateA != Held {
		t.Fatalf("A state = %v, want Held", stateA)
	}

	a.ReleaseCS()

	waitFor(t, time.Second, func() bool {
		bClock := b.clock.Value()
		return bClock >= 2
	})
}

// Two nodes, simultaneous request, tie-break. Lower priority (timestamp,
// node_id) wins: A's request (1,"A") outranks B's (1,"B").
func TestHandleRequest_TieBreak(t *testing.T) {
	trans := newFakeTransport()

	// A is WANTED with (1,"A"); receives B's REQUEST(1,"B"). Since
	// (1,"A") < (1,"B"), A's own request outranks B's, so A defers.
	a := New("A", map[string]string{"B": "B"}, trans, nil, nil)
	a.mu.Lock()
	a.state = Wanted
	a.ourRequest = &request{timestamp: 1, nodeID: "A"}
	a.mu.Unlock()

	a.handleRequest(Frame{Type: FrameRequest, Timestamp: 1, SenderID: "B"})

	if got := trans.sentCount(); got != 0 {
		t.Fatalf("A should have deferred, not replied, sent %d frames", got)
	}
	_, deferredA := a.Snapshot()
	if len(deferredA) != 1 || deferredA[0] != "B" {
		t.Fatalf("A's deferred_replies = %v, want [B]", deferredA)
	}

	// B is WANTED with (1,"B"); receives A's REQUEST(1,"A"). Since
	// (1,"B") > (1,"A"), B does not defer: it replies immediately.
	trans2 := newFakeTransport()
	b := New("B", map[string]string{"A": "A"}, trans2, nil, nil)
	b.mu.Lock()
	b.state = Wanted
	b.ourRequest = &request{timestamp: 1, nodeID: "B"}
	b.mu.Unlock()

	b.handleRequest(Frame{Type: FrameRequest, Timestamp: 1, SenderID: "A"})

	if got := trans2.sentCount(); got != 1 {
		t.Fatalf("B should have replied immediately to A, sent %d frames", got)
	}
	_, deferredB := b.Snapshot()
	if len(deferredB) != 0 {
		t.Fatalf("B should not have deferred anything, got %v", deferredB)
	}
}

// Ordering property: given two requests with p_A < p_B, if both arrive
// before either enters the CS, A's request outranks B's: A defers its
// REPLY to B while B replies to A, so A enters first, never the reverse.
func TestOrdering_LowerTimestampWins(t *testing.T) {
	lower := request{timestamp: 3, nodeID: "B"}
	higher := request{timestamp: 5, nodeID: "A"}
	if !lower.less(higher) {
		t.Fatalf("(3,B) should have higher priority than (5,A)")
	}
	if higher.less(lower) {
		t.Fatalf("(5,A) should not outrank (3,B)")
	}

	sameTimestamp := request{timestamp: 5, nodeID: "A"}
	sameTimestampOther := request{timestamp: 5, nodeID: "Z"}
	if !sameTimestamp.less(sameTimestampOther) {
		t.Fatalf("on equal timestamp, smaller node id should win")
	}
}

// View is non-exclusive — exercised at the chatapp/fileservice layer (see
// internal/chatapp and internal/fileservice tests); the DME mutex itself is
// never consulted for a view, which this package's API surface already
// guarantees by construction (there is no "view" concept here at all).

// Peer unreachable. A broadcasts to B (up) and C (down); A collects B's
// reply and blocks until C (eventually) replies — it must not give up or
// error.
func TestRequestCS_BlocksOnUnreachablePeer(t *testing.T) {
	trans := newFakeTransport()

	a := New("A", map[string]string{"B": "B", "C": "C"}, trans, nil, nil)
	b := New("B", map[string]string{"A": "A"}, trans, nil, nil)

	_, cancel := startListeners(t, trans, a, b)
	defer cancel()

	trans.setDown("C", true)

	done := make(chan struct{})
	go func() {
		a.RequestCS()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("RequestCS should still be blocked with C unreachable")
	case <-time.After(100 * time.Millisecond):
	}

	stateA, _, _ := a.State()
	if stateA != Wanted {
		t.Fatalf("A state = %v, want Wanted while blocked", stateA)
	}

	// C "comes back": deliver its REPLY by hand so the test can clean up
	// without leaking the blocked goroutine.
	a.handleFrame(Frame{Type: FrameReply, Timestamp: 99, SenderID: "C"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RequestCS should unblock once C's reply arrives")
	}
}

// Reply accounting: a stale REPLY arriving after replies_needed is already
// empty must not alter state.
func TestStaleReplyIgnored(t *testing.T) {
	trans := newFakeTransport()
	a := New("A", nil, trans, nil, nil)
	a.RequestCS() // no peers: immediately Held

	a.handleFrame(Frame{Type: FrameReply, Timestamp: 1, SenderID: "ghost"})

	state, _, _ := a.State()
	if state != Held {
		t.Fatalf("stale reply must not change state, got %v", state)
	}
}

// Idempotent release: after ReleaseCS, every deferred peer gets exactly
// one REPLY and deferred_replies is empty.
func TestReleaseDrainsDeferredExactlyOnce(t *testing.T) {
	trans := newFakeTransport()
	a := New("A", map[string]string{"X": "X", "Y": "Y"}, trans, nil, nil)

	a.mu.Lock()
	a.state = Held
	a.ourRequest = &request{timestamp: 1, nodeID: "A"}
	a.deferredReplies = map[string]struct{}{"X": {}, "Y": {}}
	a.mu.Unlock()

	a.ReleaseCS()

	if got := trans.sentCount(); got != 2 {
		t.Fatalf("expected exactly 2 replies sent, got %d", got)
	}
	_, deferred := a.Snapshot()
	if len(deferred) != 0 {
		t.Fatalf("deferred_replies should be empty after release, got %v", deferred)
	}
}

// Reentrant RequestCS is a programmer-contract violation: it must panic,
// not silently corrupt state.
func TestRequestCSReentrantPanics(t *testing.T) {
	trans := newFakeTransport()
	a := New("A", nil, trans, nil, nil)
	a.RequestCS()

	defer func() {
		if recover() == nil {
			t.Fatal("expected RequestCS to panic when called reentrantly")
		}
	}()
	a.RequestCS()
}

// ReleaseCS without a held CS is likewise a contract violation.
func TestReleaseCSWithoutHeldPanics(t *testing.T) {
	trans := newFakeTransport()
	a := New("A", nil, trans, nil, nil)

	defer func() {
		if recover() == nil {
			t.Fatal("expected ReleaseCS to panic without a held CS")
		}
	}()
	a.ReleaseCS()
}

// startListeners registers each node's handler with the fake transport
// (keyed by the node's own ID, used as its "address" in these tests) and
// waits for registration to complete before returning.
func startListeners(t *testing.T, trans *fakeTransport, nodes ...*Mutex) (ctx context.Context, cancel context.CancelFunc) {
	t.Helper()
	ctx, cancel = context.WithCancel(context.Background())
	for _, n := range nodes {
		n := n
		go func() {
			_ = n.Listen(ctx, n.nodeID)
		}()
	}
	waitFor(t, time.Second, func() bool {
		trans.mu.Lock()
		defer trans.mu.Unlock()
		return len(trans.handlers) == len(nodes)
	})
	return ctx, cancel
}
