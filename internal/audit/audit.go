// Package audit records a best-effort, non-authoritative history of DME
// critical-section transitions for operator visibility. It is never on the
// critical-section path: a full or absent sink never blocks or fails
// RequestCS/ReleaseCS, which only ever block on peer replies.
package audit

import "time"

// Event is one CS lifecycle transition.
type Event struct {
	NodeID             string    `bson:"node_id" json:"node_id"`
	Kind               string    `bson:"event" json:"event"` // "wanted" | "held" | "released"
	LogicalTimestamp   uint64    `bson:"timestamp" json:"timestamp"`
	WallClock          time.Time `bson:"wall_clock" json:"wall_clock"`
	PeersDeferredCount int       `bson:"peers_deferred_count" json:"peers_deferred_count"`
}

const (
	KindWanted   = "wanted"
	KindHeld     = "held"
	KindReleased = "released"
)

// Sink accepts Events fire-and-forget. Record must never block the caller
// for longer than a channel send to a buffered queue.
type Sink interface {
	Record(Event)
	// Close stops the background drain goroutine, if any. Safe to call on
	// a no-op sink.
	Close()
}

// Noop discards every event. It is the default Sink when no audit backend
// is configured.
func Noop() Sink { return noopSink{} }

type noopSink struct{}

func (noopSink) Record(Event) {}
func (noopSink) Close()       {}
