// Package status exposes a read-only HTTP introspection surface for one
// node's DME state. It has no authority over the protocol: internal/dme
// never reads from it, and it never gates RequestCS/ReleaseCS.
package status

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sincronizacion-distribuida/chatmutex/internal/dme"
)

// Observer is the subset of *dme.Mutex the status surface depends on.
type Observer interface {
	State() (state dme.State, timestamp uint64, clock uint64)
	Snapshot() (repliesNeeded, deferredReplies []string)
}

// Handler builds the mux.Router serving /health and /status for nodeID,
// observing mutex.
func Handler(nodeID string, peers []string, mutex Observer) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", healthHandler(nodeID, mutex)).Methods(http.MethodGet)
	r.HandleFunc("/status", statusHandler(nodeID, peers, mutex)).Methods(http.MethodGet)
	return r
}

func healthHandler(nodeID string, mutex Observer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, _, clock := mutex.State()
		writeJSON(w, map[string]interface{}{
			"node_id":       nodeID,
			"state":         state.String(),
			"logical_clock": clock,
		})
	}
}

func statusHandler(nodeID string, peers []string, mutex Observer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, timestamp, clock := mutex.State()
		repliesNeeded, deferredReplies := mutex.Snapshot()
		writeJSON(w, map[string]interface{}{
			"node_id":           nodeID,
			"state":             state.String(),
			"request_timestamp": timestamp,
			"logical_clock":     clock,
			"replies_needed":    orEmpty(repliesNeeded),
			"deferred_replies":  orEmpty(deferredReplies),
			"peers":             peers,
		})
	}
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
