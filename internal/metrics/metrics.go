package metrics

import "sync"

// Event names recorded by the relay core.
const (
	EventRoomJoin       = "room_join"
	EventRoomLeave      = "room_leave"
	EventRoomTerminated = "room_terminated"
	EventSignalRelayed  = "signal_relayed"
	EventSignalMiss     = "signal_miss"
	EventChatMessage    = "chat_message"
	EventChatDropped    = "chat_dropped"

	// Drop/rejection reasons.
	DropReasonRateLimited = "rate_limited"
	DropReasonBadMessage  = "bad_message"
	DropReasonNotCreator  = "not_creator"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The production relay is expected to plug into a real metrics backend; this
// type exists to keep coordination logic testable while still giving
// operators visibility into drops and room churn.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
