package metrics

import "sync"

// Event counter names. Per-type inbound counters are built with Inbound and
// drop counters with Dropped.
const (
	WSConnections      = "ws_connections"
	WSRateLimited      = "ws_rate_limited"
	WSOversized        = "ws_oversized"
	WSSendDropped      = "ws_send_dropped"
	WSBadFrame         = "ws_bad_frame"
	RoomFull           = "room_full"
	SessionsCreated    = "sessions_created"
	SessionsAnswered   = "sessions_answered"
	CandidatesRelayed  = "candidates_relayed"
	CandidatesQueued   = "candidates_queued"
	CandidatesReplayed = "candidates_replayed"
	PanicsRecovered    = "panics_recovered"
)

func Inbound(eventType string) string { return "inbound_" + eventType }

func Dropped(kind string) string { return "dropped_" + kind }

func SessionsClosed(reason string) string { return "sessions_closed_" + reason }

// Metrics is a minimal, concurrency-safe counter registry.
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

func (m *Metrics) Add(name string, n uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
