package hub

import "sync/atomic"

// Metrics are process-wide counters exposed on /metrics
type Metrics struct {
	ConnectionsOpened   atomic.Int64
	ConnectionsClosed   atomic.Int64
	AdmissionsRejected  atomic.Int64
	MessagesSent        atomic.Int64
	MessagesRateLimited atomic.Int64
	ReadUpdates         atomic.Int64
	TypingEvents        atomic.Int64
	EventErrors         atomic.Int64
	SlowConsumers       atomic.Int64
}

// Snapshot returns the current counter values
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"connections_opened":    m.ConnectionsOpened.Load(),
		"connections_closed":    m.ConnectionsClosed.Load(),
		"admissions_rejected":   m.AdmissionsRejected.Load(),
		"messages_sent":         m.MessagesSent.Load(),
		"messages_rate_limited": m.MessagesRateLimited.Load(),
		"read_updates":          m.ReadUpdates.Load(),
		"typing_events":         m.TypingEvents.Load(),
		"event_errors":          m.EventErrors.Load(),
		"slow_consumers":        m.SlowConsumers.Load(),
	}
}

// MetricsSnapshot returns the current hub counters
func (h *Hub) MetricsSnapshot() map[string]int64 {
	return h.metrics.Snapshot()
}
