package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts engine activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	polls            prometheus.Counter
	pollFailures     prometheus.Counter
	staleResponses   prometheus.Counter
	rejectedRecords  prometheus.Counter
	sends            *prometheus.CounterVec
	starts           *prometheus.CounterVec
	provisional      prometheus.Gauge
	conversations    prometheus.Gauge
	unreadLocalTotal prometheus.Gauge
}

// NewMetrics registers engine metrics with reg (default registerer if nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inbox_sync_ticks_total",
			Help: "Synchronization ticks dispatched (background and manual).",
		}),
		pollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inbox_sync_fetch_failures_total",
			Help: "Conversation or message listings that failed.",
		}),
		staleResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inbox_sync_stale_responses_total",
			Help: "Listing responses dropped because a newer one was already applied or the selection changed.",
		}),
		rejectedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "inbox_wire_rejected_records_total",
			Help: "Backend records rejected by the transformer.",
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_sends_total",
			Help: "Settled sends by result.",
		}, []string{"result"}),
		starts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "inbox_conversation_starts_total",
			Help: "Settled start-conversation calls by result.",
		}, []string{"result"}),
		provisional: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inbox_provisional_messages",
			Help: "Sends currently awaiting confirmation.",
		}),
		conversations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inbox_conversations",
			Help: "Conversations in the directory.",
		}),
		unreadLocalTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "inbox_unread_messages",
			Help: "Sum of unread counts across the directory.",
		}),
	}

	reg.MustRegister(
		m.polls,
		m.pollFailures,
		m.staleResponses,
		m.rejectedRecords,
		m.sends,
		m.starts,
		m.provisional,
		m.conversations,
		m.unreadLocalTotal,
	)
	return m
}

func (m *Metrics) recordTick() {
	if m == nil {
		return
	}
	m.polls.Inc()
}

func (m *Metrics) recordFetchFailure() {
	if m == nil {
		return
	}
	m.pollFailures.Inc()
}

func (m *Metrics) recordStale() {
	if m == nil {
		return
	}
	m.staleResponses.Inc()
}

func (m *Metrics) recordRejected(n int) {
	if m == nil || n == 0 {
		return
	}
	m.rejectedRecords.Add(float64(n))
}

func (m *Metrics) recordSend(ok bool) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) recordStart(ok bool) {
	if m == nil {
		return
	}
	m.starts.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) setProvisional(n int) {
	if m == nil {
		return
	}
	m.provisional.Set(float64(n))
}

func (m *Metrics) setDirectory(conversations, unread int) {
	if m == nil {
		return
	}
	m.conversations.Set(float64(conversations))
	m.unreadLocalTotal.Set(float64(unread))
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
