package p2p

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts transport activity. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	datagramsReceived prometheus.Counter
	datagramsSent     prometheus.Counter
	datagramsDropped  *prometheus.CounterVec
	requestsSent      prometheus.Counter
	responsesMatched  prometheus.Counter
	lateResponses     prometheus.Counter
	timeouts          prometheus.Counter
	pending           prometheus.Gauge
}

// NewMetrics creates the transport collectors and registers them on reg.
// A nil reg leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		datagramsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kadnode",
			Subsystem: "transport",
			Name:      "datagrams_received_total",
			Help:      "Datagrams read from the socket.",
		}),
		datagramsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kadnode",
			Subsystem: "transport",
			Name:      "datagrams_sent_total",
			Help:      "Datagrams written to the socket.",
		}),
		datagramsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kadnode",
			Subsystem: "transport",
			Name:      "datagrams_dropped_total",
			Help:      "Inbound datagrams discarded, by reason.",
		}, []string{"reason"}),
		requestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kadnode",
			Subsystem: "transport",
			Name:      "requests_sent_total",
			Help:      "Correlated requests sent.",
		}),
		responsesMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kadnode",
			Subsystem: "transport",
			Name:      "responses_matched_total",
			Help:      "Responses delivered to a waiting request.",
		}),
		lateResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kadnode",
			Subsystem: "transport",
			Name:      "late_responses_total",
			Help:      "Responses with no pending request (timed out or unknown).",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kadnode",
			Subsystem: "transport",
			Name:      "request_timeouts_total",
			Help:      "Requests that received no response in time.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kadnode",
			Subsystem: "transport",
			Name:      "pending_requests",
			Help:      "Requests currently awaiting a response.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.datagramsReceived,
			m.datagramsSent,
			m.datagramsDropped,
			m.requestsSent,
			m.responsesMatched,
			m.lateResponses,
			m.timeouts,
			m.pending,
		)
	}
	return m
}

func (m *Metrics) received() {
	if m != nil {
		m.datagramsReceived.Inc()
	}
}

func (m *Metrics) sent() {
	if m != nil {
		m.datagramsSent.Inc()
	}
}

func (m *Metrics) dropped(reason string) {
	if m != nil {
		m.datagramsDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) requestStarted() {
	if m != nil {
		m.requestsSent.Inc()
		m.pending.Inc()
	}
}

func (m *Metrics) responseMatched() {
	if m != nil {
		m.responsesMatched.Inc()
		m.pending.Dec()
	}
}

func (m *Metrics) lateResponse() {
	if m != nil {
		m.lateResponses.Inc()
	}
}

func (m *Metrics) timedOut() {
	if m != nil {
		m.timeouts.Inc()
		m.pending.Dec()
	}
}

func (m *Metrics) requestAborted() {
	if m != nil {
		m.pending.Dec()
	}
}
