// Package metrics holds the Prometheus collectors of clients and workers.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Call outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
	OutcomeTransport = "transport"
	OutcomeError     = "error"
)

// Client collects metrics of RPC clients.
type Client struct {
	Calls          *prometheus.CounterVec
	CallDuration   *prometheus.HistogramVec
	Pending        prometheus.Gauge
	DroppedReplies prometheus.Counter
}

// NewClient creates and registers the client collectors on reg.
// A nil reg leaves them unregistered.
func NewClient(reg prometheus.Registerer) *Client {
	m := &Client{
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mqrpc",
			Subsystem: "client",
			Name:      "calls_total",
			Help:      "Calls issued, by destination queue and outcome.",
		}, []string{"queue", "outcome"}),
		CallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mqrpc",
			Subsystem: "client",
			Name:      "call_duration_seconds",
			Help:      "Time from publish to reply.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mqrpc",
			Subsystem: "client",
			Name:      "pending_calls",
			Help:      "Calls waiting for a reply.",
		}),
		DroppedReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mqrpc",
			Subsystem: "client",
			Name:      "dropped_replies_total",
			Help:      "Replies whose correlation id matched no waiting call.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Calls, m.CallDuration, m.Pending, m.DroppedReplies)
	}
	return m
}

// ObserveCall records one finished call.
func (m *Client) ObserveCall(queue, outcome string, started time.Time) {
	m.Calls.WithLabelValues(queue, outcome).Inc()
	if outcome == OutcomeOK {
		m.CallDuration.WithLabelValues(queue).Observe(time.Since(started).Seconds())
	}
}

// Server collects metrics of workers.
type Server struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlight        prometheus.Gauge
}

// NewServer creates and registers the worker collectors on reg.
// A nil reg leaves them unregistered.
func NewServer(reg prometheus.Registerer) *Server {
	m := &Server{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mqrpc",
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Requests handled, by command and outcome.",
		}, []string{"cmd", "outcome"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mqrpc",
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Help:      "Time spent in command handlers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"cmd"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mqrpc",
			Subsystem: "server",
			Name:      "in_flight_requests",
			Help:      "Requests being handled.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.RequestDuration, m.InFlight)
	}
	return m
}
