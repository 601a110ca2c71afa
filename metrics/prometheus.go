package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay directions
const (
	DirectionInbound  = "inbound"  // client -> upstream
	DirectionOutbound = "outbound" // upstream -> client
)

// Metrics contains all Prometheus metrics for the relay.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Session metrics
	ActiveSessions    prometheus.Gauge
	SessionsTotal     *prometheus.CounterVec
	SessionDuration   prometheus.Histogram
	HandshakeFailures prometheus.Counter

	// Relay metrics
	MessagesRelayed *prometheus.CounterVec
	DecodeErrors    *prometheus.CounterVec

	// Sentiment endpoint metrics
	SentimentRequests *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Current number of registered relay sessions",
		}),
		SessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_sessions_total",
			Help: "Total number of finished sessions by outcome",
		}, []string{"outcome"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_session_duration_seconds",
			Help:    "Lifetime of relay sessions",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		}),
		HandshakeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_upstream_handshake_failures_total",
			Help: "Total number of failed upstream connects",
		}),
		MessagesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_messages_total",
			Help: "Total number of relayed messages by direction and type",
		}, []string{"direction", "type"}),
		DecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_decode_errors_total",
			Help: "Total number of skipped undecodable messages by direction",
		}, []string{"direction"}),
		SentimentRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_sentiment_requests_total",
			Help: "Total number of sentiment analyses by resulting category",
		}, []string{"sentiment"}),
	}
}

func (m *Metrics) SessionRegistered() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionUnregistered() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}

func (m *Metrics) SessionFinished(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(outcome).Inc()
	m.SessionDuration.Observe(seconds)
}

func (m *Metrics) HandshakeFailed() {
	if m == nil {
		return
	}
	m.HandshakeFailures.Inc()
}

func (m *Metrics) MessageRelayed(direction, msgType string) {
	if m == nil {
		return
	}
	m.MessagesRelayed.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) DecodeFailed(direction string) {
	if m == nil {
		return
	}
	m.DecodeErrors.WithLabelValues(direction).Inc()
}

func (m *Metrics) SentimentAnalyzed(category string) {
	if m == nil {
		return
	}
	m.SentimentRequests.WithLabelValues(category).Inc()
}
