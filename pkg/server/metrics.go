package server

import (
	"time"

	"github.com/aeolun/wschat/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server
type Metrics struct {
	// Connection metrics
	activeConnections prometheus.Gauge
	sessionsOpened    prometheus.Counter
	sessionsClosed    prometheus.Counter
	authFailures      *prometheus.CounterVec // by reason
	livenessEvictions prometheus.Counter

	// Message metrics
	messagesReceived *prometheus.CounterVec // by message type
	messagesStored   prometheus.Counter

	// Broadcast metrics
	messagesBroadcast prometheus.Counter
	broadcastFanout   prometheus.Histogram
	broadcastDuration prometheus.Histogram
	deliveryFailures  prometheus.Counter
}

// NewMetrics registers the server metrics with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		activeConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wschat_active_connections",
			Help: "Current number of authenticated connections",
		}),
		sessionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "wschat_sessions_opened_total",
			Help: "Total number of WebSocket sessions accepted",
		}),
		sessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "wschat_sessions_closed_total",
			Help: "Total number of WebSocket sessions closed",
		}),
		authFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wschat_auth_failures_total",
			Help: "Sessions closed before completing the join handshake",
		}, []string{"reason"}),
		livenessEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "wschat_liveness_evictions_total",
			Help: "Clients removed because they did not answer a ping",
		}),
		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wschat_messages_received_total",
			Help: "Total number of envelopes received from clients by type",
		}, []string{"type"}),
		messagesStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "wschat_messages_stored_total",
			Help: "Total number of chat messages persisted",
		}),
		messagesBroadcast: factory.NewCounter(prometheus.CounterOpts{
			Name: "wschat_messages_broadcast_total",
			Help: "Total number of messages broadcast (unique messages, not deliveries)",
		}),
		broadcastFanout: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wschat_broadcast_fanout",
			Help:    "Number of clients that received each broadcast message",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2000, 5000},
		}),
		broadcastDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wschat_broadcast_duration_seconds",
			Help:    "Time taken to broadcast a message to all clients",
			Buckets: prometheus.DefBuckets,
		}),
		deliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "wschat_delivery_failures_total",
			Help: "Writes to a client that failed and caused its removal",
		}),
	}
}

// RecordActiveConnections updates the authenticated connection count
func (m *Metrics) RecordActiveConnections(count int) {
	m.activeConnections.Set(float64(count))
}

func (m *Metrics) RecordSessionOpened() {
	m.sessionsOpened.Inc()
}

func (m *Metrics) RecordSessionClosed() {
	m.sessionsClosed.Inc()
}

// RecordAuthFailure counts a handshake failure ("timeout", "required", "username")
func (m *Metrics) RecordAuthFailure(reason string) {
	m.authFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordEviction() {
	m.livenessEvictions.Inc()
}

// RecordMessageReceived counts an inbound envelope by its type
func (m *Metrics) RecordMessageReceived(messageType string) {
	switch messageType {
	case protocol.TypeJoin, protocol.TypeMessage:
	default:
		messageType = "other"
	}
	m.messagesReceived.WithLabelValues(messageType).Inc()
}

func (m *Metrics) RecordMessageStored() {
	m.messagesStored.Inc()
}

// RecordBroadcast records fan-out size and duration of one broadcast
func (m *Metrics) RecordBroadcast(result BroadcastResult, duration time.Duration) {
	m.messagesBroadcast.Inc()
	m.broadcastFanout.Observe(float64(result.Delivered))
	m.broadcastDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordDeliveryFailure() {
	m.deliveryFailures.Inc()
}
