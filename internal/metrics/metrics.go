// ABOUTME: Prometheus instrumentation for the sync engine
// ABOUTME: All methods are nil-safe so components run uninstrumented in tests

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chatsync"

// Metrics holds the engine's collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	connectAttempts   *prometheus.CounterVec
	reconnects        prometheus.Counter
	connectionState   *prometheus.GaugeVec
	subscriptions     prometheus.Gauge
	duplicatesDropped prometheus.Counter
	ingested          *prometheus.CounterVec
	sendFailures      *prometheus.CounterVec
	statusUpdates     *prometheus.CounterVec
	bestEffortErrors  *prometheus.CounterVec
	unreadBadge       prometheus.Gauge
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		connectAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Broker connect attempts by result.",
		}, []string{"result"}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Successful automatic reconnects after session loss.",
		}),
		connectionState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
		subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions",
			Help:      "Live broker subscriptions held by the registry.",
		}),
		duplicatesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_dropped_total",
			Help:      "Authoritative messages dropped because their id was already seen.",
		}),
		ingested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_ingested_total",
			Help:      "Authoritative messages ingested by outcome (appended, reconciled).",
		}, []string{"outcome"}),
		sendFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Rolled back optimistic sends by error kind.",
		}, []string{"kind"}),
		statusUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_updates_total",
			Help:      "Status updates by outcome (applied, stale, unknown).",
		}, []string{"outcome"}),
		bestEffortErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "best_effort_errors_total",
			Help:      "Swallowed fire-and-forget failures by kind.",
		}, []string{"kind"}),
		unreadBadge: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unread_badge",
			Help:      "Unread count currently shown on the badge.",
		}),
	}
}

// ConnectAttempt records the result of a connect attempt.
func (m *Metrics) ConnectAttempt(result string) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(result).Inc()
}

// Reconnected records a successful automatic reconnect.
func (m *Metrics) Reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// SetConnectionState flips the state gauge to current.
func (m *Metrics) SetConnectionState(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.connectionState.WithLabelValues(s).Set(v)
	}
}

// SetSubscriptions records the number of live subscriptions.
func (m *Metrics) SetSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}

// DuplicateDropped records a dropped redelivery.
func (m *Metrics) DuplicateDropped() {
	if m == nil {
		return
	}
	m.duplicatesDropped.Inc()
}

// Ingested records an accepted authoritative message.
func (m *Metrics) Ingested(outcome string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(outcome).Inc()
}

// SendFailed records a rolled back send.
func (m *Metrics) SendFailed(kind string) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(kind).Inc()
}

// StatusUpdate records the outcome of a status update.
func (m *Metrics) StatusUpdate(outcome string) {
	if m == nil {
		return
	}
	m.statusUpdates.WithLabelValues(outcome).Inc()
}

// BestEffortFailed records a swallowed side-effect failure.
func (m *Metrics) BestEffortFailed(kind string) {
	if m == nil {
		return
	}
	m.bestEffortErrors.WithLabelValues(kind).Inc()
}

// SetUnreadBadge records the displayed unread count.
func (m *Metrics) SetUnreadBadge(n int) {
	if m == nil {
		return
	}
	m.unreadBadge.Set(float64(n))
}
