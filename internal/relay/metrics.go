package relay

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/you/chat-relay/internal/core"
)

// Metrics bundles Prometheus collectors for the relay pipeline.
type Metrics struct {
	eventsTotal     *prometheus.CounterVec
	deliveriesTotal *prometheus.CounterVec
	deliveryErrors  *prometheus.CounterVec
	archiveErrors   prometheus.Counter
	sessionEnds     *prometheus.CounterVec
}

// NewMetrics registers the relay collectors on reg. A nil *Metrics is a
// valid no-op receiver everywhere.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "events_total",
			Help:      "Normalized chat events seen per kind",
		}, []string{"kind"}),
		deliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "deliveries_total",
			Help:      "Rendered messages delivered per destination",
		}, []string{"destination"}),
		deliveryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "delivery_errors_total",
			Help:      "Destination send failures per destination",
		}, []string{"destination"}),
		archiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "archive_errors_total",
			Help:      "Archive write failures",
		}),
		sessionEnds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "session_ends_total",
			Help:      "Session terminations per reason",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.eventsTotal,
		m.deliveriesTotal,
		m.deliveryErrors,
		m.archiveErrors,
		m.sessionEnds,
	)
	return m
}

// RegisterSessionGauge exposes the live session count as a gauge backed by
// the supplied counter function.
func RegisterSessionGauge(reg prometheus.Registerer, count func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "relay",
		Name:      "sessions_active",
		Help:      "Currently running chat sessions",
	}, func() float64 { return float64(count()) }))
}

func (m *Metrics) IncEvent(kind core.EventKind) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) IncDelivery(destination string) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(destination).Inc()
}

func (m *Metrics) IncDeliveryError(destination string) {
	if m == nil {
		return
	}
	m.deliveryErrors.WithLabelValues(destination).Inc()
}

func (m *Metrics) IncArchiveError() {
	if m == nil {
		return
	}
	m.archiveErrors.Inc()
}

func (m *Metrics) IncSessionEnd(reason core.EndReason) {
	if m == nil {
		return
	}
	m.sessionEnds.WithLabelValues(string(reason)).Inc()
}
