package monitoring

import (
	"time"

	"chatfabric/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	logicalClock    prometheus.Gauge

	broadcastEvents    *prometheus.CounterVec
	broadcastDelivered prometheus.Counter
	broadcastDropped   prometheus.Counter
	eventEndpoints     prometheus.Gauge

	auditDropped prometheus.Counter
	auditFailed  prometheus.Counter

	connectionsActive *prometheus.GaugeVec
	rateLimited       *prometheus.CounterVec
}

// NewPrometheusCollector registers the chatfabric metrics on reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		commandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatfabric_commands_total",
			Help: "Processed commands by command name and status",
		}, []string{"command", "status"}),

		commandDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chatfabric_command_duration_seconds",
			Help:    "Time spent processing a command",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"command"}),

		logicalClock: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatfabric_logical_clock",
			Help: "Last logical clock value attached to a response",
		}),

		broadcastEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatfabric_broadcast_events_total",
			Help: "Broadcast events emitted by kind (channel or private)",
		}, []string{"kind"}),

		broadcastDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatfabric_broadcast_delivered_total",
			Help: "Events handed to event endpoints",
		}),

		broadcastDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatfabric_broadcast_dropped_total",
			Help: "Events lost because an endpoint queue was full",
		}),

		eventEndpoints: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chatfabric_event_endpoints",
			Help: "Endpoints attached to the fan-out hub",
		}),

		auditDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatfabric_audit_dropped_total",
			Help: "Audit entries dropped because the buffer was full",
		}),

		auditFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatfabric_audit_failed_total",
			Help: "Audit entries lost to writer errors",
		}),

		connectionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chatfabric_connections_active",
			Help: "Open websocket connections by channel kind",
		}, []string{"kind"}),

		rateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chatfabric_rate_limited_total",
			Help: "Requests rejected by rate limiting",
		}, []string{"surface"}),
	}
}

func (p *PrometheusCollector) RecordCommand(command string, status domain.Status, duration time.Duration) {
	p.commandsTotal.WithLabelValues(command, string(status)).Inc()
	p.commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordClock(value int64) {
	p.logicalClock.Set(float64(value))
}

func (p *PrometheusCollector) RecordBroadcast(kind string) {
	p.broadcastEvents.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) RecordDelivered(topic string) {
	p.broadcastDelivered.Inc()
}

// RecordDropped ignores topic to keep label cardinality bounded.
func (p *PrometheusCollector) RecordDropped(topic string) {
	p.broadcastDropped.Inc()
}

func (p *PrometheusCollector) SetEndpoints(count int) {
	p.eventEndpoints.Set(float64(count))
}

func (p *PrometheusCollector) RecordAuditDropped() {
	p.auditDropped.Inc()
}

func (p *PrometheusCollector) RecordAuditFailed(entries int) {
	p.auditFailed.Add(float64(entries))
}

func (p *PrometheusCollector) ConnectionOpened(kind string) {
	p.connectionsActive.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) ConnectionClosed(kind string) {
	p.connectionsActive.WithLabelValues(kind).Dec()
}

func (p *PrometheusCollector) RecordRateLimited(surface string) {
	p.rateLimited.WithLabelValues(surface).Inc()
}
