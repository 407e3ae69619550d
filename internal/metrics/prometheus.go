// internal/metrics/prometheus.go
package metrics

import (
	"context"
	"time"

	"github.com/John-MustangGT/ntripwatch/internal/database"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics
var (
	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ntripwatch_probe_duration_seconds",
			Help:    "Time spent probing casters",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"caster", "result"},
	)

	ProbeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ntripwatch_probes_total",
			Help: "Total number of probes executed",
		},
		[]string{"caster", "result"},
	)

	CasterState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ntripwatch_caster_state",
			Help: "Current classified state of casters (0=UP, 1=UNSTABLE, 2=DOWN, 3=UNKNOWN)",
		},
		[]string{"caster"},
	)

	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ntripwatch_alerts_total",
			Help: "Total number of alerts raised",
		},
		[]string{"kind"},
	)

	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ntripwatch_notification_failures_total",
			Help: "Notification deliveries that failed",
		},
		[]string{"channel"},
	)

	CycleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ntripwatch_cycle_errors_total",
			Help: "Probe cycles aborted by an error or panic",
		},
		[]string{"caster"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ntripwatch_sweep_duration_seconds",
			Help:    "Time spent on one sweep over all casters",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	ActiveCasters = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ntripwatch_active_casters_total",
			Help: "Number of casters in the registry",
		},
	)

	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ntripwatch_database_operations_total",
			Help: "Total database operations performed",
		},
		[]string{"operation", "status"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ntripwatch_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)
)

type Collector struct {
	store database.Registry
}

func NewCollector(store database.Registry) *Collector {
	return &Collector{store: store}
}

func (c *Collector) RecordProbe(caster string, success bool, duration time.Duration) {
	result := resultLabel(success)
	ProbeDuration.WithLabelValues(caster, result).Observe(duration.Seconds())
	ProbeTotal.WithLabelValues(caster, result).Inc()
}

func (c *Collector) UpdateCasterState(caster string, state database.State) {
	CasterState.WithLabelValues(caster).Set(stateValue(state))
}

func (c *Collector) RemoveCaster(caster string) {
	CasterState.DeleteLabelValues(caster)
}

func (c *Collector) RecordAlert(kind string) {
	AlertsTotal.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordNotificationFailure(channel string) {
	NotificationFailures.WithLabelValues(channel).Inc()
}

func (c *Collector) RecordCycleError(caster string) {
	CycleErrors.WithLabelValues(caster).Inc()
}

func (c *Collector) RecordSweep(duration time.Duration) {
	SweepDuration.Observe(duration.Seconds())
}

func (c *Collector) SetActiveCasters(n int) {
	ActiveCasters.Set(float64(n))
}

func (c *Collector) RecordDatabaseOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseOperations.WithLabelValues(operation, status).Inc()
}

func (c *Collector) UpdateSystemMetrics(ctx context.Context) error {
	casters, err := c.store.ListCasters(ctx)
	c.RecordDatabaseOperation("list_casters", err)
	if err != nil {
		return err
	}
	c.SetActiveCasters(len(casters))
	return nil
}

func (c *Collector) RecordWebSocketConnection(delta int) {
	WebSocketConnections.Add(float64(delta))
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func stateValue(state database.State) float64 {
	switch state {
	case database.StateUp:
		return 0
	case database.StateUnstable:
		return 1
	case database.StateDown:
		return 2
	default:
		return 3
	}
}
