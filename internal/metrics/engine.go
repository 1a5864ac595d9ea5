package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/safar/flycar/internal/apperr"
)

// EngineMetrics records outcomes of the quotation/reservation/sale engine.
// A nil *EngineMetrics is valid and records nothing.
type EngineMetrics struct {
	operations      *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	paymentDeclined *prometheus.CounterVec
	reconciliation  *prometheus.CounterVec
	expired         prometheus.Counter
}

// NewEngineMetrics registers the engine metrics on the provided registerer.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	if reg == nil {
		return &EngineMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flycar_operations_total",
		Help: "Engine operations by name and outcome code.",
	}, []string{"operation", "outcome"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flycar_operation_duration_seconds",
		Help:    "Duration of engine operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	paymentDeclined := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flycar_payment_declined_total",
		Help: "Charges declined or timed out at the payment gateway.",
	}, []string{"operation"})
	reconciliation := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flycar_reconciliation_events_total",
		Help: "Captured payments whose commit failed, by refund result.",
	}, []string{"operation", "refunded"})
	expired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flycar_reservations_expired_total",
		Help: "Reservations moved to VENCIDA by lazy expiry or the sweeper.",
	})
	reg.MustRegister(operations, duration, paymentDeclined, reconciliation, expired)
	return &EngineMetrics{
		operations:      operations,
		duration:        duration,
		paymentDeclined: paymentDeclined,
		reconciliation:  reconciliation,
		expired:         expired,
	}
}

// Observe records one finished operation. outcome is "ok" or an error code.
func (m *EngineMetrics) Observe(operation, outcome string, elapsed time.Duration) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
	m.duration.WithLabelValues(normalizeLabel(operation)).Observe(elapsed.Seconds())
}

// Track observes an operation that started at start and ended with err.
// Meant to be deferred with a pointer to the named error result.
func (m *EngineMetrics) Track(operation string, start time.Time, err *error) {
	outcome := "ok"
	if err != nil && *err != nil {
		outcome = string(apperr.CodeOf(*err))
	}
	m.Observe(operation, outcome, time.Since(start))
}

func (m *EngineMetrics) IncPaymentDeclined(operation string) {
	if m == nil || m.paymentDeclined == nil {
		return
	}
	m.paymentDeclined.WithLabelValues(normalizeLabel(operation)).Inc()
}

func (m *EngineMetrics) IncReconciliation(operation string, refunded bool) {
	if m == nil || m.reconciliation == nil {
		return
	}
	label := "false"
	if refunded {
		label = "true"
	}
	m.reconciliation.WithLabelValues(normalizeLabel(operation), label).Inc()
}

func (m *EngineMetrics) AddExpired(n int) {
	if m == nil || m.expired == nil || n <= 0 {
		return
	}
	m.expired.Add(float64(n))
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
