package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for consent operations.
type Metrics struct {
	Operations        *prometheus.CounterVec
	StatusTransitions *prometheus.CounterVec
	HistoryRows       *prometheus.CounterVec
	TokenRevocations  *prometheus.CounterVec
	ConsentsExpired   prometheus.Counter

	// Performance metrics
	OperationLatency *prometheus.HistogramVec
	MappingsPerBind  prometheus.Histogram
}

// New registers consent collectors with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers consent collectors with reg.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "consentmgr_consent_operations_total",
			Help: "Total number of orchestrator operations, labeled by operation and outcome",
		}, []string{"operation", "outcome"}),
		StatusTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "consentmgr_consent_status_transitions_total",
			Help: "Total number of audited consent status transitions, labeled by new status",
		}, []string{"status"}),
		HistoryRows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "consentmgr_consent_history_rows_total",
			Help: "Total number of amendment history rows written, labeled by reason",
		}, []string{"reason"}),
		TokenRevocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "consentmgr_consent_token_revocations_total",
			Help: "Total number of token revocation hook calls, labeled by outcome",
		}, []string{"outcome"}),
		ConsentsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "consentmgr_consents_expired_total",
			Help: "Total number of consents moved to the expired status by the sweep",
		}),

		OperationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "consentmgr_consent_operation_latency_seconds",
			Help:    "Latency of orchestrator operations including the transaction, in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"operation"}),
		MappingsPerBind: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "consentmgr_consent_mappings_per_bind",
			Help:    "Distribution of account mappings created per bind or reauthorization",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
	}
}

// ObserveOperation records an operation's outcome and latency.
func (m *Metrics) ObserveOperation(operation string, err error, durationSeconds float64) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
	m.OperationLatency.WithLabelValues(operation).Observe(durationSeconds)
}

func (m *Metrics) IncrementStatusTransition(status string) {
	m.StatusTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) AddHistoryRows(reason string, rows int) {
	if rows > 0 {
		m.HistoryRows.WithLabelValues(reason).Add(float64(rows))
	}
}

func (m *Metrics) IncrementTokenRevocation(err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.TokenRevocations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementConsentsExpired(count int) {
	m.ConsentsExpired.Add(float64(count))
}

func (m *Metrics) ObserveMappingsPerBind(count int) {
	m.MappingsPerBind.Observe(float64(count))
}
