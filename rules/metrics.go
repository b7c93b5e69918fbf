package rules

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records lifecycle outcomes. A nil *Metrics records nothing.
type Metrics struct {
	Operations         *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	RemoteCalls        *prometheus.CounterVec
	DerivationFailures prometheus.Counter
	DeployedRules      prometheus.Gauge
}

// NewMetrics creates the lifecycle metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "businessrules",
				Subsystem: "lifecycle",
				Name:      "operations_total",
				Help:      "Total number of lifecycle operations by outcome",
			},
			[]string{"operation", "outcome"},
		),

		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "businessrules",
				Subsystem: "lifecycle",
				Name:      "operation_duration_seconds",
				Help:      "Lifecycle operation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		RemoteCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "businessrules",
				Subsystem: "remote",
				Name:      "calls_total",
				Help:      "Total number of deploy, update and undeploy calls by outcome",
			},
			[]string{"call", "outcome"},
		),

		DerivationFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "businessrules",
				Subsystem: "derivation",
				Name:      "failures_total",
				Help:      "Total number of derivations that produced no deployable artifact",
			},
		),

		DeployedRules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "businessrules",
				Subsystem: "lifecycle",
				Name:      "deployed_rules",
				Help:      "Number of stored business rules whose artifacts are all deployed",
			},
		),
	}

	for _, c := range []prometheus.Collector{
		m.Operations, m.OperationDuration, m.RemoteCalls, m.DerivationFailures, m.DeployedRules,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeOperation(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) remoteCall(call string, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.RemoteCalls.WithLabelValues(call, outcome).Inc()
}

func (m *Metrics) derivationFailed() {
	if m == nil {
		return
	}
	m.DerivationFailures.Inc()
}

func (m *Metrics) setDeployed(n int) {
	if m == nil {
		return
	}
	m.DeployedRules.Set(float64(n))
}
