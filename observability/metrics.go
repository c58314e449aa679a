package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricPrefix namespaces every metric the service exports
const MetricPrefix = "betledger"

// Result label values
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Lock trigger label values
const (
	TriggerExpiry   = "expiry"
	TriggerExplicit = "explicit"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	BetsCreated         prometheus.Counter
	BetsLocked          *prometheus.CounterVec
	Stakes              *prometheus.CounterVec
	StakeCompensations  *prometheus.CounterVec
	Settlements         prometheus.Counter
	Payouts             *prometheus.CounterVec
	ExpiringNotices     prometheus.Counter
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BetsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: MetricPrefix,
			Name:      "bets_created_total",
			Help:      "Bets created.",
		}),
		BetsLocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricPrefix,
			Name:      "bets_locked_total",
			Help:      "Bets moved from open to locked, by trigger.",
		}, []string{"trigger"}),
		Stakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricPrefix,
			Name:      "stakes_total",
			Help:      "Stake attempts, by result kind.",
		}, []string{"result"}),
		StakeCompensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricPrefix,
			Name:      "stake_compensations_total",
			Help:      "Compensating credits issued after a stake could not be recorded.",
		}, []string{"result"}),
		Settlements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: MetricPrefix,
			Name:      "settlements_total",
			Help:      "Bets resolved.",
		}),
		Payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricPrefix,
			Name:      "payouts_total",
			Help:      "Winner credit attempts, by result.",
		}, []string{"result"}),
		ExpiringNotices: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: MetricPrefix,
			Name:      "expiring_notices_total",
			Help:      "bet.expiring events emitted.",
		}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricPrefix,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route pattern and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}

	reg.MustRegister(
		m.BetsCreated,
		m.BetsLocked,
		m.Stakes,
		m.StakeCompensations,
		m.Settlements,
		m.Payouts,
		m.ExpiringNotices,
		m.HTTPRequestDuration,
	)
	return m
}

func (m *Metrics) BetCreated() {
	if m == nil {
		return
	}
	m.BetsCreated.Inc()
}

func (m *Metrics) BetLocked(trigger string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BetsLocked.WithLabelValues(trigger).Add(float64(n))
}

func (m *Metrics) StakeResult(result string) {
	if m == nil {
		return
	}
	m.Stakes.WithLabelValues(result).Inc()
}

func (m *Metrics) Compensation(result string) {
	if m == nil {
		return
	}
	m.StakeCompensations.WithLabelValues(result).Inc()
}

func (m *Metrics) Settled() {
	if m == nil {
		return
	}
	m.Settlements.Inc()
}

func (m *Metrics) Payout(result string) {
	if m == nil {
		return
	}
	m.Payouts.WithLabelValues(result).Inc()
}

func (m *Metrics) ExpiringNotice(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ExpiringNotices.Add(float64(n))
}

func (m *Metrics) ObserveHTTP(route, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.WithLabelValues(route, status).Observe(elapsed.Seconds())
}
