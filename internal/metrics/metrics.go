package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Checkout holds the checkout instruments. A nil *Checkout is valid and
// records nothing, which keeps tests free of registry setup.
type Checkout struct {
	transitions    *prometheus.CounterVec
	failures       *prometheus.CounterVec
	polls          *prometheus.CounterVec
	intentRequests *prometheus.HistogramVec
	finalization   *prometheus.HistogramVec
	activeSessions prometheus.Gauge
}

func New(reg prometheus.Registerer) *Checkout {
	m := &Checkout{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bitmarket",
			Subsystem: "checkout",
			Name:      "transitions_total",
			Help:      "Checkout session state transitions.",
		}, []string{"from", "to"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bitmarket",
			Subsystem: "checkout",
			Name:      "failures_total",
			Help:      "Checkout sessions that ended FAILED, by reason.",
		}, []string{"kind"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bitmarket",
			Subsystem: "checkout",
			Name:      "settlement_polls_total",
			Help:      "Settlement status polls, by observed status.",
		}, []string{"outcome"}),
		intentRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bitmarket",
			Subsystem: "checkout",
			Name:      "intent_create_duration_seconds",
			Help:      "Payment intent creation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "outcome"}),
		finalization: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bitmarket",
			Subsystem: "checkout",
			Name:      "finalization_duration_seconds",
			Help:      "Order finalization latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bitmarket",
			Subsystem: "checkout",
			Name:      "active_sessions",
			Help:      "Checkout sessions not yet in a terminal state.",
		}),
	}
	reg.MustRegister(m.transitions, m.failures, m.polls, m.intentRequests, m.finalization, m.activeSessions)
	return m
}

func (m *Checkout) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Checkout) ObserveFailure(kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

func (m *Checkout) ObservePoll(outcome string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(outcome).Inc()
}

func (m *Checkout) ObserveIntentCreate(method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.intentRequests.WithLabelValues(method, outcome).Observe(d.Seconds())
}

func (m *Checkout) ObserveFinalization(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.finalization.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Checkout) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Checkout) SessionFinished() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
