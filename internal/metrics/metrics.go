package metrics

import (
	"strconv"
	"time"

	"github.com/aussiebroadwan/backoffice/pkg/httpx"
	"github.com/aussiebroadwan/backoffice/pkg/tokenmgr"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the gateway collectors. It implements tokenmgr.Observer.
type Metrics struct {
	RefreshAttemptsTotal  prometheus.Counter
	RefreshOutcomesTotal  *prometheus.CounterVec
	RefreshSkippedTotal   *prometheus.CounterVec
	RefreshCoalescedTotal prometheus.Counter
	RefreshDuration       prometheus.Histogram
	RefreshBackoff        prometheus.Histogram
	GateDecisionsTotal    *prometheus.CounterVec
	SignInsTotal          *prometheus.CounterVec
	ActiveSessions        prometheus.Gauge
}

var _ tokenmgr.Observer = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		RefreshAttemptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backoffice_token_refresh_attempts_total",
			Help: "Total number of refresh calls sent to the backend.",
		}),
		RefreshOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_token_refresh_outcomes_total",
				Help: "Outcomes of refresh calls sent to the backend.",
			},
			[]string{"outcome"},
		),
		RefreshSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_token_refresh_skipped_total",
				Help: "Refresh requests answered without a backend call.",
			},
			[]string{"outcome"},
		),
		RefreshCoalescedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backoffice_token_refresh_coalesced_total",
			Help: "Refresh requests that joined a call already in flight.",
		}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backoffice_token_refresh_duration_seconds",
			Help:    "Duration of refresh calls, including rate-limit backoff.",
			Buckets: prometheus.DefBuckets,
		}),
		RefreshBackoff: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "backoffice_token_refresh_backoff_seconds",
			Help:    "Backoff applied after the backend rate limited a refresh.",
			Buckets: []float64{1, 2, 4, 8, 16, 30},
		}),
		GateDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_expiry_gate_decisions_total",
				Help: "Page requests seen by the expiry gate by decision.",
			},
			[]string{"allow", "reason"},
		),
		SignInsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backoffice_signins_total",
				Help: "Sign-in attempts by result.",
			},
			[]string{"result"},
		),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backoffice_active_sessions",
			Help: "Sessions with a live token coordinator.",
		}),
	}

	collectors := []prometheus.Collector{
		m.RefreshAttemptsTotal,
		m.RefreshOutcomesTotal,
		m.RefreshSkippedTotal,
		m.RefreshCoalescedTotal,
		m.RefreshDuration,
		m.RefreshBackoff,
		m.GateDecisionsTotal,
		m.SignInsTotal,
		m.ActiveSessions,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) RefreshStarted() {
	m.RefreshAttemptsTotal.Inc()
}

func (m *Metrics) RefreshFinished(outcome tokenmgr.Outcome, took time.Duration) {
	m.RefreshOutcomesTotal.WithLabelValues(outcome.String()).Inc()
	m.RefreshDuration.Observe(took.Seconds())
}

func (m *Metrics) RefreshSkipped(outcome tokenmgr.Outcome) {
	m.RefreshSkippedTotal.WithLabelValues(outcome.String()).Inc()
}

func (m *Metrics) RefreshCoalesced() {
	m.RefreshCoalescedTotal.Inc()
}

func (m *Metrics) Backoff(delay time.Duration) {
	m.RefreshBackoff.Observe(delay.Seconds())
}

// ObserveGateDecision counts one expiry gate decision. It fits
// httpx.ExpiryGateConfig.OnDecision.
func (m *Metrics) ObserveGateDecision(d httpx.Decision) {
	m.GateDecisionsTotal.WithLabelValues(strconv.FormatBool(d.Allow), d.Reason).Inc()
}

// IncSignIn counts a sign-in attempt; result is "ok", "rejected" or "error".
func (m *Metrics) IncSignIn(result string) {
	m.SignInsTotal.WithLabelValues(result).Inc()
}

// SetActiveSessions records the size of the coordinator registry.
func (m *Metrics) SetActiveSessions(n int) {
	m.ActiveSessions.Set(float64(n))
}
