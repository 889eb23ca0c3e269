package nudge

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the prompt subsystem.
type Metrics struct {
	PromptChecksTotal *prometheus.CounterVec
	DismissalsTotal   *prometheus.CounterVec
	StoreErrorsTotal  *prometheus.CounterVec
	NotifyErrorsTotal prometheus.Counter
	SelectDuration    prometheus.Histogram
}

// NewMetrics registers and returns prompt metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PromptChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nudge_prompt_checks_total",
			Help: "Total prompt checks by gate verdict.",
		}, []string{"verdict"}),
		DismissalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nudge_dismissals_total",
			Help: "Total persisted dismissals by reason.",
		}, []string{"reason"}),
		StoreErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nudge_store_errors_total",
			Help: "Total store failures by operation.",
		}, []string{"op"}),
		NotifyErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nudge_notify_errors_total",
			Help: "Total failed dismissal notifications.",
		}),
		SelectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nudge_select_duration_seconds",
			Help:    "Time to select a trigger from the built catalog.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8), // 10us .. ~160ms
		}),
	}

	reg.MustRegister(
		m.PromptChecksTotal,
		m.DismissalsTotal,
		m.StoreErrorsTotal,
		m.NotifyErrorsTotal,
		m.SelectDuration,
	)

	return m
}

func (m *Metrics) observeVerdict(v Verdict) {
	if m == nil {
		return
	}
	m.PromptChecksTotal.WithLabelValues(string(v)).Inc()
}

func (m *Metrics) observeDismissal(r Reason) {
	if m == nil {
		return
	}
	m.DismissalsTotal.WithLabelValues(r.label()).Inc()
}

func (m *Metrics) observeStoreError(op string) {
	if m == nil {
		return
	}
	m.StoreErrorsTotal.WithLabelValues(op).Inc()
}

func (m *Metrics) observeNotifyError() {
	if m == nil {
		return
	}
	m.NotifyErrorsTotal.Inc()
}

func (m *Metrics) observeSelect(seconds float64) {
	if m == nil {
		return
	}
	m.SelectDuration.Observe(seconds)
}
