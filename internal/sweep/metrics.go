package sweep

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the Prometheus collectors updated by a Controller.
type Metrics struct {
	// Trials counts trials by terminal status.
	Trials *prometheus.CounterVec
	// Suggestions counts issued trials.
	Suggestions prometheus.Counter
	// Reports counts accepted metric reports.
	Reports prometheus.Counter
	// Running is the number of trials currently in flight.
	Running prometheus.Gauge
	// Best holds the best final metric value observed so far.
	Best prometheus.Gauge
}

// NewMetrics creates the sweep collectors and registers them with reg when
// it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Trials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sweepctl_trials_total",
			Help: "Total number of completed trials per terminal status",
		}, []string{"status"}),
		Suggestions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sweepctl_suggestions_total",
			Help: "Total number of parameter assignments handed out",
		}),
		Reports: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sweepctl_reports_total",
			Help: "Total number of intermediate metric reports accepted",
		}),
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sweepctl_running_trials",
			Help: "Number of trials currently running",
		}),
		Best: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sweepctl_best_metric_value",
			Help: "Best final metric value observed in the sweep",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Trials, m.Suggestions, m.Reports, m.Running, m.Best)
	}
	return m
}
