package upgrade

import "github.com/prometheus/client_golang/prometheus"

var (
	workflowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panupgrade_workflows_total",
			Help: "Upgrade workflows by terminal outcome.",
		},
		[]string{"outcome"},
	)
	phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "panupgrade_phase_duration_seconds",
			Help:    "Duration of upgrade workflow phases.",
			Buckets: []float64{0.1, 1, 5, 30, 60, 300, 900, 1800, 3600},
		},
		[]string{"phase"},
	)
	downloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panupgrade_downloads_total",
			Help: "Software image provisioning results.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(workflowsTotal)
	prometheus.MustRegister(phaseDuration)
	prometheus.MustRegister(downloadsTotal)
}
