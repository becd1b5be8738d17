package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SlavesTotal is the number of slave records by lifecycle state.
	SlavesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "slaved_slaves_total",
			Help: "Total number of slave records by state",
		},
		[]string{"state"},
	)

	LaunchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slaved_launches_total",
			Help: "Total number of launch attempts by outcome",
		},
		[]string{"outcome"},
	)

	LaunchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slaved_launch_duration_seconds",
			Help:    "Time from launch request to activation handshake",
			Buckets: prometheus.DefBuckets,
		},
	)

	RelaunchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "slaved_relaunches_total",
			Help: "Total number of relaunch attempts after a retryable launcher failure",
		},
	)

	ActivateTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "slaved_activate_timeouts_total",
			Help: "Total number of activation handshakes that never arrived",
		},
	)

	DeactivationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slaved_deactivations_total",
			Help: "Total number of deactivations by reason",
		},
		[]string{"reason"},
	)

	FaultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slaved_faults_total",
			Help: "Total number of faults observed, by attribution source",
		},
		[]string{"source"},
	)

	CriticalFaultsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "slaved_critical_faults_total",
			Help: "Total number of fast-crash faults counted against a slave's critical fault budget",
		},
	)

	ReactivationsDisabledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "slaved_reactivations_disabled_total",
			Help: "Total number of slaves whose auto-reactivation was disabled after exceeding the critical fault budget",
		},
	)

	TimersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "slaved_timers_active",
			Help: "Number of currently scheduled timer handles",
		},
	)

	TimerFiresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slaved_timer_fires_total",
			Help: "Total number of timer fires by outcome (cancel, renew)",
		},
		[]string{"outcome"},
	)

	LauncherBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "slaved_launcher_breaker_state",
			Help: "Circuit breaker state per launch target (0=closed, 1=half-open, 2=open)",
		},
		[]string{"target"},
	)

	ReconcileSweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "slaved_reconcile_sweeps_total",
			Help: "Total number of instance-zero reconciliation sweeps performed",
		},
	)
)

func init() {
	prometheus.MustRegister(
		SlavesTotal,
		LaunchesTotal,
		LaunchDuration,
		RelaunchesTotal,
		ActivateTimeoutsTotal,
		DeactivationsTotal,
		FaultsTotal,
		CriticalFaultsTotal,
		ReactivationsDisabledTotal,
		TimersActive,
		TimerFiresTotal,
		LauncherBreakerState,
		ReconcileSweepsTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
