// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)

	LedgerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Credit ledger operations by kind and result",
		},
		[]string{"operation", "result"},
	)

	LedgerConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_version_conflicts_total",
			Help: "Optimistic write conflicts observed by the credit ledger",
		},
		[]string{"operation"},
	)

	PlacementTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placement_transitions_total",
			Help: "Placement status transitions",
		},
		[]string{"from", "to"},
	)

	PlacementCompensations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "placement_compensations_total",
			Help: "Compensating actions run after a failed placement step",
		},
		[]string{"step"},
	)

	EscrowSweepActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_sweep_actions_total",
			Help: "Actions taken on escrow entries past their horizon",
		},
		[]string{"policy"},
	)

	TrialTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "placement_trial_timeouts_total",
			Help: "Trials closed by the sweep with no outcome reported",
		},
	)

	ReconcileMismatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_reconcile_mismatches_total",
			Help: "Agencies whose reserved credits differ from the escrowed total",
		},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_notifications_total",
			Help: "Agency notifications by type, channel and result",
		},
		[]string{"type", "channel", "result"},
	)
)
