package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Connections
	// ============================================
	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "powrelay_active_connections",
			Help: "Number of open websocket connections",
		},
		[]string{"role"},
	)

	ConnectionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powrelay_connections_closed_total",
			Help: "Connections closed by the server, by role and close reason",
		},
		[]string{"role", "reason"},
	)

	// ============================================
	// Worker dispatch
	// ============================================
	JobsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "powrelay_jobs_dispatched_total",
		Help: "Jobs sent to worker connections",
	})

	JobsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "powrelay_jobs_suppressed_total",
		Help: "Jobs withheld from a worker because a higher height was already sent",
	})

	SolutionsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "powrelay_solutions_submitted_total",
		Help: "Solutions received from workers and queued for persistence",
	})

	// ============================================
	// Node delivery
	// ============================================
	JobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "powrelay_jobs_submitted_total",
		Help: "Jobs received from node connections and queued for persistence",
	})

	SolutionsForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "powrelay_solutions_forwarded_total",
		Help: "Solutions delivered to node connections",
	})

	SolutionsIgnored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "powrelay_solutions_ignored_total",
		Help: "Solution announcements a node connection was not waiting for",
	})

	// ============================================
	// Persistence
	// ============================================
	EntitiesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powrelay_entities_stored_total",
			Help: "Entities persisted by the processors, by kind and outcome",
		},
		[]string{"entity", "outcome"},
	)

	MarkStoredRaces = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powrelay_mark_stored_races_total",
			Help: "Announcements whose forwarding flag had already been set by another consumer",
		},
		[]string{"entity"},
	)

	SolutionsUnknownJob = promauto.NewCounter(prometheus.CounterOpts{
		Name: "powrelay_solutions_unknown_job_total",
		Help: "Solutions dropped because their task id matched no stored job",
	})
)

const (
	RoleNode   = "node"
	RoleWorker = "worker"

	EntityJob      = "job"
	EntitySolution = "solution"

	OutcomeNew       = "new"
	OutcomeDuplicate = "duplicate"
)
