package tc

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the coordinator's Prometheus instrumentation: one
// counter/histogram per transaction-lifecycle event.
type Metrics struct {
	GlobalBegun      prometheus.Counter
	GlobalCommitted  prometheus.Counter
	GlobalRolledBack prometheus.Counter
	GlobalFailed     prometheus.Counter
	BranchRegistered *prometheus.CounterVec
	PhaseTwoLatency  *prometheus.HistogramVec
	LockConflicts    prometheus.Counter
}

// NewMetrics builds and registers the coordinator's metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		GlobalBegun: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "galaxytx_global_begun_total",
			Help: "Total number of global transactions begun.",
		}),
		GlobalCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "galaxytx_global_committed_total",
			Help: "Total number of global transactions committed.",
		}),
		GlobalRolledBack: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "galaxytx_global_rolled_back_total",
			Help: "Total number of global transactions rolled back.",
		}),
		GlobalFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "galaxytx_global_failed_total",
			Help: "Total number of global transactions whose phase two ended in CommitFailed or RollbackFailed.",
		}),
		BranchRegistered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "galaxytx_branch_registered_total",
			Help: "Total number of branches registered, by branch type.",
		}, []string{"branch_type"}),
		PhaseTwoLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "galaxytx_phase_two_latency_seconds",
			Help:    "Latency of driving one branch through phase two, by branch type and operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"branch_type", "operation"}),
		LockConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "galaxytx_lock_conflicts_total",
			Help: "Total number of global-lock acquisition conflicts.",
		}),
	}
	reg.MustRegister(m.GlobalBegun, m.GlobalCommitted, m.GlobalRolledBack, m.GlobalFailed,
		m.BranchRegistered, m.PhaseTwoLatency, m.LockConflicts)
	return m
}
