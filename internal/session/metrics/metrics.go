package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for session bookkeeping.
type Metrics struct {
	SessionsRegistered prometheus.Counter
	SessionsEvicted    prometheus.Counter
	SessionsExpired    prometheus.Counter
	RegisterFailures   prometheus.Counter
	ActiveSessions     prometheus.Gauge
}

// New registers and returns session metrics collectors.
func New() *Metrics {
	return &Metrics{
		SessionsRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crew_sessions_registered_total",
			Help: "Total number of sessions registered",
		}),
		SessionsEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crew_sessions_evicted_total",
			Help: "Total number of sessions deactivated by the concurrent-session policy",
		}),
		SessionsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crew_sessions_expired_total",
			Help: "Total number of expired sessions removed by cleanup",
		}),
		RegisterFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "crew_session_register_failures_total",
			Help: "Total number of swallowed session registration failures",
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "crew_active_sessions",
			Help: "Current number of active tracked sessions",
		}),
	}
}
