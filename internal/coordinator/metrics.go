package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the coordinator's Prometheus collectors.
type Metrics struct {
	Logins         prometheus.Counter
	LoginFailures  prometheus.Counter
	Signups        prometheus.Counter
	Logouts        prometheus.Counter
	InitForced     prometheus.Counter
	EventsDropped  prometheus.Counter
	InitDuration   prometheus.Histogram
}

// NewMetrics registers the coordinator collectors with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Logins: factory.NewCounter(prometheus.CounterOpts{
			Name: "crew_auth_logins_total",
			Help: "Successful password logins.",
		}),
		LoginFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "crew_auth_login_failures_total",
			Help: "Rejected password logins.",
		}),
		Signups: factory.NewCounter(prometheus.CounterOpts{
			Name: "crew_auth_signups_total",
			Help: "Completed signups.",
		}),
		Logouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "crew_auth_logouts_total",
			Help: "Completed logouts.",
		}),
		InitForced: factory.NewCounter(prometheus.CounterOpts{
			Name: "crew_auth_init_forced_total",
			Help: "Initializations completed by the failsafe timer instead of a branch.",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "crew_auth_events_dropped_total",
			Help: "Provider auth events dropped before READY.",
		}),
		InitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "crew_auth_init_duration_seconds",
			Help:    "Time from Start to READY.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
