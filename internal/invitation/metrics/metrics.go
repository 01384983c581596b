// Package metrics defines Prometheus collectors for the invitation lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the invitation collectors.
type Metrics struct {
	Created        prometheus.Counter
	Validations    *prometheus.CounterVec
	Accepted       prometheus.Counter
	AcceptFailures prometheus.Counter
	MailFailures   prometheus.Counter
}

// New registers the invitation collectors with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Created: factory.NewCounter(prometheus.CounterOpts{
			Name: "crew_invitations_created_total",
			Help: "Invitations created.",
		}),
		Validations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crew_invitation_validations_total",
			Help: "Invitation token validations by outcome.",
		}, []string{"outcome"}),
		Accepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "crew_invitations_accepted_total",
			Help: "Invitations accepted.",
		}),
		AcceptFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "crew_invitation_accept_failures_total",
			Help: "Invitation accept attempts that failed after signup.",
		}),
		MailFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "crew_invitation_mail_failures_total",
			Help: "Invitation emails that could not be delivered.",
		}),
	}
}
