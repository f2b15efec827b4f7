package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	authDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "easyauth",
		Name:      "auth_decisions_total",
		Help:      "Authorization subrequest decisions by outcome.",
	}, []string{"outcome"})

	signins = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "easyauth",
		Name:      "signins_total",
		Help:      "Completed sign-in callbacks by result.",
	}, []string{"result"})

	challenges = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "easyauth",
		Name:      "challenges_total",
		Help:      "Sign-in challenges redirected to the identity provider.",
	})
)
