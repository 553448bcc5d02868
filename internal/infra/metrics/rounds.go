package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(roundsTotal)
}

var roundsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "activation_rounds_total",
		Help: "Activation rounds by terminal result.",
	},
	// 'success', 'rejected', 'ambiguous', 'no_key', 'no_session', 'session_expired'
	[]string{"result"},
)

func IncRounds(result string) {
	roundsTotal.WithLabelValues(result).Inc()
}
