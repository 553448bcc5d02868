package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(sessionChecksTotal)
}

var sessionChecksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "session_checks_total",
		Help: "Session validity checks by resulting status.",
	},
	[]string{"status"},
)

func IncSessionChecks(status string) {
	sessionChecksTotal.WithLabelValues(status).Inc()
}
