package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"gpt-subscription-orchestrator/internal/domain/model"
)

func init() {
	register(
		sweepDurationSeconds,
		sweepProcessedTotal,
		subscriptionsTotal,
		subscriptionsReconciledTotal,
	)
}

var (
	sweepDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Wall time of one full sweep run.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
	)

	sweepProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_processed_total",
			Help: "Subscriptions processed by sweep runs, by outcome.",
		},
		[]string{"outcome"}, // 'succeeded', 'failed', 'skipped'
	)

	subscriptionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subscriptions_total",
			Help: "Current number of subscriptions by status.",
		},
		[]string{"status"},
	)

	subscriptionsReconciledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_reconciled_total",
			Help: "Subscriptions whose status was corrected by reconciliation.",
		},
	)
)

func ObserveSweep(d time.Duration, succeeded, failed, skipped int) {
	sweepDurationSeconds.Observe(d.Seconds())
	sweepProcessedTotal.WithLabelValues("succeeded").Add(float64(succeeded))
	sweepProcessedTotal.WithLabelValues("failed").Add(float64(failed))
	sweepProcessedTotal.WithLabelValues("skipped").Add(float64(skipped))
}

func SetSubscriptionsTotal(counts map[model.SubscriptionStatus]int) {
	statuses := []model.SubscriptionStatus{
		model.SubscriptionStatusActive,
		model.SubscriptionStatusCompleted,
		model.SubscriptionStatusExpired,
	}
	for _, status := range statuses {
		subscriptionsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func IncSubscriptionsReconciled(n int) {
	subscriptionsReconciledTotal.Add(float64(n))
}
