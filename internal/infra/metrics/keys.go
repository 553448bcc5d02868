package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		keysAvailable,
		keysConsumedTotal,
		keysImportedTotal,
		keyPoolExhaustedTotal,
	)
}

var (
	keysAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "activation_keys_available",
			Help: "Current number of available activation keys in the pool.",
		},
	)

	keysConsumedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "activation_keys_consumed_total",
			Help: "Total number of activation keys consumed by successful rounds.",
		},
	)

	keysImportedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "activation_keys_imported_total",
			Help: "Total number of activation keys imported into the pool.",
		},
	)

	keyPoolExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "activation_key_pool_exhausted_total",
			Help: "Times an allocation found the key pool empty.",
		},
	)
)

func SetKeysAvailable(n int) { keysAvailable.Set(float64(n)) }
func IncKeysConsumed()       { keysConsumedTotal.Inc() }
func IncKeysImported(n int)  { keysImportedTotal.Add(float64(n)) }
func IncKeyPoolExhausted()   { keyPoolExhaustedTotal.Inc() }
