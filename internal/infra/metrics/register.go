package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Each file in this package declares its collectors and enqueues them from
// init(); nothing touches the default registry until main opts in.
var (
	once       sync.Once
	collectors []prometheus.Collector
)

func register(cs ...prometheus.Collector) {
	collectors = append(collectors, cs...)
}

// MustRegister installs every enqueued collector. Safe to call more than
// once; only the first call registers.
func MustRegister() {
	once.Do(func() {
		if len(collectors) > 0 {
			prometheus.MustRegister(collectors...)
		}
	})
}
