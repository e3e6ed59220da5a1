package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts cache activity of the transactions of one context.
type Metrics struct {
	// lookups counts Get calls by result: memory, backend, stale, miss
	lookups *prometheus.CounterVec
	// persisted counts rows handed to the backends
	persisted prometheus.Counter
	// scans counts range reads of the persistent backends
	scans prometheus.Counter
	// walks counts history walks started by the engine
	walks prometheus.Counter
}

// NewMetrics creates the cache metrics and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "josh_cache_lookups_total",
			Help: "Cache lookups by result",
		}, []string{"result"}),
		persisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "josh_cache_persisted_rows_total",
			Help: "Rows written to the persistent cache backends",
		}),
		scans: factory.NewCounter(prometheus.CounterOpts{
			Name: "josh_cache_window_scans_total",
			Help: "Sequence number windows read from the persistent cache backends",
		}),
		walks: factory.NewCounter(prometheus.CounterOpts{
			Name: "josh_history_walks_total",
			Help: "History walks started to fill the cache",
		}),
	}
}

const (
	resultMemory  = "memory"
	resultBackend = "backend"
	resultStale   = "stale"
	resultMiss    = "miss"
)
