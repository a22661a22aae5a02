package metrics

import "github.com/prometheus/client_golang/prometheus"

var ValidationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "keygate_validations_total",
		Help: "Total key validation attempts by outcome reason code",
	},
	[]string{"outcome"},
)

var UsageEntriesWritten = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "keygate_usage_entries_written_total",
		Help: "Usage log entries persisted",
	},
)

var UsageEntriesSkipped = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "keygate_usage_entries_skipped_total",
		Help: "Usage log entries skipped because the owner disabled logging",
	},
)

var UsageEntriesDropped = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "keygate_usage_entries_dropped_total",
		Help: "Usage recording tasks dropped by the async worker",
	},
)

var Rollovers = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "keygate_monthly_rollovers_total",
		Help: "Monthly usage counter rollovers performed",
	},
)

var LookupCacheHits = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "keygate_lookup_cache_hits_total",
		Help: "Digest lookups served from the cache",
	},
)

var LookupCacheMisses = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "keygate_lookup_cache_misses_total",
		Help: "Digest lookups that fell through to the store",
	},
)

var registered = false

// Register installs all collectors on the default registry. Safe to call
// once per process; tests that never scrape skip it entirely.
func Register() {
	if registered {
		return
	}
	registered = true
	prometheus.MustRegister(
		ValidationsTotal,
		UsageEntriesWritten,
		UsageEntriesSkipped,
		UsageEntriesDropped,
		Rollovers,
		LookupCacheHits,
		LookupCacheMisses,
	)
}
