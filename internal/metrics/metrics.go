package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counts instrument load operations by operation and result.
	LoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instrument_loads_total",
			Help: "Total number of instrument load operations (by operation and result).",
		},
		[]string{"venue", "operation", "result"}, // operation = initialize | load_all | load_ids | load; result = ok | error
	)

	// Measures duration of load operations.
	LoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "instrument_load_duration_seconds",
			Help:    "Duration of instrument load operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms → ~40s
		},
		[]string{"venue", "operation"},
	)

	// Number of instruments currently held per venue.
	InstrumentsCached = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "instruments_cached",
			Help: "Number of instruments currently held in the provider cache.",
		},
		[]string{"venue"},
	)

	// Callers that joined an in-flight initialization instead of starting one.
	InitializeWaiters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instrument_initialize_waiters_total",
			Help: "Number of initialize calls that waited on an in-flight load.",
		},
		[]string{"venue"},
	)

	// Currency lookups by where they were answered.
	CurrencyLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "currency_lookups_total",
			Help: "Currency lookups by source.",
		},
		[]string{"source"}, // local | registry | miss
	)

	// Outbound venue HTTP requests.
	VenueRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venue_api_requests_total",
			Help: "Total number of venue API requests made (by venue and status).",
		},
		[]string{"venue", "status"},
	)

	VenueRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "venue_api_request_duration_seconds",
			Help:    "Duration of venue API requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms → ~16s
		},
		[]string{"venue"},
	)

	// Instrument definitions written to the snapshot store because their hash changed.
	StoreChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "instrument_store_changes_total",
			Help: "Instrument definitions written because their content hash changed.",
		},
		[]string{"venue"},
	)

	// Tracks NATS messages published by subject and result.
	NATSMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_total",
			Help: "Total number of NATS messages published.",
		},
		[]string{"subject", "result"}, // result = "ok" | "error"
	)

	NATSMessageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nats_message_latency_seconds",
			Help:    "Time taken to publish NATS messages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)

	// Tracks total errors (aggregated).
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_errors_total",
			Help: "Count of errors by component.",
		},
		[]string{"component", "reason"},
	)
)

// ObserveDuration records the time since start on the given histogram.
func ObserveDuration(v interface{}, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	default:
		// counters are not meant for duration tracking
	}
}

func IncLoad(venue, operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	LoadsTotal.WithLabelValues(venue, operation, result).Inc()
}

func SetCached(venue string, n int) {
	InstrumentsCached.WithLabelValues(venue).Set(float64(n))
}

func IncWaiter(venue string) {
	InitializeWaiters.WithLabelValues(venue).Inc()
}

func IncCurrencyLookup(source string) {
	CurrencyLookups.WithLabelValues(source).Inc()
}

func IncVenueRequest(venue, status string) {
	VenueRequestsTotal.WithLabelValues(venue, status).Inc()
}

func AddStoreChanges(venue string, n int) {
	StoreChanges.WithLabelValues(venue).Add(float64(n))
}

func IncNATSMessage(subject, result string) {
	NATSMessageCount.WithLabelValues(subject, result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}
