package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// UnknownAction is the action label recorded for actions a channel does not
// define.
const UnknownAction = "_unknown"

var (
	// Routing metrics
	envelopesRoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_envelopes_routed_total",
			Help: "Total number of envelopes routed by a space",
		},
		[]string{"space", "result"},
	)

	// Dispatch metrics
	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_dispatch_total",
			Help: "Total number of envelopes dispatched by channels",
		},
		[]string{"channel", "action", "outcome"},
	)

	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agency_dispatch_duration_seconds",
			Help:    "Time spent dispatching one envelope, handler included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	mailboxDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agency_mailbox_depth",
			Help: "Envelopes waiting in a channel mailbox",
		},
		[]string{"channel"},
	)

	// Access control metrics
	grantRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_grant_requests_total",
			Help: "Total number of grant requests sent to the hosting application",
		},
		[]string{"action", "result"},
	)

	// Transport metrics
	reconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agency_broker_reconnects_total",
			Help: "Total number of broker reconnect attempts",
		},
		[]string{"result"},
	)

	liveChannels = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agency_live_channels",
			Help: "Channels currently joined to a space",
		},
		[]string{"space"},
	)

	initOnce sync.Once
)

// InitMetrics registers the metrics with the default Prometheus registry.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			envelopesRoutedTotal,
			dispatchTotal,
			dispatchDuration,
			mailboxDepth,
			grantRequestsTotal,
			reconnectsTotal,
			liveChannels,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordRoute records the result of routing one envelope.
func RecordRoute(space, result string) {
	envelopesRoutedTotal.WithLabelValues(space, result).Inc()
}

// RecordDispatch records one pass of a channel's dispatch loop.
func RecordDispatch(channel, action, outcome string, duration time.Duration) {
	dispatchTotal.WithLabelValues(channel, action, outcome).Inc()
	dispatchDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// SetMailboxDepth sets the mailbox depth gauge for a channel
func SetMailboxDepth(channel string, depth int) {
	mailboxDepth.WithLabelValues(channel).Set(float64(depth))
}

// RecordGrantRequest records a grant decision
func RecordGrantRequest(action, result string) {
	grantRequestsTotal.WithLabelValues(action, result).Inc()
}

// RecordReconnect records a broker reconnect attempt
func RecordReconnect(result string) {
	reconnectsTotal.WithLabelValues(result).Inc()
}

// SetLiveChannels sets the number of channels joined to a space
func SetLiveChannels(space string, count int) {
	liveChannels.WithLabelValues(space).Set(float64(count))
}
