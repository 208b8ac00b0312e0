package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wizard"

var (
	pollsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "polls_started_total",
		Help:      "Analysis polling loops started",
	})
	pollsStopped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "polls_stopped_total",
		Help:      "Analysis polling loops stopped",
	})
	pollTicks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_ticks_total",
		Help:      "Analysis status checks issued by polling",
	})
	pollTickErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_tick_errors_total",
		Help:      "Analysis status checks that failed during polling",
	})
	sessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_created_total",
		Help:      "Wizard sessions created",
	})
	sessionsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_swept_total",
		Help:      "Wizard sessions evicted for inactivity",
	})

	callFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backend_call_failures_total",
		Help:      "Failed backend calls by operation",
	}, []string{"op"})
	callDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backend_call_duration_seconds",
		Help:      "Backend call duration",
		Buckets:   []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
)

// IncPollStarted counts a new analysis polling loop.
func IncPollStarted() { pollsStarted.Inc() }

// IncPollStopped counts a polling loop that ended (terminal status or cancel).
func IncPollStopped() { pollsStopped.Inc() }

// IncPollTick counts one status check issued by a polling loop.
func IncPollTick() { pollTicks.Inc() }

// IncPollTickError counts a tick whose status check failed.
func IncPollTickError() { pollTickErrors.Inc() }

// IncSessionCreated counts a new wizard session.
func IncSessionCreated() { sessionsCreated.Inc() }

// AddSessionsSwept counts sessions evicted for inactivity.
func AddSessionsSwept(n int) {
	if n > 0 {
		sessionsSwept.Add(float64(n))
	}
}

// IncCallFailure counts a failed collaborator call by operation.
func IncCallFailure(op string) { callFailures.WithLabelValues(op).Inc() }

// ObserveCallDuration records how long a collaborator call took.
func ObserveCallDuration(d time.Duration) {
	if d < 0 {
		d = 0
	}
	callDuration.Observe(d.Seconds())
}

// Handler exposes the default registry in Prometheus text format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
