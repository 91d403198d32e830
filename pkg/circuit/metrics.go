package circuit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus instruments for circuit activity. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	circuitsActive   prometheus.Gauge
	circuitsOpened   prometheus.Counter
	circuitsClosed   prometheus.Counter
	interopCalls     *prometheus.CounterVec
	streamBytes      prometheus.Counter
	streamFailures   prometheus.Counter
	handlerFailures  prometheus.Counter
	fatalErrors      prometheus.Counter
	dispatchDuration prometheus.Histogram
}

// NewMetrics registers circuit metrics with reg. Pass
// prometheus.DefaultRegisterer for the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		circuitsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "circuit",
			Name:      "active",
			Help:      "Number of live circuits.",
		}),
		circuitsOpened: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "circuit",
			Name:      "opened_total",
			Help:      "Total circuits opened.",
		}),
		circuitsClosed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "circuit",
			Name:      "closed_total",
			Help:      "Total circuits disposed.",
		}),
		interopCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "circuit",
			Name:      "interop_calls_total",
			Help:      "Cross-boundary calls by result.",
		}, []string{"result"}),
		streamBytes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "circuit",
			Name:      "stream_bytes_total",
			Help:      "Bytes received through chunked stream transfers.",
		}),
		streamFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "circuit",
			Name:      "stream_failures_total",
			Help:      "Chunked transfers that failed.",
		}),
		handlerFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "circuit",
			Name:      "handler_failures_total",
			Help:      "Lifecycle handler failures.",
		}),
		fatalErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "circuit",
			Name:      "fatal_errors_total",
			Help:      "Fatal render-pipeline failures.",
		}),
		dispatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "circuit",
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of dispatched units of work.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) circuitOpened() {
	if m == nil {
		return
	}
	m.circuitsOpened.Inc()
	m.circuitsActive.Inc()
}

func (m *Metrics) circuitClosed() {
	if m == nil {
		return
	}
	m.circuitsClosed.Inc()
	m.circuitsActive.Dec()
}

func (m *Metrics) interopCall(result string) {
	if m == nil {
		return
	}
	m.interopCalls.WithLabelValues(result).Inc()
}

func (m *Metrics) streamReceived(n int) {
	if m == nil {
		return
	}
	m.streamBytes.Add(float64(n))
}

func (m *Metrics) streamFailed() {
	if m == nil {
		return
	}
	m.streamFailures.Inc()
}

func (m *Metrics) handlerFailed() {
	if m == nil {
		return
	}
	m.handlerFailures.Inc()
}

func (m *Metrics) fatalError() {
	if m == nil {
		return
	}
	m.fatalErrors.Inc()
}

func (m *Metrics) observeDispatch(d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDuration.Observe(d.Seconds())
}
