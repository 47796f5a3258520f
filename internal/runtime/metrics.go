package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EventMetrics tracks event ingestion statistics across both transports.
type EventMetrics struct {
	mu sync.Mutex

	// Prometheus collectors
	receivedTotal   *prometheus.CounterVec
	handledTotal    *prometheus.CounterVec
	failedTotal     *prometheus.CounterVec
	duplicatesTotal *prometheus.CounterVec
	dispatchSeconds *prometheus.HistogramVec

	socketReconnects prometheus.Counter
	socketFrames     *prometheus.CounterVec

	throttledTotal     *prometheus.CounterVec
	limiterWaitSeconds *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// newEventCounterVec creates a new counter vec with the standard larkflow namespace.
func newEventCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "larkflow",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// newEventHistogramVec creates a new histogram vec with the standard larkflow namespace.
func newEventHistogramVec(subsystem, name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "larkflow",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// NewEventMetrics creates the metrics collector set for one service.
func NewEventMetrics(registerer prometheus.Registerer) *EventMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &EventMetrics{
		registerer:      registerer,
		receivedTotal:   newEventCounterVec("events", "received_total", "Total number of events received, before deduplication", []string{"transport"}),
		handledTotal:    newEventCounterVec("events", "handled_total", "Total number of events dispatched to a handler successfully", []string{"event_type", "transport"}),
		failedTotal:     newEventCounterVec("events", "failed_total", "Total number of events whose handler returned an error", []string{"event_type", "transport"}),
		duplicatesTotal: newEventCounterVec("events", "duplicates_total", "Total number of redelivered events dropped by the idempotency store", []string{"transport"}),
		dispatchSeconds: newEventHistogramVec("events", "dispatch_seconds", "Time spent dispatching one event through the middleware chain and handler", []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10}, []string{"event_type"}),
		socketReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "larkflow",
			Subsystem: "socket",
			Name:      "reconnects_total",
			Help:      "Total number of persistent connection reconnect attempts",
		}),
		socketFrames:       newEventCounterVec("socket", "frames_total", "Total number of data frames received over the persistent connection", []string{"message_type"}),
		throttledTotal:     newEventCounterVec("limiter", "throttled_total", "Total number of throttled platform responses observed per endpoint", []string{"endpoint"}),
		limiterWaitSeconds: newEventHistogramVec("limiter", "wait_seconds", "Time requests waited for a rate limiter permit", []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30}, []string{"endpoint"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *EventMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.receivedTotal,
		m.handledTotal,
		m.failedTotal,
		m.duplicatesTotal,
		m.dispatchSeconds,
		m.socketReconnects,
		m.socketFrames,
		m.throttledTotal,
		m.limiterWaitSeconds,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordReceived counts one incoming event before deduplication.
func (m *EventMetrics) RecordReceived(transport string) {
	m.receivedTotal.WithLabelValues(transport).Inc()
}

// ObserveDispatch records the outcome and duration of one dispatch.
func (m *EventMetrics) ObserveDispatch(eventType, transport string, d time.Duration, err error) {
	if err != nil {
		m.failedTotal.WithLabelValues(eventType, transport).Inc()
	} else {
		m.handledTotal.WithLabelValues(eventType, transport).Inc()
	}
	m.dispatchSeconds.WithLabelValues(eventType).Observe(d.Seconds())
}

// RecordDuplicate counts one redelivered event dropped before its handler.
func (m *EventMetrics) RecordDuplicate(transport string) {
	m.duplicatesTotal.WithLabelValues(transport).Inc()
}

// RecordSocketReconnect counts one reconnect attempt of the persistent connection.
func (m *EventMetrics) RecordSocketReconnect() {
	m.socketReconnects.Inc()
}

// RecordSocketFrame counts one data frame received over the persistent connection.
func (m *EventMetrics) RecordSocketFrame(messageType string) {
	m.socketFrames.WithLabelValues(messageType).Inc()
}

// RecordThrottle counts one throttled platform response for an endpoint.
func (m *EventMetrics) RecordThrottle(endpoint string) {
	m.throttledTotal.WithLabelValues(endpoint).Inc()
}

// ObserveLimiterWait records how long a request waited for a limiter permit.
func (m *EventMetrics) ObserveLimiterWait(endpoint string, wait time.Duration) {
	m.limiterWaitSeconds.WithLabelValues(endpoint).Observe(wait.Seconds())
}
