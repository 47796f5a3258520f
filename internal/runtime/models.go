package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	errspkg "github.com/drblury/larkflow/internal/runtime/errors"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// UnprocessableEventError wraps payloads that failed validation or unmarshalling.
type UnprocessableEventError struct {
	eventMessage string
	err          error
}

func (e *UnprocessableEventError) Error() string {
	return "unprocessable event: " + e.eventMessage + " error: " + e.err.Error()
}

func (e *UnprocessableEventError) Unwrap() error { return e.err }

type HandlerStats struct {
	mu sync.Mutex `json:"-"`

	handlerName string `json:"-"`
	eventType   string `json:"-"`

	EventsHandled       uint64    `json:"events_handled"`
	EventsFailed        uint64    `json:"events_failed"`
	TotalProcessingTime int64     `json:"total_processing_time_ns"`
	LastHandledAt       time.Time `json:"last_handled_at"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`
	Resource   ResourceUsage     `json:"resource"`
	InFlight   InFlightMetrics   `json:"in_flight"`

	latencyWindow    *latencyWindow    `json:"-"`
	throughputWindow *throughputWindow `json:"-"`
	resourceSampler  *resourceTracker  `json:"-"`
}

type HandlerInfo struct {
	Name      string        `json:"name"`
	EventType string        `json:"event_type"`
	Stats     *HandlerStats `json:"stats"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentEPS     float64 `json:"current_eps"`
	WindowSeconds  float64 `json:"window_seconds"`
	EventsInWindow uint64  `json:"events_in_window"`
	TotalEvents    uint64  `json:"total_events"`
}

type ErrorBreakdown struct {
	Validation uint64 `json:"validation"`
	Transport  uint64 `json:"transport"`
	Downstream uint64 `json:"downstream"`
	Other      uint64 `json:"other"`
	LastError  string `json:"last_error,omitempty"`
}

type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

type InFlightMetrics struct {
	Current uint64 `json:"current"`
	Max     uint64 `json:"max"`
}

type ErrorCategory string

const (
	ErrorCategoryNone       ErrorCategory = "none"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryTransport  ErrorCategory = "transport"
	ErrorCategoryDownstream ErrorCategory = "downstream"
	ErrorCategoryOther      ErrorCategory = "other"
)

type ErrorClassifier func(error) ErrorCategory

func newHandlerStats(name, eventType string, sampler *resourceTracker) *HandlerStats {
	return &HandlerStats{
		handlerName:      name,
		eventType:        eventType,
		resourceSampler:  sampler,
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
	}
}

func (h *HandlerStats) onEventStart() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.InFlight.Current++
	if h.InFlight.Current > h.InFlight.Max {
		h.InFlight.Max = h.InFlight.Current
	}
}

func (h *HandlerStats) onEventFinish(duration time.Duration, err error, classifier ErrorClassifier) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.InFlight.Current > 0 {
		h.InFlight.Current--
	}

	h.EventsHandled++
	if err != nil {
		h.EventsFailed++
	}
	h.TotalProcessingTime += int64(duration)
	h.LastHandledAt = time.Now().UTC()

	if h.latencyWindow != nil {
		h.latencyWindow.Add(duration)
		snapshot := h.latencyWindow.Snapshot()
		snapshot.LastNs = int64(duration)
		if h.EventsHandled > 0 {
			snapshot.AverageNs = h.TotalProcessingTime / int64(h.EventsHandled)
		}
		h.Latency = snapshot
	}

	if h.throughputWindow != nil {
		snapshot := h.throughputWindow.AddAndSnapshot(time.Now())
		h.Throughput.CurrentEPS = snapshot.CurrentEPS
		h.Throughput.WindowSeconds = snapshot.WindowSeconds
		h.Throughput.EventsInWindow = uint64(snapshot.Count)
	}
	h.Throughput.TotalEvents = h.EventsHandled

	if classifier == nil {
		classifier = defaultErrorClassifier
	}
	category := classifier(err)
	h.Errors.Record(category, err)

	if h.resourceSampler != nil {
		h.Resource = h.resourceSampler.Snapshot()
	}
}

func (h *HandlerStats) MarshalJSON() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	type Alias HandlerStats
	return json.Marshal((*Alias)(h))
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Other++
	case ErrorCategoryValidation:
		e.Validation++
	case ErrorCategoryTransport:
		e.Transport++
	case ErrorCategoryDownstream:
		e.Downstream++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	if lw == nil || len(lw.samples) == 0 {
		return
	}
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	var metrics LatencyMetrics
	if lw == nil {
		return metrics
	}
	if lw.filled == 0 {
		metrics.LastNs = lw.last
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.AverageNs = sum / int64(len(samples))
	metrics.LastNs = lw.last
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentEPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{
		horizon: horizon,
		samples: make([]time.Time, 0, 64),
	}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	if tw == nil {
		return throughputSnapshot{}
	}
	tw.samples = append(tw.samples, now)
	tw.cleanup(now)
	return tw.snapshot(now)
}

func (tw *throughputWindow) cleanup(now time.Time) {
	if tw == nil || len(tw.samples) == 0 {
		return
	}
	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		copy(tw.samples, tw.samples[idx:])
		tw.samples = tw.samples[:len(tw.samples)-idx]
	}
}

func (tw *throughputWindow) snapshot(now time.Time) throughputSnapshot {
	if tw == nil || len(tw.samples) == 0 {
		return throughputSnapshot{}
	}
	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	count := len(tw.samples)
	return throughputSnapshot{
		Count:         count,
		WindowSeconds: span.Seconds(),
		CurrentEPS:    float64(count) / span.Seconds(),
	}
}

func defaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	var unprocessable *UnprocessableEventError
	if errors.As(err, &unprocessable) {
		return ErrorCategoryValidation
	}
	if errors.Is(err, errspkg.ErrCallbackResult) {
		return ErrorCategoryValidation
	}
	if errors.Is(err, errspkg.ErrFrame) || errors.Is(err, errspkg.ErrConnClosed) {
		return ErrorCategoryTransport
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryDownstream
	}
	return ErrorCategoryOther
}
