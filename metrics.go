package httpsession

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FailureKind is the failure class of an Outcome.
type FailureKind string

// Failure kinds. FailureCanceled marks calls abandoned by the caller; no
// metric counts them.
const (
	FailureNone        FailureKind = ""
	FailureTimeout     FailureKind = "timeout"
	FailureConnection  FailureKind = "connection"
	FailureCircuitOpen FailureKind = "circuit_open"
	FailureCanceled    FailureKind = "canceled"
)

// CacheResult says how the cache took part in a call.
type CacheResult string

const (
	CacheBypass CacheResult = "bypass"
	CacheHit    CacheResult = "hit"
	CacheMiss   CacheResult = "miss"
)

// Outcome describes one completed call. StatusCode is 0 when no response
// was received.
type Outcome struct {
	Domain     string
	StatusCode int
	Elapsed    time.Duration
	Failure    FailureKind
	Cache      CacheResult
	CacheError bool
	Retries    int
}

// Recorder receives an Outcome for every call made through a Session.
type Recorder interface {
	Record(Outcome)
}

// BreakerStateRecorder is implemented by recorders that also track circuit
// breaker transitions.
type BreakerStateRecorder interface {
	RecordCircuitBreakerState(name string, state CircuitState)
}

// NoopRecorder discards outcomes.
type NoopRecorder struct{}

// Record implements Recorder.
func (NoopRecorder) Record(Outcome) {}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(Outcome)

// Record implements Recorder.
func (f RecorderFunc) Record(o Outcome) { f(o) }

// LatencyBuckets are the histogram buckets of feed_latency_seconds.
var LatencyBuckets = []float64{0.25, 0.5, 0.75, 1, 2, 3}

// MetricsCollector exports outcomes as Prometheus metrics labelled by
// destination domain. A nil *MetricsCollector records nothing.
type MetricsCollector struct {
	timeouts           *prometheus.CounterVec
	connectionFailures *prometheus.CounterVec
	latency            *prometheus.HistogramVec
	circuitOpen        *prometheus.CounterVec
	cacheHits          *prometheus.CounterVec
	cacheMisses        *prometheus.CounterVec
	cacheErrors        *prometheus.CounterVec
	retries            *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
}

// NewMetricsCollector registers the session metrics on registry, or on the
// default registerer when registry is nil. Collectors that are already
// registered, for example by another session, are reused. A conflicting
// collector under one of the metric names is an error.
func NewMetricsCollector(registry prometheus.Registerer) (*MetricsCollector, error) {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	r := &registrar{registry: registry}

	mc := &MetricsCollector{
		timeouts: register(r, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_timeouts_total",
				Help: "A counter of timed out requests",
			},
			[]string{"domain"},
		)),
		connectionFailures: register(r, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_connection_failures_total",
				Help: "A counter of requests which failed to connect",
			},
			[]string{"domain"},
		)),
		latency: register(r, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feed_latency_seconds",
				Help:    "Feed requests retrieved",
				Buckets: LatencyBuckets,
			},
			[]string{"domain", "code"},
		)),
		circuitOpen: register(r, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_circuit_open_total",
				Help: "A counter of requests rejected by an open circuit breaker",
			},
			[]string{"domain"},
		)),
		cacheHits: register(r, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_cache_hits_total",
				Help: "A counter of requests served from the cache",
			},
			[]string{"domain"},
		)),
		cacheMisses: register(r, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_cache_misses_total",
				Help: "A counter of cacheable requests not found in the cache",
			},
			[]string{"domain"},
		)),
		cacheErrors: register(r, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_cache_errors_total",
				Help: "A counter of cache backend failures",
			},
			[]string{"domain"},
		)),
		retries: register(r, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feed_retries_total",
				Help: "A counter of retried requests",
			},
			[]string{"domain"},
		)),
		breakerState: register(r, prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "feed_circuit_breaker_state",
				Help: "Current state of circuit breaker (0=closed, 1=open, 2=half-open)",
			},
			[]string{"name"},
		)),
	}
	if r.err != nil {
		return nil, r.err
	}
	return mc, nil
}

// registrar keeps the first registration failure.
type registrar struct {
	registry prometheus.Registerer
	err      error
}

func register[C prometheus.Collector](r *registrar, c C) C {
	if r.err != nil {
		return c
	}
	if err := r.registry.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		r.err = fmt.Errorf("httpsession: registering metrics: %w", err)
	}
	return c
}

// Record implements Recorder. Latency is observed only for calls that
// produced a response.
func (mc *MetricsCollector) Record(o Outcome) {
	if mc == nil {
		return
	}

	switch o.Failure {
	case FailureTimeout:
		mc.timeouts.WithLabelValues(o.Domain).Inc()
	case FailureConnection:
		mc.connectionFailures.WithLabelValues(o.Domain).Inc()
	case FailureCircuitOpen:
		mc.circuitOpen.WithLabelValues(o.Domain).Inc()
	case FailureNone:
		mc.latency.WithLabelValues(o.Domain, strconv.Itoa(o.StatusCode)).Observe(o.Elapsed.Seconds())
	}

	switch o.Cache {
	case CacheHit:
		mc.cacheHits.WithLabelValues(o.Domain).Inc()
	case CacheMiss:
		mc.cacheMisses.WithLabelValues(o.Domain).Inc()
	}
	if o.CacheError {
		mc.cacheErrors.WithLabelValues(o.Domain).Inc()
	}
	if o.Retries > 0 {
		mc.retries.WithLabelValues(o.Domain).Add(float64(o.Retries))
	}
}

// RecordCircuitBreakerState sets the breaker state gauge.
func (mc *MetricsCollector) RecordCircuitBreakerState(name string, state CircuitState) {
	if mc == nil {
		return
	}

	var value float64
	switch state {
	case StateClosed:
		value = 0
	case StateOpen:
		value = 1
	case StateHalfOpen:
		value = 2
	}
	mc.breakerState.WithLabelValues(name).Set(value)
}
