// Package metrics exposes Prometheus collectors for the HTTP API and the
// per-node rate limiter.
package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors holds the service-level collectors. Request, probe and fetch
// metrics live in the progress Prometheus sink.
type Collectors struct {
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
}

// New registers the collectors with reg. Registering twice against the same
// registry reuses the existing collectors.
func New(reg prometheus.Registerer) (*Collectors, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collectors{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vamdc_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		),
		httpRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vamdc_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		),
		rateLimitDelaysSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vamdc_rate_limit_delays_seconds",
				Help:    "Histogram of per-node rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"node"},
		),
	}

	var err error
	if c.httpRequestsTotal, err = register(reg, c.httpRequestsTotal); err != nil {
		return nil, err
	}
	if c.httpRequestDurationSeconds, err = register(reg, c.httpRequestDurationSeconds); err != nil {
		return nil, err
	}
	if c.rateLimitDelaysSeconds, err = register(reg, c.rateLimitDelaysSeconds); err != nil {
		return nil, err
	}
	return c, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

// ObserveHTTPRequest records one served request.
func (c *Collectors) ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	c.httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the time a call waited for its node's limiter.
func (c *Collectors) ObserveRateLimitDelay(node string, duration time.Duration) {
	c.rateLimitDelaysSeconds.WithLabelValues(node).Observe(duration.Seconds())
}
