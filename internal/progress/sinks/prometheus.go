package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/vamdc-lines/internal/progress"
)

// PrometheusSink exports query engine progress as Prometheus collectors:
// request lifecycle, per-node probe and fetch counts, splits, and accepted
// truncations.
type PrometheusSink struct {
	requestsStarted   prometheus.Counter
	requestsCompleted *prometheus.CounterVec
	requestsRunning   prometheus.Gauge
	requestRuntime    *prometheus.HistogramVec

	probes        *prometheus.CounterVec
	splits        *prometheus.CounterVec
	truncations   *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchRows     *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	running *inflight
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		requestsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vamdc_requests_started_total",
			Help: "Line requests that have started.",
		}),
		requestsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vamdc_requests_completed_total",
			Help: "Line requests completed partitioned by result.",
		}, []string{"result"}),
		requestsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vamdc_requests_running",
			Help: "Line requests currently in flight.",
		}),
		requestRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vamdc_request_runtime_seconds",
			Help:    "Wall time per completed line request.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vamdc_probes_total",
			Help: "HEAD probes issued per node.",
		}, []string{"node"}),
		splits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vamdc_splits_total",
			Help: "Truncated descriptors bisected per node.",
		}, []string{"node"}),
		truncations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vamdc_truncation_accepted_total",
			Help: "Descriptors dispatched with truncation accepted after reaching a split bound.",
		}, []string{"node"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vamdc_fetches_total",
			Help: "Sub-query fetches partitioned by node and outcome.",
		}, []string{"node", "status_class"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vamdc_fetch_bytes_total",
			Help: "XSAMS bytes downloaded per node.",
		}, []string{"node"}),
		fetchRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vamdc_fetch_rows_total",
			Help: "Radiative transitions extracted per node.",
		}, []string{"node"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vamdc_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by node and status class.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		}, []string{"node", "status_class"}),
		running: &inflight{ids: make(map[[16]byte]struct{})},
	}
	for _, collector := range []prometheus.Collector{
		s.requestsStarted,
		s.requestsCompleted,
		s.requestsRunning,
		s.requestRuntime,
		s.probes,
		s.splits,
		s.truncations,
		s.fetches,
		s.fetchBytes,
		s.fetchRows,
		s.fetchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		node := evt.Node
		if node == "" {
			node = "unknown"
		}
		switch evt.Stage {
		case progress.StageRequestStart:
			s.requestsStarted.Inc()
			if s.running.add(evt.RequestID) {
				s.requestsRunning.Inc()
			}
		case progress.StageRequestDone:
			s.finish(evt, "success")
		case progress.StageRequestError:
			s.finish(evt, "error")
		case progress.StageProbeDone:
			s.probes.WithLabelValues(node).Inc()
		case progress.StageSplit:
			s.splits.WithLabelValues(node).Inc()
		case progress.StageTruncated:
			s.truncations.WithLabelValues(node).Inc()
		case progress.StageFetchDone, progress.StageFetchError:
			s.observeFetch(node, evt)
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.requestsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.requestRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.running.remove(evt.RequestID) {
		s.requestsRunning.Dec()
	}
}

func (s *PrometheusSink) observeFetch(node string, evt progress.Event) {
	class := string(evt.StatusClass)
	if class == "" {
		class = string(progress.StatusOther)
	}
	s.fetches.WithLabelValues(node, class).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(node).Add(float64(evt.Bytes))
	}
	if evt.Rows > 0 {
		s.fetchRows.WithLabelValues(node).Add(float64(evt.Rows))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(node, class).Observe(evt.Dur.Seconds())
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type inflight struct {
	mu  sync.Mutex
	ids map[[16]byte]struct{}
}

func (f *inflight) add(id [16]byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ids[id]; ok {
		return false
	}
	f.ids[id] = struct{}{}
	return true
}

func (f *inflight) remove(id [16]byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ids[id]; !ok {
		return false
	}
	delete(f.ids, id)
	return true
}
