package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsIdempotentPerRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	first.ObserveRateLimitDelay("cdms.example", 250*time.Millisecond)
	second.ObserveRateLimitDelay("cdms.example", time.Second)

	assert.Equal(t, 1, testutil.CollectAndCount(first.rateLimitDelaysSeconds))
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "vamdc_rate_limit_delays_seconds" {
			require.Len(t, mf.GetMetric(), 1)
			assert.Equal(t, uint64(2), mf.GetMetric()[0].GetHistogram().GetSampleCount())
			return
		}
	}
	t.Fatal("rate limit histogram not gathered")
}

func TestNewRejectsConflictingCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "vamdc_http_requests_total",
		Help: "conflicting type",
	}))
	_, err := New(reg)
	require.ErrorContains(t, err, "register collector")
}

func TestObserveHTTPRequest(t *testing.T) {
	t.Parallel()

	c, err := New(prometheus.NewRegistry())
	require.NoError(t, err)
	c.ObserveHTTPRequest("POST", "/v1/lines", 200, 40*time.Millisecond)
	c.ObserveHTTPRequest("POST", "/v1/lines", 502, time.Second)

	assert.InDelta(t, 1, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "200")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("POST", "502")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(c.httpRequestDurationSeconds))
}
