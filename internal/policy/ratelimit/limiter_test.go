package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterWaitPacesSameHost(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		delays []string
	)
	l := New(Config{
		RPS:   10, // one token every 100ms
		Burst: 1,
		OnDelay: func(host string, _ time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			delays = append(delays, host)
		},
	})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://cdms.example/tap/sync?x=1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://cdms.example/tap/sync?x=2"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"cdms.example"}, delays)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example/tap/"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example/tap/"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestLimiterUnlimitedAndCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://a.example/"))
	}

	slow := New(Config{RPS: 0.001, Burst: 1})
	require.NoError(t, slow.Wait(context.Background(), "https://a.example/"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, slow.Wait(ctx, "https://a.example/"))

	var nilLimiter *Limiter
	require.NoError(t, nilLimiter.Wait(context.Background(), "https://a.example/"))
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "vald.example", HostOf("http://vald.example:8080/tap/"))
	require.Equal(t, "unknown", HostOf("::not a url"))
}
