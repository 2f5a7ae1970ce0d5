// Package collyfetcher runs single HTTP exchanges through a gocolly collector.
// Each call clones a shared base collector, binds it to the caller's context
// and returns status, headers and body from that one round trip.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Timeout bounds one exchange, body included. Zero disables it.
	Timeout time.Duration
	// MaxBodyBytes caps the body read; zero means unlimited.
	MaxBodyBytes int
	// Transport overrides the default pooled transport (tests use this).
	Transport http.RoundTripper
}

// Request describes one exchange.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
}

// Response captures everything returned by one exchange.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Fetcher executes requests through Colly.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	c.IgnoreRobotsTxt = true
	c.MaxBodySize = cfg.MaxBodyBytes
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(transport)
	if cfg.Timeout > 0 {
		c.SetRequestTimeout(cfg.Timeout)
	}
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Do performs the exchange. Non-2xx statuses are returned as responses, not
// errors; only transport failures and cancellation produce an error.
func (f *Fetcher) Do(ctx context.Context, request Request) (Response, error) {
	if request.Method == "" {
		request.Method = http.MethodGet
	}
	if f.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Timeout)
		defer cancel()
	}
	var (
		result   Response
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx, start, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, request, &fetchErr); err != nil {
		return Response{}, err
	}
	if result.StatusCode == 0 {
		return Response{}, errors.New("colly returned no response")
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	start time.Time,
	result *Response,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *Response,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, request Request, fetchErr *error) error {
	done := make(chan error, 1)
	headers := cloneHeaders(request.Headers)
	go func() {
		done <- collector.Request(request.Method, request.URL, nil, nil, headers)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly %s canceled: %w", request.Method, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly %s failed: %w", request.Method, err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func cloneHeaders(h http.Header) http.Header {
	out := http.Header{}
	for key, values := range h {
		for _, v := range values {
			out.Add(key, v)
		}
	}
	return out
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
