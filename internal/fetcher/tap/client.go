// Package tap talks to VAMDC TAP nodes. Probe issues a HEAD request and reads
// only the VAMDC-* headers; Fetch issues a GET and returns headers and the
// XSAMS body from that same exchange.
package tap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/vamdc-lines/internal/fetcher/colly"
	"github.com/JakeFAU/vamdc-lines/internal/vamdc"
)

// DefaultUserAgent keeps nodes from notifying the query store about our calls.
const DefaultUserAgent = "VAMDC Query store"

// Doer performs one HTTP exchange.
type Doer interface {
	Do(ctx context.Context, request collyfetcher.Request) (collyfetcher.Response, error)
}

// Waiter paces calls per node.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls the client.
type Config struct {
	UserAgent string
	// ProbeTimeout bounds one HEAD call. Zero disables it.
	ProbeTimeout time.Duration
}

// Client implements vamdc.Prober and vamdc.Fetcher.
type Client struct {
	http    Doer
	limiter Waiter
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Client. limiter may be nil.
func New(cfg Config, doer Doer, limiter Waiter, logger *zap.Logger) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{http: doer, limiter: limiter, cfg: cfg, logger: logger}
}

// Probe issues the metadata-only call for d.
func (c *Client) Probe(ctx context.Context, d vamdc.QueryDescriptor) (vamdc.SubQueryResult, error) {
	if c.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ProbeTimeout)
		defer cancel()
	}
	resp, err := c.call(ctx, http.MethodHead, d)
	if err != nil {
		return vamdc.SubQueryResult{}, err
	}
	c.logger.Debug("probe answered",
		zap.String("descriptor", d.String()),
		zap.Int("status", resp.StatusCode),
		zap.Bool("truncated", resp.Truncated),
	)
	return vamdc.SubQueryResult{
		Descriptor: d,
		Counters:   resp.Counters,
		Truncated:  resp.Truncated,
		Token:      resp.Token,
		StatusCode: resp.StatusCode,
		Duration:   resp.Duration,
	}, nil
}

// Fetch issues the full call for d.
func (c *Client) Fetch(ctx context.Context, d vamdc.QueryDescriptor) (vamdc.FetchResponse, error) {
	resp, err := c.call(ctx, http.MethodGet, d)
	if err != nil {
		return vamdc.FetchResponse{}, err
	}
	if len(resp.Body) == 0 {
		return vamdc.FetchResponse{}, fmt.Errorf("%s: %w", d, vamdc.ErrNoData)
	}
	return resp, nil
}

func (c *Client) call(ctx context.Context, method string, d vamdc.QueryDescriptor) (vamdc.FetchResponse, error) {
	target, err := BuildQueryURL(d)
	if err != nil {
		return vamdc.FetchResponse{}, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, target); err != nil {
			return vamdc.FetchResponse{}, err
		}
	}
	resp, err := c.http.Do(ctx, collyfetcher.Request{
		Method:  method,
		URL:     target,
		Headers: http.Header{"User-Agent": {c.cfg.UserAgent}},
	})
	if err != nil {
		return vamdc.FetchResponse{}, fmt.Errorf("%s %s: %w", method, d, err)
	}
	switch {
	case resp.StatusCode == http.StatusNoContent:
		return vamdc.FetchResponse{}, fmt.Errorf("%s: %w", d, vamdc.ErrNoData)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return vamdc.FetchResponse{}, &StatusError{Code: resp.StatusCode, Descriptor: d.String()}
	}
	counters, truncated, token := ParseHeaders(resp.Headers)
	return vamdc.FetchResponse{
		StatusCode: resp.StatusCode,
		Counters:   counters,
		Truncated:  truncated,
		Token:      token,
		Body:       resp.Body,
		Duration:   resp.Duration,
	}, nil
}

// StatusError reports a non-2xx node answer.
type StatusError struct {
	Code       int
	Descriptor string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: node answered %d %s", e.Descriptor, e.Code, http.StatusText(e.Code))
}

// BuildQuery renders the VSS2 query for d.
func BuildQuery(d vamdc.QueryDescriptor) string {
	lowerOp, upperOp := ">=", "<"
	if d.MinOpen {
		lowerOp = ">"
	}
	if d.MaxClosed {
		upperOp = "<="
	}
	return fmt.Sprintf(
		"select * where (RadTransWavelength %s %s AND RadTransWavelength %s %s) AND ((InchiKey = '%s'))",
		lowerOp, formatBound(d.LambdaMin),
		upperOp, formatBound(d.LambdaMax),
		strings.ReplaceAll(d.SpeciesID, "'", ""),
	)
}

// BuildQueryURL appends the sync endpoint and query parameters to the node address.
func BuildQueryURL(d vamdc.QueryDescriptor) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	base, err := url.Parse(d.NodeAddress)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("invalid node address %q", d.NodeAddress)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	base.Path += "sync"
	q := url.Values{}
	q.Set("LANG", "VSS2")
	q.Set("REQUEST", "doQuery")
	q.Set("FORMAT", "XSAMS")
	q.Set("QUERY", BuildQuery(d))
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// ParseHeaders extracts finite numeric VAMDC-* counters, the truncation flag
// and the request token.
func ParseHeaders(h http.Header) (vamdc.Counters, bool, string) {
	counters := vamdc.Counters{}
	for name, values := range h {
		upper := strings.ToUpper(name)
		if !strings.HasPrefix(upper, "VAMDC-") || len(values) == 0 {
			continue
		}
		if upper == vamdc.HeaderRequestToken {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimSpace(values[0]), "%")
		if v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil && isFinite(v) {
			counters[upper] = v
		}
	}
	truncated := ParseTruncation(h.Get(vamdc.HeaderTruncated))
	return counters, truncated, strings.TrimSpace(h.Get(vamdc.HeaderRequestToken))
}

// ParseTruncation interprets VAMDC-TRUNCATED. An absent header or a value of
// 100 (percent returned) means complete; a lower or non-finite percentage,
// "true", or any other unrecognized value means truncated.
func ParseTruncation(raw string) bool {
	raw = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "%"))
	if raw == "" {
		return false
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		return !isFinite(v) || v < 100
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return true
}

// IsNoData reports whether err means the node had nothing for the descriptor.
func IsNoData(err error) bool {
	return errors.Is(err, vamdc.ErrNoData)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
