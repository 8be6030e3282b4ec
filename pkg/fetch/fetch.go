// Package fetch is the HTTP primitive shared by every scraper. Requests are
// spaced by a minimum interval and retried with exponential backoff.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
	"github.com/WessleyAI/axlelore-kb/pkg/fn"
	"github.com/WessleyAI/axlelore-kb/pkg/metrics"
	"github.com/WessleyAI/axlelore-kb/pkg/resilience"
)

// DefaultUserAgent identifies the collector to site operators.
const DefaultUserAgent = "AxleLoreKB/1.0 (Educational automotive knowledge collection)"

const maxBody = 64 << 20

// ErrDisallowed is returned when robots.txt forbids the path.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// StatusError is a non-200 response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("http %d from %s", e.Code, e.URL) }

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Options configures a Client.
type Options struct {
	// Name labels logs and metrics, usually the scraper name.
	Name           string
	MinInterval    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	UserAgent      string
	Timeout        time.Duration
	RespectRobots  bool
	HTTPClient     *http.Client
	Logger         *slog.Logger
	Metrics        *metrics.Registry
}

// Client fetches URLs for one scraper. Requests from one Client never run
// closer together than MinInterval.
type Client struct {
	name    string
	http    *http.Client
	gate    *resilience.Gate
	retry   fn.RetryOpts
	ua      string
	robots  bool
	log     *slog.Logger
	metrics *metrics.Registry

	robotsMu    sync.Mutex
	robotsCache map[string]*robotstxt.RobotsData
}

// New creates a Client. Zero options get the collector defaults: three
// attempts, 2s initial backoff, 30s timeout.
func New(opts Options) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 2 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Name == "" {
		opts.Name = "fetch"
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	c := &Client{
		name:        opts.Name,
		http:        hc,
		gate:        resilience.NewGate(opts.MinInterval),
		ua:          opts.UserAgent,
		robots:      opts.RespectRobots,
		log:         opts.Logger.With("scraper", opts.Name),
		metrics:     opts.Metrics,
		robotsCache: make(map[string]*robotstxt.RobotsData),
	}
	c.retry = fn.RetryOpts{
		MaxAttempts: opts.MaxAttempts,
		InitialWait: opts.InitialBackoff,
		MaxWait:     time.Minute,
		OnRetry: func(attempt int, err error) {
			c.metrics.Fetch(c.name, "retry")
			c.log.Debug("fetch retry", "attempt", attempt, "error", err)
		},
	}
	return c
}

// Get fetches url and returns the body as text.
func (c *Client) Get(ctx context.Context, rawURL string) fn.Result[string] {
	return fn.MapResult(c.GetBytes(ctx, rawURL), func(b []byte) string { return string(b) })
}

// GetBytes fetches url and returns the body.
func (c *Client) GetBytes(ctx context.Context, rawURL string) fn.Result[[]byte] {
	r := fn.Retry(ctx, c.retry, func(ctx context.Context) fn.Result[[]byte] {
		resp, err := c.attempt(ctx, rawURL, nil)
		if err != nil {
			return fn.Err[[]byte](err)
		}
		defer resp.Body.Close()
		return fn.FromPair(io.ReadAll(io.LimitReader(resp.Body, maxBody)))
	})
	return settle(c, rawURL, r)
}

// GetJSON fetches url and decodes the body into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, v any) error {
	body, err := c.GetBytes(ctx, rawURL).Unwrap()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}

// Open issues a GET with extra headers and returns the open response for
// streaming. Any 2xx status is accepted; the caller closes the body.
func (c *Client) Open(ctx context.Context, rawURL string, header http.Header) fn.Result[*http.Response] {
	r := fn.Retry(ctx, c.retry, func(ctx context.Context) fn.Result[*http.Response] {
		return fn.FromPair(c.attempt(ctx, rawURL, header))
	})
	return settle(c, rawURL, r)
}

// settle records the final outcome and wraps exhausted failures in
// domain.ErrFetchFailed. Cancellation passes through unwrapped.
func settle[T any](c *Client, rawURL string, r fn.Result[T]) fn.Result[T] {
	err := r.Error()
	switch {
	case err == nil:
		c.metrics.Fetch(c.name, "ok")
		return r
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return r
	case errors.Is(err, ErrDisallowed):
		c.metrics.Fetch(c.name, "disallowed")
	default:
		c.metrics.Fetch(c.name, "failed")
	}
	return fn.Err[T](fmt.Errorf("%w: %s: %w", domain.ErrFetchFailed, rawURL, err))
}

// attempt performs one gated request. Non-retryable failures are marked
// permanent so fn.Retry stops early.
func (c *Client) attempt(ctx context.Context, rawURL string, header http.Header) (*http.Response, error) {
	if c.robots && !c.Allowed(ctx, rawURL) {
		return nil, fn.Permanent(ErrDisallowed)
	}
	if err := c.gate.Wait(ctx); err != nil {
		return nil, fn.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fn.Permanent(err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", c.ua)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fn.Permanent(ctx.Err())
		}
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		se := &StatusError{URL: rawURL, Code: resp.StatusCode}
		if se.Retryable() {
			return nil, se
		}
		return nil, fn.Permanent(se)
	}
	return resp, nil
}

// Allowed reports whether robots.txt for the URL's host permits the path.
// A missing or unreadable robots.txt allows everything.
func (c *Client) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)

	c.robotsMu.Lock()
	data, seen := c.robotsCache[robotsURL]
	c.robotsMu.Unlock()
	if !seen {
		data = c.fetchRobots(ctx, robotsURL)
		c.robotsMu.Lock()
		c.robotsCache[robotsURL] = data
		c.robotsMu.Unlock()
	}
	if data == nil {
		return true
	}
	path := u.EscapedPath()
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.FindGroup(c.ua).Test(path)
}

func (c *Client) fetchRobots(ctx context.Context, robotsURL string) *robotstxt.RobotsData {
	if err := c.gate.Wait(ctx); err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", c.ua)
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug("robots.txt unavailable", "url", robotsURL, "error", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		c.log.Warn("robots.txt unparsable", "url", robotsURL, "error", err)
		return nil
	}
	return data
}
