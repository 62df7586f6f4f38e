// Package fetch implements the session-authenticated, rate-limited HTTP
// client every other component issues requests through. It is built on the
// Colly collector and layers retry with jittered exponential backoff on top
// of the shared rate gate.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/redarc/redarc/internal/archive"
	"github.com/redarc/redarc/internal/ratelimit"
)

// Config controls client behavior. Cookie carries the opaque session
// credential; the client passes it verbatim on every request and never
// attempts to refresh it.
type Config struct {
	CookieName     string
	Cookie         string
	UserAgent      string
	Timeout        time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Client is safe for concurrent use by many workers; all requests serialize
// through the shared gate before hitting the wire.
type Client struct {
	cfg           Config
	gate          *ratelimit.Gate
	base          *colly.Collector
	backoff       backoffPolicy
	logger        *zap.Logger
	unauthStreak  atomic.Int64
	totalRequests atomic.Int64
}

// New builds a Client sharing one transport across all fetches.
func New(cfg Config, gate *ratelimit.Gate, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)

	return &Client{
		cfg:  cfg,
		gate: gate,
		base: c,
		backoff: backoffPolicy{
			base: cfg.BackoffInitial,
			max:  cfg.BackoffMax,
		},
		logger: logger,
	}
}

// ApplyOverrides retunes the client for one run's request overrides. Zero
// values leave the corresponding setting untouched. Not safe while fetches
// are in flight; the orchestrator applies it before dispatching workers.
func (c *Client) ApplyOverrides(o archive.Overrides) {
	if o.Delay > 0 {
		c.gate.SetDelay(o.Delay)
	}
	if o.Timeout > 0 {
		c.cfg.Timeout = o.Timeout
		c.base.SetRequestTimeout(o.Timeout)
	}
	if o.MaxRetries > 0 {
		c.cfg.MaxRetries = o.MaxRetries
	}
}

// ConsecutiveUnauthorized reports how many 401/403 responses arrived since
// the last successful fetch. The orchestrator escalates once this crosses
// its configured threshold.
func (c *Client) ConsecutiveUnauthorized() int {
	return int(c.unauthStreak.Load())
}

// Fetch issues one authenticated GET, retrying transient failures up to the
// configured maximum. On the final failed attempt it returns an
// *archive.FetchError carrying the kind and attempt count.
func (c *Client) Fetch(ctx context.Context, url string, headers http.Header) ([]byte, error) {
	maxAttempts := c.cfg.MaxRetries + 1
	var last *archive.FetchError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.gate.Wait(ctx); err != nil {
			return nil, &archive.FetchError{
				Kind: archive.FetchTimeout, URL: url, Attempts: attempt, Err: err,
			}
		}
		c.totalRequests.Add(1)
		body, ferr := c.fetchOnce(ctx, url, headers)
		if ferr == nil {
			c.unauthStreak.Store(0)
			return body, nil
		}
		ferr.Attempts = attempt
		last = ferr
		if !retriable(ferr) {
			break
		}
		if attempt < maxAttempts {
			c.logger.Debug("fetch attempt failed, backing off",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.String("kind", string(ferr.Kind)),
				zap.Error(ferr.Err),
			)
			if err := sleep(ctx, c.backoff.delay(attempt)); err != nil {
				break
			}
		}
	}
	if last.Kind == archive.FetchUnauthorized {
		c.unauthStreak.Add(1)
	}
	c.logger.Warn("fetch failed",
		zap.String("url", url),
		zap.String("kind", string(last.Kind)),
		zap.Int("attempts", last.Attempts),
	)
	return nil, last
}

func (c *Client) fetchOnce(ctx context.Context, url string, headers http.Header) ([]byte, *archive.FetchError) {
	collector := c.base.Clone()

	var (
		body       []byte
		statusCode int
		visitErr   error
	)
	collector.OnRequest(func(r *colly.Request) {
		if c.cfg.Cookie != "" {
			r.Headers.Set("Cookie", fmt.Sprintf("%s=%s", c.cfg.CookieName, c.cfg.Cookie))
		}
		for key, values := range headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		statusCode = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			statusCode = r.StatusCode
		}
		visitErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, &archive.FetchError{
			Kind: archive.FetchTimeout, URL: url, Err: ctx.Err(),
		}
	case err := <-done:
		if err == nil && visitErr == nil {
			return body, nil
		}
		if visitErr != nil {
			err = visitErr
		}
		return nil, c.classify(url, statusCode, err)
	}
}

func (c *Client) classify(url string, statusCode int, err error) *archive.FetchError {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &archive.FetchError{
			Kind: archive.FetchUnauthorized, URL: url, StatusCode: statusCode, Err: err,
		}
	case statusCode >= 400:
		return &archive.FetchError{
			Kind: archive.FetchHTTPStatus, URL: url, StatusCode: statusCode, Err: err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &archive.FetchError{Kind: archive.FetchTimeout, URL: url, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &archive.FetchError{Kind: archive.FetchTimeout, URL: url, Err: err}
	}
	return &archive.FetchError{Kind: archive.FetchNetwork, URL: url, Err: err}
}

// retriable reports whether another attempt could help. Unauthorized and
// non-5xx status failures fail fast.
func retriable(e *archive.FetchError) bool {
	switch e.Kind {
	case archive.FetchUnauthorized:
		return false
	case archive.FetchHTTPStatus:
		return e.StatusCode >= 500
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
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
		IdleConnTimeout:       90 * time.Second,
	}
}
