// Package httpc provides the shared outbound HTTP session: pooled
// connections, bounded retries on transient statuses, default headers, and a
// per-request correlation id
package httpc

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	perr "hubgrep/internal/platform/errors"
	"hubgrep/internal/platform/logger"
	"hubgrep/internal/platform/metrics"

	"github.com/google/uuid"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultMaxRetry  = 3
	defaultRetryBase = 10 * time.Second
)

// Options configures the Client
type Options struct {
	UserAgent string

	// Authorization is the full header value ("Bearer x", "Basic y") or empty
	Authorization string

	Timeout    time.Duration
	MaxRetries int

	// RetryBase is multiplied by the attempt number for each backoff
	RetryBase time.Duration

	// Headers are merged onto every request after the defaults
	Headers map[string]string
}

// Client is a thin session over net/http with bounded transient retries.
// Statuses outside the retry set are returned to the caller unconsumed;
// classification is the caller's job
type Client struct {
	http  *http.Client
	opts  Options
	log   logger.Logger
	sleep func(time.Duration)
}

// retryable statuses per the indexer/hoster contract
func retryStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// New creates a Client with pooled transport and sane defaults
func New(o Options) *Client {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetry
	}
	if o.RetryBase <= 0 {
		o.RetryBase = defaultRetryBase
	}
	return &Client{
		http:  &http.Client{Timeout: o.Timeout},
		opts:  o,
		log:   *logger.Named("httpc"),
		sleep: time.Sleep,
	}
}

// WithSleep swaps the sleep seam; tests use this to observe backoffs
func (c *Client) WithSleep(fn func(time.Duration)) *Client {
	c.sleep = fn
	return c
}

// Get issues a GET with optional query params
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) (*http.Response, error) {
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		rawURL += sep + params.Encode()
	}
	return c.Do(ctx, http.MethodGet, rawURL, nil, "", nil)
}

// PostJSON issues a POST with a JSON body
func (c *Client) PostJSON(ctx context.Context, rawURL string, body []byte) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, rawURL, body, "application/json", nil)
}

// PutJSON issues a PUT with a JSON body
func (c *Client) PutJSON(ctx context.Context, rawURL string, body []byte) (*http.Response, error) {
	return c.Do(ctx, http.MethodPut, rawURL, body, "application/json", nil)
}

// PostForm issues a form-encoded POST, optionally with basic auth overriding
// the configured Authorization header
func (c *Client) PostForm(
	ctx context.Context,
	rawURL string,
	form url.Values,
	basicUser, basicPass string,
) (*http.Response, error) {
	hdr := http.Header{}
	if basicUser != "" {
		req := &http.Request{Header: hdr}
		req.SetBasicAuth(basicUser, basicPass)
	}
	return c.Do(ctx, http.MethodPost, rawURL, []byte(form.Encode()), "application/x-www-form-urlencoded", hdr)
}

// Do issues one request with default headers, a fresh correlation id, and
// bounded retries on {429, 500, 502, 503, 504} and transport errors.
// Beyond retry exhaustion the caller receives a transport error; any other
// status is returned as-is with an open body
func (c *Client) Do(
	ctx context.Context,
	method, rawURL string,
	body []byte,
	contentType string,
	extra http.Header,
) (*http.Response, error) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
		if err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "build %s %s", method, rawURL)
		}
		if c.opts.UserAgent != "" {
			req.Header.Set("User-Agent", c.opts.UserAgent)
		}
		if c.opts.Authorization != "" {
			req.Header.Set("Authorization", c.opts.Authorization)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("X-Request-ID", uuid.NewString())
		// adapter-specific headers merge last
		for k, vs := range c.opts.Headers {
			req.Header.Set(k, vs)
		}
		for k, vs := range extra {
			for _, v := range vs {
				req.Header.Set(k, v)
			}
		}

		start := time.Now()
		resp, err := c.http.Do(req)
		lat := time.Since(start)

		if err != nil {
			if attempt+1 >= c.opts.MaxRetries {
				return nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "%s %s failed after %d attempts",
					method, rawURL, attempt+1)
			}
			attempt++
			back := c.backoff(attempt)
			c.log.Warn().Err(err).Dur("retry_in", back).Int("attempt", attempt).
				Str("url", rawURL).Msg("transport error, retrying")
			metrics.HTTPRetries.Inc()
			c.sleep(back)
			continue
		}

		c.log.Debug().
			Str("method", method).
			Str("url", rawURL).
			Int("status", resp.StatusCode).
			Int("attempt", attempt).
			Dur("latency", lat).
			Msg("http response")

		if !retryStatus(resp.StatusCode) {
			return resp, nil
		}
		if attempt+1 >= c.opts.MaxRetries {
			drainAndClose(resp.Body)
			return nil, perr.Newf(perr.ErrorCodeUnavailable, "%s %s: status %d after %d attempts",
				method, rawURL, resp.StatusCode, attempt+1)
		}
		attempt++
		back := c.backoff(attempt)
		c.log.Warn().Int("status", resp.StatusCode).Dur("retry_in", back).Int("attempt", attempt).
			Str("url", rawURL).Msg("transient status, retrying")
		metrics.HTTPRetries.Inc()
		drainAndClose(resp.Body)
		c.sleep(back)
	}
}

// backoff grows linearly with the attempt number (base 10s by default)
func (c *Client) backoff(attempt int) time.Duration {
	return c.opts.RetryBase * time.Duration(attempt)
}

func drainAndClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, 512))
	_ = rc.Close()
}

// ReadJSON decodes up to limit bytes of resp.Body into v and closes it
func ReadJSON(resp *http.Response, limit int64, decode func([]byte) error) error {
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "read response body")
	}
	if err := decode(b); err != nil {
		return perr.Wrap(err, perr.ErrorCodeJSON, "decode response body")
	}
	return nil
}
