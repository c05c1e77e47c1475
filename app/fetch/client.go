// Package fetch issues outbound GET requests through the URL safety
// validator, re-validating every redirect hop before following it.
package fetch

import (
	"cmp"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/lysyi3m/trustfetch/app/metrics"
	"github.com/lysyi3m/trustfetch/app/safety"
)

const (
	DefaultTimeout      = 15 * time.Second
	DefaultMaxBodyBytes = 5 << 20
	DefaultUserAgent    = "trustfetch/1.0 (+https://github.com/lysyi3m/trustfetch)"
)

var ErrTimeout = errors.New("request timed out")

// StatusError is returned by Fetch when the final response is not 2xx.
type StatusError struct {
	URL    string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error: %s from %s", e.Status, e.URL)
}

// Headers that must not follow a redirect to a different host.
var sensitiveHeaders = []string{"Authorization", "Cookie", "Proxy-Authorization"}

type RequestOptions struct {
	Accept   string
	Timeout  time.Duration
	Header   http.Header
	// MaxBytes overrides the client body cap for Fetch.
	MaxBytes int64
}

type Client struct {
	validator *safety.Validator
	http      *http.Client
	dialer    safety.ContextDialer
	limiter   *hostLimiter
	userAgent string
	timeout   time.Duration
	maxBody   int64
}

type Option func(*Client)

// WithDialer replaces the network dialer underneath the pinning dialer.
func WithDialer(d safety.ContextDialer) Option {
	return func(c *Client) { c.dialer = d }
}

func WithUserAgent(userAgent string) Option {
	return func(c *Client) { c.userAgent = userAgent }
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.timeout = timeout }
}

func WithMaxBodyBytes(n int64) Option {
	return func(c *Client) { c.maxBody = n }
}

// WithHostRateInterval enforces a minimum spacing between requests to the
// same host. Zero disables it.
func WithHostRateInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.limiter = newHostLimiter(interval)
		} else {
			c.limiter = nil
		}
	}
}

func NewClient(validator *safety.Validator, opts ...Option) *Client {
	c := &Client{
		validator: validator,
		userAgent: DefaultUserAgent,
		timeout:   DefaultTimeout,
		maxBody:   DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(c)
	}

	transport := &http.Transport{
		// Environment proxies would bypass address pinning.
		Proxy:                 nil,
		DialContext:           safety.NewDialer(validator, c.dialer).DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	c.http = &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return c
}

// Get validates rawURL against policy and issues a GET, following up to
// policy.Redirects() redirects. The caller must close the response body;
// the per-call deadline stays armed until it does.
func (c *Client) Get(ctx context.Context, rawURL string, opts RequestOptions, policy safety.Policy) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, cmp.Or(opts.Timeout, c.timeout))

	resp, err := c.follow(ctx, rawURL, opts, policy)
	if err != nil {
		cancel()
		return nil, err
	}

	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// Fetch is Get plus a 2xx check and a size-capped body read.
func (c *Client) Fetch(ctx context.Context, rawURL string, opts RequestOptions, policy safety.Policy) ([]byte, error) {
	resp, err := c.Get(ctx, rawURL, opts, policy)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: resp.Request.URL.String(), Code: resp.StatusCode, Status: resp.Status}
	}

	limit := cmp.Or(opts.MaxBytes, c.maxBody)
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: reading %s", ErrTimeout, rawURL)
		}
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response body from %s exceeds %d bytes", rawURL, limit)
	}

	return data, nil
}

func (c *Client) follow(ctx context.Context, rawURL string, opts RequestOptions, policy safety.Policy) (*http.Response, error) {
	target, err := c.validator.Validate(ctx, rawURL, policy)
	if err != nil {
		return nil, c.rejected(err, rawURL)
	}
	origin := target.Host

	for hops := 0; ; {
		resp, err := c.do(ctx, target, opts, target.Host == origin)
		if err != nil {
			if safety.IsViolation(err) {
				return nil, c.rejected(err, target.URL.String())
			}
			if isTimeout(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrTimeout, target.URL)
			}
			return nil, fmt.Errorf("failed to fetch %s: %w", target.URL, err)
		}

		location := resp.Header.Get("Location")
		if !isRedirect(resp.StatusCode) || location == "" {
			return resp, nil
		}
		drain(resp.Body)

		next, err := target.URL.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("invalid redirect location %q from %s: %w", location, target.URL, err)
		}

		hops++
		if hops > policy.Redirects() {
			return nil, c.rejected(&safety.Error{
				Kind:   safety.KindTooManyRedirects,
				Host:   next.Hostname(),
				Reason: fmt.Sprintf("too many redirects (max %d)", policy.Redirects()),
			}, rawURL)
		}

		slog.Debug("Following redirect", "from", target.URL.String(), "to", next.String(), "hop", hops)

		target, err = c.validator.ValidateURL(ctx, next, policy)
		if err != nil {
			return nil, c.rejected(err, next.String())
		}
	}
}

func (c *Client) do(ctx context.Context, target *safety.Target, opts RequestOptions, sameHost bool) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, target.Host); err != nil {
			return nil, err
		}
	}

	ctx = safety.WithPinnedAddrs(ctx, target.Host, target.Addrs)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.URL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, values := range opts.Header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if !sameHost {
		for _, key := range sensitiveHeaders {
			req.Header.Del(key)
		}
	}
	req.Header.Set("User-Agent", c.userAgent)
	if opts.Accept != "" {
		req.Header.Set("Accept", opts.Accept)
	}

	return c.http.Do(req)
}

func (c *Client) rejected(err error, rawURL string) error {
	if kind, ok := safety.KindOf(err); ok {
		metrics.RecordViolation(string(kind))
		slog.Warn("Outbound request blocked", "url", redact(rawURL), "kind", string(kind), "error", err)
	}
	return err
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	body.Close()
}

// redact drops userinfo so rejected credentials never reach the logs.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<unparseable>"
	}
	u.User = nil
	return u.String()
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
