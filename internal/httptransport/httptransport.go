// Package httptransport is the default internal/collab.HTTPClient
// implementation: net/http plus bounded retry for transient transport
// failures and per-host request pacing.
package httptransport

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/coachpo/genacp/internal/collab"
	"github.com/coachpo/genacp/internal/errs"
)

// RetryPolicy configures the bounded retry applied to transient
// transport failures (refused connections, resets, timeouts). It does
// not retry successful round trips carrying a non-2xx status — that is
// a protocol-level outcome the GENA engine itself interprets.
type RetryPolicy struct {
	MaxTries        uint
	MaxElapsedTime  time.Duration
	InitialInterval time.Duration
}

// DefaultRetryPolicy is a bounded retry for transient I/O: three attempts
// within five seconds, not an unbounded reconnect loop.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxTries: 3, MaxElapsedTime: 5 * time.Second, InitialInterval: 100 * time.Millisecond}
}

// RateLimit configures per-host request pacing for SUBSCRIBE/RENEW
// traffic, so a misbehaving publisher or an auto-renew storm cannot
// flood a single host.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultRateLimit allows 10 requests per second per host with a burst
// of 5.
func DefaultRateLimit() RateLimit {
	return RateLimit{RequestsPerSecond: 10, Burst: 5}
}

// Client is the default collab.HTTPClient: net/http with bounded retry
// and per-host pacing.
type Client struct {
	hc     *http.Client
	retry  RetryPolicy
	rate   RateLimit
	mu     sync.Mutex
	limits map[string]*rate.Limiter
}

// New constructs a Client. insecureSkipVerify exists only to let local
// integration tests point at a self-signed HTTPS fixture; production
// wiring should leave it false.
func New(retry RetryPolicy, rl RateLimit, insecureSkipVerify bool) *Client {
	transport := http.DefaultTransport
	if insecureSkipVerify {
		transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}} //nolint:gosec
	}
	return &Client{
		hc:     &http.Client{Transport: transport},
		retry:  retry,
		rate:   rl,
		limits: make(map[string]*rate.Limiter),
	}
}

func (c *Client) limiterFor(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limits[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.rate.RequestsPerSecond), c.rate.Burst)
		c.limits[host] = l
	}
	return l
}

// Execute performs one GENA wire request, applying per-host pacing and
// bounded retry around transient transport failures. It returns a
// CodeNetwork error if every retry attempt fails at the
// transport layer; a response carrying a non-2xx status is returned
// with a nil error, since that is not a transport failure.
func (c *Client) Execute(ctx context.Context, method, target string, headers map[string]string, timeout time.Duration) (collab.Response, error) {
	u, err := url.Parse(target)
	if err != nil {
		return collab.Response{}, errs.New("httptransport", errs.CodeInvalid, errs.WithMessage("bad url: "+err.Error()))
	}

	if err := c.limiterFor(u.Host).Wait(ctx); err != nil {
		return collab.Response{}, errs.New("httptransport", errs.CodeNetwork, errs.WithCause(err), errs.WithMessage("rate limit wait canceled"))
	}

	reqCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	opts := []backoff.RetryOption{backoff.WithMaxTries(c.retry.MaxTries)}
	if c.retry.MaxElapsedTime > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(c.retry.MaxElapsedTime))
	}
	if c.retry.InitialInterval > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = c.retry.InitialInterval
		opts = append(opts, backoff.WithBackOff(eb))
	}

	resp, err := backoff.Retry(reqCtx, func() (collab.Response, error) {
		return c.roundTrip(reqCtx, method, target, headers)
	}, opts...)
	if err != nil {
		return collab.Response{}, errs.New("httptransport", errs.CodeNetwork, errs.WithCause(err), errs.WithMessage("transport failure: "+method+" "+target))
	}
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, method, target string, headers map[string]string) (collab.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return collab.Response{}, backoff.Permanent(err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return collab.Response{}, err // transient: retried
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return collab.Response{}, err
	}

	lowered := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			lowered[strings.ToLower(k)] = v[0]
		}
	}

	return collab.Response{Status: resp.StatusCode, Headers: lowered, Body: buf.Bytes()}, nil
}
