package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

// Doer executes a prepared request. Both Client and Breaker
// satisfy it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

var retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "campusfeed_http_client_retries_total",
	Help: "Request attempts repeated by the API transport, by reason.",
}, []string{"reason"})

// Config holds HTTP client configuration.
type Config struct {
	Timeout         time.Duration
	MaxRetries      int
	RetryWaitMin    time.Duration
	RetryWaitMax    time.Duration
	MaxConnsPerHost int

	// RateLimit caps outgoing requests per second. 0 disables pacing.
	RateLimit float64
	// RateBurst is the limiter bucket size; values below 1 are treated as 1.
	RateBurst int

	// Transport replaces the default pooled transport. Tests use it.
	Transport http.RoundTripper
}

// DefaultConfig returns the transport settings used against the campus API.
func DefaultConfig() Config {
	return Config{
		Timeout:         15 * time.Second,
		MaxRetries:      2,
		RetryWaitMin:    500 * time.Millisecond,
		RetryWaitMax:    5 * time.Second,
		MaxConnsPerHost: 10,
	}
}

// Client is the bottom of the API transport stack: pooled connections,
// optional pacing and bounded retries of idempotent requests.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	cfg     Config
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	rt := cfg.Transport
	if rt == nil {
		rt = pooledTransport(cfg.MaxConnsPerHost)
	}

	c := &Client{
		http: &http.Client{Transport: rt, Timeout: cfg.Timeout},
		cfg:  cfg,
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1))
	}
	return c
}

func pooledTransport(perHost int) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   perHost,
		MaxConnsPerHost:       perHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// Do sends req, retrying network errors, 5xx (except 501) and 429 for
// idempotent methods. Bodies are replayed through req.GetBody, so a request
// with a body but no GetBody is sent once. The last response is returned
// when retries run out.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	attempts := 1
	if replayable(req) {
		attempts += max(c.cfg.MaxRetries, 0)
	}

	var wait time.Duration
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		out, err := rewind(ctx, req, attempt)
		if err != nil {
			return nil, err
		}

		last := attempt+1 >= attempts
		resp, err := c.http.Do(out)
		if err != nil {
			if last || !temporary(err) {
				return nil, fmt.Errorf("%s %s failed after %d attempt(s): %w", req.Method, req.URL.Path, attempt+1, err)
			}
			retriesTotal.WithLabelValues("network").Inc()
			wait = c.backoff(attempt)
			continue
		}

		reason, retry := retryStatus(resp.StatusCode)
		if !retry || last {
			return resp, nil
		}
		retriesTotal.WithLabelValues(reason).Inc()
		wait = c.backoff(attempt)
		if d, ok := retryAfter(resp); ok {
			wait = min(d, c.cfg.RetryWaitMax)
		}
		_ = resp.Body.Close()
	}
}

// backoff doubles RetryWaitMin per attempt up to RetryWaitMax.
func (c *Client) backoff(attempt int) time.Duration {
	if attempt > 30 {
		return c.cfg.RetryWaitMax
	}
	d := c.cfg.RetryWaitMin << attempt
	if d <= 0 || d > c.cfg.RetryWaitMax {
		return c.cfg.RetryWaitMax
	}
	return d
}

func retryStatus(code int) (string, bool) {
	switch {
	case code == http.StatusTooManyRequests:
		return "throttled", true
	case code >= 500 && code != http.StatusNotImplemented:
		return "server_error", true
	default:
		return "", false
	}
}

// retryAfter reads a delay-seconds or HTTP-date Retry-After header.
func retryAfter(resp *http.Response) (time.Duration, bool) {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		return max(time.Until(at), 0), true
	}
	return 0, false
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func replayable(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
	default:
		return false
	}
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

// rewind binds req to ctx and, after the first attempt, gives it a fresh body.
func rewind(ctx context.Context, req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 0 || req.GetBody == nil {
		return req.WithContext(ctx), nil
	}
	out := req.Clone(ctx)
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewind request body: %w", err)
	}
	out.Body = body
	return out, nil
}

// temporary reports whether err is a network failure worth another attempt.
func temporary(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
