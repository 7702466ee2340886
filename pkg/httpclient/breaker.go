package httpclient

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig tunes a Breaker.
type BreakerConfig struct {
	// Name labels logs and metrics.
	Name string

	// Probes is how many requests a half-open breaker lets through.
	Probes uint32

	// Window clears the closed-state counts periodically. 0 never clears them.
	Window time.Duration

	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration

	// The breaker opens once at least MinRequests were seen in the window
	// and FailureRatio of them failed.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultBreakerConfig suits an interactive client talking to one backend.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		Probes:       1,
		Window:       time.Minute,
		Cooldown:     15 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// FallbackFunc answers requests the breaker refuses. err is
// gobreaker.ErrOpenState or gobreaker.ErrTooManyRequests.
type FallbackFunc func(ctx context.Context, err error) (*http.Response, error)

var (
	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "campusfeed_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
		[]string{"name"},
	)

	breakerRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campusfeed_circuit_breaker_rejected_total",
			Help: "Requests refused without reaching the backend.",
		},
		[]string{"name"},
	)
)

func init() {
	prometheus.MustRegister(breakerState, breakerRejected)
}

// Breaker guards a Doer with a circuit breaker. Network failures and 5xx
// responses count against the backend; 4xx responses and requests the
// caller canceled do not.
type Breaker struct {
	next     Doer
	cb       *gobreaker.CircuitBreaker[*http.Response]
	logger   *slog.Logger
	fallback FallbackFunc
	name     string
}

// NewBreaker wraps next.
func NewBreaker(next Doer, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	b := &Breaker{next: next, logger: logger, name: cfg.Name}
	b.cb = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.Probes,
		Interval:    cfg.Window,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= cfg.MinRequests &&
				float64(c.TotalFailures) >= cfg.FailureRatio*float64(c.Requests)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			breakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	breakerState.WithLabelValues(cfg.Name).Set(float64(gobreaker.StateClosed))
	return b
}

// WithFallback returns a copy of b that answers refused requests with fn.
func (b *Breaker) WithFallback(fn FallbackFunc) *Breaker {
	cpy := *b
	cpy.fallback = fn
	return &cpy
}

// Do sends req unless the breaker is open. A 5xx response is consumed and
// returned as the AppError ParseResponseError builds from it.
func (b *Breaker) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := b.cb.Execute(func() (*http.Response, error) {
		resp, err := b.next.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, ParseResponseError(resp, b.name)
		}
		return resp, nil
	})
	if err == nil {
		return resp, nil
	}
	if !Refused(err) {
		return nil, err
	}

	breakerRejected.WithLabelValues(b.name).Inc()
	if b.fallback == nil {
		return nil, err
	}
	b.logger.DebugContext(ctx, "circuit breaker refused request, using fallback",
		slog.String("breaker", b.name),
		slog.String("url", req.URL.Redacted()),
	)
	return b.fallback(ctx, err)
}

// State reports the breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Refused reports whether err means the breaker did not send the request.
func Refused(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
