package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"

	"github.com/utafrali/campusfeed/internal/api"
	"github.com/utafrali/campusfeed/internal/config"
	"github.com/utafrali/campusfeed/internal/feed"
	"github.com/utafrali/campusfeed/internal/session"
	"github.com/utafrali/campusfeed/internal/tokenstore"
	"github.com/utafrali/campusfeed/pkg/database"
	apperrors "github.com/utafrali/campusfeed/pkg/errors"
	"github.com/utafrali/campusfeed/pkg/health"
	"github.com/utafrali/campusfeed/pkg/httpclient"
	"github.com/utafrali/campusfeed/pkg/tracing"
)

const breakerName = "campusfeed-api"

// Client wires together the token store, REST client, session and feed.
type Client struct {
	Config  *config.Config
	Store   *tokenstore.Store
	API     *api.Client
	Session *session.Manager
	Feed    *feed.Service
	Health  *health.Handler

	logger         *slog.Logger
	breaker        *httpclient.Breaker
	rdb            *redis.Client
	shutdownTracer func(context.Context) error
}

// NewClient builds the client stack. nav is called when the session ends
// without the user asking for it.
func NewClient(ctx context.Context, cfg *config.Config, logger *slog.Logger, nav session.Navigator) (*Client, error) {
	shutdownTracer, err := tracing.Setup(ctx, tracing.Config{
		ServiceName:    "campusfeed",
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	c := &Client{
		Config:         cfg,
		Health:         health.NewHandler(),
		logger:         logger,
		shutdownTracer: shutdownTracer,
	}

	storage, err := c.openStorage(ctx)
	if err != nil {
		_ = shutdownTracer(ctx)
		return nil, err
	}
	c.Store = tokenstore.New(storage)

	transport := httpclient.DefaultConfig()
	transport.Timeout = cfg.HTTPTimeout
	transport.MaxRetries = cfg.HTTPMaxRetries
	transport.RateLimit = cfg.RateLimit
	transport.RateBurst = cfg.RateBurst
	base := httpclient.New(transport)
	c.breaker = httpclient.NewBreaker(base, httpclient.DefaultBreakerConfig(breakerName), logger).
		WithFallback(func(_ context.Context, err error) (*http.Response, error) {
			return nil, apperrors.Transport(err)
		})

	c.API, err = api.New(c.breaker, cfg.BaseURL(), c.Store, logger)
	if err != nil {
		c.Close(ctx)
		return nil, fmt.Errorf("create api client: %w", err)
	}

	opts := []session.Option{
		session.WithRefreshInterval(cfg.RefreshInterval),
		session.WithLogger(logger),
	}
	if nav != nil {
		opts = append(opts, session.WithNavigator(nav))
	}
	c.Session = session.NewManager(c.API, c.Store, opts...)
	c.Feed = feed.NewService(c.API, c.Session, logger)

	c.Health.RegisterCritical("token_store", func(ctx context.Context) error {
		_, _, err := storage.Get(ctx, tokenstore.KeyAccessToken)
		return err
	})
	c.Health.RegisterCritical("api", c.checkAPI)
	c.Health.RegisterNonCritical("circuit_breaker", func(context.Context) error {
		if c.breaker.State() == gobreaker.StateOpen {
			return errors.New("circuit open, requests to the api fail fast")
		}
		return nil
	})
	if c.rdb != nil {
		c.Health.RegisterCritical("redis", database.RedisPinger(c.rdb))
	}

	return c, nil
}

func (c *Client) openStorage(ctx context.Context) (tokenstore.Storage, error) {
	switch c.Config.Store {
	case config.StoreMemory:
		return tokenstore.NewMemoryStorage(), nil
	case config.StoreRedis:
		redisCfg, err := redisConfig(c.Config)
		if err != nil {
			return nil, err
		}
		rdb, err := database.NewRedisClient(ctx, redisCfg)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		c.rdb = rdb
		c.logger.Debug("session store on redis",
			slog.String("addr", redisCfg.Addr()),
			slog.String("profile", c.Config.Profile),
		)
		return tokenstore.NewRedisStorage(rdb, c.Config.Profile), nil
	default:
		c.logger.Debug("session store on disk", slog.String("path", c.Config.StorePath))
		return tokenstore.NewFileStorage(c.Config.StorePath), nil
	}
}

func redisConfig(cfg *config.Config) (database.RedisConfig, error) {
	host, portStr, err := net.SplitHostPort(cfg.RedisAddr)
	if err != nil {
		return database.RedisConfig{}, fmt.Errorf("parse REDIS_ADDR %q: %w", cfg.RedisAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return database.RedisConfig{}, fmt.Errorf("parse REDIS_ADDR port %q: %w", portStr, err)
	}
	rc := database.DefaultRedisConfig()
	rc.Host = host
	rc.Port = port
	rc.Password = cfg.RedisPass
	rc.DB = cfg.RedisDB
	return rc, nil
}

// checkAPI reports whether the backend answers at all. Any status below 500
// counts as reachable.
func (c *Client) checkAPI(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.API.BaseURL()+"core/posts/?page_size=1", http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.breaker.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("api returned %d", resp.StatusCode)
	}
	return nil
}

// Close releases the redis connection and flushes pending spans.
func (c *Client) Close(ctx context.Context) {
	if c.rdb != nil {
		if err := c.rdb.Close(); err != nil {
			c.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}
	if c.shutdownTracer != nil {
		if err := c.shutdownTracer(ctx); err != nil {
			c.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		}
	}
}
