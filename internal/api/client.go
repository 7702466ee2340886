// Package api is the typed REST client for the campus backend. It attaches
// the stored access token to every request and recovers from an expired
// access token with a single refresh-and-replay.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/utafrali/campusfeed/internal/tokenstore"
	apperrors "github.com/utafrali/campusfeed/pkg/errors"
	"github.com/utafrali/campusfeed/pkg/httpclient"
	"github.com/utafrali/campusfeed/pkg/logger"
	"github.com/utafrali/campusfeed/pkg/middleware"
	"github.com/utafrali/campusfeed/pkg/tracing"
	"github.com/utafrali/campusfeed/pkg/validator"
)

const serviceName = "api"

// LogoutHook is called after the client has cleared the token store because
// the session could not be recovered.
type LogoutHook func(ctx context.Context)

// Client calls the backend REST API.
type Client struct {
	doer    httpclient.Doer
	baseURL *url.URL
	store   *tokenstore.Store
	logger  *slog.Logger
	tracer  trace.Tracer

	refreshGroup singleflight.Group

	mu       sync.RWMutex
	onLogout LogoutHook
}

// New creates a client for the API rooted at baseURL (for example
// "http://127.0.0.1:8000/api/"). Credentials are read from store on every
// request.
func New(doer httpclient.Doer, baseURL string, store *tokenstore.Store, log *slog.Logger) (*Client, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api base url %q must be absolute", baseURL)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Client{
		doer:    doer,
		baseURL: u,
		store:   store,
		logger:  log,
		tracer:  tracing.Tracer("github.com/utafrali/campusfeed/api"),
	}, nil
}

// SetLogoutHook installs fn as the forced-logout callback, replacing any
// previous one.
func (c *Client) SetLogoutHook(fn LogoutHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onLogout = fn
}

// Store returns the token store the client reads credentials from.
func (c *Client) Store() *tokenstore.Store {
	return c.store
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

type request struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string

	// anonymous requests carry no Authorization header and are never
	// refreshed on 401.
	anonymous bool
}

func newRequest(method, path string) *request {
	return &request{method: method, path: path}
}

func jsonRequest(method, path string, payload any) (*request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s body: %w", path, err)
	}
	return &request{method: method, path: path, body: body, contentType: "application/json"}, nil
}

// do sends r and decodes a 2xx body into out. A 401 on an authenticated
// request goes through handleUnauthorized exactly once.
func (c *Client) do(ctx context.Context, r *request, out any) error {
	if logger.CorrelationIDFromContext(ctx) == "" {
		ctx = logger.WithCorrelationID(ctx, uuid.NewString())
	}
	ctx, span := c.tracer.Start(ctx, r.method+" "+r.path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", r.method),
			attribute.String("url.path", r.path),
			attribute.String("correlation_id", logger.CorrelationIDFromContext(ctx)),
		),
	)
	defer span.End()

	err := c.roundTrip(ctx, r, out, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, r *request, out any, span trace.Span) error {
	resp, sent, err := c.send(ctx, r)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized && !r.anonymous {
		span.AddEvent("unauthorized")
		resp, err = c.handleUnauthorized(ctx, r, resp, sent)
		if err != nil {
			return err
		}
	}
	span.SetAttributes(semconv.HTTPStatusCode(resp.StatusCode))
	return decode(resp, out)
}

// send performs one attempt and returns the access token it carried.
func (c *Client) send(ctx context.Context, r *request) (*http.Response, string, error) {
	u := c.baseURL.ResolveReference(&url.URL{Path: r.path})
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	var body io.Reader = http.NoBody
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return nil, "", fmt.Errorf("create %s request: %w", r.method, err)
	}
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set(middleware.CorrelationHeader, logger.CorrelationIDFromContext(ctx))
	tracing.InjectHeaders(ctx, req.Header)

	var token string
	if !r.anonymous {
		token, err = c.store.AccessToken(ctx)
		if err != nil {
			return nil, "", err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return nil, token, transportError(err)
	}
	return resp, token, nil
}

// transportError keeps AppErrors produced below us (a 5xx parsed by the
// circuit breaker, a fallback) and classifies everything else as a
// transport failure.
func transportError(err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Transport(err)
}

func decode(resp *http.Response, out any) error {
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return httpclient.ParseResponseError(resp, serviceName)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// validate runs struct validation and reports failures the same way the
// backend does, as a 400 with ordered field errors.
func validate(v any) error {
	err := validator.Validate(v)
	if err == nil {
		return nil
	}
	var verr *validator.ValidationError
	if errors.As(err, &verr) {
		return verr.AppError()
	}
	return apperrors.InvalidInput(err.Error())
}
