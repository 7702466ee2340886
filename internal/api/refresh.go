package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/utafrali/campusfeed/internal/domain"
	apperrors "github.com/utafrali/campusfeed/pkg/errors"
	"github.com/utafrali/campusfeed/pkg/httpclient"
	"github.com/utafrali/campusfeed/pkg/logger"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeExpired = "expired"
)

var refreshTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "campusfeed_api_token_refresh_total",
		Help: "Access token refreshes performed by the API client, by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(refreshTotal)
}

// handleUnauthorized consumes a 401 response. If another request already
// replaced the access token it replays at once; otherwise it refreshes the
// session first. The replayed response is returned as is, so a second 401
// never triggers another refresh.
func (c *Client) handleUnauthorized(ctx context.Context, r *request, resp *http.Response, sent string) (*http.Response, error) {
	original := httpclient.ParseResponseError(resp, serviceName)

	current, err := c.store.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	if current == "" || current == sent {
		if err := c.RefreshSession(ctx); err != nil {
			if errors.Is(err, apperrors.ErrSessionExpired) {
				return nil, original
			}
			return nil, err
		}
	}

	resp, _, err = c.send(ctx, r)
	return resp, err
}

// RefreshSession exchanges the stored refresh token for a new access token.
// A missing or expired refresh token logs out without a network call and
// returns an ErrSessionExpired error. Any refresh failure also logs out.
// Concurrent callers holding the same refresh token share one request.
func (c *Client) RefreshSession(ctx context.Context) error {
	if c.store.IsRefreshExpired(ctx) {
		refreshTotal.WithLabelValues(outcomeExpired).Inc()
		c.ForceLogout(ctx, "refresh token missing or expired")
		return apperrors.SessionExpired("refresh token missing or expired")
	}

	refresh, err := c.store.RefreshToken(ctx)
	if err != nil {
		return err
	}

	_, err, _ = c.refreshGroup.Do(refresh, func() (any, error) {
		detached := context.WithoutCancel(ctx)
		if err := c.rotate(detached, refresh); err != nil {
			c.ForceLogout(detached, "token refresh failed")
			return nil, err
		}
		return nil, nil
	})
	return err
}

func (c *Client) rotate(ctx context.Context, refresh string) error {
	log := logger.WithContext(ctx, c.logger)

	pair, err := c.Refresh(ctx, refresh)
	if err == nil && pair.Access == "" {
		err = apperrors.Unauthorized("refresh response did not include an access token")
	}
	if err != nil {
		refreshTotal.WithLabelValues(outcomeFailure).Inc()
		log.Warn("token refresh failed", slog.String("error", err.Error()))
		return err
	}

	if err := c.store.Save(ctx, domain.TokenPair{Access: pair.Access, Refresh: pair.Refresh}); err != nil {
		refreshTotal.WithLabelValues(outcomeFailure).Inc()
		return err
	}
	refreshTotal.WithLabelValues(outcomeSuccess).Inc()
	log.Info("access token refreshed", slog.Bool("refresh_rotated", pair.Refresh != ""))
	return nil
}

// ForceLogout clears the token store and runs the logout hook.
func (c *Client) ForceLogout(ctx context.Context, reason string) {
	log := logger.WithContext(ctx, c.logger)
	if err := c.store.Clear(ctx); err != nil {
		log.Error("failed to clear session", slog.String("error", err.Error()))
	}
	log.Warn("session logged out", slog.String("reason", reason))

	c.mu.RLock()
	hook := c.onLogout
	c.mu.RUnlock()
	if hook != nil {
		hook(ctx)
	}
}
