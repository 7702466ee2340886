package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/utafrali/campusfeed/internal/domain"
	apperrors "github.com/utafrali/campusfeed/pkg/errors"
)

const (
	pathRegister = "auth/register/"
	pathToken    = "auth/token/"
	pathRefresh  = "auth/token/refresh/"
	pathMe       = "auth/me/"
)

// Register creates an account and returns its first token pair. The tokens
// are not stored; that is the caller's decision.
func (c *Client) Register(ctx context.Context, in domain.RegisterInput) (domain.TokenPair, error) {
	if err := validate(in); err != nil {
		return domain.TokenPair{}, err
	}
	return c.obtainTokens(ctx, pathRegister, in)
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, creds domain.Credentials) (domain.TokenPair, error) {
	if err := validate(creds); err != nil {
		return domain.TokenPair{}, err
	}
	return c.obtainTokens(ctx, pathToken, creds)
}

// Refresh exchanges a refresh token for a new access token. The response
// carries a new refresh token only when the backend rotates them.
func (c *Client) Refresh(ctx context.Context, refresh string) (domain.TokenPair, error) {
	return c.obtainTokens(ctx, pathRefresh, map[string]string{"refresh": refresh})
}

func (c *Client) obtainTokens(ctx context.Context, path string, payload any) (domain.TokenPair, error) {
	r, err := jsonRequest(http.MethodPost, path, payload)
	if err != nil {
		return domain.TokenPair{}, err
	}
	r.anonymous = true

	var pair domain.TokenPair
	if err := c.do(ctx, r, &pair); err != nil {
		return domain.TokenPair{}, err
	}
	return pair, nil
}

// Me fetches the profile of the current user. A 401 that survives the
// refresh-and-replay ends the session.
func (c *Client) Me(ctx context.Context) (*domain.User, error) {
	var u domain.User
	if err := c.do(ctx, newRequest(http.MethodGet, pathMe), &u); err != nil {
		if apperrors.HTTPStatus(err) == http.StatusUnauthorized {
			if refresh, _ := c.store.RefreshToken(ctx); refresh != "" {
				c.ForceLogout(ctx, "profile request rejected")
			}
		}
		return nil, err
	}
	return &u, nil
}

// UpdateMe sends a multipart PATCH with the bio and, when set, a new avatar.
func (c *Client) UpdateMe(ctx context.Context, in domain.ProfileUpdate) (*domain.User, error) {
	if err := validate(in); err != nil {
		return nil, err
	}
	r, err := multipartRequest(http.MethodPatch, pathMe, []formField{{"bio", in.Bio}}, "avatar", in.Avatar)
	if err != nil {
		return nil, err
	}

	var u domain.User
	if err := c.do(ctx, r, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// PublicProfile fetches another user's public profile.
func (c *Client) PublicProfile(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	if err := c.do(ctx, newRequest(http.MethodGet, fmt.Sprintf("auth/profile/%d/", id)), &u); err != nil {
		return nil, err
	}
	return &u, nil
}
