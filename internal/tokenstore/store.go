// Package tokenstore persists the session tokens and the cached user profile.
package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"

	"github.com/utafrali/campusfeed/internal/domain"
)

// Store is the session object the API client reads credentials from. It is
// safe for concurrent use when the underlying Storage is.
type Store struct {
	storage Storage
	clock   clock.Clock
	parser  *jwt.Parser
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for expiry checks.
func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// New creates a Store over storage.
func New(storage Storage, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		clock:   clock.New(),
		parser:  jwt.NewParser(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Storage returns the backing storage.
func (s *Store) Storage() Storage {
	return s.storage
}

// Save persists the tokens in pair. Empty fields leave the stored value
// untouched, so a refresh response without a rotated refresh token keeps
// the current one.
func (s *Store) Save(ctx context.Context, pair domain.TokenPair) error {
	if pair.Access != "" {
		if err := s.storage.Set(ctx, KeyAccessToken, pair.Access); err != nil {
			return fmt.Errorf("save access token: %w", err)
		}
	}
	if pair.Refresh != "" {
		if err := s.storage.Set(ctx, KeyRefreshToken, pair.Refresh); err != nil {
			return fmt.Errorf("save refresh token: %w", err)
		}
	}
	return nil
}

// Clear removes both tokens, the cached user and the verified flag.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.storage.Delete(ctx, KeyAccessToken, KeyRefreshToken, KeyUser, KeyIsVerified); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// AccessToken returns the stored access token or "".
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	v, _, err := s.storage.Get(ctx, KeyAccessToken)
	if err != nil {
		return "", fmt.Errorf("load access token: %w", err)
	}
	return v, nil
}

// RefreshToken returns the stored refresh token or "".
func (s *Store) RefreshToken(ctx context.Context) (string, error) {
	v, _, err := s.storage.Get(ctx, KeyRefreshToken)
	if err != nil {
		return "", fmt.Errorf("load refresh token: %w", err)
	}
	return v, nil
}

// IsRefreshExpired reports whether the stored refresh token is missing,
// unreadable, has no exp claim, or has an exp in the past. The signature is
// not checked.
func (s *Store) IsRefreshExpired(ctx context.Context) bool {
	token, err := s.RefreshToken(ctx)
	if err != nil || token == "" {
		return true
	}
	return s.expired(token)
}

func (s *Store) expired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := s.parser.ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return exp.Unix() < s.clock.Now().Unix()
}

// User returns the cached profile, or nil when none is stored.
func (s *Store) User(ctx context.Context) (*domain.User, error) {
	raw, ok, err := s.storage.Get(ctx, KeyUser)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var u domain.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("decode cached user: %w", err)
	}
	return &u, nil
}

// SetUser caches u and its verified flag. A nil user removes both.
func (s *Store) SetUser(ctx context.Context, u *domain.User) error {
	if u == nil {
		if err := s.storage.Delete(ctx, KeyUser, KeyIsVerified); err != nil {
			return fmt.Errorf("clear user: %w", err)
		}
		return nil
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	if err := s.storage.Set(ctx, KeyUser, string(data)); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	if err := s.storage.Set(ctx, KeyIsVerified, strconv.FormatBool(u.IsVerified)); err != nil {
		return fmt.Errorf("save verified flag: %w", err)
	}
	return nil
}

// IsVerified reads the cached verified flag. Anything other than "true"
// counts as unverified.
func (s *Store) IsVerified(ctx context.Context) bool {
	v, ok, err := s.storage.Get(ctx, KeyIsVerified)
	if err != nil || !ok {
		return false
	}
	return v == "true"
}
