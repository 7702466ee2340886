package mockapi

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"

	"github.com/utafrali/campusfeed/internal/config"
	"github.com/utafrali/campusfeed/internal/domain"
)

// Server bundles the backend state shared by the handlers.
type Server struct {
	Store  *Store
	Tokens *TokenManager
	Media  *MediaStore

	cfg    *config.MockAPIConfig
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*serverOptions)

type serverOptions struct {
	clock      clock.Clock
	bcryptCost int
}

// WithClock sets the clock used for token lifetimes and timestamps.
func WithClock(c clock.Clock) Option {
	return func(o *serverOptions) { o.clock = c }
}

// WithBcryptCost overrides the password hashing cost. Tests use
// bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(o *serverOptions) { o.bcryptCost = cost }
}

// NewServer creates the backend and seeds the staff account from cfg.
func NewServer(cfg *config.MockAPIConfig, logger *slog.Logger, opts ...Option) (*Server, error) {
	o := serverOptions{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		Store:  NewStore(o.clock, o.bcryptCost),
		Tokens: NewTokenManager(cfg.JWTSecret, cfg.AccessTTL, cfg.RefreshTTL, o.clock),
		Media:  NewMediaStore(),
		cfg:    cfg,
		logger: logger,
	}

	if cfg.AdminUsername != "" {
		admin, err := s.Store.CreateUser(domain.RegisterInput{
			Username: cfg.AdminUsername,
			Email:    cfg.AdminUsername + "@campus.local",
			Password: cfg.AdminPassword,
		}, true, true)
		if err != nil {
			return nil, fmt.Errorf("seed admin account: %w", err)
		}
		logger.Info("staff account seeded", slog.Int64("user_id", admin.ID), slog.String("username", admin.Username))
	}
	return s, nil
}

// CheckTokens issues and validates a probe token. It backs the readiness
// check.
func (s *Server) CheckTokens(context.Context) error {
	pair, err := s.Tokens.Issue(domain.User{Username: "healthcheck"}, false)
	if err != nil {
		return err
	}
	if _, err := s.Tokens.ValidateAccess(pair.Access); err != nil {
		return fmt.Errorf("validate probe token: %w", err)
	}
	return nil
}
