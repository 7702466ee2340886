package mockapi

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/utafrali/campusfeed/internal/domain"
	"github.com/utafrali/campusfeed/pkg/middleware"
)

// Token types carried in the token_type claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

const issuer = "campusfeed-mockapi"

// Claims is the payload of both token types.
type Claims struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Verified  bool   `json:"is_verified"`
	Staff     bool   `json:"is_staff"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates HS256 tokens.
type TokenManager struct {
	secret        []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	clock         clock.Clock
}

// NewTokenManager creates a token manager with the given secret and lifetimes.
func NewTokenManager(secret string, accessExpiry, refreshExpiry time.Duration, c clock.Clock) *TokenManager {
	if c == nil {
		c = clock.New()
	}
	return &TokenManager{
		secret:        []byte(secret),
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
		clock:         c,
	}
}

// Issue returns a fresh access and refresh token for u.
func (m *TokenManager) Issue(u domain.User, staff bool) (domain.TokenPair, error) {
	access, err := m.sign(u, staff, TokenTypeAccess, m.accessExpiry)
	if err != nil {
		return domain.TokenPair{}, err
	}
	refresh, err := m.sign(u, staff, TokenTypeRefresh, m.refreshExpiry)
	if err != nil {
		return domain.TokenPair{}, err
	}
	return domain.TokenPair{Access: access, Refresh: refresh}, nil
}

// Refresh validates a refresh token and returns a new access token for the
// same user.
func (m *TokenManager) Refresh(refresh string) (string, error) {
	claims, err := m.validate(refresh, TokenTypeRefresh)
	if err != nil {
		return "", err
	}
	u := domain.User{ID: claims.UserID, Username: claims.Username, IsVerified: claims.Verified}
	return m.sign(u, claims.Staff, TokenTypeAccess, m.accessExpiry)
}

// ValidateAccess parses an access token.
func (m *TokenManager) ValidateAccess(token string) (*Claims, error) {
	return m.validate(token, TokenTypeAccess)
}

// Validator adapts ValidateAccess to the auth middleware.
func (m *TokenManager) Validator() middleware.TokenValidator {
	return func(token string) (*middleware.Claims, error) {
		c, err := m.ValidateAccess(token)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{
			UserID:   strconv.FormatInt(c.UserID, 10),
			Username: c.Username,
			Verified: c.Verified,
			Staff:    c.Staff,
		}, nil
	}
}

func (m *TokenManager) sign(u domain.User, staff bool, tokenType string, ttl time.Duration) (string, error) {
	now := m.clock.Now().UTC()
	claims := &Claims{
		UserID:    u.ID,
		Username:  u.Username,
		Verified:  u.IsVerified,
		Staff:     staff,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

func (m *TokenManager) validate(tokenString, tokenType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.clock.Now), jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parse %s token: %w", tokenType, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid %s token claims", tokenType)
	}
	if claims.TokenType != tokenType {
		return nil, errors.New("token has wrong type")
	}
	return claims, nil
}
