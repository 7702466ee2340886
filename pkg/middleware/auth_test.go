package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticValidator(token string, claims *Claims) TokenValidator {
	return func(got string) (*Claims, error) {
		if got != token {
			return nil, errors.New("bad token")
		}
		return claims, nil
	}
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestAuth_MissingHeader(t *testing.T) {
	handler := Auth(staticValidator("good", &Claims{UserID: "1"}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/me/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "not_authenticated", decodeDetail(t, rec)["code"])
}

func TestAuth_MalformedHeader(t *testing.T) {
	handler := Auth(staticValidator("good", &Claims{UserID: "1"}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/auth/me/", nil)
	req.Header.Set("Authorization", "Token good")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "bad_authorization_header", decodeDetail(t, rec)["code"])
}

func TestAuth_InvalidToken(t *testing.T) {
	handler := Auth(staticValidator("good", &Claims{UserID: "1"}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/auth/me/", nil)
	req.Header.Set("Authorization", "Bearer stale")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token_not_valid", decodeDetail(t, rec)["code"])
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
}

func TestAuth_ValidTokenInjectsClaims(t *testing.T) {
	var got *Claims
	handler := Auth(staticValidator("good", &Claims{UserID: "7", Username: "ada", Verified: true}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClaimsFromContext(r.Context())
		assert.Equal(t, "7", UserIDFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/me/", nil)
	req.Header.Set("Authorization", "bearer good")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "ada", got.Username)
	assert.True(t, got.Verified)
}

func TestOptionalAuth_AnonymousPassesThrough(t *testing.T) {
	called := false
	handler := OptionalAuth(staticValidator("good", &Claims{UserID: "1"}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Nil(t, ClaimsFromContext(r.Context()))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/core/posts/", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOptionalAuth_InvalidTokenStillRejected(t *testing.T) {
	handler := OptionalAuth(staticValidator("good", &Claims{UserID: "1"}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/core/posts/", nil)
	req.Header.Set("Authorization", "Bearer expired")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireStaff(t *testing.T) {
	tests := []struct {
		name   string
		claims *Claims
		want   int
	}{
		{"anonymous", nil, http.StatusForbidden},
		{"student", &Claims{UserID: "2"}, http.StatusForbidden},
		{"staff", &Claims{UserID: "1", Staff: true}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireStaff()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodPost, "/admin/users/2/verify/", nil)
			if tt.claims != nil {
				req = req.WithContext(contextWithClaims(req, tt.claims))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
