package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/campusfeed/internal/domain"
	"github.com/utafrali/campusfeed/internal/tokenstore"
	apperrors "github.com/utafrali/campusfeed/pkg/errors"
	"github.com/utafrali/campusfeed/pkg/httpclient"
	"github.com/utafrali/campusfeed/pkg/logger"
)

func refreshToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"token_type": "refresh",
		"exp":        exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func newTestClient(t *testing.T, h http.Handler) (*Client, *tokenstore.Store) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	store := tokenstore.New(tokenstore.NewMemoryStorage())
	doer := httpclient.New(httpclient.Config{Timeout: 5 * time.Second})
	c, err := New(doer, srv.URL+"/api/", store, logger.Discard())
	require.NoError(t, err)
	return c, store
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func unauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, map[string]string{
		"detail": "Given token not valid for any token type",
		"code":   "token_not_valid",
	})
}

// tokenBackend serves core/posts/ to requests bearing the current access
// token and rotates the access token on refresh.
type tokenBackend struct {
	mu           sync.Mutex
	access       string
	refreshCalls atomic.Int32
	refreshDelay time.Duration
	refreshFail  bool
	seenAuth     []string
}

func (b *tokenBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/auth/token/refresh/":
		b.refreshCalls.Add(1)
		if b.refreshDelay > 0 {
			time.Sleep(b.refreshDelay)
		}
		if b.refreshFail {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"detail": "Token is invalid or expired",
				"code":   "token_not_valid",
			})
			return
		}
		b.mu.Lock()
		b.access = "fresh-access"
		b.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"access": "fresh-access"})
	default:
		b.mu.Lock()
		b.seenAuth = append(b.seenAuth, r.Header.Get("Authorization"))
		valid := r.Header.Get("Authorization") == "Bearer "+b.access
		b.mu.Unlock()
		if !valid {
			unauthorized(w)
			return
		}
		writeJSON(w, http.StatusOK, []domain.Post{{ID: 1, Title: "hello"}})
	}
}

func TestClient_NoAuthorizationWithoutToken(t *testing.T) {
	var header atomic.Value
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header.Store(r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, []domain.Post{})
	}))

	posts, err := c.ListPosts(context.Background())

	require.NoError(t, err)
	assert.Empty(t, posts)
	assert.Equal(t, "", header.Load())
}

func TestClient_AttachesBearerToken(t *testing.T) {
	var header, correlation atomic.Value
	c, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header.Store(r.Header.Get("Authorization"))
		correlation.Store(r.Header.Get("X-Correlation-ID"))
		writeJSON(w, http.StatusOK, domain.User{ID: 3, Username: "ada"})
	}))
	require.NoError(t, store.Save(context.Background(), domain.TokenPair{Access: "abc"}))

	u, err := c.Me(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "ada", u.Username)
	assert.Equal(t, "Bearer abc", header.Load())
	assert.NotEmpty(t, correlation.Load())
}

func TestClient_KeepsCallerCorrelationID(t *testing.T) {
	var correlation atomic.Value
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlation.Store(r.Header.Get("X-Correlation-ID"))
		writeJSON(w, http.StatusOK, []domain.Post{})
	}))

	ctx := logger.WithCorrelationID(context.Background(), "corr-42")
	_, err := c.ListPosts(ctx)

	require.NoError(t, err)
	assert.Equal(t, "corr-42", correlation.Load())
}

func TestClient_RefreshAndReplay(t *testing.T) {
	b := &tokenBackend{access: "valid-access"}
	c, store := newTestClient(t, b)
	ctx := context.Background()
	refresh := refreshToken(t, time.Now().Add(time.Hour))
	require.NoError(t, store.Save(ctx, domain.TokenPair{Access: "stale-access", Refresh: refresh}))
	before := testutil.ToFloat64(refreshTotal.WithLabelValues(outcomeSuccess))

	posts, err := c.ListPosts(ctx)

	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, int32(1), b.refreshCalls.Load())
	assert.Equal(t, []string{"Bearer stale-access", "Bearer fresh-access"}, b.seenAuth)

	access, _ := store.AccessToken(ctx)
	stored, _ := store.RefreshToken(ctx)
	assert.Equal(t, "fresh-access", access)
	assert.Equal(t, refresh, stored, "refresh token kept when not rotated")
	assert.Equal(t, before+1, testutil.ToFloat64(refreshTotal.WithLabelValues(outcomeSuccess)))
}

func TestClient_AtMostOneRefreshPerRequest(t *testing.T) {
	var refreshCalls, postCalls atomic.Int32
	c, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/token/refresh/" {
			refreshCalls.Add(1)
			writeJSON(w, http.StatusOK, map[string]string{"access": "still-rejected"})
			return
		}
		postCalls.Add(1)
		unauthorized(w)
	}))
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, domain.TokenPair{Access: "a", Refresh: refreshToken(t, time.Now().Add(time.Hour))}))

	_, err := c.GetPost(ctx, 9)

	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, apperrors.HTTPStatus(err))
	assert.Equal(t, int32(1), refreshCalls.Load())
	assert.Equal(t, int32(2), postCalls.Load())
}

func TestClient_ExpiredRefreshLogsOutWithoutNetworkRefresh(t *testing.T) {
	b := &tokenBackend{access: "valid-access"}
	c, store := newTestClient(t, b)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, domain.TokenPair{
		Access:  "stale-access",
		Refresh: refreshToken(t, time.Now().Add(-time.Minute)),
	}))
	require.NoError(t, store.SetUser(ctx, &domain.User{ID: 1, Username: "ada"}))

	var hookCalls atomic.Int32
	c.SetLogoutHook(func(context.Context) { hookCalls.Add(1) })

	_, err := c.ListPosts(ctx)

	require.Error(t, err)
	assert.Equal(t, "Given token not valid for any token type", apperrors.FirstMessage(err))
	assert.Zero(t, b.refreshCalls.Load())
	assert.Equal(t, int32(1), hookCalls.Load())

	access, _ := store.AccessToken(ctx)
	refresh, _ := store.RefreshToken(ctx)
	u, _ := store.User(ctx)
	assert.Empty(t, access)
	assert.Empty(t, refresh)
	assert.Nil(t, u)
}

func TestClient_RefreshFailureLogsOut(t *testing.T) {
	b := &tokenBackend{access: "valid-access", refreshFail: true}
	c, store := newTestClient(t, b)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, domain.TokenPair{
		Access:  "stale-access",
		Refresh: refreshToken(t, time.Now().Add(time.Hour)),
	}))
	var hookCalls atomic.Int32
	c.SetLogoutHook(func(context.Context) { hookCalls.Add(1) })

	_, err := c.ListPosts(ctx)

	require.Error(t, err)
	assert.Equal(t, "Token is invalid or expired", apperrors.FirstMessage(err))
	assert.Equal(t, int32(1), b.refreshCalls.Load())
	assert.Equal(t, int32(1), hookCalls.Load())
	assert.True(t, store.IsRefreshExpired(ctx))

	// Subsequent requests carry no Authorization header.
	_, _ = c.ListPosts(ctx)
	assert.Equal(t, "", b.seenAuth[len(b.seenAuth)-1])
}

func TestClient_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	b := &tokenBackend{access: "valid-access", refreshDelay: 50 * time.Millisecond}
	c, store := newTestClient(t, b)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, domain.TokenPair{
		Access:  "stale-access",
		Refresh: refreshToken(t, time.Now().Add(time.Hour)),
	}))

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.ListPosts(ctx)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), b.refreshCalls.Load())
}

func TestClient_RefreshSession_ExpiredReturnsSessionExpired(t *testing.T) {
	b := &tokenBackend{}
	c, _ := newTestClient(t, b)

	err := c.RefreshSession(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSessionExpired)
	assert.Zero(t, b.refreshCalls.Load())
}

func TestClient_RefreshSession_StoresRotatedRefresh(t *testing.T) {
	rotated := refreshToken(t, time.Now().Add(48*time.Hour))
	c, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NotEmpty(t, body["refresh"])
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]string{"access": "new-access", "refresh": rotated})
	}))
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, domain.TokenPair{Access: "old", Refresh: refreshToken(t, time.Now().Add(time.Hour))}))

	require.NoError(t, c.RefreshSession(ctx))

	access, _ := store.AccessToken(ctx)
	refresh, _ := store.RefreshToken(ctx)
	assert.Equal(t, "new-access", access)
	assert.Equal(t, rotated, refresh)
}

func TestClient_LoginIsAnonymousAndNotRefreshed(t *testing.T) {
	var calls atomic.Int32
	c, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/auth/token/", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"detail": "No active account found with the given credentials",
		})
	}))
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, domain.TokenPair{Access: "leftover"}))

	_, err := c.Login(ctx, domain.Credentials{Username: "ada", Password: "wrong"})

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "No active account found with the given credentials",
		apperrors.UserMessage(err, "Invalid credentials. Please try again."))
}

func TestClient_RegisterFieldErrorsKeepOrder(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"username":["A user with that username already exists."],"email":["Enter a valid email address."]}`)
	}))

	_, err := c.Register(context.Background(), domain.RegisterInput{
		Username: "ada", Email: "ada@campus.edu", Password: "longenough",
	})

	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
	assert.Equal(t, "A user with that username already exists.", apperrors.FirstMessage(err))
}

func TestClient_ValidationFailsBeforeNetwork(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	ctx := context.Background()

	_, err := c.CreateComment(ctx, 1, "   ")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = c.Login(ctx, domain.Credentials{})
	require.Error(t, err)

	_, err = c.CreatePost(ctx, domain.PostInput{Title: "", Content: "x"})
	require.Error(t, err)
	assert.Equal(t, "title may not be blank", apperrors.FirstMessage(err))

	assert.Zero(t, calls.Load())
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(httpclient.New(httpclient.Config{Timeout: time.Second}), url+"/api/",
		tokenstore.New(tokenstore.NewMemoryStorage()), nil)
	require.NoError(t, err)

	_, err = c.ListPosts(context.Background())

	require.Error(t, err)
	assert.Equal(t, apperrors.KindTransport, apperrors.KindOf(err))
	assert.Equal(t, apperrors.MsgTransport, apperrors.UserMessage(err, "Failed to load posts."))
}

func TestClient_MeLogsOutWhenReplayIsRejected(t *testing.T) {
	c, store := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/token/refresh/" {
			writeJSON(w, http.StatusOK, map[string]string{"access": "new"})
			return
		}
		unauthorized(w)
	}))
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, domain.TokenPair{Access: "old", Refresh: refreshToken(t, time.Now().Add(time.Hour))}))
	var hookCalls atomic.Int32
	c.SetLogoutHook(func(context.Context) { hookCalls.Add(1) })

	_, err := c.Me(ctx)

	require.Error(t, err)
	assert.Equal(t, int32(1), hookCalls.Load())
	assert.True(t, store.IsRefreshExpired(ctx))
}

func TestNew_RejectsRelativeBaseURL(t *testing.T) {
	_, err := New(httpclient.New(httpclient.DefaultConfig()), "api/", tokenstore.New(tokenstore.NewMemoryStorage()), nil)
	require.Error(t, err)
}

func TestNew_AddsTrailingSlash(t *testing.T) {
	c, err := New(httpclient.New(httpclient.DefaultConfig()), "http://127.0.0.1:8000/api",
		tokenstore.New(tokenstore.NewMemoryStorage()), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(c.BaseURL(), "/api/"))
}
