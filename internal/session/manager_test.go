package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/campusfeed/internal/api"
	"github.com/utafrali/campusfeed/internal/domain"
	"github.com/utafrali/campusfeed/internal/tokenstore"
	apperrors "github.com/utafrali/campusfeed/pkg/errors"
)

// ============================================================================
// Mock backend
// ============================================================================

type mockBackend struct {
	mock.Mock
	hook api.LogoutHook
}

func (m *mockBackend) Login(ctx context.Context, creds domain.Credentials) (domain.TokenPair, error) {
	args := m.Called(ctx, creds)
	return args.Get(0).(domain.TokenPair), args.Error(1)
}

func (m *mockBackend) Register(ctx context.Context, in domain.RegisterInput) (domain.TokenPair, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(domain.TokenPair), args.Error(1)
}

func (m *mockBackend) Me(ctx context.Context) (*domain.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockBackend) UpdateMe(ctx context.Context, in domain.ProfileUpdate) (*domain.User, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockBackend) RefreshSession(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockBackend) SetLogoutHook(fn api.LogoutHook) {
	m.hook = fn
}

// ============================================================================
// Helpers
// ============================================================================

type countingNavigator struct{ calls atomic.Int32 }

func (n *countingNavigator) ToLogin() { n.calls.Add(1) }

func validRefresh(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(24 * time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

type fixture struct {
	backend *mockBackend
	store   *tokenstore.Store
	nav     *countingNavigator
	clock   *clock.Mock
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		backend: &mockBackend{},
		store:   tokenstore.New(tokenstore.NewMemoryStorage()),
		nav:     &countingNavigator{},
		clock:   clock.NewMock(),
	}
	f.manager = NewManager(f.backend, f.store,
		WithNavigator(f.nav),
		WithClock(f.clock),
		WithRefreshInterval(4*time.Minute),
	)
	return f
}

func (f *fixture) loggedIn(t *testing.T, u *domain.User) {
	t.Helper()
	require.NoError(t, f.store.Save(context.Background(), domain.TokenPair{Access: "access", Refresh: validRefresh(t)}))
	f.backend.On("Me", mock.Anything).Return(u, nil).Once()
	snap := f.manager.Init(context.Background())
	require.Equal(t, StateAuthenticated, snap.State)
}

var ada = &domain.User{ID: 1, Username: "ada", IsVerified: true}

// ============================================================================
// Init
// ============================================================================

func TestNewManager_StartsInitializing(t *testing.T) {
	f := newFixture(t)

	snap := f.manager.Snapshot()
	assert.Equal(t, StateInitializing, snap.State)
	assert.True(t, snap.Loading)
	assert.Nil(t, snap.User)
	assert.NotNil(t, f.backend.hook)
}

func TestInit_NoRefreshToken_AnonymousWithoutNetwork(t *testing.T) {
	f := newFixture(t)

	snap := f.manager.Init(context.Background())

	assert.Equal(t, StateAnonymous, snap.State)
	assert.False(t, snap.Loading)
	f.backend.AssertNotCalled(t, "Me", mock.Anything)
	f.backend.AssertNotCalled(t, "RefreshSession", mock.Anything)
	assert.Zero(t, f.nav.calls.Load())
}

func TestInit_ExpiredRefreshToken_ClearsStaleSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)
	require.NoError(t, f.store.Save(ctx, domain.TokenPair{Access: "a", Refresh: expired}))
	require.NoError(t, f.store.SetUser(ctx, ada))

	snap := f.manager.Init(ctx)

	assert.Equal(t, StateAnonymous, snap.State)
	assert.Nil(t, snap.User)
	access, _ := f.store.AccessToken(ctx)
	assert.Empty(t, access)
	f.backend.AssertNotCalled(t, "Me", mock.Anything)
	assert.Zero(t, f.nav.calls.Load())
}

func TestInit_ValidSession_Authenticated(t *testing.T) {
	f := newFixture(t)

	f.loggedIn(t, ada)

	snap := f.manager.Snapshot()
	assert.Equal(t, "ada", snap.User.Username)
	assert.True(t, f.store.IsVerified(context.Background()))
	cached, err := f.store.User(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ada.ID, cached.ID)
}

func TestInit_ProfileFails_RefreshesAndRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Save(ctx, domain.TokenPair{Access: "a", Refresh: validRefresh(t)}))
	f.backend.On("Me", mock.Anything).Return(nil, apperrors.Transport(errors.New("connection reset"))).Once()
	f.backend.On("RefreshSession", mock.Anything).Return(nil).Once()
	f.backend.On("Me", mock.Anything).Return(ada, nil).Once()

	snap := f.manager.Init(ctx)

	assert.Equal(t, StateAuthenticated, snap.State)
	assert.Equal(t, "ada", snap.User.Username)
	f.backend.AssertExpectations(t)
}

func TestInit_ProfileAndRefreshFail_Anonymous(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Save(ctx, domain.TokenPair{Access: "a", Refresh: validRefresh(t)}))
	f.backend.On("Me", mock.Anything).Return(nil, apperrors.Unauthorized("bad token")).Once()
	f.backend.On("RefreshSession", mock.Anything).Return(apperrors.Unauthorized("Token is invalid or expired")).Once()

	snap := f.manager.Init(ctx)

	assert.Equal(t, StateAnonymous, snap.State)
	assert.True(t, f.store.IsRefreshExpired(ctx))
	assert.Equal(t, int32(1), f.nav.calls.Load())
}

func TestInit_ShowsCachedUserWhileLoading(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Save(ctx, domain.TokenPair{Access: "a", Refresh: validRefresh(t)}))
	require.NoError(t, f.store.SetUser(ctx, ada))

	seen := make(chan Snapshot, 1)
	f.backend.On("Me", mock.Anything).Run(func(mock.Arguments) {
		seen <- f.manager.Snapshot()
	}).Return(ada, nil).Once()

	f.manager.Init(ctx)

	loading := <-seen
	assert.True(t, loading.Loading)
	require.NotNil(t, loading.User)
	assert.Equal(t, "ada", loading.User.Username)
}

// ============================================================================
// Login / Register / Logout
// ============================================================================

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.manager.Init(ctx)
	creds := domain.Credentials{Username: "ada", Password: "pw"}
	refresh := validRefresh(t)
	f.backend.On("Login", mock.Anything, creds).Return(domain.TokenPair{Access: "acc", Refresh: refresh}, nil)
	f.backend.On("Me", mock.Anything).Return(ada, nil)

	require.NoError(t, f.manager.Login(ctx, creds))

	assert.Equal(t, StateAuthenticated, f.manager.Snapshot().State)
	access, _ := f.store.AccessToken(ctx)
	stored, _ := f.store.RefreshToken(ctx)
	assert.Equal(t, "acc", access)
	assert.Equal(t, refresh, stored)
}

func TestLogin_BadCredentials_StateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.manager.Init(ctx)
	loginErr := apperrors.Unauthorized("No active account found with the given credentials")
	f.backend.On("Login", mock.Anything, mock.Anything).Return(domain.TokenPair{}, loginErr)

	err := f.manager.Login(ctx, domain.Credentials{Username: "ada", Password: "nope"})

	require.Error(t, err)
	assert.Equal(t, "No active account found with the given credentials",
		apperrors.UserMessage(err, "Invalid credentials. Please try again."))
	assert.Equal(t, StateAnonymous, f.manager.Snapshot().State)
	f.backend.AssertNotCalled(t, "Me", mock.Anything)
}

func TestLogin_ProfileFails_TokensDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.manager.Init(ctx)
	f.backend.On("Login", mock.Anything, mock.Anything).Return(domain.TokenPair{Access: "acc", Refresh: validRefresh(t)}, nil)
	f.backend.On("Me", mock.Anything).Return(nil, apperrors.Transport(errors.New("timeout")))

	err := f.manager.Login(ctx, domain.Credentials{Username: "ada", Password: "pw"})

	require.Error(t, err)
	assert.Equal(t, apperrors.KindTransport, apperrors.KindOf(err))
	assert.Equal(t, StateAnonymous, f.manager.Snapshot().State)
	assert.True(t, f.store.IsRefreshExpired(ctx))
}

func TestRegister_AuthenticatesUnverifiedUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.manager.Init(ctx)
	in := domain.RegisterInput{Username: "newbie", Email: "n@campus.edu", Password: "longenough"}
	f.backend.On("Register", mock.Anything, in).Return(domain.TokenPair{Access: "a", Refresh: validRefresh(t)}, nil)
	f.backend.On("Me", mock.Anything).Return(&domain.User{ID: 9, Username: "newbie"}, nil)

	require.NoError(t, f.manager.Register(ctx, in))

	assert.True(t, f.manager.Snapshot().Authenticated())
	assert.False(t, f.manager.CanCreatePost())
	assert.False(t, f.store.IsVerified(ctx))
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loggedIn(t, ada)

	require.NoError(t, f.manager.Logout(ctx))

	snap := f.manager.Snapshot()
	assert.Equal(t, StateAnonymous, snap.State)
	assert.Nil(t, snap.User)
	assert.Equal(t, int32(1), f.nav.calls.Load())
	for _, key := range []string{tokenstore.KeyAccessToken, tokenstore.KeyRefreshToken, tokenstore.KeyUser} {
		_, ok, err := f.store.Storage().Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, key)
	}
}

func TestForcedLogoutHook_NavigatesOnce(t *testing.T) {
	f := newFixture(t)
	f.loggedIn(t, ada)

	f.backend.hook(context.Background())
	f.backend.hook(context.Background())

	assert.Equal(t, StateAnonymous, f.manager.Snapshot().State)
	assert.Equal(t, int32(1), f.nav.calls.Load())
}

func TestRefresh_LogoutDuringProfileFetchWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loggedIn(t, ada)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.backend.On("RefreshSession", mock.Anything).Return(nil).Once()
	f.backend.On("Me", mock.Anything).Run(func(mock.Arguments) {
		close(entered)
		<-release
	}).Return(ada, nil).Once()

	done := make(chan error, 1)
	go func() { done <- f.manager.Refresh(ctx) }()
	<-entered

	require.NoError(t, f.manager.Logout(ctx))
	close(release)

	assert.ErrorIs(t, <-done, ErrSessionEnded)
	snap := f.manager.Snapshot()
	assert.Equal(t, StateAnonymous, snap.State)
	assert.Nil(t, snap.User)
	for _, key := range []string{tokenstore.KeyRefreshToken, tokenstore.KeyUser} {
		_, ok, err := f.store.Storage().Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, key)
	}
	assert.Equal(t, int32(1), f.nav.calls.Load())
}

func TestRefresh_StaleFailureKeepsNewLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.loggedIn(t, ada)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.backend.On("RefreshSession", mock.Anything).Run(func(mock.Arguments) {
		close(entered)
		<-release
	}).Return(apperrors.SessionExpired("refresh token revoked")).Once()

	done := make(chan error, 1)
	go func() { done <- f.manager.Refresh(ctx) }()
	<-entered

	grace := &domain.User{ID: 2, Username: "grace", IsVerified: true}
	newRefresh, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp":     time.Now().Add(24 * time.Hour).Unix(),
		"user_id": 2,
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	creds := domain.Credentials{Username: "grace", Password: "pw"}
	f.backend.On("Login", mock.Anything, creds).Return(domain.TokenPair{Access: "a2", Refresh: newRefresh}, nil).Once()
	f.backend.On("Me", mock.Anything).Return(grace, nil).Once()
	require.NoError(t, f.manager.Login(ctx, creds))

	close(release)
	require.Error(t, <-done)

	snap := f.manager.Snapshot()
	assert.Equal(t, StateAuthenticated, snap.State)
	require.NotNil(t, snap.User)
	assert.Equal(t, "grace", snap.User.Username)
	got, ok, err := f.store.Storage().Get(ctx, tokenstore.KeyRefreshToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, newRefresh, got)
	assert.Zero(t, f.nav.calls.Load())
}

// ============================================================================
// Background refresh
// ============================================================================

func TestRun_RefreshesOnInterval(t *testing.T) {
	f := newFixture(t)
	f.loggedIn(t, ada)
	var refreshed atomic.Int32
	f.backend.On("RefreshSession", mock.Anything).Run(func(mock.Arguments) { refreshed.Add(1) }).Return(nil)
	f.backend.On("Me", mock.Anything).Return(&domain.User{ID: 1, Username: "ada", Bio: "updated"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.manager.Run(ctx) }()

	assert.Eventually(t, func() bool {
		f.clock.Add(4 * time.Minute)
		return refreshed.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Eventually(t, func() bool {
		return f.manager.User().Bio == "updated"
	}, time.Second, 10*time.Millisecond)
}

func TestRun_NoRefreshBeforeInterval(t *testing.T) {
	f := newFixture(t)
	f.loggedIn(t, ada)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.manager.Run(ctx) }()

	f.clock.Add(3 * time.Minute)
	cancel()
	require.NoError(t, <-done)
	f.backend.AssertNotCalled(t, "RefreshSession", mock.Anything)
}

func TestRun_FailureEndsSession(t *testing.T) {
	f := newFixture(t)
	f.loggedIn(t, ada)
	f.backend.On("RefreshSession", mock.Anything).Return(apperrors.SessionExpired("refresh token missing or expired"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.manager.Run(ctx) }()

	assert.Eventually(t, func() bool {
		f.clock.Add(4 * time.Minute)
		return f.manager.Snapshot().State == StateAnonymous
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), f.nav.calls.Load())
}

func TestRun_SkipsAnonymousSession(t *testing.T) {
	f := newFixture(t)
	f.manager.Init(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.manager.Run(ctx) }()
	for i := 0; i < 5; i++ {
		f.clock.Add(4 * time.Minute)
		time.Sleep(time.Millisecond)
	}
	cancel()
	require.NoError(t, <-done)

	f.backend.AssertNotCalled(t, "RefreshSession", mock.Anything)
}

// ============================================================================
// Profile, gating, subscriptions
// ============================================================================

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := domain.ProfileUpdate{Bio: "Physics, 2nd year"}

	_, err := f.manager.UpdateProfile(ctx, in)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	f.loggedIn(t, ada)
	f.backend.On("UpdateMe", mock.Anything, in).Return(&domain.User{ID: 1, Username: "ada", Bio: in.Bio, IsVerified: true}, nil)

	u, err := f.manager.UpdateProfile(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, in.Bio, u.Bio)
	assert.Equal(t, in.Bio, f.manager.User().Bio)
}

func TestCanCreatePost(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.manager.CanCreatePost())

	f.loggedIn(t, &domain.User{ID: 2, Username: "grace", IsVerified: false})
	assert.False(t, f.manager.CanCreatePost())

	f.backend.On("RefreshSession", mock.Anything).Return(nil)
	f.backend.On("Me", mock.Anything).Return(&domain.User{ID: 2, Username: "grace", IsVerified: true}, nil)
	require.NoError(t, f.manager.Refresh(context.Background()))
	assert.True(t, f.manager.CanCreatePost())
}

func TestSnapshot_ReturnsCopy(t *testing.T) {
	f := newFixture(t)
	f.loggedIn(t, &domain.User{ID: 1, Username: "ada"})

	f.manager.User().Username = "mallory"

	assert.Equal(t, "ada", f.manager.User().Username)
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t)
	ch, cancel := f.manager.Subscribe()

	first := <-ch
	assert.Equal(t, StateInitializing, first.State)

	f.manager.Init(context.Background())
	next := <-ch
	assert.Equal(t, StateAnonymous, next.State)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestSubscribe_SlowReaderSeesLatest(t *testing.T) {
	f := newFixture(t)
	ch, cancel := f.manager.Subscribe()
	defer cancel()

	f.loggedIn(t, ada)
	require.NoError(t, f.manager.Logout(context.Background()))

	latest := <-ch
	assert.Equal(t, StateAnonymous, latest.State)
}

func TestTransitions_RecordMetrics(t *testing.T) {
	before := testutil.ToFloat64(transitionsTotal.WithLabelValues(string(StateAuthenticated)))
	f := newFixture(t)

	f.loggedIn(t, ada)

	assert.Equal(t, before+1, testutil.ToFloat64(transitionsTotal.WithLabelValues(string(StateAuthenticated))))
	assert.Equal(t, 1.0, testutil.ToFloat64(stateGauge.WithLabelValues(string(StateAuthenticated))))
	assert.Equal(t, 0.0, testutil.ToFloat64(stateGauge.WithLabelValues(string(StateAnonymous))))
}
