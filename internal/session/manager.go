// Package session tracks who is logged in. It owns the transitions between
// initializing, authenticated and anonymous, and keeps the session alive with
// a periodic background refresh.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/utafrali/campusfeed/internal/api"
	"github.com/utafrali/campusfeed/internal/domain"
	"github.com/utafrali/campusfeed/internal/tokenstore"
	apperrors "github.com/utafrali/campusfeed/pkg/errors"
	"github.com/utafrali/campusfeed/pkg/logger"
)

// DefaultRefreshInterval is how often Run revalidates an authenticated
// session.
const DefaultRefreshInterval = 4 * time.Minute

// ErrSessionEnded is returned when a logout, expiry or new login happened
// while the operation was waiting on the network. Its result is dropped.
var ErrSessionEnded = errors.New("session changed while the request was in flight")

// Backend is the part of the API client the session depends on.
type Backend interface {
	Login(ctx context.Context, creds domain.Credentials) (domain.TokenPair, error)
	Register(ctx context.Context, in domain.RegisterInput) (domain.TokenPair, error)
	Me(ctx context.Context) (*domain.User, error)
	UpdateMe(ctx context.Context, in domain.ProfileUpdate) (*domain.User, error)
	RefreshSession(ctx context.Context) error
	SetLogoutHook(fn api.LogoutHook)
}

// Option configures a Manager.
type Option func(*Manager)

// WithNavigator sets where the user is sent after a logout.
func WithNavigator(n Navigator) Option {
	return func(m *Manager) {
		if n != nil {
			m.nav = n
		}
	}
}

// WithClock overrides the clock driving Run.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithRefreshInterval overrides DefaultRefreshInterval.
func WithRefreshInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager is the process-wide session. Store writes and the state changes
// they go with are serialized by writeMu; mu guards the in-memory state.
// No network call is made while either is held. gen counts session
// boundaries (logout, expiry, login): a result computed under an older gen
// is discarded.
type Manager struct {
	backend  Backend
	store    *tokenstore.Store
	nav      Navigator
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger

	writeMu sync.Mutex

	mu      sync.RWMutex
	gen     uint64
	state   State
	user    *domain.User
	subs    map[int]chan Snapshot
	nextSub int
}

// NewManager creates a session in the initializing state and installs its
// forced-logout hook on backend.
func NewManager(backend Backend, store *tokenstore.Store, opts ...Option) *Manager {
	m := &Manager{
		backend:  backend,
		store:    store,
		nav:      noopNavigator{},
		clock:    clock.New(),
		interval: DefaultRefreshInterval,
		logger:   logger.Discard(),
		state:    StateInitializing,
		subs:     make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(m)
	}
	recordState(StateInitializing)
	backend.SetLogoutHook(func(ctx context.Context) {
		m.expire(ctx, m.generation(), "session could not be refreshed")
	})
	return m
}

// Init resolves the initial state. A missing or expired refresh token gives
// an anonymous session without any network call. Otherwise the profile is
// fetched; if that fails the session is refreshed and the profile fetched
// once more before falling back to anonymous.
func (m *Manager) Init(ctx context.Context) Snapshot {
	gen := m.generation()
	if cached, err := m.store.User(ctx); err == nil && cached != nil {
		m.mu.Lock()
		if m.state == StateInitializing {
			m.user = cached
		}
		m.mu.Unlock()
	}

	if m.store.IsRefreshExpired(ctx) {
		m.commit(gen, func() {
			if err := m.store.Clear(ctx); err != nil {
				m.log(ctx).Warn("failed to clear stale session", slog.String("error", err.Error()))
			}
			m.transition(ctx, StateAnonymous, nil)
		})
		return m.Snapshot()
	}

	u, err := m.backend.Me(ctx)
	if err == nil {
		m.setAuthenticated(ctx, gen, u, false)
		return m.Snapshot()
	}

	m.log(ctx).Info("profile fetch failed during init, refreshing session",
		slog.String("error", err.Error()),
	)
	_ = m.revalidate(ctx, gen, triggerInit)
	return m.Snapshot()
}

// Login authenticates with credentials, stores the tokens and loads the
// profile. On failure the state is left unchanged.
func (m *Manager) Login(ctx context.Context, creds domain.Credentials) error {
	pair, err := m.backend.Login(ctx, creds)
	if err != nil {
		return err
	}
	return m.establish(ctx, pair)
}

// Register creates an account and logs it in. New accounts start
// unverified.
func (m *Manager) Register(ctx context.Context, in domain.RegisterInput) error {
	pair, err := m.backend.Register(ctx, in)
	if err != nil {
		return err
	}
	return m.establish(ctx, pair)
}

func (m *Manager) establish(ctx context.Context, pair domain.TokenPair) error {
	gen := m.generation()
	var err error
	if !m.commit(gen, func() { err = m.store.Save(ctx, pair) }) {
		return ErrSessionEnded
	}
	if err != nil {
		return err
	}

	u, err := m.backend.Me(ctx)
	if err != nil {
		m.commit(gen, func() {
			if cerr := m.store.Clear(ctx); cerr != nil {
				m.log(ctx).Warn("failed to clear tokens", slog.String("error", cerr.Error()))
			}
		})
		return fmt.Errorf("load profile: %w", err)
	}
	if !m.setAuthenticated(ctx, gen, u, true) {
		return ErrSessionEnded
	}
	return nil
}

// Logout clears the stored session and sends the user to the login surface.
// Revalidations still in flight are discarded.
func (m *Manager) Logout(ctx context.Context) error {
	m.writeMu.Lock()
	m.bump()
	err := m.store.Clear(ctx)
	m.transition(ctx, StateAnonymous, nil)
	m.writeMu.Unlock()

	m.nav.ToLogin()
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Refresh revalidates the session now: new access token, then profile.
// Any failure ends the session.
func (m *Manager) Refresh(ctx context.Context) error {
	return m.revalidate(ctx, m.generation(), triggerManual)
}

func (m *Manager) revalidate(ctx context.Context, gen uint64, trigger string) error {
	if err := m.backend.RefreshSession(ctx); err != nil {
		refreshTotal.WithLabelValues(trigger, "failure").Inc()
		m.expire(ctx, gen, "refresh failed")
		return err
	}
	u, err := m.backend.Me(ctx)
	if err != nil {
		refreshTotal.WithLabelValues(trigger, "failure").Inc()
		m.expire(ctx, gen, "profile fetch failed after refresh")
		return err
	}
	if !m.setAuthenticated(ctx, gen, u, false) {
		refreshTotal.WithLabelValues(trigger, "discarded").Inc()
		return ErrSessionEnded
	}
	refreshTotal.WithLabelValues(trigger, "success").Inc()
	return nil
}

// Run revalidates an authenticated session every refresh interval until ctx
// is done. Anonymous sessions are left alone.
func (m *Manager) Run(ctx context.Context) error {
	ticker := m.clock.Ticker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if m.Snapshot().State != StateAuthenticated {
				continue
			}
			if err := m.revalidate(ctx, m.generation(), triggerBackground); err != nil {
				m.log(ctx).Warn("background session refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

// UpdateProfile edits the current user's bio and avatar.
func (m *Manager) UpdateProfile(ctx context.Context, in domain.ProfileUpdate) (*domain.User, error) {
	gen := m.generation()
	if !m.Snapshot().Authenticated() {
		return nil, apperrors.Unauthorized("you must be logged in to edit your profile")
	}
	u, err := m.backend.UpdateMe(ctx, in)
	if err != nil {
		return nil, err
	}
	m.setAuthenticated(ctx, gen, u, false)
	return u, nil
}

// CanCreatePost reports whether the current user may publish. Unverified
// accounts can browse but not post.
func (m *Manager) CanCreatePost() bool {
	s := m.Snapshot()
	return s.Authenticated() && s.User.IsVerified
}

// User returns a copy of the current user, or nil.
func (m *Manager) User() *domain.User {
	return m.Snapshot().User
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	s := Snapshot{State: m.state, Loading: m.state == StateInitializing}
	if m.user != nil {
		u := *m.user
		s.User = &u
	}
	return s
}

// Subscribe returns a channel that receives the current snapshot at once and
// then every later change. Slow readers only see the latest snapshot. The
// returned func unsubscribes and closes the channel.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.snapshotLocked()
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}

func (m *Manager) generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gen
}

// bump starts a new session generation. writeMu must be held.
func (m *Manager) bump() {
	m.mu.Lock()
	m.gen++
	m.mu.Unlock()
}

// commit runs fn under writeMu if the generation is still gen.
func (m *Manager) commit(gen uint64, fn func()) bool {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.generation() != gen {
		return false
	}
	fn()
	return true
}

// setAuthenticated caches u and marks the session authenticated unless the
// session changed since gen. A fresh login starts a new generation.
func (m *Manager) setAuthenticated(ctx context.Context, gen uint64, u *domain.User, fresh bool) bool {
	return m.commit(gen, func() {
		if fresh {
			m.bump()
		}
		if err := m.store.SetUser(ctx, u); err != nil {
			m.log(ctx).Warn("failed to cache user", slog.String("error", err.Error()))
		}
		m.transition(ctx, StateAuthenticated, u)
	})
}

// expire ends the session after a failure, unless the session already
// changed since gen. The navigator only runs when the session was not
// already anonymous.
func (m *Manager) expire(ctx context.Context, gen uint64, reason string) {
	var prev State
	ok := m.commit(gen, func() {
		m.bump()
		if err := m.store.Clear(ctx); err != nil {
			m.log(ctx).Warn("failed to clear session", slog.String("error", err.Error()))
		}
		prev = m.transition(ctx, StateAnonymous, nil)
	})
	if ok && prev != StateAnonymous {
		m.log(ctx).Info("session ended", slog.String("reason", reason))
		m.nav.ToLogin()
	}
}

// transition moves to state and notifies subscribers. It returns the
// previous state.
func (m *Manager) transition(ctx context.Context, to State, u *domain.User) State {
	m.mu.Lock()
	prev := m.state
	m.state = to
	m.user = u
	snap := m.snapshotLocked()
	for _, ch := range m.subs {
		publish(ch, snap)
	}
	m.mu.Unlock()

	if prev != to {
		transitionsTotal.WithLabelValues(string(to)).Inc()
		recordState(to)
		m.log(ctx).Debug("session state changed",
			slog.String("from", string(prev)),
			slog.String("to", string(to)),
		)
	}
	return prev
}

// publish replaces any unread snapshot with s.
func publish(ch chan Snapshot, s Snapshot) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

func (m *Manager) log(ctx context.Context) *slog.Logger {
	return logger.WithContext(ctx, m.logger)
}
