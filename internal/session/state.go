package session

import "github.com/utafrali/campusfeed/internal/domain"

// State is the authentication state of the session.
type State string

const (
	StateInitializing  State = "initializing"
	StateAuthenticated State = "authenticated"
	StateAnonymous     State = "anonymous"
)

var allStates = []State{StateInitializing, StateAuthenticated, StateAnonymous}

// Snapshot is a point-in-time view of the session.
type Snapshot struct {
	State   State
	User    *domain.User
	Loading bool
}

// Authenticated reports whether a user is logged in.
func (s Snapshot) Authenticated() bool {
	return s.State == StateAuthenticated && s.User != nil
}

// Navigator moves the user interface to the login surface after a logout.
type Navigator interface {
	ToLogin()
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func()

func (f NavigatorFunc) ToLogin() { f() }

type noopNavigator struct{}

func (noopNavigator) ToLogin() {}
