package tokenstore

import "context"

// Keys persisted by the store. They match the keys the web client keeps in
// browser local storage so that exported sessions stay interchangeable.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
	KeyIsVerified   = "isVerified"
)

// Storage is a string key-value store with local-storage semantics: a missing
// key is reported with ok=false, not an error.
type Storage interface {
	// Get returns the value stored under key.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
}
