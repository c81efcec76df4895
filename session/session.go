package session

//go:generate mockgen -destination=sessionmock/mock_storage.go -package=sessionmock github.com/jrsteele09/go-finance-client/session Storage

import "github.com/jrsteele09/go-finance-client/internal/errors"

// Storage keys. All three are written at login and removed together.
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
)

// AllKeys lists every key that makes up a Session Record
var AllKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUser}

// ErrNotFound is returned by Storage.Get for an absent key
var ErrNotFound = errors.ErrNotFound

// Profile is the cached user identity returned by the API at login.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CredentialPair holds the opaque bearer tokens issued by the API.
type CredentialPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Record is the locally persisted session: the credential pair plus the cached profile.
type Record struct {
	CredentialPair
	User *Profile
}

// Storage is the persisted key-value store backing the session.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Get returns the value stored at key, or ErrNotFound
	Get(key string) (string, error)

	// Set writes every entry or none of them
	Set(entries map[string]string) error

	// Delete removes the given keys. Absent keys are ignored.
	Delete(keys ...string) error
}
