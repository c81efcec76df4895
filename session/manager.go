package session

import (
	"encoding/json"
	"sync"

	"github.com/jrsteele09/go-finance-client/internal/errors"
)

// Manager owns the Session Record. It is the only component that reads or writes
// the session keys; API callers receive it by injection.
//
// Manager never caches tokens: every read goes to the Storage so a token written by
// a refresh is visible to the next call straight away.
type Manager struct {
	store Storage
	mu    sync.Mutex // serialises writers
}

// NewManager creates a session manager backed by store
func NewManager(store Storage) *Manager {
	return &Manager{store: store}
}

// AccessToken returns the stored access token, or "" when there is none
func (m *Manager) AccessToken() (string, error) {
	return m.get(KeyAccessToken)
}

// RefreshToken returns the stored refresh token, or "" when there is none
func (m *Manager) RefreshToken() (string, error) {
	return m.get(KeyRefreshToken)
}

// User returns the cached profile. An absent or unreadable profile yields nil.
func (m *Manager) User() (*Profile, error) {
	raw, err := m.get(KeyUser)
	if err != nil || raw == "" {
		return nil, err
	}
	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, nil
	}
	return &p, nil
}

// Snapshot reads the whole Session Record
func (m *Manager) Snapshot() (Record, error) {
	var rec Record
	var err error
	if rec.AccessToken, err = m.AccessToken(); err != nil {
		return Record{}, err
	}
	if rec.RefreshToken, err = m.RefreshToken(); err != nil {
		return Record{}, err
	}
	if rec.User, err = m.User(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// IsAuthenticated reports whether both an access token and a profile are stored
func (m *Manager) IsAuthenticated() bool {
	token, err := m.AccessToken()
	if err != nil || token == "" {
		return false
	}
	user, err := m.User()
	return err == nil && user != nil
}

// SetSession replaces the Session Record
func (m *Manager) SetSession(rec Record) error {
	if rec.AccessToken == "" || rec.RefreshToken == "" {
		return errors.Wrapf(errors.ErrInternal, "session requires both tokens")
	}
	// An empty user value reads as no profile and keeps the write a single Set.
	entries := map[string]string{
		KeyAccessToken:  rec.AccessToken,
		KeyRefreshToken: rec.RefreshToken,
		KeyUser:         "",
	}
	if rec.User != nil {
		b, err := json.Marshal(rec.User)
		if err != nil {
			return errors.Wrapf(err, "failed to encode user profile")
		}
		entries[KeyUser] = string(b)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Set(entries); err != nil {
		return errors.Wrapf(err, "failed to store session")
	}
	return nil
}

// SetTokens overwrites both tokens and leaves the cached profile untouched
func (m *Manager) SetTokens(pair CredentialPair) error {
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return errors.Wrapf(errors.ErrInternal, "credential pair requires both tokens")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Set(map[string]string{
		KeyAccessToken:  pair.AccessToken,
		KeyRefreshToken: pair.RefreshToken,
	}); err != nil {
		return errors.Wrapf(err, "failed to store tokens")
	}
	return nil
}

// SetUser replaces the cached profile. It is a no-op without a stored access token
// so a late profile response cannot resurrect a cleared session.
func (m *Manager) SetUser(p *Profile) error {
	if p == nil {
		return errors.Wrapf(errors.ErrInternal, "nil user profile")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return errors.Wrapf(err, "failed to encode user profile")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	token, err := m.get(KeyAccessToken)
	if err != nil || token == "" {
		return err
	}
	if err := m.store.Set(map[string]string{KeyUser: string(b)}); err != nil {
		return errors.Wrapf(err, "failed to store user profile")
	}
	return nil
}

// Clear removes the whole Session Record
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Delete(AllKeys...); err != nil {
		return errors.Wrapf(err, "failed to clear session")
	}
	return nil
}

func (m *Manager) get(key string) (string, error) {
	v, err := m.store.Get(key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s", key)
	}
	return v, nil
}
