package filestore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jrsteele09/go-finance-client/internal/errors"
	"github.com/jrsteele09/go-finance-client/session"
	"github.com/jrsteele09/go-finance-client/session/filestore"
	"github.com/stretchr/testify/require"
)

// A JWT-shaped token with characters that a lossy encoder could mangle.
const awkwardToken = "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJ1LTEiLCJuYW1lIjoiw6lsw6huZSA8Jj4ifQ.c2ln+/=="

func newStore(t *testing.T, secret string) (*filestore.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	s, err := filestore.New(path, secret)
	require.NoError(t, err)
	return s, path
}

func TestStore_MissingFileReadsEmpty(t *testing.T) {
	s, _ := newStore(t, "")
	_, err := s.Get(session.KeyAccessToken)
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestStore_SurvivesReopen(t *testing.T) {
	s, path := newStore(t, "")
	require.NoError(t, s.Set(map[string]string{
		session.KeyAccessToken:  awkwardToken,
		session.KeyRefreshToken: "refresh-1",
	}))

	reopened, err := filestore.New(path, "")
	require.NoError(t, err)
	v, err := reopened.Get(session.KeyAccessToken)
	require.NoError(t, err)
	require.Equal(t, awkwardToken, v)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestStore_EncryptedAtRest(t *testing.T) {
	s, path := newStore(t, "correct horse battery staple")
	require.NoError(t, s.Set(map[string]string{session.KeyRefreshToken: "super-secret-refresh"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "super-secret-refresh")

	v, err := s.Get(session.KeyRefreshToken)
	require.NoError(t, err)
	require.Equal(t, "super-secret-refresh", v)

	wrongKey, err := filestore.New(path, "another secret")
	require.NoError(t, err)
	_, err = wrongKey.Get(session.KeyRefreshToken)
	require.True(t, errors.Is(err, errors.ErrCorruptStorage))
}

func TestStore_DeleteAllRemovesFile(t *testing.T) {
	s, path := newStore(t, "")
	require.NoError(t, s.Set(map[string]string{
		session.KeyAccessToken:  "a",
		session.KeyRefreshToken: "r",
		session.KeyUser:         `{"id":"1"}`,
	}))

	require.NoError(t, s.Delete(session.AllKeys...))
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestStore_DeleteReplacesCorruptFile(t *testing.T) {
	s, path := newStore(t, "")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := s.Get(session.KeyAccessToken)
	require.True(t, errors.Is(err, errors.ErrCorruptStorage))

	require.NoError(t, s.Delete(session.AllKeys...))
	_, err = s.Get(session.KeyAccessToken)
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := filestore.New("", "")
	require.Error(t, err)
}
