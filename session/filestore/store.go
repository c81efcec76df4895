// Package filestore persists the session record in a single JSON file so that it
// survives process restarts. When a secret is configured the file is sealed with
// AES-256-GCM under a key derived from the secret with HKDF-SHA256.
package filestore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/jrsteele09/go-finance-client/internal/errors"
	"github.com/jrsteele09/go-finance-client/session"
	"golang.org/x/crypto/hkdf"
)

const hkdfInfo = "finctl-session-v1"

var _ session.Storage = (*Store)(nil)

// Store is a file-backed session.Storage. Every operation re-reads the file.
type Store struct {
	path string
	key  []byte // nil means plaintext
	mu   sync.Mutex
}

// New creates a store at path. A non-empty secret enables encryption.
// The file is created lazily on the first write.
func New(path, secret string) (*Store, error) {
	if path == "" {
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "session file path is empty")
	}
	s := &Store{path: path}
	if secret != "" {
		key, err := deriveKey([]byte(secret))
		if err != nil {
			return nil, err
		}
		s.key = key
	}
	return s, nil
}

// Path returns the backing file location
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Get(key string) (string, error) {
	if key == "" {
		return "", errors.ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return "", err
	}
	v, ok := values[key]
	if !ok {
		return "", session.ErrNotFound
	}
	return v, nil
}

func (s *Store) Set(entries map[string]string) error {
	for k := range entries {
		if k == "" {
			return errors.ErrEmptyKey
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	for k, v := range entries {
		values[k] = v
	}
	return s.save(values)
}

func (s *Store) Delete(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		// An unreadable file is replaced rather than left holding stale credentials.
		values = map[string]string{}
	}
	for _, k := range keys {
		delete(values, k)
	}
	if len(values) == 0 {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove session file: %w", err)
		}
		return nil
	}
	return s.save(values)
}

func (s *Store) load() (map[string]string, error) {
	blob, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	if s.key != nil {
		if blob, err = decrypt(s.key, blob); err != nil {
			return nil, errors.Wrapf(errors.ErrCorruptStorage, "decrypt %s: %v", s.path, err)
		}
	}

	values := map[string]string{}
	if err := json.Unmarshal(blob, &values); err != nil {
		return nil, errors.Wrapf(errors.ErrCorruptStorage, "decode %s: %v", s.path, err)
	}
	return values, nil
}

// save writes to a temp file in the same directory and renames it into place
func (s *Store) save(values map[string]string) error {
	blob, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if s.key != nil {
		if blob, err = encrypt(s.key, blob); err != nil {
			return fmt.Errorf("failed to encrypt session: %w", err)
		}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create session dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod temp session file: %w", err)
	}
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}
	return nil
}

func deriveKey(secret []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("failed to derive session key: %w", err)
	}
	return key, nil
}

func encrypt(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	ct := gcm.Seal(nil, nonce, plaintext, nil)
	return append(nonce, ct...), nil
}

func decrypt(key, blob []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	ns := gcm.NonceSize()
	if len(blob) < ns {
		return nil, errors.New("ciphertext too short")
	}
	return gcm.Open(nil, blob[:ns], blob[ns:], nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
