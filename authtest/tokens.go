package authtest

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

const refreshTokenLength = 32

var errTokenRevoked = errors.New("token revoked")

// accessClaims are the claims carried by issued access tokens. Generation lets
// tests invalidate every outstanding token without waiting for exp.
type accessClaims struct {
	Email      string `json:"email"`
	Generation int64  `json:"gen"`
	jwtlib.RegisteredClaims
}

// tokenCreator issues and validates HS256 access tokens
type tokenCreator struct {
	secret []byte
	ttl    time.Duration
}

func newTokenCreator(ttl time.Duration) (*tokenCreator, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate signing secret: %w", err)
	}
	return &tokenCreator{secret: secret, ttl: ttl}, nil
}

func (c *tokenCreator) create(user *User, generation int64) (string, error) {
	now := NowTimeFunc()
	claims := accessClaims{
		Email:      user.Email,
		Generation: generation,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(c.ttl)),
			ID:        uuid.New().String(), // unique even when issued in the same second
		},
	}
	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT token: %w", err)
	}
	return signed, nil
}

// validate returns the claims of a token signed by this creator that is not
// expired and belongs to minGeneration or later
func (c *tokenCreator) validate(raw string, minGeneration int64) (*accessClaims, error) {
	claims := &accessClaims{}
	_, err := jwtlib.ParseWithClaims(raw, claims, func(t *jwtlib.Token) (any, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwtlib.WithTimeFunc(NowTimeFunc), jwtlib.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims.Generation < minGeneration {
		return nil, errTokenRevoked
	}
	return claims, nil
}

// opaqueStore keeps opaque random tokens (refresh, verification, reset) keyed by
// token, with at most one live token per user.
type opaqueStore struct {
	lock    sync.Mutex
	byToken map[string]string // token to user id
	byUser  map[string]string // user id to token
}

func newOpaqueStore() *opaqueStore {
	return &opaqueStore{
		byToken: make(map[string]string),
		byUser:  make(map[string]string),
	}
}

// create replaces any existing token of userID with a fresh one
func (s *opaqueStore) create(userID string) (string, error) {
	tokenBytes := make([]byte, refreshTokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	token := hex.EncodeToString(tokenBytes)

	s.lock.Lock()
	defer s.lock.Unlock()
	if old, ok := s.byUser[userID]; ok {
		delete(s.byToken, old)
	}
	s.byToken[token] = userID
	s.byUser[userID] = token
	return token, nil
}

// consume removes token and returns its owner
func (s *opaqueStore) consume(token string) (string, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	userID, ok := s.byToken[token]
	if !ok {
		return "", false
	}
	delete(s.byToken, token)
	delete(s.byUser, userID)
	return userID, true
}

func (s *opaqueStore) forUser(userID string) (string, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	token, ok := s.byUser[userID]
	return token, ok
}

func (s *opaqueStore) revoke(token string) {
	s.consume(token)
}

func (s *opaqueStore) reset() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.byToken = make(map[string]string)
	s.byUser = make(map[string]string)
}
