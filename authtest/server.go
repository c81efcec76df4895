// Package authtest runs an in-process fake of the finance dashboard's auth API
// for tests. It issues real HS256 JWT access tokens and rotating opaque refresh
// tokens, and exposes knobs to force the failure modes a session client has to
// survive.
package authtest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jrsteele09/go-finance-client/session"
)

// DefaultAccessTokenTTL is the lifetime of issued access tokens
const DefaultAccessTokenTTL = 15 * time.Minute

// Hit is one request observed by the fake API
type Hit struct {
	Method        string
	Path          string
	RequestID     string
	Authorization string
	Status        int
}

// Server is the fake API. Create it with NewServer and Close it when done.
type Server struct {
	srv    *httptest.Server
	router chi.Router

	users        *userRepo
	tokens       *tokenCreator
	refresh      *opaqueStore
	verification *opaqueStore
	resets       *opaqueStore

	mu                  sync.Mutex
	generation          int64
	requireVerification bool
	expiredVerification map[string]string // token to user id
	refreshFailure      int
	refreshDelay        time.Duration
	logoutFailure       bool
	logoutDelay         time.Duration
	alwaysUnauthorized  map[string]bool
	hits                []Hit

	closed    chan struct{}
	closeOnce sync.Once
}

// Option configures a Server
type Option func(*Server)

// WithAccessTokenTTL sets the lifetime of issued access tokens
func WithAccessTokenTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.tokens.ttl = ttl
	}
}

// WithRequiredVerification makes register answer requiresVerification instead of
// signing the new user in
func WithRequiredVerification() Option {
	return func(s *Server) {
		s.requireVerification = true
	}
}

// NewServer starts a fake API on a loopback port
func NewServer(opts ...Option) *Server {
	tokens, err := newTokenCreator(DefaultAccessTokenTTL)
	if err != nil {
		panic(err)
	}
	s := &Server{
		users:               newUserRepo(),
		tokens:              tokens,
		refresh:             newOpaqueStore(),
		verification:        newOpaqueStore(),
		resets:              newOpaqueStore(),
		expiredVerification: make(map[string]string),
		alwaysUnauthorized:  make(map[string]bool),
		closed:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	s.srv = httptest.NewServer(s.router)
	return s
}

// URL is the API base URL
func (s *Server) URL() string {
	return s.srv.URL
}

// Close shuts the server down, releasing any handler still held by a delay knob
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
	s.srv.CloseClientConnections()
	s.srv.Close()
}

// HandleProtected mounts an extra endpoint behind bearer authentication. Register
// endpoints before issuing requests.
func (s *Server) HandleProtected(method, pattern string, h http.HandlerFunc) {
	s.router.With(s.requireBearer).MethodFunc(method, pattern, h)
}

// AddUser seeds an account and returns its profile
func (s *Server) AddUser(spec UserSpec) *session.Profile {
	u := &User{
		Name:         spec.Name,
		Email:        spec.Email,
		Verified:     !spec.Unverified,
		GoogleLinked: spec.GoogleLinked,
		DateJoined:   NowTimeFunc(),
	}
	if spec.Password != "" {
		hash, err := hashPassword(spec.Password)
		if err != nil {
			panic(err)
		}
		u.PasswordHash = hash
	}
	s.users.upsert(u)
	return u.Profile()
}

// IssueSession signs email in without a password and returns the session the API
// would have returned from login
func (s *Server) IssueSession(email string) (session.Record, error) {
	u, ok := s.users.getByEmail(email)
	if !ok {
		return session.Record{}, fmt.Errorf("unknown user %q", email)
	}
	ar, err := s.newSession(u)
	if err != nil {
		return session.Record{}, err
	}
	return ar.Record(), nil
}

// ExpireAccessTokens invalidates every access token issued so far
func (s *Server) ExpireAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
}

// RevokeRefreshTokens invalidates every refresh token issued so far
func (s *Server) RevokeRefreshTokens() {
	s.refresh.reset()
}

// SetRefreshFailure makes the refresh endpoint answer status. Zero restores normal
// behaviour.
func (s *Server) SetRefreshFailure(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshFailure = status
}

// SetRefreshDelay delays every refresh response by d
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// SetLogoutFailure makes the logout endpoint answer 500
func (s *Server) SetLogoutFailure(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logoutFailure = fail
}

// SetLogoutDelay delays every logout response by d, or until the client gives up
// or the server is closed
func (s *Server) SetLogoutDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logoutDelay = d
}

// SetAlwaysUnauthorized makes path answer 401 regardless of the token presented
func (s *Server) SetAlwaysUnauthorized(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alwaysUnauthorized[path] = true
}

// VerificationToken returns the pending email verification token of email
func (s *Server) VerificationToken(email string) (string, bool) {
	u, ok := s.users.getByEmail(email)
	if !ok {
		return "", false
	}
	return s.verification.forUser(u.ID)
}

// ExpireVerification makes the pending verification token of email report expired
func (s *Server) ExpireVerification(email string) {
	token, ok := s.VerificationToken(email)
	if !ok {
		return
	}
	userID, ok := s.verification.consume(token)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiredVerification[token] = userID
}

// ResetToken returns the pending password reset token of email
func (s *Server) ResetToken(email string) (string, bool) {
	u, ok := s.users.getByEmail(email)
	if !ok {
		return "", false
	}
	return s.resets.forUser(u.ID)
}

// User returns the account registered under email
func (s *Server) User(email string) (*User, bool) {
	return s.users.getByEmail(email)
}

// Calls counts the requests made to path
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.hits {
		if h.Path == path {
			n++
		}
	}
	return n
}

// Hits returns every request made to path, oldest first
func (s *Server) Hits(path string) []Hit {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Hit
	for _, h := range s.hits {
		if h.Path == path {
			out = append(out, h)
		}
	}
	return out
}

func (s *Server) record(h Hit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits = append(s.hits, h)
}

func (s *Server) currentGeneration() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *Server) isAlwaysUnauthorized(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alwaysUnauthorized[path]
}
