package authtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-finance-client/auth"
)

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer, s.recordHits)

	r.Post(auth.RouteLogin, s.handleLogin)
	r.Post(auth.RouteRegister, s.handleRegister)
	r.Post(auth.RouteRefreshToken, s.handleRefresh)
	r.Post(auth.RouteLogout, s.handleLogout)
	r.Post(auth.RouteVerifyEmail, s.handleVerifyEmail)
	r.Post(auth.RouteResendVerification, s.handleResendVerification)
	r.Post(auth.RouteForgotPassword, s.handleForgotPassword)
	r.Post(auth.RouteResetPassword, s.handleResetPassword)
	r.Post(auth.RouteGoogleLogin, s.handleGoogleLogin)

	r.With(s.requireBearer).Get(auth.RouteProfile, s.handleProfile)
	return r
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, auth.ErrorBody{Message: msg})
}

func decode(r *http.Request, value any) error {
	return json.NewDecoder(r.Body).Decode(value)
}

// sleep waits for d, until the client goes away or until the server is closed.
// The request body must already be read, otherwise a disconnect goes unnoticed.
func (s *Server) sleep(r *http.Request, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.Context().Done():
		return false
	case <-s.closed:
		return false
	}
}

func (s *Server) newSession(u *User) (*auth.AuthResponse, error) {
	access, err := s.tokens.create(u, s.currentGeneration())
	if err != nil {
		return nil, err
	}
	refresh, err := s.refresh.create(u.ID)
	if err != nil {
		return nil, err
	}
	s.users.update(u.ID, func(u *User) { u.LastLogin = NowTimeFunc() })
	return &auth.AuthResponse{AccessToken: access, RefreshToken: refresh, User: u.Profile()}, nil
}

func (s *Server) writeSession(w http.ResponseWriter, status int, u *User, msg string) {
	ar, err := s.newSession(u)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	ar.Message = msg
	writeJSON(w, status, ar)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decode(r, &req); err != nil || req.Email == "" || req.Password == "" {
		writeMessage(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	u, ok := s.users.getByEmail(req.Email)
	switch {
	case !ok:
		writeMessage(w, http.StatusUnauthorized, "Invalid email or password")
	case u.GoogleLinked && u.PasswordHash == "":
		writeJSON(w, http.StatusBadRequest, auth.ErrorBody{
			Message:       "This account was created with Google. Please sign in with Google.",
			UseGoogleAuth: true,
		})
	case !checkPasswordHash(req.Password, u.PasswordHash):
		writeMessage(w, http.StatusUnauthorized, "Invalid email or password")
	case !u.Verified:
		writeJSON(w, http.StatusForbidden, auth.ErrorBody{
			Message:              "Please verify your email before logging in",
			RequiresVerification: true,
			Email:                u.Email,
		})
	default:
		s.writeSession(w, http.StatusOK, u, "Login successful")
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decode(r, &req); err != nil || req.Name == "" || req.Email == "" {
		writeMessage(w, http.StatusBadRequest, "Name, email and password are required")
		return
	}
	if len(req.Password) < 8 {
		writeMessage(w, http.StatusBadRequest, "Password must be at least 8 characters long")
		return
	}
	if _, exists := s.users.getByEmail(req.Email); exists {
		writeMessage(w, http.StatusConflict, "User already exists")
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.mu.Lock()
	verify := s.requireVerification
	s.mu.Unlock()

	u := &User{Name: req.Name, Email: req.Email, PasswordHash: hash, Verified: !verify, DateJoined: NowTimeFunc()}
	s.users.upsert(u)

	if verify {
		if _, err := s.verification.create(u.ID); err != nil {
			writeMessage(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, auth.AuthResponse{
			RequiresVerification: true,
			Email:                u.Email,
			Message:              "Registration successful. Please check your email to verify your account.",
		})
		return
	}
	s.writeSession(w, http.StatusCreated, u, "Registration successful")
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	failure, delay := s.refreshFailure, s.refreshDelay
	s.mu.Unlock()

	var req auth.RefreshRequest
	decodeErr := decode(r, &req)
	if !s.sleep(r, delay) {
		return
	}
	if failure != 0 {
		writeMessage(w, failure, "Refresh failed")
		return
	}
	if decodeErr != nil || req.RefreshToken == "" {
		writeMessage(w, http.StatusBadRequest, "Refresh token is required")
		return
	}
	userID, ok := s.refresh.consume(req.RefreshToken)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	u, ok := s.users.getByID(userID)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "User not found")
		return
	}

	ar, err := s.newSession(u)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, auth.TokenPair{AccessToken: ar.AccessToken, RefreshToken: ar.RefreshToken})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	failure, delay := s.logoutFailure, s.logoutDelay
	s.mu.Unlock()

	var req auth.LogoutRequest
	decodeErr := decode(r, &req)
	if !s.sleep(r, delay) {
		return
	}
	if failure {
		writeMessage(w, http.StatusInternalServerError, "Logout failed")
		return
	}
	if decodeErr == nil && req.RefreshToken != "" {
		s.refresh.revoke(req.RefreshToken)
	}
	writeMessage(w, http.StatusOK, "Logged out successfully")
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	u, ok := UserFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, auth.ProfileResponse{User: u.Profile()})
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req auth.VerifyEmailRequest
	if err := decode(r, &req); err != nil || req.Token == "" {
		writeMessage(w, http.StatusBadRequest, "Verification token is required")
		return
	}

	s.mu.Lock()
	_, expired := s.expiredVerification[req.Token]
	s.mu.Unlock()
	if expired {
		writeJSON(w, http.StatusBadRequest, auth.ErrorBody{Message: "Verification link has expired", Expired: true})
		return
	}

	userID, ok := s.verification.consume(req.Token)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid verification token")
		return
	}
	s.users.update(userID, func(u *User) { u.Verified = true })
	u, _ := s.users.getByID(userID)
	s.writeSession(w, http.StatusOK, u, "Email verified successfully!")
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req auth.EmailRequest
	if err := decode(r, &req); err != nil || req.Email == "" {
		writeMessage(w, http.StatusBadRequest, "Email is required")
		return
	}
	u, ok := s.users.getByEmail(req.Email)
	if !ok {
		writeMessage(w, http.StatusNotFound, "User not found")
		return
	}
	if u.Verified {
		writeJSON(w, http.StatusBadRequest, auth.ErrorBody{Message: "Email is already verified", AlreadyVerified: true})
		return
	}
	if _, err := s.verification.create(u.ID); err != nil {
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeMessage(w, http.StatusOK, "Verification email sent")
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req auth.EmailRequest
	if err := decode(r, &req); err != nil || req.Email == "" {
		writeMessage(w, http.StatusBadRequest, "Email is required")
		return
	}
	if u, ok := s.users.getByEmail(req.Email); ok && !u.GoogleLinked {
		if _, err := s.resets.create(u.ID); err != nil {
			writeMessage(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	// Same answer for unknown accounts so the endpoint cannot be used to probe emails.
	writeMessage(w, http.StatusOK, "If an account exists for this email, a reset link has been sent")
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req auth.ResetPasswordRequest
	if err := decode(r, &req); err != nil || req.Token == "" {
		writeMessage(w, http.StatusBadRequest, "Reset token is required")
		return
	}
	if len(req.Password) < 8 {
		writeMessage(w, http.StatusBadRequest, "Password must be at least 8 characters long")
		return
	}
	userID, ok := s.resets.consume(req.Token)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "Invalid or expired reset token")
		return
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		writeMessage(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.users.update(userID, func(u *User) { u.PasswordHash = hash })
	writeMessage(w, http.StatusOK, "Password has been reset successfully")
}

// handleGoogleLogin trusts the email claim of the presented ID token. A real API
// verifies the token against Google's keys; the fake only needs its shape.
func (s *Server) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.GoogleLoginRequest
	if err := decode(r, &req); err != nil || req.IDToken == "" {
		writeMessage(w, http.StatusBadRequest, "ID token is required")
		return
	}
	email, name, err := googleIdentity(req.IDToken)
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, "Invalid Google token")
		return
	}

	u, ok := s.users.getByEmail(email)
	if !ok {
		u = &User{Name: name, Email: email, Verified: true, GoogleLinked: true, DateJoined: NowTimeFunc()}
		s.users.upsert(u)
	} else if !u.GoogleLinked {
		s.users.update(u.ID, func(u *User) { u.GoogleLinked = true; u.Verified = true })
	}
	s.writeSession(w, http.StatusOK, u, "Google login successful")
}

func googleIdentity(idToken string) (email, name string, err error) {
	mc := jwtlib.MapClaims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(idToken, mc); err != nil {
		return "", "", err
	}
	email, _ = mc["email"].(string)
	name, _ = mc["name"].(string)
	if email == "" {
		return "", "", fmt.Errorf("id token has no email claim")
	}
	return strings.ToLower(email), name, nil
}
