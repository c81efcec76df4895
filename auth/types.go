package auth

import "github.com/jrsteele09/go-finance-client/session"

// API routes, relative to the configured base URL
const (
	RouteLogin              = "/auth/login"
	RouteRegister           = "/auth/register"
	RouteRefreshToken       = "/auth/refresh-token"
	RouteProfile            = "/auth/profile"
	RouteLogout             = "/auth/logout"
	RouteVerifyEmail        = "/auth/verify-email"
	RouteResendVerification = "/auth/resend-verification"
	RouteForgotPassword     = "/auth/forgot-password"
	RouteResetPassword      = "/auth/reset-password"
	RouteGoogleLogin        = "/auth/google"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest is the body of POST /auth/refresh-token.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// LogoutRequest is the body of POST /auth/logout.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// TokenPair is the response of POST /auth/refresh-token.
// Both tokens are rotated on every refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// AuthResponse is returned by login, register, verify-email and Google sign-in.
type AuthResponse struct {
	// AccessToken is the short-lived bearer credential.
	// Usage: "Authorization: Bearer <accessToken>"
	AccessToken string `json:"accessToken,omitempty"`

	// RefreshToken is exchanged at /auth/refresh-token for a new pair.
	RefreshToken string `json:"refreshToken,omitempty"`

	// User is the profile to cache alongside the tokens.
	User *session.Profile `json:"user,omitempty"`

	// RequiresVerification is set by register when the account must confirm its
	// email first. No tokens are issued in that case.
	RequiresVerification bool   `json:"requiresVerification,omitempty"`
	Email                string `json:"email,omitempty"`

	Message string `json:"message,omitempty"`
}

// HasSession reports whether the response carries a complete credential pair
func (r AuthResponse) HasSession() bool {
	return r.AccessToken != "" && r.RefreshToken != ""
}

// Record converts the response into a Session Record
func (r AuthResponse) Record() session.Record {
	return session.Record{
		CredentialPair: session.CredentialPair{
			AccessToken:  r.AccessToken,
			RefreshToken: r.RefreshToken,
		},
		User: r.User,
	}
}

// ProfileResponse is the response of GET /auth/profile.
type ProfileResponse struct {
	User *session.Profile `json:"user"`
}

// VerifyEmailRequest is the body of POST /auth/verify-email.
type VerifyEmailRequest struct {
	Token string `json:"token"`
}

// EmailRequest is the body of POST /auth/resend-verification and /auth/forgot-password.
type EmailRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest is the body of POST /auth/reset-password.
type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// GoogleLoginRequest is the body of POST /auth/google.
type GoogleLoginRequest struct {
	IDToken string `json:"idToken"`
}

// MessageResponse is the generic acknowledgement body.
type MessageResponse struct {
	Message string `json:"message,omitempty"`
}

// ErrorBody is every field the API may put in a rejection body. It is only
// decoded inside DecodeRejection; callers work with RejectionError.
type ErrorBody struct {
	Message              string `json:"message,omitempty"`
	Error                string `json:"error,omitempty"`
	UseGoogleAuth        bool   `json:"useGoogleAuth,omitempty"`
	RequiresVerification bool   `json:"requiresVerification,omitempty"`
	Expired              bool   `json:"expired,omitempty"`
	AlreadyVerified      bool   `json:"alreadyVerified,omitempty"`
	Email                string `json:"email,omitempty"`
}
