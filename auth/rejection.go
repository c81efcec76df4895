package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// Kind classifies why the API refused a credential operation. The set is closed;
// the UI renders a different remedy per kind.
type Kind string

const (
	KindRejected             Kind = "rejected"
	KindBadCredentials       Kind = "bad_credentials"
	KindDuplicateEmail       Kind = "duplicate_email"
	KindRequiresVerification Kind = "requires_verification"
	KindUseGoogleAuth        Kind = "use_google_auth"
	KindVerificationExpired  Kind = "verification_expired"
	KindAlreadyVerified      Kind = "already_verified"
	KindInvalidRequest       Kind = "invalid_request"
	KindServer               Kind = "server_error"
)

// Op names the credential operation a rejection came from
type Op string

const (
	OpLogin              Op = "login"
	OpRegister           Op = "register"
	OpVerifyEmail        Op = "verify-email"
	OpResendVerification Op = "resend-verification"
	OpForgotPassword     Op = "forgot-password"
	OpResetPassword      Op = "reset-password"
	OpGoogleLogin        Op = "google-login"
)

// RejectionError is a classified refusal from the API.
type RejectionError struct {
	Op         Op
	Kind       Kind
	StatusCode int
	// Message is the server's text verbatim, or a default for the kind.
	Message string
	// Email is echoed back by the API for verification flows.
	Email string
}

func (e *RejectionError) Error() string {
	return string(e.Op) + ": " + e.Message
}

// DecodeRejection turns a non-2xx response into a RejectionError. It is the only
// place that inspects the optional flags of an error body.
func DecodeRejection(op Op, status int, body []byte) *RejectionError {
	var eb ErrorBody
	_ = json.Unmarshal(body, &eb) // a non-JSON body still classifies by status

	msg := eb.Message
	if msg == "" {
		msg = eb.Error
	}

	kind := classify(op, status, eb, msg)
	if msg == "" {
		msg = defaultMessage(op, kind)
	}

	return &RejectionError{
		Op:         op,
		Kind:       kind,
		StatusCode: status,
		Message:    msg,
		Email:      eb.Email,
	}
}

func classify(op Op, status int, eb ErrorBody, msg string) Kind {
	switch {
	case eb.UseGoogleAuth:
		return KindUseGoogleAuth
	case eb.RequiresVerification:
		return KindRequiresVerification
	case eb.Expired:
		return KindVerificationExpired
	case eb.AlreadyVerified:
		return KindAlreadyVerified
	case status == http.StatusConflict:
		return KindDuplicateEmail
	case op == OpRegister && status == http.StatusBadRequest && mentionsExistingAccount(msg):
		return KindDuplicateEmail
	case status >= http.StatusInternalServerError:
		return KindServer
	case op == OpLogin && (status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusNotFound):
		return KindBadCredentials
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return KindInvalidRequest
	}
	return KindRejected
}

func mentionsExistingAccount(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "already exists") || strings.Contains(m, "already registered") || strings.Contains(m, "already in use")
}

func defaultMessage(op Op, kind Kind) string {
	switch kind {
	case KindBadCredentials:
		return "Invalid email or password"
	case KindServer:
		return "Server error. Please try again later."
	case KindUseGoogleAuth:
		return "This account uses Google sign-in. Please continue with Google."
	case KindRequiresVerification:
		return "Please verify your email address before signing in."
	case KindDuplicateEmail:
		return "An account with this email already exists."
	case KindVerificationExpired:
		return "This verification link has expired."
	case KindAlreadyVerified:
		return "Your email is already verified! You can now sign in."
	}
	switch op {
	case OpLogin:
		return "Login failed. Please try again."
	case OpRegister:
		if kind == KindInvalidRequest {
			return "Registration failed. Please check your information."
		}
		return "Registration failed. Please try again."
	}
	return "Request failed. Please try again."
}

// KindOf returns the rejection kind carried by err, or "" when err is not a rejection
func KindOf(err error) Kind {
	var re *RejectionError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

// IsUseGoogleAuth reports whether err asks the user to sign in with Google instead
func IsUseGoogleAuth(err error) bool {
	return KindOf(err) == KindUseGoogleAuth
}

// IsRequiresVerification reports whether err asks the user to verify their email first
func IsRequiresVerification(err error) bool {
	return KindOf(err) == KindRequiresVerification
}

// UserMessage renders err the way the dashboard would show it
func UserMessage(err error) string {
	var re *RejectionError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &re):
		return re.Message
	case errors.Is(err, ErrSessionExpired):
		return "Your session has expired. Please log in again."
	case errors.Is(err, ErrNetwork):
		return "Network error. Please check your connection."
	case errors.Is(err, ErrWeakPassword):
		return ErrWeakPassword.Error()
	}
	return err.Error()
}
