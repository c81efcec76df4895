package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/jrsteele09/go-finance-client/auth"
	"github.com/jrsteele09/go-finance-client/session"
)

const minPasswordLength = 8

// RegisterResult describes a successful registration. Either User is set and the
// session has been stored, or RequiresVerification is set and nothing was stored.
type RegisterResult struct {
	User                 *session.Profile
	RequiresVerification bool
	Email                string
	Message              string
}

// VerifyResult describes a successful email verification
type VerifyResult struct {
	// SignedIn is true when the API issued a session, which has been stored.
	SignedIn bool
	User     *session.Profile
	Message  string
}

// Login signs in with email and password and stores the session. A refusal is
// returned as *auth.RejectionError.
func (c *Client) Login(ctx context.Context, email, password string) (*session.Profile, error) {
	return c.signIn(ctx, auth.OpLogin, auth.RouteLogin, auth.LoginRequest{
		Email:    normalizeEmail(email),
		Password: password,
	})
}

// LoginWithGoogle exchanges a Google ID token for an API session and stores it
func (c *Client) LoginWithGoogle(ctx context.Context, idToken string) (*session.Profile, error) {
	if idToken == "" {
		return nil, fmt.Errorf("%s: empty id token", auth.OpGoogleLogin)
	}
	return c.signIn(ctx, auth.OpGoogleLogin, auth.RouteGoogleLogin, auth.GoogleLoginRequest{IDToken: idToken})
}

func (c *Client) signIn(ctx context.Context, op auth.Op, route string, body any) (*session.Profile, error) {
	var ar auth.AuthResponse
	status, raw, err := c.credentialCall(ctx, op, route, body, &ar)
	if err != nil {
		return nil, err
	}
	if !ar.HasSession() {
		if ar.RequiresVerification {
			return nil, auth.DecodeRejection(op, status, raw)
		}
		return nil, fmt.Errorf("%s: %w: no credential pair in response", op, auth.ErrMalformedResponse)
	}
	if err := c.sessions.SetSession(ar.Record()); err != nil {
		return nil, err
	}
	c.log.Info().Str("op", string(op)).Msg("signed in")

	if ar.User == nil {
		return c.Profile(ctx)
	}
	return ar.User, nil
}

// Register creates an account. The API may sign the user in straight away or ask
// them to verify their email first.
func (c *Client) Register(ctx context.Context, name, email, password string) (*RegisterResult, error) {
	var ar auth.AuthResponse
	if _, _, err := c.credentialCall(ctx, auth.OpRegister, auth.RouteRegister, auth.RegisterRequest{
		Name:     strings.TrimSpace(name),
		Email:    normalizeEmail(email),
		Password: password,
	}, &ar); err != nil {
		return nil, err
	}

	if !ar.HasSession() {
		return &RegisterResult{
			RequiresVerification: ar.RequiresVerification,
			Email:                ar.Email,
			Message:              ar.Message,
		}, nil
	}
	if err := c.sessions.SetSession(ar.Record()); err != nil {
		return nil, err
	}
	return &RegisterResult{User: ar.User, Email: ar.Email, Message: ar.Message}, nil
}

// VerifyEmail confirms an email address with the token from the verification mail.
// When the API returns a session it is stored.
func (c *Client) VerifyEmail(ctx context.Context, token string) (*VerifyResult, error) {
	var ar auth.AuthResponse
	if _, _, err := c.credentialCall(ctx, auth.OpVerifyEmail, auth.RouteVerifyEmail, auth.VerifyEmailRequest{Token: token}, &ar); err != nil {
		return nil, err
	}

	res := &VerifyResult{User: ar.User, Message: ar.Message}
	if ar.HasSession() {
		if err := c.sessions.SetSession(ar.Record()); err != nil {
			return nil, err
		}
		res.SignedIn = true
	}
	return res, nil
}

// ResendVerification asks the API to send another verification email
func (c *Client) ResendVerification(ctx context.Context, email string) (string, error) {
	return c.acknowledge(ctx, auth.OpResendVerification, auth.RouteResendVerification, auth.EmailRequest{Email: normalizeEmail(email)})
}

// ForgotPassword asks the API to send a password reset email
func (c *Client) ForgotPassword(ctx context.Context, email string) (string, error) {
	return c.acknowledge(ctx, auth.OpForgotPassword, auth.RouteForgotPassword, auth.EmailRequest{Email: normalizeEmail(email)})
}

// ResetPassword sets a new password using the token from the reset email
func (c *Client) ResetPassword(ctx context.Context, token, password string) (string, error) {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return "", auth.ErrWeakPassword
	}
	return c.acknowledge(ctx, auth.OpResetPassword, auth.RouteResetPassword, auth.ResetPasswordRequest{Token: token, Password: password})
}

func (c *Client) acknowledge(ctx context.Context, op auth.Op, route string, body any) (string, error) {
	var mr auth.MessageResponse
	if _, _, err := c.credentialCall(ctx, op, route, body, &mr); err != nil {
		return "", err
	}
	return mr.Message, nil
}

// Logout tells the API to revoke the refresh token and clears the stored session.
// The notification is best effort and bounded by the configured logout timeout;
// only a failure to clear storage is returned.
func (c *Client) Logout(ctx context.Context) error {
	refreshToken, err := c.sessions.RefreshToken()
	if err != nil {
		c.log.Debug().Err(err).Msg("could not read refresh token for logout")
	}
	if refreshToken != "" {
		c.notifyLogout(ctx, refreshToken)
	}

	if err := c.sessions.Clear(); err != nil {
		return err
	}
	c.log.Info().Msg("signed out")
	return nil
}

func (c *Client) notifyLogout(ctx context.Context, refreshToken string) {
	ctx, cancel := context.WithTimeout(ctx, c.logoutTimeout)
	defer cancel()

	body, err := json.Marshal(auth.LogoutRequest{RefreshToken: refreshToken})
	if err != nil {
		return
	}
	accessToken, _ := c.sessions.AccessToken()

	resp, err := c.send(ctx, newOutbound(http.MethodPost, auth.RouteLogout, body, nil), accessToken)
	switch {
	case err != nil:
		c.log.Debug().Err(err).Msg("logout notification failed")
	case !resp.OK():
		c.log.Debug().Int("status", resp.StatusCode).Msg("logout notification rejected")
	}
}

// Profile fetches the signed-in user's profile through the session-aware path and
// refreshes the cached copy.
func (c *Client) Profile(ctx context.Context) (*session.Profile, error) {
	var pr auth.ProfileResponse
	if err := c.Get(ctx, auth.RouteProfile, &pr); err != nil {
		return nil, err
	}
	if pr.User == nil {
		return nil, fmt.Errorf("%s: %w: no user in response", auth.RouteProfile, auth.ErrMalformedResponse)
	}
	if err := c.sessions.SetUser(pr.User); err != nil {
		c.log.Warn().Err(err).Msg("failed to cache user profile")
	}
	return pr.User, nil
}

// IsAuthenticated reports whether a session with a cached profile is stored.
// It does not contact the API.
func (c *Client) IsAuthenticated() bool {
	return c.sessions.IsAuthenticated()
}

// CurrentUser returns the cached profile, or nil
func (c *Client) CurrentUser() *session.Profile {
	user, err := c.sessions.User()
	if err != nil {
		return nil
	}
	return user
}

// credentialCall posts a credential operation. These endpoints establish a session
// rather than use one, so no bearer token is attached and a 401 is a refusal, not
// an expired session. A non-2xx response is returned as *auth.RejectionError.
func (c *Client) credentialCall(ctx context.Context, op auth.Op, route string, body, out any) (int, []byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: failed to encode request: %w", op, err)
	}

	resp, err := c.send(ctx, newOutbound(http.MethodPost, route, data, nil), "")
	if err != nil {
		return 0, nil, err
	}
	if !resp.OK() {
		rej := auth.DecodeRejection(op, resp.StatusCode, resp.Body)
		c.log.Debug().Str("op", string(op)).Int("status", resp.StatusCode).Str("kind", string(rej.Kind)).Msg("credential operation refused")
		return resp.StatusCode, resp.Body, rej
	}
	if out != nil && len(resp.Body) > 0 {
		if err := resp.Decode(out); err != nil {
			return resp.StatusCode, resp.Body, fmt.Errorf("%s: %w", op, err)
		}
	}
	return resp.StatusCode, resp.Body, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
