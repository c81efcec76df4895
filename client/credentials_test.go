package client_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-finance-client/auth"
	"github.com/jrsteele09/go-finance-client/authtest"
	"github.com/jrsteele09/go-finance-client/client"
	"github.com/jrsteele09/go-finance-client/internal/config"
	"github.com/jrsteele09/go-finance-client/session"
	"github.com/jrsteele09/go-finance-client/session/memstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestLogin_StoresSession(t *testing.T) {
	api := newAPI(t)
	c, _ := newClient(t, api)
	want := api.AddUser(authtest.UserSpec{Name: testName, Email: testEmail, Password: testPassword})

	user, err := c.Login(context.Background(), "  ADA@Example.com ", testPassword)
	require.NoError(t, err)
	require.Equal(t, want, user)
	require.True(t, c.IsAuthenticated())
	require.Equal(t, want, c.CurrentUser())

	// login sends no bearer token
	hits := api.Hits(auth.RouteLogin)
	require.Len(t, hits, 1)
	require.Empty(t, hits[0].Authorization)
}

func TestLogin_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		spec     authtest.UserSpec
		email    string
		password string
		kind     auth.Kind
	}{
		{
			name:     "wrong password",
			spec:     authtest.UserSpec{Name: testName, Email: testEmail, Password: testPassword},
			email:    testEmail,
			password: "wrong-password",
			kind:     auth.KindBadCredentials,
		},
		{
			name:     "unknown account",
			spec:     authtest.UserSpec{Name: testName, Email: testEmail, Password: testPassword},
			email:    "nobody@example.com",
			password: testPassword,
			kind:     auth.KindBadCredentials,
		},
		{
			name:     "google linked account",
			spec:     authtest.UserSpec{Name: testName, Email: testEmail, GoogleLinked: true},
			email:    testEmail,
			password: testPassword,
			kind:     auth.KindUseGoogleAuth,
		},
		{
			name:     "unverified account",
			spec:     authtest.UserSpec{Name: testName, Email: testEmail, Password: testPassword, Unverified: true},
			email:    testEmail,
			password: testPassword,
			kind:     auth.KindRequiresVerification,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newAPI(t)
			c, store := newClient(t, api)
			api.AddUser(tt.spec)

			_, err := c.Login(context.Background(), tt.email, tt.password)
			require.Equal(t, tt.kind, auth.KindOf(err))
			require.NotEmpty(t, auth.UserMessage(err))
			requireSessionCleared(t, store)
			// a refused login never goes through the refresh path
			require.Equal(t, 0, api.Calls(auth.RouteRefreshToken))
		})
	}
}

func TestLogin_UnverifiedEchoesEmail(t *testing.T) {
	api := newAPI(t)
	c, _ := newClient(t, api)
	api.AddUser(authtest.UserSpec{Name: testName, Email: testEmail, Password: testPassword, Unverified: true})

	_, err := c.Login(context.Background(), testEmail, testPassword)
	require.True(t, auth.IsRequiresVerification(err))

	var rej *auth.RejectionError
	require.ErrorAs(t, err, &rej)
	require.Equal(t, testEmail, rej.Email)
}

func TestRegister_SignsIn(t *testing.T) {
	api := newAPI(t)
	c, _ := newClient(t, api)

	res, err := c.Register(context.Background(), "  "+testName+" ", "Ada@Example.com", testPassword)
	require.NoError(t, err)
	require.False(t, res.RequiresVerification)
	require.Equal(t, testName, res.User.Name)
	require.Equal(t, testEmail, res.User.Email)
	require.True(t, c.IsAuthenticated())
}

func TestRegister_DuplicateEmail(t *testing.T) {
	api := newAPI(t)
	c, _ := newClient(t, api)
	api.AddUser(authtest.UserSpec{Name: testName, Email: testEmail, Password: testPassword})

	_, err := c.Register(context.Background(), testName, testEmail, testPassword)
	require.Equal(t, auth.KindDuplicateEmail, auth.KindOf(err))
	require.False(t, c.IsAuthenticated())
}

func TestRegister_RequiresVerificationThenVerify(t *testing.T) {
	api := newAPI(t, authtest.WithRequiredVerification())
	c, store := newClient(t, api)

	res, err := c.Register(context.Background(), testName, testEmail, testPassword)
	require.NoError(t, err)
	require.True(t, res.RequiresVerification)
	require.Equal(t, testEmail, res.Email)
	require.Nil(t, res.User)
	requireSessionCleared(t, store)

	_, err = c.Login(context.Background(), testEmail, testPassword)
	require.True(t, auth.IsRequiresVerification(err))

	token, ok := api.VerificationToken(testEmail)
	require.True(t, ok)

	vr, err := c.VerifyEmail(context.Background(), token)
	require.NoError(t, err)
	require.True(t, vr.SignedIn)
	require.Equal(t, testEmail, vr.User.Email)
	require.True(t, c.IsAuthenticated())

	// the token is single use
	_, err = c.VerifyEmail(context.Background(), token)
	require.Equal(t, auth.KindInvalidRequest, auth.KindOf(err))
}

func TestVerifyEmail_Expired(t *testing.T) {
	api := newAPI(t, authtest.WithRequiredVerification())
	c, _ := newClient(t, api)

	_, err := c.Register(context.Background(), testName, testEmail, testPassword)
	require.NoError(t, err)
	token, ok := api.VerificationToken(testEmail)
	require.True(t, ok)
	api.ExpireVerification(testEmail)

	_, err = c.VerifyEmail(context.Background(), token)
	require.Equal(t, auth.KindVerificationExpired, auth.KindOf(err))

	msg, err := c.ResendVerification(context.Background(), testEmail)
	require.NoError(t, err)
	require.NotEmpty(t, msg)
	fresh, ok := api.VerificationToken(testEmail)
	require.True(t, ok)
	require.NotEqual(t, token, fresh)
}

func TestResendVerification_AlreadyVerified(t *testing.T) {
	api := newAPI(t)
	c, _ := newClient(t, api)
	api.AddUser(authtest.UserSpec{Name: testName, Email: testEmail, Password: testPassword})

	_, err := c.ResendVerification(context.Background(), testEmail)
	require.Equal(t, auth.KindAlreadyVerified, auth.KindOf(err))
}

func TestForgotAndResetPassword(t *testing.T) {
	api := newAPI(t)
	c, _ := newClient(t, api)
	api.AddUser(authtest.UserSpec{Name: testName, Email: testEmail, Password: testPassword})

	msg, err := c.ForgotPassword(context.Background(), " ADA@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, msg)

	token, ok := api.ResetToken(testEmail)
	require.True(t, ok)

	_, err = c.ResetPassword(context.Background(), token, "short")
	require.ErrorIs(t, err, auth.ErrWeakPassword)
	require.Equal(t, 0, api.Calls(auth.RouteResetPassword))

	_, err = c.ResetPassword(context.Background(), token, "difference-engine")
	require.NoError(t, err)

	_, err = c.Login(context.Background(), testEmail, testPassword)
	require.Equal(t, auth.KindBadCredentials, auth.KindOf(err))
	_, err = c.Login(context.Background(), testEmail, "difference-engine")
	require.NoError(t, err)

	_, err = c.ResetPassword(context.Background(), token, "another-password")
	require.Equal(t, auth.KindInvalidRequest, auth.KindOf(err))
}

func TestLoginWithGoogle(t *testing.T) {
	api := newAPI(t)
	c, _ := newClient(t, api)

	idToken, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub":   "google-123",
		"email": testEmail,
		"name":  testName,
	}).SignedString([]byte("google-test-key"))
	require.NoError(t, err)

	user, err := c.LoginWithGoogle(context.Background(), idToken)
	require.NoError(t, err)
	require.Equal(t, testEmail, user.Email)
	require.True(t, c.IsAuthenticated())

	// the account is now Google-only, so password login points back to Google
	require.NoError(t, c.Logout(context.Background()))
	_, err = c.Login(context.Background(), testEmail, testPassword)
	require.True(t, auth.IsUseGoogleAuth(err))
}

func TestLogout_RevokesAndClears(t *testing.T) {
	api := newAPI(t)
	c, store := newClient(t, api)
	rec := signIn(t, api, c)

	require.NoError(t, c.Logout(context.Background()))
	requireSessionCleared(t, store)

	hits := api.Hits(auth.RouteLogout)
	require.Len(t, hits, 1)
	require.Equal(t, http.StatusOK, hits[0].Status)
	require.Equal(t, "Bearer "+rec.AccessToken, hits[0].Authorization)

	// the revoked refresh token can no longer be used
	require.NoError(t, c.Sessions().SetTokens(rec.CredentialPair))
	_, err := c.Refresh(context.Background())
	require.Error(t, err)
}

func TestLogout_ServerFailureStillClears(t *testing.T) {
	api := newAPI(t)
	c, store := newClient(t, api)
	signIn(t, api, c)
	api.SetLogoutFailure(true)

	require.NoError(t, c.Logout(context.Background()))
	requireSessionCleared(t, store)
}

func TestLogout_HangingServerStillClears(t *testing.T) {
	api := newAPI(t)
	store := memstore.New()
	c := client.New(config.API{BaseURL: api.URL(), LogoutTimeout: 50 * time.Millisecond},
		session.NewManager(store), client.WithLogger(zerolog.Nop()))
	signIn(t, api, c)
	api.SetLogoutDelay(time.Minute)

	start := time.Now()
	require.NoError(t, c.Logout(context.Background()))
	require.Less(t, time.Since(start), 5*time.Second)
	requireSessionCleared(t, store)

	start = time.Now()
	api.Close()
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestLogout_WithoutSession(t *testing.T) {
	api := newAPI(t)
	c, _ := newClient(t, api)

	require.NoError(t, c.Logout(context.Background()))
	require.Equal(t, 0, api.Calls(auth.RouteLogout))
}

func TestProfile_EndToEnd(t *testing.T) {
	api := newAPI(t)
	c, store := newClient(t, api)
	want := api.AddUser(authtest.UserSpec{Name: testName, Email: testEmail, Password: testPassword})

	_, err := c.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)

	user, err := c.Profile(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, user)
	require.Equal(t, 0, api.Calls(auth.RouteRefreshToken))

	// access token expires: one transparent refresh
	api.ExpireAccessTokens()
	user, err = c.Profile(context.Background())
	require.NoError(t, err)
	require.Equal(t, want, user)
	require.Equal(t, 1, api.Calls(auth.RouteRefreshToken))

	// refresh token revoked too: the session ends
	api.ExpireAccessTokens()
	api.RevokeRefreshTokens()
	_, err = c.Profile(context.Background())
	require.ErrorIs(t, err, auth.ErrSessionExpired)
	require.Equal(t, auth.UserMessage(&auth.SessionExpiredError{}), auth.UserMessage(err))
	require.Equal(t, 2, api.Calls(auth.RouteRefreshToken))
	requireSessionCleared(t, store)
	require.Nil(t, c.CurrentUser())
}
