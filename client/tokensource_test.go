package client_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/jrsteele09/go-finance-client/auth"
	"github.com/jrsteele09/go-finance-client/authtest"
	"github.com/jrsteele09/go-finance-client/client"
	"github.com/jrsteele09/go-finance-client/internal/config"
	"github.com/jrsteele09/go-finance-client/session"
	"github.com/jrsteele09/go-finance-client/session/sessionmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestTokenSource_ReturnsStoredToken(t *testing.T) {
	api := newAPI(t)
	c, _ := newClient(t, api)
	rec := signIn(t, api, c)

	tok, err := c.TokenSource(context.Background()).Token()
	require.NoError(t, err)
	require.Equal(t, rec.AccessToken, tok.AccessToken)
	require.Equal(t, "Bearer", tok.TokenType)
	require.WithinDuration(t, time.Now().Add(authtest.DefaultAccessTokenTTL), tok.Expiry, 5*time.Second)
	require.Equal(t, 0, api.Calls(auth.RouteRefreshToken))
}

func TestTokenSource_RefreshesNearExpiry(t *testing.T) {
	api := newAPI(t, authtest.WithAccessTokenTTL(2*time.Second))
	c, _ := newClient(t, api)
	rec := signIn(t, api, c)

	tok, err := c.TokenSource(context.Background()).Token()
	require.NoError(t, err)
	require.NotEqual(t, rec.AccessToken, tok.AccessToken)
	require.Equal(t, 1, api.Calls(auth.RouteRefreshToken))
}

func TestTokenSource_WithOAuth2Client(t *testing.T) {
	api := newAPI(t)
	c, _ := newClient(t, api)
	signIn(t, api, c)

	hc := oauth2.NewClient(context.Background(), c.TokenSource(context.Background()))
	resp, err := hc.Get(api.URL() + transactionsPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `[{"id":"t-1","amount":-42.5}]`, string(body))
}

func TestTokenSource_DeadSessionExpires(t *testing.T) {
	api := newAPI(t, authtest.WithAccessTokenTTL(time.Second))
	c, store := newClient(t, api)
	signIn(t, api, c)
	api.RevokeRefreshTokens()

	_, err := c.TokenSource(context.Background()).Token()
	require.ErrorIs(t, err, auth.ErrSessionExpired)
	requireSessionCleared(t, store)
}

func TestTokenSource_UnreachableRefreshExpires(t *testing.T) {
	api := newAPI(t, authtest.WithAccessTokenTTL(time.Second))
	transport := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("connection reset by peer")
	})
	c, store := newClient(t, api, client.WithHTTPClient(&http.Client{Transport: transport}))
	signIn(t, api, c)

	_, err := c.TokenSource(context.Background()).Token()
	require.ErrorIs(t, err, auth.ErrSessionExpired)
	require.ErrorIs(t, err, auth.ErrNetwork)
	requireSessionCleared(t, store)
}

func TestTokenSource_AbandonedWaitKeepsSession(t *testing.T) {
	api := newAPI(t, authtest.WithAccessTokenTTL(time.Second))
	c, _ := newClient(t, api)
	signIn(t, api, c)
	api.SetRefreshDelay(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.TokenSource(ctx).Token()
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotErrorIs(t, err, auth.ErrSessionExpired)
	require.True(t, c.IsAuthenticated())
}

func TestRefresh_RejectedDoesNotTouchStorage(t *testing.T) {
	api := newAPI(t)
	api.SetRefreshFailure(http.StatusUnauthorized)

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// any Set or Delete would fail the test
	store := sessionmock.NewMockStorage(ctrl)
	store.EXPECT().Get(session.KeyRefreshToken).Return("stale-refresh-token", nil).Times(1)

	c := client.New(config.API{BaseURL: api.URL()}, session.NewManager(store), client.WithLogger(zerolog.Nop()))
	_, err := c.Refresh(context.Background())

	var statusErr *auth.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	require.Equal(t, 1, api.Calls(auth.RouteRefreshToken))
}

func TestRefresh_MalformedResponseDoesNotTouchStorage(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := sessionmock.NewMockStorage(ctrl)
	store.EXPECT().Get(session.KeyRefreshToken).Return("r1", nil)

	transport := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(`{"accessToken":"only-one"}`)),
			Request:    r,
		}, nil
	})
	c := client.New(config.API{BaseURL: "http://api.invalid"}, session.NewManager(store),
		client.WithLogger(zerolog.Nop()), client.WithHTTPClient(&http.Client{Transport: transport}))

	_, err := c.Refresh(context.Background())
	require.ErrorIs(t, err, auth.ErrMalformedResponse)
}
