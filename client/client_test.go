package client_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-finance-client/auth"
	"github.com/jrsteele09/go-finance-client/authtest"
	"github.com/jrsteele09/go-finance-client/client"
	"github.com/jrsteele09/go-finance-client/internal/config"
	"github.com/jrsteele09/go-finance-client/session"
	"github.com/jrsteele09/go-finance-client/session/memstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testName     = "Ada Lovelace"
	testEmail    = "ada@example.com"
	testPassword = "analytical-engine"

	transactionsPath = "/transactions"
)

type transaction struct {
	ID     string  `json:"id"`
	Amount float64 `json:"amount"`
}

func newAPI(t *testing.T, opts ...authtest.Option) *authtest.Server {
	t.Helper()
	api := authtest.NewServer(opts...)
	api.HandleProtected(http.MethodGet, transactionsPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"t-1","amount":-42.5}]`))
	})
	t.Cleanup(api.Close)
	return api
}

func newClient(t *testing.T, api *authtest.Server, opts ...client.Option) (*client.Client, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	cfg := config.API{
		BaseURL:        api.URL(),
		RequestTimeout: 5 * time.Second,
		LogoutTimeout:  time.Second,
	}
	opts = append([]client.Option{client.WithLogger(zerolog.Nop())}, opts...)
	return client.New(cfg, session.NewManager(store), opts...), store
}

// signIn seeds the test user and stores a session issued by the API
func signIn(t *testing.T, api *authtest.Server, c *client.Client) session.Record {
	t.Helper()
	api.AddUser(authtest.UserSpec{Name: testName, Email: testEmail, Password: testPassword})
	rec, err := api.IssueSession(testEmail)
	require.NoError(t, err)
	require.NoError(t, c.Sessions().SetSession(rec))
	return rec
}

func requireSessionCleared(t *testing.T, store *memstore.Store) {
	t.Helper()
	for _, k := range session.AllKeys {
		_, err := store.Get(k)
		require.ErrorIs(t, err, session.ErrNotFound, k)
	}
}

func getTransactions() *client.Request {
	return &client.Request{Method: http.MethodGet, Path: transactionsPath}
}

func TestExecute_ValidTokenDoesNotRefresh(t *testing.T) {
	api := newAPI(t)
	c, _ := newClient(t, api)
	rec := signIn(t, api, c)

	res := c.Execute(context.Background(), getTransactions())
	require.NoError(t, res.Err)
	require.Equal(t, client.OutcomeOK, res.Outcome)
	require.Equal(t, http.StatusOK, res.Response.StatusCode)
	require.False(t, res.Retried)
	require.JSONEq(t, `[{"id":"t-1","amount":-42.5}]`, string(res.Response.Body))

	require.Equal(t, 0, api.Calls(auth.RouteRefreshToken))
	hits := api.Hits(transactionsPath)
	require.Len(t, hits, 1)
	require.Equal(t, "Bearer "+rec.AccessToken, hits[0].Authorization)
}

func TestExecute_ExpiredTokenRefreshesOnceAndRetries(t *testing.T) {
	api := newAPI(t)
	c, _ := newClient(t, api)
	rec := signIn(t, api, c)
	api.ExpireAccessTokens()

	res := c.Execute(context.Background(), getTransactions())
	require.NoError(t, res.Err)
	require.Equal(t, client.OutcomeOK, res.Outcome)
	require.Equal(t, http.StatusOK, res.Response.StatusCode)
	require.True(t, res.Retried)
	require.True(t, res.Refreshed)

	require.Equal(t, 1, api.Calls(auth.RouteRefreshToken))
	hits := api.Hits(transactionsPath)
	require.Len(t, hits, 2)
	require.Equal(t, http.StatusUnauthorized, hits[0].Status)
	require.Equal(t, http.StatusOK, hits[1].Status)
	require.NotEmpty(t, hits[0].RequestID)
	require.Equal(t, hits[0].RequestID, hits[1].RequestID)

	stored, err := c.Sessions().Snapshot()
	require.NoError(t, err)
	require.NotEqual(t, rec.AccessToken, stored.AccessToken)
	require.NotEqual(t, rec.RefreshToken, stored.RefreshToken)
	require.Equal(t, "Bearer "+stored.AccessToken, hits[1].Authorization)
	require.Equal(t, rec.User, stored.User)
}

func TestExecute_MissingRefreshTokenExpiresSession(t *testing.T) {
	api := newAPI(t)
	c, store := newClient(t, api)
	rec := signIn(t, api, c)
	require.NoError(t, store.Delete(session.KeyRefreshToken))
	api.ExpireAccessTokens()

	res := c.Execute(context.Background(), getTransactions())
	require.Equal(t, client.OutcomeSessionExpired, res.Outcome)
	require.ErrorIs(t, res.Err, auth.ErrSessionExpired)
	require.ErrorIs(t, res.Err, auth.ErrNoRefreshToken)
	require.Nil(t, res.Response)
	require.NotEmpty(t, rec.AccessToken)

	require.Equal(t, 0, api.Calls(auth.RouteRefreshToken))
	requireSessionCleared(t, store)
}

func TestExecute_RefreshRejectedExpiresSession(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			api := newAPI(t)
			c, store := newClient(t, api)
			signIn(t, api, c)
			api.ExpireAccessTokens()
			api.SetRefreshFailure(status)

			_, err := c.Do(context.Background(), getTransactions())
			require.ErrorIs(t, err, auth.ErrSessionExpired)

			var sessErr *auth.SessionExpiredError
			require.ErrorAs(t, err, &sessErr)
			var statusErr *auth.StatusError
			require.ErrorAs(t, err, &statusErr)
			require.Equal(t, status, statusErr.StatusCode)

			require.Equal(t, 1, api.Calls(auth.RouteRefreshToken))
			require.Equal(t, 1, api.Calls(transactionsPath))
			requireSessionCleared(t, store)
			require.False(t, c.IsAuthenticated())
		})
	}
}

func TestExecute_RetryStillUnauthorizedDoesNotRefreshAgain(t *testing.T) {
	api := newAPI(t)
	c, _ := newClient(t, api)
	signIn(t, api, c)
	api.SetAlwaysUnauthorized(transactionsPath)

	resp, err := c.Do(context.Background(), getTransactions())
	require.ErrorIs(t, err, auth.ErrUnauthorized)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	require.Equal(t, 1, api.Calls(auth.RouteRefreshToken))
	require.Equal(t, 2, api.Calls(transactionsPath))
	// the refresh itself succeeded, so the rotated session stays
	require.True(t, c.IsAuthenticated())
}

func TestExecute_NonAuthStatusesPassThrough(t *testing.T) {
	for _, status := range []int{http.StatusCreated, http.StatusNoContent, http.StatusForbidden, http.StatusNotFound, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			api := newAPI(t)
			api.HandleProtected(http.MethodPost, "/status", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			})
			c, _ := newClient(t, api)
			signIn(t, api, c)

			resp, err := c.Do(context.Background(), &client.Request{Method: http.MethodPost, Path: "/status", Body: map[string]int{"n": 1}})
			require.NoError(t, err)
			require.Equal(t, status, resp.StatusCode)
			require.Equal(t, 0, api.Calls(auth.RouteRefreshToken))
		})
	}
}

func TestExecute_TransportFailureKeepsSession(t *testing.T) {
	api := newAPI(t)
	c, _ := newClient(t, api)
	signIn(t, api, c)
	api.Close()

	res := c.Execute(context.Background(), getTransactions())
	require.Equal(t, client.OutcomeNetworkError, res.Outcome)
	require.ErrorIs(t, res.Err, auth.ErrNetwork)
	require.True(t, c.IsAuthenticated())
}

func TestExecute_RefreshTimeoutClearsSession(t *testing.T) {
	api := newAPI(t)
	store := memstore.New()
	c := client.New(config.API{BaseURL: api.URL(), RequestTimeout: 100 * time.Millisecond},
		session.NewManager(store), client.WithLogger(zerolog.Nop()))
	signIn(t, api, c)
	api.ExpireAccessTokens()
	api.SetRefreshDelay(2 * time.Second)

	res := c.Execute(context.Background(), getTransactions())
	require.Equal(t, client.OutcomeSessionExpired, res.Outcome)
	require.ErrorIs(t, res.Err, auth.ErrSessionExpired)
	requireSessionCleared(t, store)
}

func TestExecute_RefreshUnreachableClearsSession(t *testing.T) {
	api := newAPI(t)
	transport := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path == auth.RouteRefreshToken {
			return nil, errors.New("connection reset by peer")
		}
		return http.DefaultTransport.RoundTrip(r)
	})
	c, store := newClient(t, api, client.WithHTTPClient(&http.Client{Transport: transport}))
	signIn(t, api, c)
	api.ExpireAccessTokens()

	res := c.Execute(context.Background(), getTransactions())
	require.Equal(t, client.OutcomeSessionExpired, res.Outcome)
	require.ErrorIs(t, res.Err, auth.ErrSessionExpired)
	require.ErrorIs(t, res.Err, auth.ErrNetwork)
	require.False(t, res.Retried)
	require.False(t, c.IsAuthenticated())
	requireSessionCleared(t, store)
}

func TestExecute_RejectsPresetAuthorizationHeader(t *testing.T) {
	api := newAPI(t)
	c, _ := newClient(t, api)
	signIn(t, api, c)

	res := c.Execute(context.Background(), &client.Request{
		Method: http.MethodGet,
		Path:   transactionsPath,
		Header: http.Header{"Authorization": []string{"Bearer mine"}},
	})
	require.Equal(t, client.OutcomeLocalError, res.Outcome)
	require.ErrorIs(t, res.Err, auth.ErrAuthorizationHeaderSet)
	require.Equal(t, 0, api.Calls(transactionsPath))
}

func TestExecute_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	api := newAPI(t)
	c, _ := newClient(t, api)
	signIn(t, api, c)
	api.ExpireAccessTokens()
	api.SetRefreshDelay(100 * time.Millisecond)

	const callers = 5
	var wg sync.WaitGroup
	results := make([]client.Result, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Execute(context.Background(), getTransactions())
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		require.NoError(t, res.Err)
		require.Equal(t, http.StatusOK, res.Response.StatusCode)
	}
	require.Equal(t, 1, api.Calls(auth.RouteRefreshToken))
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func TestExecute_StaleTokenReusesRotatedSession(t *testing.T) {
	api := newAPI(t)

	var c *client.Client
	var once sync.Once
	transport := roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		resp, err := http.DefaultTransport.RoundTrip(r)
		if err == nil && r.URL.Path == transactionsPath && resp.StatusCode == http.StatusUnauthorized {
			// another caller rotates the session while this 401 is in flight
			once.Do(func() {
				_, rerr := c.Refresh(context.Background())
				require.NoError(t, rerr)
			})
		}
		return resp, err
	})
	c, _ = newClient(t, api, client.WithHTTPClient(&http.Client{Transport: transport}))
	signIn(t, api, c)
	api.ExpireAccessTokens()

	res := c.Execute(context.Background(), getTransactions())
	require.NoError(t, res.Err)
	require.True(t, res.Retried)
	require.Equal(t, http.StatusOK, res.Response.StatusCode)
	require.Equal(t, 1, api.Calls(auth.RouteRefreshToken))
}

func TestDoJSON(t *testing.T) {
	api := newAPI(t)
	c, _ := newClient(t, api)
	signIn(t, api, c)

	var txs []transaction
	require.NoError(t, c.Get(context.Background(), transactionsPath, &txs))
	require.Equal(t, []transaction{{ID: "t-1", Amount: -42.5}}, txs)

	err := c.Get(context.Background(), "/missing", &txs)
	var statusErr *auth.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestRefresh_FailureLeavesSessionUntouched(t *testing.T) {
	api := newAPI(t)
	c, _ := newClient(t, api)
	rec := signIn(t, api, c)
	api.SetRefreshFailure(http.StatusUnauthorized)

	_, err := c.Refresh(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, auth.ErrSessionExpired)

	stored, err := c.Sessions().Snapshot()
	require.NoError(t, err)
	require.Equal(t, rec.AccessToken, stored.AccessToken)
	require.Equal(t, rec.RefreshToken, stored.RefreshToken)
}

func TestRefresh_NoRefreshTokenFailsFast(t *testing.T) {
	api := newAPI(t)
	c, _ := newClient(t, api)

	_, err := c.Refresh(context.Background())
	require.ErrorIs(t, err, auth.ErrNoRefreshToken)
	require.Equal(t, 0, api.Calls(auth.RouteRefreshToken))
}

func TestRefresh_RotatesBothTokens(t *testing.T) {
	api := newAPI(t)
	c, _ := newClient(t, api)
	rec := signIn(t, api, c)

	access, err := c.Refresh(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, rec.AccessToken, access)

	stored, err := c.Sessions().Snapshot()
	require.NoError(t, err)
	require.Equal(t, access, stored.AccessToken)
	require.NotEqual(t, rec.RefreshToken, stored.RefreshToken)

	// the old refresh token was rotated out
	require.NoError(t, c.Sessions().SetTokens(rec.CredentialPair))
	_, err = c.Refresh(context.Background())
	require.Error(t, err)
}

func TestRefresh_CallerCancellationDoesNotAbortSharedFlight(t *testing.T) {
	api := newAPI(t)
	c, _ := newClient(t, api)
	signIn(t, api, c)
	api.SetRefreshDelay(200 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	var patientErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, patientErr = c.Refresh(context.Background())
	}()

	_, err := c.Refresh(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	wg.Wait()
	require.NoError(t, patientErr)
	require.Equal(t, 1, api.Calls(auth.RouteRefreshToken))
}
