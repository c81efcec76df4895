package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-finance-client/auth"
	"github.com/jrsteele09/go-finance-client/session"
)

const refreshFlightKey = "refresh"

// Refresh exchanges the stored refresh token for a new credential pair, stores it
// and returns the new access token. Concurrent callers share one exchange. Unlike
// the automatic recovery in Execute, a failed explicit refresh leaves the stored
// session untouched.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	return c.sharedRefresh(ctx, "", true)
}

// recoverAccess returns an access token to retry with after stale was rejected.
// If another call already rotated the session, the newer token is used without
// contacting the API.
func (c *Client) recoverAccess(ctx context.Context, stale string) (string, error) {
	return c.sharedRefresh(ctx, stale, false)
}

// sharedRefresh runs at most one refresh exchange at a time. Callers that arrive
// while one is in flight wait for its result. The exchange itself is detached
// from the caller's cancellation so an abandoned caller cannot fail the others.
func (c *Client) sharedRefresh(ctx context.Context, stale string, force bool) (string, error) {
	ch := c.refreshFlights.DoChan(refreshFlightKey, func() (any, error) {
		if !force {
			current, err := c.sessions.AccessToken()
			if err == nil && current != "" && current != stale {
				c.log.Debug().Msg("session already rotated, reusing stored access token")
				return current, nil
			}
		}

		rctx := context.WithoutCancel(ctx)
		if c.refreshTimeout > 0 {
			var cancel context.CancelFunc
			rctx, cancel = context.WithTimeout(rctx, c.refreshTimeout)
			defer cancel()
		}

		pair, err := c.refresh(rctx)
		c.metrics.observeRefresh(err)
		if err != nil {
			c.log.Info().Err(err).Msg("token refresh failed")
			return "", err
		}
		c.log.Debug().Msg("token refresh succeeded")
		return pair.AccessToken, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	}
}

// refresh performs one POST /auth/refresh-token and stores the rotated pair. The
// stored session is never modified on failure.
func (c *Client) refresh(ctx context.Context) (session.CredentialPair, error) {
	refreshToken, err := c.sessions.RefreshToken()
	if err != nil {
		return session.CredentialPair{}, err
	}
	if refreshToken == "" {
		return session.CredentialPair{}, auth.ErrNoRefreshToken
	}

	body, err := json.Marshal(auth.RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return session.CredentialPair{}, fmt.Errorf("failed to encode refresh request: %w", err)
	}
	resp, err := c.send(ctx, newOutbound(http.MethodPost, auth.RouteRefreshToken, body, nil), "")
	if err != nil {
		return session.CredentialPair{}, err
	}
	if !resp.OK() {
		return session.CredentialPair{}, fmt.Errorf("refresh rejected: %w",
			&auth.StatusError{StatusCode: resp.StatusCode, Message: messageFrom(resp.Body)})
	}

	var tp auth.TokenPair
	if err := resp.Decode(&tp); err != nil {
		return session.CredentialPair{}, err
	}
	if tp.AccessToken == "" || tp.RefreshToken == "" {
		return session.CredentialPair{}, fmt.Errorf("%w: refresh response is missing a token", auth.ErrMalformedResponse)
	}

	pair := session.CredentialPair{AccessToken: tp.AccessToken, RefreshToken: tp.RefreshToken}
	if err := c.sessions.SetTokens(pair); err != nil {
		return session.CredentialPair{}, err
	}
	return pair, nil
}
