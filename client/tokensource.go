package client

import (
	"context"
	"errors"
	"time"

	"github.com/jrsteele09/go-finance-client/auth"
	"github.com/jrsteele09/go-finance-client/token"
	"golang.org/x/oauth2"
)

// tokenExpiryLeeway refreshes access tokens slightly before their exp claim
const tokenExpiryLeeway = 10 * time.Second

// TokenSource exposes the stored session as an oauth2.TokenSource, so that
// oauth2.NewClient can authenticate requests to other services that accept the
// same bearer token. An access token about to expire is refreshed through the
// same shared refresh as Execute. Opaque tokens are handed out as is.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &sessionTokenSource{ctx: ctx, client: c}
}

type sessionTokenSource struct {
	ctx    context.Context
	client *Client
}

func (s *sessionTokenSource) Token() (*oauth2.Token, error) {
	c := s.client
	access, err := c.sessions.AccessToken()
	if err != nil {
		return nil, err
	}

	claims, _ := token.Inspect(access)
	if access == "" || claims.Expired(token.NowTimeFunc(), tokenExpiryLeeway) {
		fresh, err := c.recoverAccess(s.ctx, access)
		if err != nil {
			return nil, c.expireSession(s.ctx, err)
		}
		access = fresh
		claims, _ = token.Inspect(access)
	}

	t := &oauth2.Token{AccessToken: access, TokenType: "Bearer"}
	if claims != nil {
		t.Expiry = claims.ExpiresAt
	}
	return t, nil
}

// expireSession clears the stored session after a failed refresh. Only a caller
// that stopped waiting keeps the session, since the shared refresh may still land.
func (c *Client) expireSession(ctx context.Context, cause error) error {
	if ctx.Err() != nil {
		return cause
	}
	c.log.Warn().Err(cause).Msg("session could not be refreshed, clearing stored session")
	if err := c.sessions.Clear(); err != nil {
		cause = errors.Join(cause, err)
	}
	return &auth.SessionExpiredError{Cause: cause}
}
