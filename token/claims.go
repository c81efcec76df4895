package token

import (
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// ErrNotJWT is returned for opaque tokens that are not three-part JWTs
var ErrNotJWT = errors.New("token is not a JWT")

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Claims is the subset of access token claims the client cares about. The values
// are read without verifying the signature: the client has no key to verify with
// and only uses them as hints. The server remains the authority on validity.
type Claims struct {
	Subject   string
	ExpiresAt time.Time // zero when the token has no exp claim
	IssuedAt  time.Time
}

// Inspect parses rawToken without verification
func Inspect(rawToken string) (*Claims, error) {
	if strings.Count(rawToken, ".") != 2 {
		return nil, ErrNotJWT
	}

	parsed, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return nil, err
	}
	mc, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.New("error extracting claims")
	}

	c := &Claims{}
	c.Subject, _ = mc.GetSubject()
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	return c, nil
}

// ExpiresAt returns the exp claim of rawToken. ok is false for opaque tokens and
// tokens without an exp claim.
func ExpiresAt(rawToken string) (exp time.Time, ok bool) {
	c, err := Inspect(rawToken)
	if err != nil || c.ExpiresAt.IsZero() {
		return time.Time{}, false
	}
	return c.ExpiresAt, true
}

// Expired reports whether the claims expire within leeway of now. Tokens with no
// expiry never report expired.
func (c *Claims) Expired(now time.Time, leeway time.Duration) bool {
	if c == nil || c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(leeway).Before(c.ExpiresAt)
}

// TimeLeft is the duration until expiry, zero when already expired or unknown
func (c *Claims) TimeLeft() time.Duration {
	if c == nil || c.ExpiresAt.IsZero() {
		return 0
	}
	left := c.ExpiresAt.Sub(NowTimeFunc())
	if left < 0 {
		return 0
	}
	return left
}
