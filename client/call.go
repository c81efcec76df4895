package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-finance-client/auth"
)

// callState is the position of one logical call in the retry state machine:
//
//	NOT_SENT -> SENT -> OK | AUTH_FAILED
//	AUTH_FAILED, not retried -> REFRESHING -> REFRESHED -> SENT (retry)
//	                                       -> REFRESH_FAILED -> SESSION_CLEARED
//	AUTH_FAILED, retried -> FAILED
type callState int

const (
	stateNotSent callState = iota
	stateSent
	stateOK
	stateAuthFailed
	stateRefreshing
	stateRefreshed
	stateRefreshFailed
	stateFailed
	stateSessionCleared
	stateTransportFailed
)

func (s callState) String() string {
	switch s {
	case stateNotSent:
		return "NOT_SENT"
	case stateSent:
		return "SENT"
	case stateOK:
		return "OK"
	case stateAuthFailed:
		return "AUTH_FAILED"
	case stateRefreshing:
		return "REFRESHING"
	case stateRefreshed:
		return "REFRESHED"
	case stateRefreshFailed:
		return "REFRESH_FAILED"
	case stateFailed:
		return "FAILED"
	case stateSessionCleared:
		return "SESSION_CLEARED"
	case stateTransportFailed:
		return "TRANSPORT_FAILED"
	}
	return fmt.Sprintf("callState(%d)", int(s))
}

// Outcome is the terminal classification of a logical call.
type Outcome int

const (
	// OutcomeOK: a non-401 response was received (any status).
	OutcomeOK Outcome = iota
	// OutcomeAuthExpired: the retried request still got 401.
	OutcomeAuthExpired
	// OutcomeSessionExpired: the session could not be refreshed and was cleared.
	OutcomeSessionExpired
	// OutcomeNetworkError: no HTTP response was obtained.
	OutcomeNetworkError
	// OutcomeLocalError: the call failed before anything was sent.
	OutcomeLocalError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeAuthExpired:
		return "auth_expired"
	case OutcomeSessionExpired:
		return "session_expired"
	case OutcomeNetworkError:
		return "network_error"
	case OutcomeLocalError:
		return "local_error"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result is the typed result of a logical call.
type Result struct {
	Outcome Outcome
	// Response is set for OutcomeOK and OutcomeAuthExpired.
	Response *Response
	// Err is nil only for OutcomeOK.
	Err error
	// Retried is true when the request was dispatched a second time.
	Retried bool
	// Refreshed is true when a fresh access token was obtained after a 401.
	Refreshed bool
}

// dispatchFunc sends the request once with accessToken ("" for none).
type dispatchFunc func(ctx context.Context, accessToken string) (*Response, error)

// recoverFunc returns a usable access token after stale was rejected with a 401.
type recoverFunc func(ctx context.Context, stale string) (string, error)

// callMachine drives one logical call. It has no knowledge of HTTP transport or
// storage beyond the three injected funcs.
type callMachine struct {
	dispatch dispatchFunc
	recover  recoverFunc
	clear    func() error
	trace    func(from, to callState)
}

func (m callMachine) run(ctx context.Context, accessToken string) Result {
	var (
		res        Result
		resp       *Response
		sendErr    error
		refreshErr error
	)

	st := stateNotSent
	for {
		var next callState

		switch st {
		case stateNotSent:
			resp, sendErr = m.dispatch(ctx, accessToken)
			next = stateSent

		case stateSent:
			switch {
			case sendErr != nil:
				next = stateTransportFailed
			case resp.StatusCode == http.StatusUnauthorized:
				next = stateAuthFailed
			default:
				next = stateOK
			}

		case stateAuthFailed:
			if res.Refreshed {
				next = stateFailed
			} else {
				next = stateRefreshing
			}

		case stateRefreshing:
			var fresh string
			fresh, refreshErr = m.recover(ctx, accessToken)
			if refreshErr != nil {
				next = stateRefreshFailed
			} else {
				accessToken = fresh
				res.Refreshed = true
				next = stateRefreshed
			}

		case stateRefreshed:
			res.Retried = true
			resp, sendErr = m.dispatch(ctx, accessToken)
			next = stateSent

		case stateRefreshFailed:
			if ctx.Err() != nil {
				// The caller stopped waiting; the shared refresh may still succeed.
				sendErr = refreshErr
				next = stateTransportFailed
				break
			}
			if err := m.clear(); err != nil {
				refreshErr = errors.Join(refreshErr, err)
			}
			next = stateSessionCleared

		case stateOK:
			res.Outcome = OutcomeOK
			res.Response = resp
			return res

		case stateFailed:
			res.Outcome = OutcomeAuthExpired
			res.Response = resp
			res.Err = auth.ErrUnauthorized
			return res

		case stateSessionCleared:
			res.Outcome = OutcomeSessionExpired
			res.Err = &auth.SessionExpiredError{Cause: refreshErr}
			return res

		case stateTransportFailed:
			res.Outcome = OutcomeNetworkError
			res.Err = sendErr
			return res
		}

		if m.trace != nil {
			m.trace(st, next)
		}
		st = next
	}
}


// Execute performs req with the stored access token and recovers from one 401 by
// refreshing the session. It never returns more than one refresh-and-retry.
func (c *Client) Execute(ctx context.Context, req *Request) Result {
	res := c.execute(ctx, req)
	c.metrics.observeCall(res)
	return res
}

func (c *Client) execute(ctx context.Context, req *Request) Result {
	if err := req.validate(); err != nil {
		return Result{Outcome: OutcomeLocalError, Err: err}
	}
	body, err := req.encodeBody()
	if err != nil {
		return Result{Outcome: OutcomeLocalError, Err: err}
	}
	token, err := c.sessions.AccessToken()
	if err != nil {
		return Result{Outcome: OutcomeLocalError, Err: err}
	}

	o := newOutbound(req.Method, req.Path, body, req.Header)
	logger := c.log.With().Str("request_id", o.requestID).Str("call", req.String()).Logger()

	m := callMachine{
		dispatch: func(ctx context.Context, accessToken string) (*Response, error) {
			return c.send(ctx, o, accessToken)
		},
		recover: c.recoverAccess,
		clear: func() error {
			logger.Warn().Msg("session could not be refreshed, clearing stored session")
			return c.sessions.Clear()
		},
		trace: func(from, to callState) {
			logger.Debug().Stringer("from", from).Stringer("to", to).Msg("call transition")
		},
	}
	return m.run(ctx, token)
}

// Do performs req and returns the response. Any status other than 401 is returned
// unmodified with a nil error. A 401 that survives the retry returns the 401
// response together with auth.ErrUnauthorized.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	res := c.Execute(ctx, req)
	return res.Response, res.Err
}

// DoJSON performs req, treats any non-2xx as *auth.StatusError and decodes the
// body into out (which may be nil).
func (c *Client) DoJSON(ctx context.Context, req *Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%s: %w", req, err)
	}
	if !resp.OK() {
		return fmt.Errorf("%s: %w", req, &auth.StatusError{StatusCode: resp.StatusCode, Message: messageFrom(resp.Body)})
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := resp.Decode(out); err != nil {
		return fmt.Errorf("%s: %w", req, err)
	}
	return nil
}

// Get is shorthand for an authenticated GET decoded into out
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.DoJSON(ctx, &Request{Method: http.MethodGet, Path: path}, out)
}

// Post is shorthand for an authenticated POST with a JSON body decoded into out
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.DoJSON(ctx, &Request{Method: http.MethodPost, Path: path, Body: body}, out)
}
