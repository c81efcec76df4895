package google

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
)

// ErrStateMismatch is returned when the redirect does not belong to this attempt
var ErrStateMismatch = errors.New("state parameter does not match")

// Callback is a one-shot loopback listener for the authorization redirect
type Callback struct {
	ln   net.Listener
	path string
}

// Listen binds the host and port of redirectURL. Bind before opening the browser
// so the redirect cannot arrive first.
func Listen(redirectURL string) (*Callback, error) {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect url: %w", err)
	}
	if u.Scheme != "http" || u.Host == "" {
		return nil, fmt.Errorf("redirect url %q must be a loopback http url", redirectURL)
	}

	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", u.Host, err)
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	return &Callback{ln: ln, path: path}, nil
}

// URL is the redirect URL actually bound, useful when the port was 0
func (c *Callback) URL() string {
	return "http://" + c.ln.Addr().String() + c.path
}

// Close releases the listener without waiting
func (c *Callback) Close() error {
	return c.ln.Close()
}

type callbackResult struct {
	code string
	err  error
}

// Wait serves until one redirect arrives and returns its authorization code. The
// listener is closed on return.
func (c *Callback) Wait(ctx context.Context, state string) (string, error) {
	results := make(chan callbackResult, 1)

	r := chi.NewRouter()
	r.Get(c.path, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var res callbackResult
		switch {
		case q.Get("error") != "":
			res.err = fmt.Errorf("google sign-in refused: %s", q.Get("error"))
		case q.Get("state") != state:
			res.err = ErrStateMismatch
		case q.Get("code") == "":
			res.err = errors.New("redirect carries no authorization code")
		default:
			res.code = q.Get("code")
		}

		if res.err != nil {
			http.Error(w, "Sign-in failed. You can close this window.", http.StatusBadRequest)
		} else {
			_, _ = fmt.Fprintln(w, "Signed in. You can close this window and return to the terminal.")
		}
		select {
		case results <- res:
		default:
		}
	})

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		_ = srv.Serve(c.ln)
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-results:
		return res.code, res.err
	}
}
