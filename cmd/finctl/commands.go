package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-finance-client/auth"
	"github.com/jrsteele09/go-finance-client/client"
	"github.com/jrsteele09/go-finance-client/google"
	"github.com/jrsteele09/go-finance-client/internal/config"
	"github.com/jrsteele09/go-finance-client/internal/ui"
	"github.com/jrsteele09/go-finance-client/session"
	"github.com/jrsteele09/go-finance-client/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

type app struct {
	cfg    config.Config
	client *client.Client
	out    *ui.Printer
	in     *bufio.Reader
	log    zerolog.Logger
}

func newApp(cfg config.Config, store session.Storage, reg prometheus.Registerer, logger zerolog.Logger, in io.Reader, out io.Writer) (*app, error) {
	metrics, err := client.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	c := client.New(cfg, session.NewManager(store),
		client.WithLogger(logger),
		client.WithMetrics(metrics),
	)
	return &app{
		cfg:    cfg,
		client: c,
		out:    ui.NewPrinter(out),
		in:     bufio.NewReader(in),
		log:    logger,
	}, nil
}

type command struct {
	name    string
	summary string
	run     func(a *app, ctx context.Context, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{"login", "sign in with email and password", (*app).login},
		{"register", "create an account", (*app).register},
		{"logout", "sign out and forget the stored session", (*app).logout},
		{"status", "show the stored session", (*app).status},
		{"profile", "fetch the signed-in user's profile", (*app).profile},
		{"refresh", "rotate the stored tokens", (*app).refresh},
		{"verify-email", "confirm an email address", (*app).verifyEmail},
		{"resend-verification", "send another verification email", (*app).resendVerification},
		{"forgot-password", "send a password reset email", (*app).forgotPassword},
		{"reset-password", "set a new password", (*app).resetPassword},
		{"google-login", "sign in with Google in the browser", (*app).googleLogin},
		{"get", "GET an API path with the stored session", (*app).get},
	}
}

func (a *app) dispatch(ctx context.Context, name string, args []string) error {
	for _, c := range commands {
		if c.name == name {
			return c.run(a, ctx, args)
		}
	}
	return fmt.Errorf("unknown command %q", name)
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet("finctl "+name, flag.ContinueOnError)
}

// prompt reads one line from stdin when value is empty
func (a *app) prompt(label, value string) (string, error) {
	if value != "" {
		return value, nil
	}
	a.out.Printf("%s: ", label)
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("%s is required", strings.ToLower(label))
	}
	return line, nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := newFlagSet("login")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password (prompted when omitted)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	e, err := a.prompt("Email", *email)
	if err != nil {
		return err
	}
	p, err := a.prompt("Password", *password)
	if err != nil {
		return err
	}

	user, err := a.client.Login(ctx, e, p)
	switch {
	case auth.IsUseGoogleAuth(err):
		a.out.Warn("This account uses Google sign-in. Run `finctl google-login`.")
		return err
	case auth.IsRequiresVerification(err):
		a.out.Warn("Verify your email first, or run `finctl resend-verification -email " + e + "`.")
		return err
	case err != nil:
		return err
	}
	a.out.Success(fmt.Sprintf("Signed in as %s <%s>", user.Name, user.Email))
	return nil
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := newFlagSet("register")
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password (prompted when omitted)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	n, err := a.prompt("Name", *name)
	if err != nil {
		return err
	}
	e, err := a.prompt("Email", *email)
	if err != nil {
		return err
	}
	p, err := a.prompt("Password", *password)
	if err != nil {
		return err
	}

	res, err := a.client.Register(ctx, n, e, p)
	if err != nil {
		return err
	}
	if res.RequiresVerification {
		a.out.Warn(fmt.Sprintf("Account created. Check %s for a verification link.", res.Email))
		return nil
	}
	a.out.Success(fmt.Sprintf("Account created. Signed in as %s <%s>", res.User.Name, res.User.Email))
	return nil
}

func (a *app) logout(ctx context.Context, _ []string) error {
	if err := a.client.Logout(ctx); err != nil {
		return err
	}
	a.out.Success("Signed out")
	return nil
}

func (a *app) status(_ context.Context, _ []string) error {
	if !a.client.IsAuthenticated() {
		a.out.Warn("Not signed in")
		return nil
	}
	user := a.client.CurrentUser()
	a.out.Field("user", user.Name)
	a.out.Field("email", user.Email)

	accessToken, err := a.client.Sessions().AccessToken()
	if err != nil {
		return err
	}
	a.printExpiry(accessToken)
	return nil
}

func (a *app) printExpiry(accessToken string) {
	claims, err := token.Inspect(accessToken)
	if err != nil || claims.ExpiresAt.IsZero() {
		a.out.Field("access token", "opaque")
		return
	}
	if left := claims.TimeLeft(); left > 0 {
		a.out.Field("access token", "expires in "+left.Round(time.Second).String())
		return
	}
	a.out.Field("access token", a.out.Paint(ui.Yellow, "expired, will refresh on next call"))
}

func (a *app) profile(ctx context.Context, _ []string) error {
	user, err := a.client.Profile(ctx)
	if err != nil {
		return err
	}
	a.out.Field("id", user.ID)
	a.out.Field("name", user.Name)
	a.out.Field("email", user.Email)
	return nil
}

func (a *app) refresh(ctx context.Context, _ []string) error {
	accessToken, err := a.client.Refresh(ctx)
	if err != nil {
		return err
	}
	a.out.Success("Session refreshed")
	a.printExpiry(accessToken)
	return nil
}

func (a *app) verifyEmail(ctx context.Context, args []string) error {
	fs := newFlagSet("verify-email")
	tok := fs.String("token", "", "token from the verification email")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	t, err := a.prompt("Verification token", *tok)
	if err != nil {
		return err
	}

	res, err := a.client.VerifyEmail(ctx, t)
	if err != nil {
		return err
	}
	if res.SignedIn && res.User != nil {
		a.out.Success(fmt.Sprintf("Email verified. Signed in as %s <%s>", res.User.Name, res.User.Email))
		return nil
	}
	a.out.Success(messageOr(res.Message, "Email verified. You can now log in."))
	return nil
}

func (a *app) resendVerification(ctx context.Context, args []string) error {
	return a.emailCommand(ctx, "resend-verification", args, a.client.ResendVerification,
		"Verification email sent.")
}

func (a *app) forgotPassword(ctx context.Context, args []string) error {
	return a.emailCommand(ctx, "forgot-password", args, a.client.ForgotPassword,
		"If the account exists, a reset email has been sent.")
}

func (a *app) emailCommand(ctx context.Context, name string, args []string, send func(context.Context, string) (string, error), fallback string) error {
	fs := newFlagSet(name)
	email := fs.String("email", "", "account email")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	e, err := a.prompt("Email", *email)
	if err != nil {
		return err
	}
	msg, err := send(ctx, e)
	if err != nil {
		return err
	}
	a.out.Success(messageOr(msg, fallback))
	return nil
}

func (a *app) resetPassword(ctx context.Context, args []string) error {
	fs := newFlagSet("reset-password")
	tok := fs.String("token", "", "token from the reset email")
	password := fs.String("password", "", "new password (prompted when omitted)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	t, err := a.prompt("Reset token", *tok)
	if err != nil {
		return err
	}
	p, err := a.prompt("New password", *password)
	if err != nil {
		return err
	}

	msg, err := a.client.ResetPassword(ctx, t, p)
	if err != nil {
		return err
	}
	a.out.Success(messageOr(msg, "Password reset. You can now log in."))
	return nil
}

func (a *app) googleLogin(ctx context.Context, args []string) error {
	fs := newFlagSet("google-login")
	timeout := fs.Duration("timeout", 2*time.Minute, "how long to wait for the browser")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	flow, err := google.NewFlow(ctx, a.cfg)
	if err != nil {
		return err
	}
	cb, err := google.Listen(flow.RedirectURL())
	if err != nil {
		return err
	}
	attempt, err := google.NewAttempt()
	if err != nil {
		_ = cb.Close()
		return err
	}

	a.out.Printf("Open this URL in your browser to sign in:\n\n  %s\n\n", flow.AuthCodeURL(attempt.State, attempt.Nonce, attempt.Verifier))

	waitCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	code, err := cb.Wait(waitCtx, attempt.State)
	if err != nil {
		return fmt.Errorf("google sign-in: %w", err)
	}

	id, err := flow.Exchange(ctx, code, attempt.Verifier, attempt.Nonce)
	if err != nil {
		return err
	}
	a.log.Debug().Str("subject", id.Subject).Msg("google identity verified")

	user, err := a.client.LoginWithGoogle(ctx, id.IDToken)
	if err != nil {
		return err
	}
	a.out.Success(fmt.Sprintf("Signed in as %s <%s>", user.Name, user.Email))
	return nil
}

func (a *app) get(ctx context.Context, args []string) error {
	if len(args) != 1 {
		a.out.Printf("usage: finctl get <path>\n")
		return errUsage
	}
	path := args[0]
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	resp, err := a.client.Do(ctx, &client.Request{Method: http.MethodGet, Path: path})
	if resp != nil {
		a.out.Exchange(http.MethodGet, path, resp.StatusCode)
		a.out.JSON(resp.Body)
	}
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &auth.StatusError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	return nil
}

func messageOr(msg, fallback string) string {
	if msg == "" {
		return fallback
	}
	return msg
}
