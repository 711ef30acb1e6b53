package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-auth-console/apiclient"
	"github.com/jrsteele09/go-auth-console/internal/config"
	"github.com/jrsteele09/go-auth-console/internal/logging"
	"github.com/jrsteele09/go-auth-console/internal/utils"
	"github.com/jrsteele09/go-auth-console/session"
	"github.com/jrsteele09/go-auth-console/tokenstore"
)

type app struct {
	config     config.Config
	logger     zerolog.Logger
	store      *tokenstore.Store
	closer     io.Closer
	client     *apiclient.Client
	controller *session.Controller
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
}

func newApp(ctx context.Context, c config.Config, command string, stdin io.Reader, stdout, stderr io.Writer) (*app, error) {
	logger := logging.New(c.GetEnv(), c.GetLogLevel())

	store, closer, err := tokenstore.Open(ctx, c, logger)
	if err != nil {
		return nil, err
	}

	// Commands act as locations; running login means already being on the login entry point.
	location := "/" + command
	if command == "login" {
		location = c.GetLoginPath()
	}
	navigator := apiclient.NewMemoryNavigator(location, func(path string) {
		fmt.Fprintf(stderr, "Session expired or rejected; run `devconsole login` (%s).\n", path)
	})

	client, err := apiclient.New(c.GetAPIBaseURL(), store,
		apiclient.WithTimeout(c.GetRequestTimeout()),
		apiclient.WithNavigator(navigator),
		apiclient.WithLoginPath(c.GetLoginPath()),
		apiclient.WithLogger(logger),
		apiclient.WithEnv(c.GetEnv()),
	)
	if err != nil {
		closer.Close()
		return nil, err
	}

	controller, err := session.NewController(client, session.WithLogger(logger))
	if err != nil {
		closer.Close()
		return nil, err
	}

	return &app{
		config:     c,
		logger:     logger,
		store:      store,
		closer:     closer,
		client:     client,
		controller: controller,
		stdin:      stdin,
		stdout:     stdout,
		stderr:     stderr,
	}, nil
}

func (a *app) Close() error {
	return a.closer.Close()
}

func (a *app) dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "login":
		return a.login(ctx, args)
	case "logout":
		a.controller.Logout(ctx)
		fmt.Fprintln(a.stdout, "Logged out.")
		return nil
	case "whoami":
		return a.whoami(ctx)
	case "status":
		return a.status(ctx)
	case "register":
		return a.register(ctx, args)
	case "verify":
		return a.verify(ctx, args)
	case "resend":
		return a.resend(ctx, args)
	case "refresh":
		return a.refresh(ctx)
	case "token":
		return a.token()
	default:
		usage(a.stderr)
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	email := fs.String("email", "", "developer email")
	password := fs.String("password", "", "password (read from stdin when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		return errors.New("-email is required")
	}
	if *password == "" {
		line, err := a.readLine("Password: ")
		if err != nil {
			return err
		}
		*password = line
	}

	identity, err := a.controller.Login(ctx, session.Credentials{Email: *email, Password: *password})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Logged in as %s (%s).\n", identity.DisplayName(), identity.Email)
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	snap := a.controller.Bootstrap(ctx)
	if snap.Identity == nil {
		return errors.New("not logged in")
	}
	return a.printJSON(snap.Identity)
}

func (a *app) status(ctx context.Context) error {
	snap := a.controller.Bootstrap(ctx)
	return a.printJSON(map[string]any{
		"state":       snap.State.String(),
		"initialized": snap.Initialized,
		"credential":  a.client.CredentialPolicy().String(),
		"access":      session.Evaluate(snap, a.store).String(),
		"developer":   snap.Identity.DisplayName(),
	})
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	var r session.Registration
	fs.StringVar(&r.Name, "name", "", "full name")
	fs.StringVar(&r.Username, "username", "", "username")
	fs.StringVar(&r.Email, "email", "", "email")
	fs.StringVar(&r.Password, "password", "", "password (read from stdin when empty)")
	fs.BoolVar(&r.PolicyAccepted, "accept-policy", false, "accept the terms and privacy policy")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if r.Email == "" {
		return errors.New("-email is required")
	}
	if r.Password == "" {
		line, err := a.readLine("Password: ")
		if err != nil {
			return err
		}
		r.Password = line
	}

	resp, err := a.controller.Register(ctx, r)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, resp.Text())
	return nil
}

func (a *app) verify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	token := fs.String("token", "", "verification token from the email")
	if err := fs.Parse(args); err != nil {
		return err
	}

	resp, err := a.controller.VerifyEmail(ctx, *token)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.stdout, resp.Text())
	return nil
}

func (a *app) resend(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("resend", flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	email := fs.String("email", "", "developer email")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := a.controller.ResendVerification(ctx, *email); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "Verification email sent to %s.\n", *email)
	return nil
}

func (a *app) refresh(ctx context.Context) error {
	token, err := a.controller.Refresh(ctx)
	if err != nil {
		return err
	}
	if token.Expiry.IsZero() {
		fmt.Fprintln(a.stdout, "Access token refreshed.")
		return nil
	}
	fmt.Fprintf(a.stdout, "Access token refreshed, expires %s.\n", token.Expiry.Format(time.RFC3339))
	return nil
}

func (a *app) token() error {
	raw := a.store.AccessToken()
	if raw == "" {
		return errors.New("no access token stored")
	}
	claims := tokenstore.Decode(raw)
	if claims == nil {
		return errors.New("stored access token cannot be decoded")
	}

	out := map[string]any{
		"subject":  claims.SubjectID,
		"email":    claims.Email,
		"username": claims.Username,
		"name":     claims.Name,
		"expired":  tokenstore.IsExpired(raw),
	}
	if claims.IssuedAt != nil {
		out["issuedAt"] = utils.Value(claims.IssuedAt).Format(time.RFC3339)
	}
	if claims.ExpiresAt != nil {
		out["expiresAt"] = utils.Value(claims.ExpiresAt).Format(time.RFC3339)
	}
	return a.printJSON(out)
}

func (a *app) readLine(prompt string) (string, error) {
	fmt.Fprint(a.stderr, prompt)
	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("no input")
	}
	return line, nil
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// reportError prints err and, for account-state errors, what to do next.
func reportError(w io.Writer, err error) {
	var apiErr *apiclient.APIError
	if !errors.As(err, &apiErr) {
		fmt.Fprintf(w, "error: %s\n", err)
		return
	}

	if apiErr.Code != "" && apiErr.Code != apiErr.Message {
		fmt.Fprintf(w, "error: %s [%s, status %d]\n", apiErr.Message, apiErr.Code, apiErr.Status)
	} else {
		fmt.Fprintf(w, "error: %s [status %d]\n", apiErr.Message, apiErr.Status)
	}

	switch apiErr.Kind {
	case apiclient.KindEmailNotVerified:
		fmt.Fprintln(w, "hint: run `devconsole resend -email <email>` and follow the link in the email")
	case apiclient.KindAccountBlocked:
		fmt.Fprintln(w, "hint: this account has been blocked; contact support")
	case apiclient.KindAccountLocked:
		fmt.Fprintln(w, "hint: too many failed attempts; wait before trying again")
	case apiclient.KindPolicyNotAccepted:
		fmt.Fprintln(w, "hint: accept the current terms and privacy policy to continue")
	}
}
