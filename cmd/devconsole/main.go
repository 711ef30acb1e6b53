package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"

	"github.com/jrsteele09/go-auth-console/internal/config"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Ignoring .env: %s\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(stderr, "Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		displayAppname(stdout, c.GetAppName())
		usage(stdout)
		return nil
	}

	a, err := newApp(ctx, c, args[0], stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %s\n", err)
		return err
	}
	defer a.Close()

	if err := a.dispatch(ctx, args[0], args[1:]); err != nil {
		reportError(stderr, err)
		return err
	}
	return nil
}

func displayAppname(w io.Writer, appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	fmt.Fprintln(w, myFigure.String())
}

func usage(w io.Writer) {
	fmt.Fprint(w, `Usage: devconsole <command> [flags]

Commands:
  login      -email <email> [-password <password>]   log in (password read from stdin when omitted)
  logout                                             end the session
  whoami                                             show the current developer
  status                                             show session state and guard decision
  register   -name -username -email [-password] [-accept-policy]
  verify     -token <token>                          verify an email address
  resend     -email <email>                          resend the verification email
  refresh                                            exchange the refresh token for a new access token
  token                                              decode the stored access token
`)
}
