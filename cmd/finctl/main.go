package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-finance-client/auth"
	"github.com/jrsteele09/go-finance-client/internal/config"
	"github.com/jrsteele09/go-finance-client/internal/ui"
	"github.com/jrsteele09/go-finance-client/session/filestore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var version = "dev"

const (
	exitFailure        = 1
	exitSessionExpired = 2
)

var errUsage = errors.New("usage")

func main() {
	err := run(os.Args[1:])
	if err == nil {
		return
	}
	if !errors.Is(err, errUsage) {
		ui.NewPrinter(os.Stderr).Error(auth.UserMessage(err))
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if errors.Is(err, auth.ErrSessionExpired) {
		return exitSessionExpired
	}
	return exitFailure
}

func run(args []string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	fs := flag.NewFlagSet("finctl", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file (default $CONFIG_PATH)")
	dumpMetrics := fs.Bool("metrics", false, "Print client metrics to stderr on exit")
	fs.Usage = func() { usage(fs.Output()) }
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() == 0 {
		usage(os.Stderr)
		return errUsage
	}

	name := fs.Arg(0)
	if name == "version" {
		displayAppname("finctl")
		fmt.Printf("finctl %s\n", version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)
	log.Logger = logger

	store, err := filestore.New(cfg.GetSessionFile(), cfg.GetSessionSecret())
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	a, err := newApp(cfg, store, reg, logger, os.Stdin, os.Stdout)
	if err != nil {
		return err
	}
	if *dumpMetrics {
		defer writeMetrics(reg, os.Stderr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.dispatch(ctx, name, fs.Args()[1:])
}

func newLogger(cfg config.EnvConfig, w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.GetLogLevel())
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Str("env", cfg.GetEnv()).
		Logger()
}

func writeMetrics(g prometheus.Gatherer, w io.Writer) {
	families, err := g.Gather()
	if err != nil {
		log.Err(err).Msg("failed to gather metrics")
		return
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			log.Err(err).Msg("failed to write metrics")
			return
		}
	}
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: finctl [-config file] [-metrics] <command> [flags]")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "commands:")
	for _, c := range commands {
		_, _ = fmt.Fprintf(w, "  %-22s %s\n", c.name, c.summary)
	}
	_, _ = fmt.Fprintf(w, "  %-22s %s\n", "version", "print the version")
}
