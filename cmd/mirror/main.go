package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/HMasataka/mirror/internal/app"
	"github.com/HMasataka/mirror/internal/config"
	"github.com/HMasataka/mirror/internal/reporter"
	"github.com/HMasataka/mirror/internal/signaling"
	"github.com/jessevdk/go-flags"
)

type Options struct {
	Config  string `short:"c" long:"config" description:"Path to mirror.toml" env:"MIRROR_CONFIG"`
	Device  string `long:"device" description:"Device name shown to the other peer"`
	Backend string `long:"backend" description:"Directory backend (relay, redis, firestore)"`
}

var opts Options

// session bundles what a command needs while it runs.
type session struct {
	app    *app.App
	logger *slog.Logger
}

// checkBackend rejects directories that other processes cannot see.
func checkBackend(cfg config.Config) error {
	if cfg.Directory.Backend == config.BackendMemory {
		return fmt.Errorf("%w: the memory directory is local to one process; set directory.backend to relay, redis or firestore",
			config.ErrInvalidConfig)
	}
	return nil
}

// run loads configuration, builds the engine and calls fn with a context that
// ends on SIGINT or SIGTERM.
func run(fn func(ctx context.Context, s *session) error, engineOpts ...signaling.Option) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}
	if opts.Device != "" {
		cfg.Device.Name = opts.Device
	}
	if opts.Backend != "" {
		cfg.Directory.Backend = opts.Backend
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if err := checkBackend(cfg); err != nil {
		return err
	}

	logger, err := app.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engineOpts = append(engineOpts, signaling.WithStatusHandler(func(u signaling.Update) {
		logger.Info("status changed",
			slog.String("session_id", u.SessionID),
			slog.String("from", u.Transition.From.String()),
			slog.String("to", u.Transition.To.String()),
		)
		fmt.Fprintln(os.Stderr, u.Transition.To.Describe())
	}))

	a, err := app.New(ctx, cfg, app.WithLogger(logger), app.WithEngineOptions(engineOpts...))
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to close", slog.Any("error", err))
		}
	}()

	unsubscribe := a.Reporter.Subscribe(func(e reporter.PermissionError) {
		fmt.Fprintf(os.Stderr, "rejected: %s %s\n", e.Operation, e.Path)
	})
	defer unsubscribe()

	return fn(ctx, &session{app: a, logger: logger})
}

// wait blocks until the session in flight ends or ctx is done.
func wait(ctx context.Context, e *signaling.Engine) {
	s := e.Current()
	if s == nil {
		return
	}

	select {
	case <-s.Done():
	case <-ctx.Done():
	}
}

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	parser.AddCommand("share", "Create a session and wait for a receiver", "", &ShareCommand{})
	parser.AddCommand("cast", "Share to an advertised receiver", "", &CastCommand{})
	parser.AddCommand("receive", "Answer a waiting session", "", &ReceiveCommand{})
	parser.AddCommand("advertise", "Register as a receiver and answer incoming shares", "", &AdvertiseCommand{})
	parser.AddCommand("list", "List waiting sessions or available receivers", "", &ListCommand{})
	parser.AddCommand("hangup", "End a session", "", &HangUpCommand{})

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}
}
