// Package app assembles a signaling engine from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/HMasataka/mirror/internal/config"
	"github.com/HMasataka/mirror/internal/reporter"
	"github.com/HMasataka/mirror/internal/signaling"
	"github.com/HMasataka/mirror/pkg/directory"
	"github.com/HMasataka/mirror/pkg/directory/firestoredir"
	"github.com/HMasataka/mirror/pkg/directory/memdir"
	"github.com/HMasataka/mirror/pkg/directory/redisdir"
	"github.com/HMasataka/mirror/pkg/directory/rpcdir"
	"github.com/HMasataka/mirror/pkg/transport"
	"google.golang.org/api/option"
)

// NewLogger builds the process logger described by cfg.
func NewLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}

	switch cfg.Format {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
}

// OpenDirectory connects to the backend selected by cfg.
func OpenDirectory(ctx context.Context, cfg config.DirectoryConfig, logger *slog.Logger) (directory.Directory, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case config.BackendMemory:
		return memdir.New(), nil

	case config.BackendFirestore:
		var clientOpts []option.ClientOption
		if cfg.Firestore.CredentialsFile != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.Firestore.CredentialsFile))
		}
		store, err := firestoredir.New(ctx, cfg.Firestore.ProjectID,
			[]firestoredir.Option{firestoredir.WithLogger(logger)}, clientOpts...)
		if err != nil {
			return nil, err
		}
		return store, nil

	case config.BackendRedis:
		opts := []redisdir.Option{redisdir.WithLogger(logger)}
		if cfg.Redis.Prefix != "" {
			opts = append(opts, redisdir.WithPrefix(cfg.Redis.Prefix))
		}
		store, err := redisdir.New(ctx, cfg.Redis.URL, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil

	case config.BackendRelay:
		opts := []rpcdir.Option{rpcdir.WithLogger(logger)}
		if cfg.Relay.Token != "" {
			opts = append(opts, rpcdir.WithHeader(http.Header{"Authorization": {"Bearer " + cfg.Relay.Token}}))
		}
		client, err := rpcdir.Dial(ctx, cfg.Relay.URL, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	}

	return nil, fmt.Errorf("%w: unknown directory backend %q", config.ErrInvalidConfig, cfg.Backend)
}

type Option func(*App)

// WithDirectory uses dir instead of opening the configured backend. App.Close
// does not close it.
func WithDirectory(dir directory.Directory) Option {
	return func(a *App) {
		a.Directory = dir
		a.ownsDirectory = false
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		a.Logger = logger
	}
}

func WithTransportOptions(opts ...transport.ManagerOption) Option {
	return func(a *App) {
		a.transportOpts = append(a.transportOpts, opts...)
	}
}

func WithEngineOptions(opts ...signaling.Option) Option {
	return func(a *App) {
		a.engineOpts = append(a.engineOpts, opts...)
	}
}

type App struct {
	Config     config.Config
	Logger     *slog.Logger
	Directory  directory.Directory
	Reporter   *reporter.Reporter
	Transports *transport.Manager
	Engine     *signaling.Engine

	ownsDirectory bool
	transportOpts []transport.ManagerOption
	engineOpts    []signaling.Option
}

func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	a := &App{Config: cfg, ownsDirectory: true}

	for _, opt := range opts {
		opt(a)
	}

	if a.Logger == nil {
		a.Logger = slog.Default()
	}

	if a.Directory == nil {
		dir, err := OpenDirectory(ctx, cfg.Directory, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open directory: %w", err)
		}
		a.Directory = dir
	}

	a.Reporter = reporter.New(a.Logger)
	a.Transports = transport.NewManager(cfg.WebRTC,
		append([]transport.ManagerOption{transport.WithLogger(a.Logger)}, a.transportOpts...)...)
	a.Engine = signaling.New(a.Directory, a.Transports, cfg.Signaling(),
		append([]signaling.Option{signaling.WithLogger(a.Logger), signaling.WithReporter(a.Reporter)}, a.engineOpts...)...)

	a.Logger.Info("mirror ready",
		slog.String("device", cfg.Device.Name),
		slog.String("backend", cfg.Directory.Backend),
	)

	return a, nil
}

// Close hangs up, then releases the transport, the reporter and the directory.
func (a *App) Close() error {
	var errs []error

	if err := a.Engine.Close(); err != nil {
		errs = append(errs, err)
	}
	a.Reporter.Close()

	if a.ownsDirectory {
		if err := a.Directory.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
