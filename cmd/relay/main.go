package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HMasataka/mirror/internal/app"
	"github.com/HMasataka/mirror/internal/config"
	"github.com/HMasataka/mirror/internal/relay"
	"github.com/jessevdk/go-flags"
	"github.com/samber/lo"
)

type Options struct {
	Config string `short:"c" long:"config" description:"Path to mirror.toml" env:"MIRROR_CONFIG"`
	Listen string `short:"l" long:"listen" description:"Listen address (overrides relay.listen)"`
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || lo.Contains(allowed, origin)
	}
}

func run(opts Options) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.Relay.Listen = opts.Listen
	}
	if cfg.Directory.Backend == config.BackendRelay {
		return fmt.Errorf("%w: the relay cannot use itself as its directory", config.ErrInvalidConfig)
	}

	logger, err := app.NewLogger(cfg.Log, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dir, err := app.OpenDirectory(ctx, cfg.Directory, logger)
	if err != nil {
		return err
	}
	defer dir.Close()

	if cfg.Relay.TURN.Enabled {
		turnServer, err := relay.StartTURN(cfg.Relay.TURN, logger)
		if err != nil {
			return err
		}
		defer turnServer.Close()
	}

	relayOpts := []relay.Option{
		relay.WithLogger(logger),
		relay.WithCheckOrigin(checkOrigin(cfg.Relay.AllowedOrigins)),
	}
	if cfg.Relay.Token != "" {
		relayOpts = append(relayOpts, relay.WithToken(cfg.Relay.Token))
	}
	srv := relay.NewServer(dir, relayOpts...)

	server := &http.Server{
		Addr:              cfg.Relay.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay server starting", slog.String("addr", cfg.Relay.Listen), slog.String("backend", cfg.Directory.Backend))

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down relay server...")

	return server.Close()
}

func main() {
	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		slog.Error("relay failed", slog.Any("error", err))
		os.Exit(1)
	}
}
