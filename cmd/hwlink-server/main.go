// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/hwlink/backend"
	"github.com/bureau-foundation/hwlink/bridge"
	"github.com/bureau-foundation/hwlink/internal/metrics"
	"github.com/bureau-foundation/hwlink/lib/config"
	"github.com/bureau-foundation/hwlink/lib/version"
	"github.com/bureau-foundation/hwlink/relay"
	"github.com/bureau-foundation/hwlink/relay/wsrelay"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("hwlink-server", pflag.ContinueOnError)
	var opts options
	opts.register(flagSet)

	// Handle --version before flag parsing to match the other hwlink
	// binaries.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("hwlink-server")
		return nil
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.showVersion {
		version.Print("hwlink-server")
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := config.Resolve(opts.configPath)
	if err != nil {
		return err
	}
	opts.apply(flagSet, cfg)
	cfg.ExpandVariables()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	logLevel := slog.LevelInfo
	if opts.verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = serve(signalCtx, cfg, logger)
	if signalCtx.Err() != nil {
		logger.Info("shut down")
		return nil
	}
	return err
}

// serve runs every component until one of them stops the server.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	m := metrics.New()
	queues := backend.NewQueues(cfg.Relay != nil, logger.With("component", "backend"), m)
	device, err := newBackend(cfg, queues, logger.With("component", "backend"))
	if err != nil {
		return err
	}
	listener, signaling, err := newListener(cfg, logger.With("component", "transport"))
	if err != nil {
		return err
	}

	// The identity is the one line operators copy into the client, so
	// it goes to stdout as well as the log.
	fmt.Println(listener.Identity())
	logger.Info("direct transport ready",
		"transport", cfg.Direct.Transport,
		"identity", listener.Identity(),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		err := device.Run(ctx)
		if err != nil {
			return fmt.Errorf("backend %s: %w", cfg.Backend.Kind, err)
		}
		return nil
	})

	channels := device.Channels()
	b := &bridge.Bridge{
		Listener: listener,
		Backend:  channels,
		Logger:   logger.With("component", "bridge"),
		Metrics:  m,
	}
	var bridgeFinished atomic.Bool
	group.Go(func() error {
		// The bridge ending ends the server, including in single-shot
		// mode where it returns nil.
		defer cancel()
		serveBridge := b.Serve
		if cfg.SingleShot {
			serveBridge = b.ServeOne
		}
		err := serveBridge(ctx)
		if err == nil {
			bridgeFinished.Store(true)
		}
		return err
	})
	group.Go(func() error {
		<-ctx.Done()
		return listener.Close()
	})

	if cfg.HTTP.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		if signaling != nil {
			mux.Handle(signalingPath, signaling)
		}
		server := &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		group.Go(func() error {
			logger.Info("http listener ready", "address", cfg.HTTP.Listen)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http listener: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if cfg.Relay != nil {
		relayConfig := &relay.Config{
			URL:          cfg.Relay.URL,
			BasePath:     cfg.Relay.BasePath,
			Insecure:     cfg.Relay.Insecure,
			StatePath:    cfg.Relay.StatePath,
			CommandsPath: cfg.Relay.CommandsPath,
			Track:        cfg.Relay.Track,
		}
		client, err := wsrelay.NewClient(relayConfig, logger.With("component", "relay"))
		if err != nil {
			cancel()
			group.Wait()
			return err
		}
		logger.Info("relay enabled",
			"url", relayConfig.URL,
			"base_path", relayConfig.BasePath,
		)

		publisher := &relay.StatePublisher{
			Client:  client,
			Config:  relayConfig,
			Fanout:  channels.Fanout,
			Logger:  logger.With("component", "relay_publisher"),
			Metrics: m,
		}
		subscriber := &relay.CommandSubscriber{
			Client:      client,
			Config:      relayConfig,
			Commands:    channels.Write,
			BackendDone: channels.Done,
			Logger:      logger.With("component", "relay_subscriber"),
			Metrics:     m,
		}
		group.Go(func() error { return publisher.Run(ctx) })
		group.Go(func() error { return subscriber.Run(ctx) })
	}

	err = group.Wait()
	if bridgeFinished.Load() && errors.Is(err, backend.ErrClosed) {
		// The relay loops saw the backend stop during shutdown.
		return nil
	}
	return err
}
