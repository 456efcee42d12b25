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
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/hwlink/lib/version"
	"github.com/bureau-foundation/hwlink/relay/wsrelay"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		listen      string
		certFile    string
		keyFile     string
		verbose     bool
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("hwlink-relay", pflag.ContinueOnError)
	flagSet.StringVarP(&listen, "listen", "l", "127.0.0.1:8080", "address to listen on")
	flagSet.StringVar(&certFile, "tls-cert", "", "TLS certificate file (enables wss)")
	flagSet.StringVar(&keyFile, "tls-key", "", "TLS private key file")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable per-connection debug logging")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("hwlink-relay")
		return nil
	}
	if (certFile == "") != (keyFile == "") {
		return errors.New("--tls-cert and --tls-key must be given together")
	}

	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              listen,
		Handler:           wsrelay.NewHub(logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	served := make(chan error, 1)
	go func() {
		logger.Info("relay hub listening", "address", listen, "tls", certFile != "")
		if certFile != "" {
			served <- server.ListenAndServeTLS(certFile, keyFile)
		} else {
			served <- server.ListenAndServe()
		}
	}()

	select {
	case err := <-served:
		return fmt.Errorf("relay hub: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Hijacked WebSocket connections are not tracked by Shutdown; they
	// end when the process exits.
	return server.Shutdown(shutdownCtx)
}
