// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/hwlink/lib/version"
	"github.com/bureau-foundation/hwlink/relay"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	address    string
	transport  string
	keyDir     string
	iceServers []string
	relayURL   string
	relayBase  string
	track      string
	insecure   bool
	count      int
	settle     time.Duration
	timeout    time.Duration
	verbose    bool
}

func run() error {
	var opts options
	flagSet := pflag.NewFlagSet("hwlink-client", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.address, "address", "a", "", "server identity string printed by hwlink-server")
	flagSet.StringVar(&opts.transport, "transport", "quic", "direct transport: quic, webrtc, or tcp")
	flagSet.StringVar(&opts.keyDir, "key-dir", "", "directory holding this client's identity key (default: ephemeral)")
	flagSet.StringSliceVar(&opts.iceServers, "ice-server", nil, "STUN/TURN URL for webrtc (repeatable)")
	flagSet.StringVar(&opts.relayURL, "relay-url", "", "use the relay at this URL instead of a direct connection")
	flagSet.StringVar(&opts.relayBase, "relay-base", "", "base path of the server on the relay")
	flagSet.StringVar(&opts.track, "track", relay.DefaultTrack, "relay track name")
	flagSet.BoolVar(&opts.insecure, "insecure", false, "skip relay TLS certificate verification")
	flagSet.IntVarP(&opts.count, "count", "n", 0, "dump: stop after this many frames (0 = unlimited)")
	flagSet.DurationVar(&opts.settle, "settle", time.Second, "send via relay: wait this long for the server to subscribe")
	flagSet.DurationVar(&opts.timeout, "timeout", 30*time.Second, "connection timeout")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	showVersion := flagSet.Bool("version", false, "print version information and exit")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("hwlink-client")
		return nil
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		version.Print("hwlink-client")
		return nil
	}

	args := flagSet.Args()
	if len(args) == 0 {
		return errors.New("mode required: dump, send, or console")
	}
	mode, args := args[0], args[1:]

	logLevel := slog.LevelWarn
	if opts.verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	viaRelay := opts.relayURL != ""
	if !viaRelay && opts.address == "" {
		return errors.New("--address or --relay-url is required")
	}

	switch mode {
	case "dump":
		if len(args) > 0 {
			return fmt.Errorf("dump takes no arguments, got %q", args[0])
		}
		if viaRelay {
			return dumpRelay(ctx, &opts, logger)
		}
		return dumpDirect(ctx, &opts, logger)
	case "send":
		payload, err := encodeFrames(args)
		if err != nil {
			return err
		}
		if viaRelay {
			return sendRelay(ctx, &opts, payload, logger)
		}
		return sendDirect(ctx, &opts, payload, logger)
	case "console":
		if viaRelay {
			return errors.New("console needs a direct connection")
		}
		return console(ctx, &opts, logger)
	}
	return fmt.Errorf("unknown mode %q: want dump, send, or console", mode)
}
