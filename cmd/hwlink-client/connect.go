// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/hwlink/relay"
	"github.com/bureau-foundation/hwlink/relay/wsrelay"
	"github.com/bureau-foundation/hwlink/transport"
)

// newDialer builds the dialer for opts.transport.
func newDialer(opts *options, logger *slog.Logger) (transport.Dialer, error) {
	var key ed25519.PrivateKey
	if opts.keyDir != "" && opts.transport != "tcp" {
		loaded, _, err := transport.LoadOrGenerateKey(opts.keyDir)
		if err != nil {
			return nil, err
		}
		key = loaded
	}

	switch opts.transport {
	case "quic":
		return &transport.QUICDialer{Key: key}, nil
	case "webrtc":
		return &transport.WebRTCDialer{
			ICE:    transport.NewICEConfig(opts.iceServers, "", ""),
			Key:    key,
			Logger: logger,
		}, nil
	case "tcp":
		return &transport.TCPDialer{Timeout: opts.timeout}, nil
	}
	return nil, fmt.Errorf("unknown transport %q: want quic, webrtc, or tcp", opts.transport)
}

// dial opens a direct stream to opts.address.
func dial(ctx context.Context, opts *options, logger *slog.Logger) (transport.Stream, error) {
	dialer, err := newDialer(opts, logger)
	if err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	stream, err := dialer.DialContext(dialCtx, opts.address)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", opts.address, err)
	}
	logger.Info("connected", "transport", opts.transport, "address", opts.address)
	return stream, nil
}

// relayConfig describes the server's paths on the relay.
func relayConfig(opts *options) *relay.Config {
	return &relay.Config{
		URL:      opts.relayURL,
		BasePath: opts.relayBase,
		Insecure: opts.insecure,
		Track:    opts.track,
	}
}

// subscribeState opens the server's state track on the relay.
func subscribeState(ctx context.Context, opts *options, logger *slog.Logger) (relay.Subscription, relay.TrackReader, error) {
	config := relayConfig(opts)
	client, err := wsrelay.NewClient(config, logger)
	if err != nil {
		return nil, nil, err
	}
	connectCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	subscription, err := client.ConnectSubscriber(connectCtx, config.StateTopic())
	if err != nil {
		return nil, nil, err
	}
	reader, err := subscription.SubscribeTrack(ctx, config.TrackName(), opts.timeout)
	if err != nil {
		subscription.Close()
		return nil, nil, fmt.Errorf("subscribing to %s: %w", config.StateTopic(), err)
	}
	return subscription, reader, nil
}

// publishCommands writes payload to the server's commands track as one
// message.
func publishCommands(ctx context.Context, opts *options, payload []byte, logger *slog.Logger) error {
	config := relayConfig(opts)
	client, err := wsrelay.NewClient(config, logger)
	if err != nil {
		return err
	}
	connectCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	publication, err := client.ConnectPublisher(connectCtx, config.CommandsTopic(), config.TrackName())
	if err != nil {
		return err
	}
	defer publication.Close()

	// The server subscribes only after the hub announces this
	// publication.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-publication.Closed():
		return fmt.Errorf("relay closed the publication")
	case <-time.After(opts.settle):
	}
	return publication.Write(payload)
}
