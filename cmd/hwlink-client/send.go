// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
)

// sendDirect writes payload as commands over a direct session. Taking
// the session slot displaces any other direct operator.
func sendDirect(ctx context.Context, opts *options, payload []byte, logger *slog.Logger) error {
	stream, err := dial(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer stream.Close()
	if _, err := stream.Write(payload); err != nil {
		return fmt.Errorf("sending commands: %w", err)
	}
	logger.Info("sent commands", "bytes", len(payload))
	return nil
}

// sendRelay publishes payload on the relay's commands track. The
// server drops it if a direct-session command is pending.
func sendRelay(ctx context.Context, opts *options, payload []byte, logger *slog.Logger) error {
	if err := publishCommands(ctx, opts, payload, logger); err != nil {
		return fmt.Errorf("publishing commands: %w", err)
	}
	logger.Info("published commands", "bytes", len(payload))
	return nil
}
