// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"log/slog"
)

// SerialEcho is a Backend behaving like a serial line with its TX
// looped to RX: every command is published back as state, unchanged.
type SerialEcho struct {
	queues *Queues
	logger *slog.Logger
}

// NewSerialEcho creates an echo backend publishing through queues.
func NewSerialEcho(queues *Queues, logger *slog.Logger) *SerialEcho {
	if logger == nil {
		logger = slog.Default()
	}
	return &SerialEcho{queues: queues, logger: logger}
}

func (e *SerialEcho) Channels() Channels {
	return e.queues.Channels()
}

func (e *SerialEcho) Run(ctx context.Context) error {
	defer e.queues.Close()
	e.logger.Info("serial echo running")
	for {
		select {
		case <-ctx.Done():
			return nil
		case item := <-e.queues.Commands():
			e.logger.Debug("echoing", "bytes", len(item))
			if e.queues.Publish(ctx, item) != nil {
				return nil
			}
		}
	}
}
