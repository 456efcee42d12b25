// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/bureau-foundation/hwlink/lib/canframe"
	"github.com/bureau-foundation/hwlink/lib/netutil"
)

// dumpDirect prints the frames of a direct session's state stream.
func dumpDirect(ctx context.Context, opts *options, logger *slog.Logger) error {
	stream, err := dial(ctx, opts, logger)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()
	defer stream.Close()

	return dumpStream(stream, &frameWriter{out: os.Stdout, now: time.Now, limit: opts.count}, logger)
}

// dumpStream decodes records from r until it ends. Malformed records
// are reported and skipped.
func dumpStream(r io.Reader, writer *frameWriter, logger *slog.Logger) error {
	reader := canframe.NewReader(r)
	for {
		frame, err := reader.ReadFrame()
		switch {
		case err == nil:
			if err := writer.print(frame); err != nil {
				return nil
			}
		case errors.Is(err, canframe.ErrInvalidLength) || errors.Is(err, canframe.ErrInvalidFrame):
			logger.Warn("skipping malformed record", "error", err)
		case errors.Is(err, io.EOF) || netutil.IsExpectedCloseError(err):
			return nil
		default:
			return err
		}
	}
}

// dumpRelay prints the frames published on the relay's state track.
func dumpRelay(ctx context.Context, opts *options, logger *slog.Logger) error {
	subscription, reader, err := subscribeState(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer subscription.Close()

	writer := &frameWriter{out: os.Stdout, now: time.Now, limit: opts.count}
	for {
		message, err := reader.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := printMessage(message, writer, logger); err != nil {
			return nil
		}
	}
}

// printMessage prints every frame in one relay message. A relay
// message is a batch of whole records.
func printMessage(message []byte, writer *frameWriter, logger *slog.Logger) error {
	frames, err := canframe.DecodeAll(message)
	for _, frame := range frames {
		if err := writer.print(frame); err != nil {
			return err
		}
	}
	if err != nil {
		logger.Warn("discarding malformed relay message", "error", err, "bytes", len(message))
	}
	return nil
}
