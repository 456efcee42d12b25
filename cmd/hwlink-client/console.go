// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// escapeByte (Ctrl-]) ends a console session.
const escapeByte = 0x1d

// console connects the terminal to a serial backend. Typed bytes are
// sent as commands and the device's output is written verbatim.
func console(ctx context.Context, opts *options, logger *slog.Logger) error {
	stream, err := dial(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer stream.Close()

	stdin := int(os.Stdin.Fd())
	if term.IsTerminal(stdin) {
		state, err := term.MakeRaw(stdin)
		if err != nil {
			return fmt.Errorf("entering raw mode: %w", err)
		}
		defer term.Restore(stdin, state)
	}
	fmt.Fprint(os.Stderr, "connected; Ctrl-] to exit\r\n")

	received := make(chan error, 1)
	go func() {
		_, err := io.Copy(os.Stdout, stream)
		received <- err
	}()
	sent := make(chan error, 1)
	go func() {
		sent <- copyUntilEscape(stream, os.Stdin)
	}()

	select {
	case <-ctx.Done():
	case err := <-received:
		if err != nil {
			logger.Debug("console stream ended", "error", err)
		}
		fmt.Fprint(os.Stderr, "\r\nconnection closed\r\n")
	case err := <-sent:
		if err != nil {
			return err
		}
	}
	return nil
}

// copyUntilEscape copies src to dst until src ends or yields
// escapeByte. Bytes before the escape in the same read are sent.
func copyUntilEscape(dst io.Writer, src io.Reader) error {
	buffer := make([]byte, 256)
	for {
		n, err := src.Read(buffer)
		if n > 0 {
			chunk := buffer[:n]
			escape := bytes.IndexByte(chunk, escapeByte)
			if escape >= 0 {
				chunk = chunk[:escape]
			}
			if len(chunk) > 0 {
				if _, writeErr := dst.Write(chunk); writeErr != nil {
					return writeErr
				}
			}
			if escape >= 0 {
				return nil
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
