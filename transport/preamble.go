// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// preamble is written by the dialer as the first bytes of every
// stream. QUIC only announces a stream to the acceptor once data is
// sent on it, and the fixed bytes also reject peers speaking something
// else.
const preamble = "HWL1"

// ErrBadPreamble is returned by AcceptStream when the peer's first
// bytes are not the hwlink stream preamble.
var ErrBadPreamble = errors.New("transport: bad stream preamble")

func writePreamble(w io.Writer) error {
	if _, err := io.WriteString(w, preamble); err != nil {
		return fmt.Errorf("writing stream preamble: %w", err)
	}
	return nil
}

// readPreamble reads and checks the preamble. If ctx is cancelled
// first, stream is closed to abort the read and ctx.Err() is returned.
func readPreamble(ctx context.Context, stream Stream) error {
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	var buffer [len(preamble)]byte
	_, err := io.ReadFull(stream, buffer[:])
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("reading stream preamble: %w", err)
	}
	if string(buffer[:]) != preamble {
		return fmt.Errorf("%w: %q", ErrBadPreamble, buffer[:])
	}
	return nil
}
