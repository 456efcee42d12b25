// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"io"
)

// ErrListenerClosed is returned by Listener.Accept once the listener
// has been shut down. Callers treat it as a clean end of serving.
var ErrListenerClosed = errors.New("transport: listener closed")

// Listener accepts direct sessions from remote operators.
type Listener interface {
	// Accept blocks until a peer establishes a session, ctx is
	// cancelled (returns ctx.Err()), or the listener is closed
	// (returns ErrListenerClosed).
	Accept(ctx context.Context) (Session, error)

	// Identity is the string a dialer needs to reach this listener.
	// The format is transport-specific: "host:port" for TCP,
	// "<key>@host:port" for QUIC, the signaling URL for WebRTC.
	Identity() string

	Close() error
}

// Session is one authenticated connection from a peer. The bridge
// takes exactly one bidirectional stream from each session.
type Session interface {
	// AcceptStream waits for the peer to open its stream and verifies
	// the stream preamble.
	AcceptStream(ctx context.Context) (Stream, error)

	// RemoteIdentity names the peer for logs.
	RemoteIdentity() string

	// Done is closed when the session ends for any reason.
	Done() <-chan struct{}

	Close() error
}

// Stream is an ordered, reliable byte stream. Closing it unblocks a
// pending Read on the same stream.
type Stream = io.ReadWriteCloser

// Dialer opens a stream to a listener. Closing the returned stream
// ends the underlying session.
type Dialer interface {
	// DialContext connects to address (a Listener.Identity value),
	// opens one stream, and writes the stream preamble.
	DialContext(ctx context.Context, address string) (Stream, error)
}
