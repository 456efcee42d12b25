// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/bureau-foundation/hwlink/lib/testutil"
)

// generateKey returns a fresh identity key.
func generateKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

type acceptResult struct {
	session Session
	stream  Stream
	err     error
}

// acceptOne accepts one session and its stream in the background.
func acceptOne(ctx context.Context, listener Listener) <-chan acceptResult {
	results := make(chan acceptResult, 1)
	go func() {
		session, err := listener.Accept(ctx)
		if err != nil {
			results <- acceptResult{err: err}
			return
		}
		stream, err := session.AcceptStream(ctx)
		results <- acceptResult{session: session, stream: stream, err: err}
	}()
	return results
}

// exerciseTransport dials listener, exchanges bytes in both directions,
// and checks that closing the dialer's stream ends the accepted one.
func exerciseTransport(t *testing.T, listener Listener, dialer Dialer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	accepted := acceptOne(ctx, listener)

	client, err := dialer.DialContext(ctx, listener.Identity())
	if err != nil {
		t.Fatalf("DialContext(%q): %v", listener.Identity(), err)
	}
	defer client.Close()

	// The QUIC acceptor only learns of the stream once data arrives,
	// which the preamble guarantees.
	result := testutil.RequireReceive(t, accepted, 30*time.Second, "accepting session")
	if result.err != nil {
		t.Fatalf("accepting: %v", result.err)
	}
	defer result.session.Close()
	server := result.stream

	if result.session.RemoteIdentity() == "" {
		t.Error("RemoteIdentity is empty")
	}

	if _, err := client.Write([]byte("command")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	buffer := make([]byte, len("command"))
	if _, err := io.ReadFull(server, buffer); err != nil {
		t.Fatalf("server read: %v", err)
	}
	if string(buffer) != "command" {
		t.Errorf("server read %q, want %q", buffer, "command")
	}

	if _, err := server.Write([]byte("state")); err != nil {
		t.Fatalf("server write: %v", err)
	}
	buffer = make([]byte, len("state"))
	if _, err := io.ReadFull(client, buffer); err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(buffer) != "state" {
		t.Errorf("client read %q, want %q", buffer, "state")
	}

	// Closing the dialer's stream must end a blocked server read.
	readDone := make(chan error, 1)
	go func() {
		_, err := server.Read(make([]byte, 16))
		readDone <- err
	}()
	client.Close()
	if err := testutil.RequireReceive(t, readDone, 30*time.Second, "server read after client close"); err == nil {
		t.Error("server read succeeded after client closed")
	}
}

// exerciseListenerClose checks Accept's cancellation and close results.
func exerciseListenerClose(t *testing.T, listener Listener) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	accepted := acceptOne(ctx, listener)
	cancel()
	result := testutil.RequireReceive(t, accepted, 10*time.Second, "accept after cancel")
	if !errors.Is(result.err, context.Canceled) {
		t.Errorf("Accept after cancel = %v, want context.Canceled", result.err)
	}

	accepted = acceptOne(context.Background(), listener)
	if err := listener.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	result = testutil.RequireReceive(t, accepted, 10*time.Second, "accept after close")
	if !errors.Is(result.err, ErrListenerClosed) {
		t.Errorf("Accept after Close = %v, want ErrListenerClosed", result.err)
	}
}
