// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"crypto/ed25519"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/hwlink/lib/testutil"
)

type handshakeResult struct {
	peer string
	err  error
}

func runHandshakePair(t *testing.T, dialerKey, listenerKey ed25519.PrivateKey, expected string) (dialer, listener handshakeResult) {
	t.Helper()
	dialerEnd, listenerEnd := net.Pipe()
	defer dialerEnd.Close()
	defer listenerEnd.Close()

	ctx := context.Background()
	results := make(chan handshakeResult, 1)
	go func() {
		peer, err := handshake(ctx, listenerEnd, listenerKey, "")
		if err != nil {
			listenerEnd.Close()
		}
		results <- handshakeResult{peer, err}
	}()

	peer, err := handshake(ctx, dialerEnd, dialerKey, expected)
	if err != nil {
		dialerEnd.Close()
	}
	dialer = handshakeResult{peer, err}
	listener = testutil.RequireReceive(t, results, 10*time.Second, "listener handshake")
	return dialer, listener
}

func TestHandshakeProvesBothIdentities(t *testing.T) {
	dialerKey, listenerKey := generateKey(t), generateKey(t)
	listenerIdentity := Identity(listenerKey.Public().(ed25519.PublicKey))

	dialer, listener := runHandshakePair(t, dialerKey, listenerKey, listenerIdentity)
	if dialer.err != nil || listener.err != nil {
		t.Fatalf("handshake failed: dialer=%v listener=%v", dialer.err, listener.err)
	}
	if dialer.peer != listenerIdentity {
		t.Errorf("dialer saw %q, want %q", dialer.peer, listenerIdentity)
	}
	if want := Identity(dialerKey.Public().(ed25519.PublicKey)); listener.peer != want {
		t.Errorf("listener saw %q, want %q", listener.peer, want)
	}
}

func TestHandshakeIdentityMismatch(t *testing.T) {
	impostor := Identity(generateKey(t).Public().(ed25519.PublicKey))
	dialer, listener := runHandshakePair(t, generateKey(t), generateKey(t), impostor)
	if !errors.Is(dialer.err, ErrIdentityMismatch) {
		t.Errorf("dialer error = %v, want ErrIdentityMismatch", dialer.err)
	}
	if listener.err == nil {
		t.Error("listener completed a handshake the dialer abandoned")
	}
}

// A peer claiming one key in its hello but signing with another must
// be rejected.
func TestHandshakeRejectsForgedSignature(t *testing.T) {
	victim := generateKey(t)
	attacker := generateKey(t)

	dialerEnd, listenerEnd := net.Pipe()
	defer dialerEnd.Close()
	defer listenerEnd.Close()

	results := make(chan handshakeResult, 1)
	go func() {
		peer, err := handshake(context.Background(), listenerEnd, generateKey(t), "")
		results <- handshakeResult{peer, err}
	}()

	// Claim the victim's key, then sign the challenge with the attacker's.
	go func() {
		hello := append(append([]byte{}, victim.Public().(ed25519.PublicKey)...), make([]byte, handshakeNonceSize)...)
		dialerEnd.Write(hello)
		peerHello := make([]byte, handshakeHelloSize)
		if _, err := dialerEnd.Read(peerHello); err != nil {
			return
		}
		peerIdentity := Identity(ed25519.PublicKey(peerHello[:ed25519.PublicKeySize]))
		message := append(append([]byte{}, peerHello[ed25519.PublicKeySize:]...), peerIdentity...)
		dialerEnd.Write(ed25519.Sign(attacker, message))
		dialerEnd.Read(make([]byte, handshakeSignatureSize))
	}()

	result := testutil.RequireReceive(t, results, 10*time.Second, "listener handshake")
	if result.err == nil || !strings.Contains(result.err.Error(), "failed to prove") {
		t.Errorf("listener error = %v, want identity proof failure", result.err)
	}
}
