// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"
)

// Sizes of the handshake messages.
const (
	handshakeNonceSize     = 32
	handshakeSignatureSize = ed25519.SignatureSize
	handshakeHelloSize     = ed25519.PublicKeySize + handshakeNonceSize
)

// handshakeTimeout bounds the whole identity exchange.
const handshakeTimeout = 10 * time.Second

// ErrIdentityMismatch is returned by a dialer when the listener proves
// an identity other than the one in the dial address.
var ErrIdentityMismatch = errors.New("transport: peer identity mismatch")

// handshake proves identities over stream for transports whose channel
// setup carries none (WebRTC). Both ends run it concurrently:
//
//  1. Send hello: own public key, then a random 32-byte nonce
//  2. Read the peer's hello
//  3. Sign (peer nonce || peer identity) and send the signature
//  4. Read the peer's signature and verify it over
//     (own nonce || own identity) with the peer's public key
//
// Binding the challenger's identity into the signed message prevents a
// response for one peer from being replayed to another. When expected
// is non-empty the peer's identity must equal it. Returns the peer's
// identity.
//
// Writes run on a background goroutine so that transports whose Write
// blocks until the peer reads cannot deadlock.
func handshake(ctx context.Context, stream Stream, key ed25519.PrivateKey, expected string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	peer, err := runHandshake(stream, key, expected)
	if err != nil && ctx.Err() != nil {
		return "", fmt.Errorf("identity handshake: %w", ctx.Err())
	}
	return peer, err
}

func runHandshake(stream io.ReadWriter, key ed25519.PrivateKey, expected string) (string, error) {
	public := key.Public().(ed25519.PublicKey)
	ownIdentity := Identity(public)

	nonce := make([]byte, handshakeNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating handshake nonce: %w", err)
	}
	hello := append(append(make([]byte, 0, handshakeHelloSize), public...), nonce...)

	writeErrors := make(chan error, 1)
	signatureToSend := make(chan []byte, 1)
	go func() {
		if _, err := stream.Write(hello); err != nil {
			writeErrors <- fmt.Errorf("sending handshake hello: %w", err)
			return
		}
		signature, ok := <-signatureToSend
		if !ok {
			writeErrors <- nil
			return
		}
		if _, err := stream.Write(signature); err != nil {
			writeErrors <- fmt.Errorf("sending handshake signature: %w", err)
			return
		}
		writeErrors <- nil
	}()

	peerHello := make([]byte, handshakeHelloSize)
	if _, err := io.ReadFull(stream, peerHello); err != nil {
		close(signatureToSend)
		return "", fmt.Errorf("reading peer hello: %w", err)
	}
	peerPublic := ed25519.PublicKey(peerHello[:ed25519.PublicKeySize])
	peerNonce := peerHello[ed25519.PublicKeySize:]
	peerIdentity := Identity(peerPublic)

	if expected != "" && peerIdentity != expected {
		close(signatureToSend)
		return "", fmt.Errorf("%w: got %s, want %s", ErrIdentityMismatch, peerIdentity, expected)
	}

	signatureToSend <- ed25519.Sign(key, append(append([]byte{}, peerNonce...), peerIdentity...))

	peerSignature := make([]byte, handshakeSignatureSize)
	if _, err := io.ReadFull(stream, peerSignature); err != nil {
		return "", fmt.Errorf("reading peer signature: %w", err)
	}
	if err := <-writeErrors; err != nil {
		return "", err
	}

	challenge := append(append([]byte{}, nonce...), ownIdentity...)
	if !ed25519.Verify(peerPublic, challenge, peerSignature) {
		return "", fmt.Errorf("peer %s failed to prove its identity", peerIdentity)
	}
	return peerIdentity, nil
}
