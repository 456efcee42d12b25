// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"crypto/ed25519"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// startWebRTCListener serves a listener's signaling endpoint on an
// httptest server. Empty ICE config means host candidates only
// (loopback).
func startWebRTCListener(t *testing.T, key ed25519.PrivateKey) *WebRTCListener {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var listener *WebRTCListener
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		listener.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	listener = NewWebRTCListener(server.URL+"/webrtc", key, ICEConfig{}, logger)
	t.Cleanup(func() { listener.Close() })
	return listener
}

func TestWebRTCRoundTrip(t *testing.T) {
	listener := startWebRTCListener(t, generateKey(t))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exerciseTransport(t, listener, &WebRTCDialer{Key: generateKey(t), Logger: logger})
}

func TestWebRTCSessionLearnsDialerIdentity(t *testing.T) {
	listener := startWebRTCListener(t, generateKey(t))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	accepted := acceptOne(ctx, listener)

	dialerKey := generateKey(t)
	stream, err := (&WebRTCDialer{Key: dialerKey}).DialContext(ctx, listener.Identity())
	if err != nil {
		t.Fatalf("DialContext: %v", err)
	}
	defer stream.Close()

	result := <-accepted
	if result.err != nil {
		t.Fatalf("accept: %v", result.err)
	}
	defer result.session.Close()

	want := Identity(dialerKey.Public().(ed25519.PublicKey))
	if !strings.HasPrefix(result.session.RemoteIdentity(), want+"@") {
		t.Errorf("RemoteIdentity = %q, want prefix %q", result.session.RemoteIdentity(), want+"@")
	}
}

func TestWebRTCDialerRejectsWrongIdentity(t *testing.T) {
	listener := startWebRTCListener(t, generateKey(t))
	_, signalingURL, _ := strings.Cut(listener.Identity(), "@")
	impostor := Identity(generateKey(t).Public().(ed25519.PublicKey))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	accepted := acceptOne(ctx, listener)

	_, err := (&WebRTCDialer{}).DialContext(ctx, impostor+"@"+signalingURL)
	if !errors.Is(err, ErrIdentityMismatch) {
		t.Fatalf("DialContext = %v, want ErrIdentityMismatch", err)
	}
	if result := <-accepted; result.err == nil {
		result.session.Close()
		t.Error("listener accepted a stream whose dialer aborted the handshake")
	}
}

func TestWebRTCSignalingRejectsGet(t *testing.T) {
	listener := NewWebRTCListener("http://unused", generateKey(t), ICEConfig{}, nil)
	defer listener.Close()

	recorder := httptest.NewRecorder()
	listener.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/webrtc", nil))
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want %d", recorder.Code, http.StatusMethodNotAllowed)
	}

	recorder = httptest.NewRecorder()
	listener.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/webrtc", strings.NewReader("not sdp")))
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("bad offer status = %d, want %d", recorder.Code, http.StatusBadRequest)
	}
}

func TestWebRTCListenerClose(t *testing.T) {
	listener := NewWebRTCListener("http://unused", generateKey(t), ICEConfig{}, nil)
	exerciseListenerClose(t, listener)
}
