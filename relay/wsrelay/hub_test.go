// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wsrelay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/hwlink/relay"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startHub serves a hub and returns a client for it.
func startHub(t *testing.T) (*httptest.Server, *Client) {
	t.Helper()
	server := httptest.NewServer(NewHub(quietLogger()))
	t.Cleanup(server.Close)
	client, err := NewClient(&relay.Config{URL: server.URL}, quietLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return server, client
}

// readWhilePublishing writes message repeatedly until reader yields
// it. The hub forwards data only once it has processed the subscribe
// request, which the client does not wait for.
func readWhilePublishing(t *testing.T, publication relay.Publication, reader relay.TrackReader, message []byte) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			if err := publication.Write(message); err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	got, err := reader.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return got
}

func TestHubForwardsPublishedTrack(t *testing.T) {
	_, client := startHub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	publication, err := client.ConnectPublisher(ctx, "bench/state", "can")
	if err != nil {
		t.Fatalf("ConnectPublisher: %v", err)
	}
	defer publication.Close()

	subscription, err := client.ConnectSubscriber(ctx, "bench/state")
	if err != nil {
		t.Fatalf("ConnectSubscriber: %v", err)
	}
	defer subscription.Close()

	reader, err := subscription.SubscribeTrack(ctx, "can", 5*time.Second)
	if err != nil {
		t.Fatalf("SubscribeTrack: %v", err)
	}
	if got := readWhilePublishing(t, publication, reader, []byte{0xCA, 0xFE}); !bytes.Equal(got, []byte{0xCA, 0xFE}) {
		t.Errorf("received %x, want cafe", got)
	}
}

func TestHubSeparatesPaths(t *testing.T) {
	_, client := startHub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	publication, err := client.ConnectPublisher(ctx, "rig-a/state", "can")
	if err != nil {
		t.Fatalf("ConnectPublisher: %v", err)
	}
	defer publication.Close()

	subscription, err := client.ConnectSubscriber(ctx, "rig-b/state")
	if err != nil {
		t.Fatalf("ConnectSubscriber: %v", err)
	}
	defer subscription.Close()

	if _, err := subscription.SubscribeTrack(ctx, "can", 200*time.Millisecond); !errors.Is(err, relay.ErrTrackNotAnnounced) {
		t.Errorf("SubscribeTrack on another path = %v, want ErrTrackNotAnnounced", err)
	}
}

func TestHubEndsTrackWhenPublisherLeaves(t *testing.T) {
	_, client := startHub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	publication, err := client.ConnectPublisher(ctx, "bench/commands", "can")
	if err != nil {
		t.Fatalf("ConnectPublisher: %v", err)
	}
	subscription, err := client.ConnectSubscriber(ctx, "bench/commands")
	if err != nil {
		t.Fatalf("ConnectSubscriber: %v", err)
	}
	defer subscription.Close()
	reader, err := subscription.SubscribeTrack(ctx, "can", 5*time.Second)
	if err != nil {
		t.Fatalf("SubscribeTrack: %v", err)
	}
	readWhilePublishing(t, publication, reader, []byte{1})

	publication.Close()
	for {
		_, err := reader.Read(ctx)
		if err == nil {
			// Messages written before the close may still be queued.
			continue
		}
		if !errors.Is(err, io.EOF) {
			t.Fatalf("Read after publisher left = %v, want io.EOF", err)
		}
		return
	}
}

func TestPublicationClosedWhenHubGoesAway(t *testing.T) {
	// A hub that accepts the connection and drops it at once.
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer server.Close()
	client, err := NewClient(&relay.Config{URL: server.URL}, quietLogger())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	publication, err := client.ConnectPublisher(ctx, "bench/state", "can")
	if err != nil {
		t.Fatalf("ConnectPublisher: %v", err)
	}
	defer publication.Close()

	select {
	case <-publication.Closed():
	case <-ctx.Done():
		t.Fatal("publication not closed after the hub dropped the connection")
	}
	if err := publication.Write([]byte{1}); err == nil {
		t.Error("Write on a closed publication succeeded")
	}
}

func TestHubAnnouncesToRawSubscriber(t *testing.T) {
	server, client := startHub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	publication, err := client.ConnectPublisher(ctx, "bench/state", "can")
	if err != nil {
		t.Fatalf("ConnectPublisher: %v", err)
	}
	defer publication.Close()

	// A browser monitor speaks the wire protocol directly.
	endpoint := "ws" + strings.TrimPrefix(server.URL, "http") + "/bench/state?role=subscribe"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	messageType, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if messageType != websocket.BinaryMessage || len(message) == 0 || message[0] != kindAnnounce {
		t.Fatalf("first message = type %d %x, want binary announce", messageType, message)
	}
	track, err := decodeTrack(message[1:])
	if err != nil {
		t.Fatalf("decodeTrack: %v", err)
	}
	if track != "can" {
		t.Errorf("announced %q, want can", track)
	}
}

func TestHubRejectsMissingRole(t *testing.T) {
	hub := NewHub(quietLogger())
	for _, target := range []string{"/bench/state", "/bench/state?role=publish", "/bench/state?role=spectate"} {
		recorder := httptest.NewRecorder()
		hub.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, target, nil))
		if recorder.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d, want %d", target, recorder.Code, http.StatusBadRequest)
		}
	}
}
