// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/hwlink/backend"
	"github.com/bureau-foundation/hwlink/internal/metrics"
	"github.com/bureau-foundation/hwlink/lib/clock"
	"github.com/bureau-foundation/hwlink/lib/testutil"
)

type subscriberHarness struct {
	client  *fakeClient
	clock   *clock.FakeClock
	queues  *backend.Queues
	metrics *metrics.Metrics
	done    chan error
	cancel  context.CancelFunc
}

func startSubscriber(t *testing.T) *subscriberHarness {
	t.Helper()
	h := &subscriberHarness{
		client:  newFakeClient(),
		clock:   clock.Fake(epoch),
		queues:  backend.NewQueues(false, nil, nil),
		metrics: metrics.New(),
		done:    make(chan error, 1),
	}
	channels := h.queues.Channels()
	subscriber := &CommandSubscriber{
		Client:      h.client,
		Config:      &Config{BasePath: "bench/rig-1", Track: "frames"},
		Commands:    channels.Write,
		BackendDone: channels.Done,
		Clock:       h.clock,
		Logger:      quietLogger(),
		Metrics:     h.metrics,
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	t.Cleanup(cancel)
	go func() { h.done <- subscriber.Run(ctx) }()
	return h
}

// subscribe answers the next connect attempt with subscription and
// waits for the track subscription.
func (h *subscriberHarness) subscribe(t *testing.T, subscription *fakeSubscription) {
	t.Helper()
	testutil.RequireReceive(t, h.client.subscribeAttempts, 5*time.Second, "subscribe attempt")
	testutil.RequireSend(t, h.client.subscribeResults, subscribeResult{subscription: subscription}, 5*time.Second, "answering subscribe")
	if track := testutil.RequireReceive(t, subscription.track, 5*time.Second, "track subscription"); track != "frames" {
		t.Errorf("subscribed to track %q, want frames", track)
	}
}

func TestCommandSubscriberForwardsWhenQueueHasRoom(t *testing.T) {
	h := startSubscriber(t)
	if path := testutil.RequireReceive(t, h.client.subscribeAttempts, 5*time.Second, "subscribe attempt"); path != "bench/rig-1/commands" {
		t.Fatalf("subscribed at %q, want bench/rig-1/commands", path)
	}
	subscription := newFakeSubscription(true)
	testutil.RequireSend(t, h.client.subscribeResults, subscribeResult{subscription: subscription}, 5*time.Second, "answering subscribe")

	testutil.RequireSend(t, subscription.messages, []byte{0x01, 0x02}, 5*time.Second, "relay command")
	got := testutil.RequireReceive(t, h.queues.Commands(), 5*time.Second, "forwarded command")
	if !bytes.Equal(got, []byte{0x01, 0x02}) {
		t.Errorf("forwarded %x, want 0102", got)
	}
}

func TestCommandSubscriberDropsWhenDirectCommandPending(t *testing.T) {
	h := startSubscriber(t)
	subscription := newFakeSubscription(true)
	h.subscribe(t, subscription)

	// A direct-session command occupies the only slot.
	channels := h.queues.Channels()
	channels.Write <- []byte("direct")

	testutil.RequireSend(t, subscription.messages, []byte("relay-1"), 5*time.Second, "first relay command")
	// The subscriber reads the next message only after offering the
	// previous one, so this send proves relay-1 was handled without
	// blocking.
	testutil.RequireSend(t, subscription.messages, []byte("relay-2"), 5*time.Second, "second relay command")

	if dropped := counterValue(t, h.metrics, "hwlink_relay_commands_dropped_total"); dropped < 1 {
		t.Errorf("dropped = %v, want at least 1", dropped)
	}
	if got := testutil.RequireReceive(t, h.queues.Commands(), 5*time.Second, "pending command"); string(got) != "direct" {
		t.Errorf("write queue held %q, want the direct command", got)
	}
}

func TestCommandSubscriberResubscribesAfterTrackEnds(t *testing.T) {
	h := startSubscriber(t)
	first := newFakeSubscription(true)
	h.subscribe(t, first)
	first.end()

	testutil.RequireClosed(t, first.closed, 5*time.Second, "first subscription closed")
	h.clock.WaitForTimers(1)
	h.clock.Advance(DefaultReconnectPause - time.Millisecond)
	testutil.RequireNoReceive(t, h.client.subscribeAttempts, 20*time.Millisecond, "resubscribe before pause")
	h.clock.Advance(time.Millisecond)

	second := newFakeSubscription(true)
	h.subscribe(t, second)
	testutil.RequireSend(t, second.messages, []byte{0x07}, 5*time.Second, "command on fresh subscription")
	testutil.RequireReceive(t, h.queues.Commands(), 5*time.Second, "forwarded command")
}

func TestCommandSubscriberRetriesUnannouncedTrack(t *testing.T) {
	h := startSubscriber(t)
	first := newFakeSubscription(false)
	h.subscribe(t, first)

	testutil.RequireClosed(t, first.closed, 5*time.Second, "unannounced subscription closed")
	h.clock.WaitForTimers(1)
	h.clock.Advance(DefaultRetryPause)
	h.subscribe(t, newFakeSubscription(true))
}

func TestCommandSubscriberRetriesConnectFailure(t *testing.T) {
	h := startSubscriber(t)
	testutil.RequireReceive(t, h.client.subscribeAttempts, 5*time.Second, "subscribe attempt")
	testutil.RequireSend(t, h.client.subscribeResults, subscribeResult{err: errRefused}, 5*time.Second, "refusing subscribe")

	h.clock.WaitForTimers(1)
	h.clock.Advance(DefaultRetryPause)
	h.subscribe(t, newFakeSubscription(true))
}

func TestCommandSubscriberStopsWhenBackendDies(t *testing.T) {
	h := startSubscriber(t)
	subscription := newFakeSubscription(true)
	h.subscribe(t, subscription)

	h.queues.Close()
	err := testutil.RequireReceive(t, h.done, 5*time.Second, "subscriber exit")
	if !errors.Is(err, backend.ErrClosed) {
		t.Errorf("Run = %v, want backend.ErrClosed", err)
	}
	testutil.RequireClosed(t, subscription.closed, 5*time.Second, "subscription closed on exit")
}

func TestCommandSubscriberStopsWhenBackendDiesDuringPause(t *testing.T) {
	h := startSubscriber(t)
	testutil.RequireReceive(t, h.client.subscribeAttempts, 5*time.Second, "subscribe attempt")
	testutil.RequireSend(t, h.client.subscribeResults, subscribeResult{err: errRefused}, 5*time.Second, "refusing subscribe")
	h.clock.WaitForTimers(1)

	h.queues.Close()
	if err := testutil.RequireReceive(t, h.done, 5*time.Second, "subscriber exit"); !errors.Is(err, backend.ErrClosed) {
		t.Errorf("Run = %v, want backend.ErrClosed", err)
	}
}

func TestCommandSubscriberStopsOnCancel(t *testing.T) {
	h := startSubscriber(t)
	h.subscribe(t, newFakeSubscription(true))

	h.cancel()
	if err := testutil.RequireReceive(t, h.done, 5*time.Second, "subscriber exit"); err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}

func TestConfigTopics(t *testing.T) {
	config := &Config{BasePath: "/labs/a"}
	if got := config.StateTopic(); got != "/labs/a/state" {
		t.Errorf("StateTopic = %q", got)
	}
	if got := config.CommandsTopic(); got != "/labs/a/commands" {
		t.Errorf("CommandsTopic = %q", got)
	}
	if got := config.TrackName(); got != DefaultTrack {
		t.Errorf("TrackName = %q, want %q", got, DefaultTrack)
	}

	custom := &Config{BasePath: "x", StatePath: "up", CommandsPath: "down", Track: "t"}
	if custom.StateTopic() != "x/up" || custom.CommandsTopic() != "x/down" || custom.TrackName() != "t" {
		t.Errorf("custom topics = %q %q %q", custom.StateTopic(), custom.CommandsTopic(), custom.TrackName())
	}
}
