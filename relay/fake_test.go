// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/hwlink/internal/metrics"
)

var errRefused = errors.New("connection refused")

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type publishResult struct {
	publication *fakePublication
	err         error
}

type subscribeResult struct {
	subscription *fakeSubscription
	err          error
}

// fakeClient records every connect attempt and answers it with the
// next result the test sends.
type fakeClient struct {
	publishAttempts   chan string
	publishResults    chan publishResult
	subscribeAttempts chan string
	subscribeResults  chan subscribeResult
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		publishAttempts:   make(chan string, 64),
		publishResults:    make(chan publishResult),
		subscribeAttempts: make(chan string, 64),
		subscribeResults:  make(chan subscribeResult),
	}
}

func (c *fakeClient) ConnectPublisher(ctx context.Context, path, track string) (Publication, error) {
	c.publishAttempts <- path + "#" + track
	select {
	case result := <-c.publishResults:
		if result.err != nil {
			return nil, result.err
		}
		return result.publication, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeClient) ConnectSubscriber(ctx context.Context, path string) (Subscription, error) {
	c.subscribeAttempts <- path
	select {
	case result := <-c.subscribeResults:
		if result.err != nil {
			return nil, result.err
		}
		return result.subscription, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// fakePublication hands each write to the test. Write blocks until the
// test receives it.
type fakePublication struct {
	writes    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakePublication() *fakePublication {
	return &fakePublication{
		writes: make(chan []byte),
		closed: make(chan struct{}),
	}
}

func (p *fakePublication) Write(data []byte) error {
	select {
	case p.writes <- append([]byte(nil), data...):
		return nil
	case <-p.closed:
		return errors.New("publication closed")
	}
}

func (p *fakePublication) Closed() <-chan struct{} { return p.closed }

func (p *fakePublication) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

// fakeSubscription serves one track whose messages the test sends on
// messages. It is its own TrackReader.
type fakeSubscription struct {
	announced bool
	track     chan string
	messages  chan []byte
	ended     chan struct{}
	endOnce   sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeSubscription(announced bool) *fakeSubscription {
	return &fakeSubscription{
		announced: announced,
		track:     make(chan string, 1),
		messages:  make(chan []byte),
		ended:     make(chan struct{}),
		closed:    make(chan struct{}),
	}
}

func (s *fakeSubscription) SubscribeTrack(ctx context.Context, name string, timeout time.Duration) (TrackReader, error) {
	s.track <- name
	if !s.announced {
		return nil, ErrTrackNotAnnounced
	}
	return s, nil
}

func (s *fakeSubscription) Read(ctx context.Context) ([]byte, error) {
	select {
	case message := <-s.messages:
		return message, nil
	case <-s.ended:
		return nil, io.EOF
	case <-s.closed:
		return nil, errors.New("subscription closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// end finishes the track.
func (s *fakeSubscription) end() {
	s.endOnce.Do(func() { close(s.ended) })
}

func (s *fakeSubscription) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// counterValue sums every series of the named counter.
func counterValue(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gathering metrics: %v", err)
	}
	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}
