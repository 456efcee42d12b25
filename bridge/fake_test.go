// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/hwlink/backend"
	"github.com/bureau-foundation/hwlink/internal/metrics"
	"github.com/bureau-foundation/hwlink/lib/testutil"
	"github.com/bureau-foundation/hwlink/transport"
)

// fakeListener is an in-memory transport.Listener fed by the test.
type fakeListener struct {
	sessions  chan *fakeSession
	failures  chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeListener() *fakeListener {
	return &fakeListener{
		sessions: make(chan *fakeSession),
		failures: make(chan error),
		closed:   make(chan struct{}),
	}
}

func (l *fakeListener) Accept(ctx context.Context) (transport.Session, error) {
	select {
	case session := <-l.sessions:
		return session, nil
	case err := <-l.failures:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, transport.ErrListenerClosed
	}
}

func (l *fakeListener) Identity() string { return "fake" }

func (l *fakeListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

// connect delivers a new session to Accept and returns it.
func (l *fakeListener) connect(t *testing.T, name string) *fakeSession {
	t.Helper()
	session := newFakeSession(name)
	testutil.RequireSend(t, l.sessions, session, 5*time.Second, "delivering session %s", name)
	return session
}

// fail makes a pending Accept return err. It fails the test if no
// Accept is called within wait.
func (l *fakeListener) fail(t *testing.T, err error, wait time.Duration) {
	t.Helper()
	testutil.RequireSend(t, l.failures, err, wait, "failing accept")
}

// publish hands item to the backend queues, failing the test if the
// read queue stays full.
func publish(t *testing.T, queues *backend.Queues, item []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := queues.Publish(ctx, item); err != nil {
		t.Fatalf("Publish(%x): %v", item, err)
	}
}

// fakeSession hands out one stream supplied by the test. The test end
// of the stream is Client.
type fakeSession struct {
	name    string
	streams chan transport.Stream

	// accepting is closed when AcceptStream is first called, which is
	// after the pump has drained stale state.
	accepting     chan struct{}
	acceptingOnce sync.Once

	done      chan struct{}
	closeOnce sync.Once

	Client net.Conn
	server net.Conn
}

func newFakeSession(name string) *fakeSession {
	client, server := net.Pipe()
	return &fakeSession{
		name:      name,
		streams:   make(chan transport.Stream, 1),
		accepting: make(chan struct{}),
		done:      make(chan struct{}),
		Client:    client,
		server:    server,
	}
}

// open makes the session's stream available to AcceptStream.
func (s *fakeSession) open() {
	s.streams <- s.server
}

func (s *fakeSession) AcceptStream(ctx context.Context) (transport.Stream, error) {
	s.acceptingOnce.Do(func() { close(s.accepting) })
	select {
	case stream := <-s.streams:
		return stream, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, errors.New("session closed")
	}
}

func (s *fakeSession) RemoteIdentity() string { return s.name }

func (s *fakeSession) Done() <-chan struct{} { return s.done }

func (s *fakeSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.server.Close()
	})
	return nil
}

// readItem reads one network write from the client end of a session.
func readItem(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	buffer := make([]byte, 1024)
	n, err := conn.Read(buffer)
	if err != nil {
		t.Fatalf("reading from session: %v", err)
	}
	return buffer[:n]
}

// requireNoData asserts that nothing arrives on conn within wait.
func requireNoData(t *testing.T, conn net.Conn, wait time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(wait))
	defer conn.SetReadDeadline(time.Time{})
	buffer := make([]byte, 1024)
	n, err := conn.Read(buffer)
	if err == nil {
		t.Fatalf("unexpected data on session: %v", buffer[:n])
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("unexpected read error: %v", err)
	}
}

// requireClosedByPeer asserts that the bridge closed the session's
// stream.
func requireClosedByPeer(t *testing.T, conn net.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetReadDeadline(time.Time{})
	for {
		_, err := conn.Read(make([]byte, 1024))
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatal("stream still open")
		}
		return
	}
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
