// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/hwlink/backend"
	"github.com/bureau-foundation/hwlink/internal/metrics"
	"github.com/bureau-foundation/hwlink/lib/clock"
	"github.com/bureau-foundation/hwlink/transport"
)

// Pauses between consecutive failed accepts.
const (
	initialAcceptBackoff = 10 * time.Millisecond
	maxAcceptBackoff     = time.Second
)

// Bridge connects direct sessions from a transport listener to one
// backend, keeping at most one session active.
type Bridge struct {
	// Listener yields direct sessions. The caller owns it and closes
	// it to stop Serve.
	Listener transport.Listener

	// Backend is the consumer view of the device's queues. The bridge
	// is the only reader of Backend.Read.
	Backend backend.Channels

	// Logger receives structured log output. If nil, slog.Default() is
	// used. Session lifecycle is logged at Info; per-item events are
	// not logged.
	Logger *slog.Logger

	// Metrics may be nil.
	Metrics *metrics.Metrics

	// Clock paces retries after failed accepts. If nil, clock.Real()
	// is used.
	Clock clock.Clock

	sessionCount atomic.Int64
}

// logger returns the configured logger or the default.
func (b *Bridge) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

func (b *Bridge) clock() clock.Clock {
	if b.Clock != nil {
		return b.Clock
	}
	return clock.Real()
}

// discardIdle drops a state item that arrived while no session held the
// slot. Nobody will ever be sent it.
func (b *Bridge) discardIdle(item []byte) {
	b.Metrics.StaleDrained("session", 1)
	b.logger().Debug("no direct session, discarding state", "bytes", len(item))
}

// activeSession is the occupant of the single session slot.
type activeSession struct {
	session transport.Session
	cancel  context.CancelFunc
	result  chan pumpResult
}

type accepted struct {
	session transport.Session
	err     error
}

// Serve accepts sessions until ctx is cancelled, the listener closes
// (both return nil), or the backend terminates (returns
// backend.ErrClosed). A session arriving while another is active
// replaces it: the occupant is cancelled and awaited, and only then
// does the newcomer receive the state channel. While the slot is empty
// Serve discards state itself, so the backend never waits on a session
// that does not exist. Serve stops the active session before
// returning. It may be called once per Bridge.
func (b *Bridge) Serve(ctx context.Context) error {
	if b.Listener == nil {
		return errors.New("bridge: Listener is required")
	}
	logger := b.logger()

	acceptCtx, cancelAccept := context.WithCancel(ctx)
	acceptions := make(chan accepted)
	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		b.acceptLoop(acceptCtx, acceptions)
	}()
	defer func() {
		cancelAccept()
		<-acceptDone
	}()

	state := b.Backend.Read
	var active *activeSession

	// stopActive cancels the occupant, waits for it, and reclaims the
	// state channel.
	stopActive := func() error {
		if active == nil {
			return nil
		}
		active.cancel()
		result := <-active.result
		active.session.Close()
		active = nil
		state = result.state
		return result.err
	}
	defer stopActive()

	// activeResult is nil while the slot is empty, disabling its case.
	var activeResult chan pumpResult

	logger.Info("bridge serving", "identity", b.Listener.Identity())
	for {
		// idle is the state channel while no pump owns it.
		var idle <-chan []byte
		if active == nil {
			idle = state
		}

		select {
		case <-ctx.Done():
			return nil

		case item, ok := <-idle:
			if !ok {
				logger.Error("backend terminated, bridge stopping")
				return backend.ErrClosed
			}
			b.discardIdle(item)

		case <-b.Backend.Done:
			logger.Error("backend terminated, bridge stopping")
			return backend.ErrClosed

		case result := <-activeResult:
			// The occupant ended on its own; the slot is free.
			active.session.Close()
			active, activeResult = nil, nil
			state = result.state
			if result.err != nil {
				return result.err
			}

		case next := <-acceptions:
			if next.err != nil {
				// The listener closed.
				return nil
			}
			b.Metrics.SessionAccepted()
			id := b.sessionCount.Add(1)

			if active != nil {
				logger.Info("handing over direct session",
					"previous", active.session.RemoteIdentity(),
					"next", next.session.RemoteIdentity(),
				)
				b.Metrics.Handover()
				activeResult = nil
				if err := stopActive(); err != nil {
					next.session.Close()
					return err
				}
			}

			active = b.start(ctx, next.session, id, state)
			activeResult = active.result
		}
	}
}

// acceptLoop feeds Serve with sessions. It runs on its own goroutine
// so that Serve can watch the active session and the backend while no
// peer is connecting. Failed accepts (a peer failing its handshake, a
// descriptor limit) are logged and retried after a pause that doubles
// while failures repeat. Listener shutdown is passed on and ends the
// loop.
func (b *Bridge) acceptLoop(ctx context.Context, acceptions chan<- accepted) {
	backoff := initialAcceptBackoff
	for {
		session, err := b.Listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, transport.ErrListenerClosed) {
				b.logger().Info("listener closed", "error", err)
				select {
				case acceptions <- accepted{err: err}:
				case <-ctx.Done():
				}
				return
			}
			b.logger().Warn("accepting direct session failed",
				"error", err,
				"retry_in", backoff,
			)
			select {
			case <-b.clock().After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, maxAcceptBackoff)
			continue
		}
		backoff = initialAcceptBackoff
		select {
		case acceptions <- accepted{session: session}:
		case <-ctx.Done():
			session.Close()
			return
		}
	}
}

// start launches a pump for session with ownership of state.
func (b *Bridge) start(ctx context.Context, session transport.Session, id int64, state <-chan []byte) *activeSession {
	logger := b.logger().With("session_id", id, "remote", session.RemoteIdentity())
	logger.Info("direct session accepted")

	ctx, cancel := context.WithCancel(ctx)
	active := &activeSession{
		session: session,
		cancel:  cancel,
		result:  make(chan pumpResult, 1),
	}
	p := &pump{
		session:     session,
		state:       state,
		commands:    b.Backend.Write,
		backendDone: b.Backend.Done,
		logger:      logger,
		metrics:     b.Metrics,
	}
	go func() {
		active.result <- p.run(ctx)
	}()
	return active
}

// ServeOne accepts exactly one session and pumps it to completion
// without handover. It returns nil when the session ends or the
// listener closes, and backend.ErrClosed if the backend terminated.
// State arriving before the session is discarded.
func (b *Bridge) ServeOne(ctx context.Context) error {
	if b.Listener == nil {
		return errors.New("bridge: Listener is required")
	}

	acceptCtx, cancelAccept := context.WithCancel(ctx)
	defer cancelAccept()
	acceptions := make(chan accepted, 1)
	go func() {
		session, err := b.Listener.Accept(acceptCtx)
		acceptions <- accepted{session: session, err: err}
	}()

	var next accepted
waiting:
	for {
		select {
		case next = <-acceptions:
			break waiting
		case item, ok := <-b.Backend.Read:
			if !ok {
				return backend.ErrClosed
			}
			b.discardIdle(item)
		}
	}
	if next.err != nil {
		if ctx.Err() != nil || errors.Is(next.err, transport.ErrListenerClosed) {
			return nil
		}
		return fmt.Errorf("accepting direct session: %w", next.err)
	}
	session := next.session
	defer session.Close()
	b.Metrics.SessionAccepted()

	p := &pump{
		session:     session,
		state:       b.Backend.Read,
		commands:    b.Backend.Write,
		backendDone: b.Backend.Done,
		logger:      b.logger().With("session_id", b.sessionCount.Add(1), "remote", session.RemoteIdentity()),
		metrics:     b.Metrics,
	}
	return p.run(ctx).err
}
