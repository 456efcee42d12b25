// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bureau-foundation/hwlink/internal/metrics"
	"github.com/bureau-foundation/hwlink/lib/clock"
)

// Backoff for the publisher's connect loop. Starts at initialBackoff
// and doubles on each consecutive failure, capped at maxBackoff. A
// publication that stays open for stablePublication resets it; one
// that closes sooner counts as a failure.
const (
	initialBackoff    = 1 * time.Second
	maxBackoff        = 30 * time.Second
	stablePublication = 10 * time.Second
)

// StatePublisher republishes backend state to the relay.
type StatePublisher struct {
	Client Client
	Config *Config

	// Fanout is the backend's state fan-out queue. The publisher is its
	// only reader and exits when the producer closes it.
	Fanout <-chan []byte

	// Clock drives the backoff. If nil, clock.Real() is used.
	Clock clock.Clock

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (p *StatePublisher) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *StatePublisher) clock() clock.Clock {
	if p.Clock != nil {
		return p.Clock
	}
	return clock.Real()
}

// Run connects, publishes, and reconnects until ctx is cancelled or
// the fan-out queue is closed. Both return nil.
//
// State queued while no publication is open is stale: it is discarded
// before every connect attempt, so a reconnect never flushes a burst of
// old state.
func (p *StatePublisher) Run(ctx context.Context) error {
	if p.Client == nil || p.Config == nil {
		return errors.New("relay: StatePublisher requires Client and Config")
	}
	logger := p.logger().With("path", p.Config.StateTopic(), "track", p.Config.TrackName())
	clk := p.clock()
	backoff := initialBackoff

	for {
		if !p.drainStale() {
			logger.Info("state fan-out closed, publisher stopping")
			return nil
		}

		publication, err := p.Client.ConnectPublisher(ctx, p.Config.StateTopic(), p.Config.TrackName())
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.Metrics.RelayConnect("publisher", false)
			logger.Warn("relay publish connect failed",
				"error", err,
				"backoff", backoff,
			)
			if !sleep(ctx, clk, backoff) {
				return nil
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}

		p.Metrics.RelayConnect("publisher", true)
		connectedAt := clk.Now()
		logger.Info("relay state publisher connected")

		fanoutClosed := p.publish(ctx, publication, logger)
		publication.Close()
		if fanoutClosed {
			logger.Info("state fan-out closed, publisher stopping")
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		lifetime := clk.Now().Sub(connectedAt)
		if lifetime >= stablePublication {
			backoff = initialBackoff
			logger.Info("relay publication closed, reconnecting")
			continue
		}
		// A relay that accepts and then drops the publication is paced
		// like one that refuses it.
		logger.Warn("relay publication closed soon after connecting",
			"lifetime", lifetime,
			"backoff", backoff,
		)
		if !sleep(ctx, clk, backoff) {
			return nil
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// sleep waits d on clk. It returns false if ctx ended first.
func sleep(ctx context.Context, clk clock.Clock, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-clk.After(d):
		return true
	}
}

// publish forwards state until the publication closes, ctx is
// cancelled, or the fan-out queue closes. It reports whether the queue
// closed.
func (p *StatePublisher) publish(ctx context.Context, publication Publication, logger *slog.Logger) bool {
	for {
		select {
		case <-ctx.Done():
			return false

		case <-publication.Closed():
			return false

		case item, ok := <-p.Fanout:
			if !ok {
				return true
			}
			batch, closed := p.collect(item)
			if err := publication.Write(batch); err != nil {
				logger.Warn("relay publish failed", "error", err)
				return closed
			}
			p.Metrics.Forwarded("to_relay", len(batch))
			logger.Debug("published state", "bytes", len(batch))
			if closed {
				return true
			}
		}
	}
}

// collect appends every item already waiting on the fan-out queue to
// first, without blocking. The second result reports whether the queue
// was found closed.
func (p *StatePublisher) collect(first []byte) ([]byte, bool) {
	batch := append([]byte(nil), first...)
	for {
		select {
		case item, ok := <-p.Fanout:
			if !ok {
				return batch, true
			}
			batch = append(batch, item...)
		default:
			return batch, false
		}
	}
}

// drainStale discards everything queued on the fan-out queue. It
// returns false if the queue is closed.
func (p *StatePublisher) drainStale() bool {
	discarded := 0
	defer func() {
		if discarded > 0 {
			p.logger().Debug("discarded stale relay state", "items", discarded)
			p.Metrics.StaleDrained("relay", discarded)
		}
	}()
	for {
		select {
		case _, ok := <-p.Fanout:
			if !ok {
				return false
			}
			discarded++
		default:
			return true
		}
	}
}
