// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/hwlink/internal/metrics"
)

// Queue capacities.
const (
	// WriteQueueCapacity is one so that a pending command
	// backpressures further senders.
	WriteQueueCapacity = 1

	// ReadQueueCapacity bounds state held for a session that has not
	// drained it yet.
	ReadQueueCapacity = 64

	// FanoutQueueCapacity absorbs bursts while the relay publisher is
	// writing or reconnecting.
	FanoutQueueCapacity = 256
)

// ErrClosed is returned by components that depend on a backend once
// that backend has terminated. It is fatal: retrying cannot restore a
// backend that stopped.
var ErrClosed = errors.New("backend closed")

// Backend is a device bridged by hwlink.
type Backend interface {
	// Run performs device I/O until ctx is cancelled or the device
	// fails. The backend's queues are closed when Run returns.
	Run(ctx context.Context) error

	// Channels returns the consumer view of the backend's queues.
	Channels() Channels
}

// Channels is the consumer view of a backend's queues.
type Channels struct {
	Write  chan<- []byte
	Read   <-chan []byte
	Fanout <-chan []byte
	Done   <-chan struct{}
}

// Queues owns both ends of a backend's channels.
type Queues struct {
	write  chan []byte
	read   chan []byte
	fanout chan []byte
	done   chan struct{}

	closeOnce sync.Once
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewQueues creates the channel set for one backend. When fanout is
// false no relay fan-out queue is created and Channels.Fanout is nil.
func NewQueues(fanout bool, logger *slog.Logger, m *metrics.Metrics) *Queues {
	if logger == nil {
		logger = slog.Default()
	}
	queues := &Queues{
		write:   make(chan []byte, WriteQueueCapacity),
		read:    make(chan []byte, ReadQueueCapacity),
		done:    make(chan struct{}),
		logger:  logger,
		metrics: m,
	}
	if fanout {
		queues.fanout = make(chan []byte, FanoutQueueCapacity)
	}
	return queues
}

// Channels returns the consumer view.
func (q *Queues) Channels() Channels {
	channels := Channels{
		Write: q.write,
		Read:  q.read,
		Done:  q.done,
	}
	if q.fanout != nil {
		channels.Fanout = q.fanout
	}
	return channels
}

// Commands returns the receiving end of the write queue.
func (q *Queues) Commands() <-chan []byte {
	return q.write
}

// Done returns a channel closed by Close.
func (q *Queues) Done() <-chan struct{} {
	return q.done
}

// Publish offers one state item to the relay fan-out and hands it to
// the session read queue. The fan-out send never blocks: a full fan-out
// drops the item there. The read send waits while the queue is full,
// so an attached session that falls behind backpressures the device
// instead of losing state. While no session is attached the bridge
// discards read items as stale, so the wait is bounded by the
// session's pace. Publish returns ctx.Err() if ctx ends first.
//
// Publish must not be called after Close.
func (q *Queues) Publish(ctx context.Context, item []byte) error {
	if q.fanout != nil {
		select {
		case q.fanout <- item:
		default:
			q.metrics.StateDropped("relay")
		}
	}
	select {
	case q.read <- item:
		return nil
	case <-ctx.Done():
		q.metrics.StateDropped("session")
		q.logger.Debug("backend stopping, dropping state item", "bytes", len(item))
		return ctx.Err()
	}
}

// Close marks the backend terminated: Done closes, and Read and Fanout
// close so their consumers observe end-of-stream. Idempotent. Only the
// goroutine that calls Publish may call Close.
func (q *Queues) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
		close(q.read)
		if q.fanout != nil {
			close(q.fanout)
		}
	})
}
