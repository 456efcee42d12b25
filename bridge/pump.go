// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/hwlink/backend"
	"github.com/bureau-foundation/hwlink/internal/metrics"
	"github.com/bureau-foundation/hwlink/lib/netutil"
	"github.com/bureau-foundation/hwlink/transport"
)

// maxBatchExtra is how many already-queued state items are appended to
// the one that woke the backend-to-network half, so one network write
// carries at most maxBatchExtra+1 items.
const maxBatchExtra = 7

// readBufferSize bounds a single command item read from the network.
const readBufferSize = 4096

// pump bridges one direct session to the backend.
type pump struct {
	session transport.Session

	// state is owned by this pump until it returns it in pumpResult.
	state       <-chan []byte
	commands    chan<- []byte
	backendDone <-chan struct{}

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// pumpResult hands the state receiver back to the orchestrator. err is
// backend.ErrClosed when the backend terminated and nil otherwise:
// stream failures and cancellation are normal session endings.
type pumpResult struct {
	state <-chan []byte
	err   error
}

// run drains stale state, takes the session's stream, and forwards in
// both directions until either direction ends or ctx is cancelled.
func (p *pump) run(ctx context.Context) pumpResult {
	if err := p.drainStale(); err != nil {
		return pumpResult{state: p.state, err: err}
	}

	stream, err := p.session.AcceptStream(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Info("direct session ended before opening its stream", "error", err)
		}
		return pumpResult{state: p.state}
	}

	p.metrics.SessionStarted()
	defer p.metrics.SessionStopped()
	p.logger.Info("direct session streaming")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.session.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	// Closing the stream is the only way to unblock a pending Read.
	closeStream := context.AfterFunc(ctx, func() { stream.Close() })

	var (
		waitGroup    sync.WaitGroup
		toNetworkErr error
		toBackendErr error
	)
	waitGroup.Add(2)
	go func() {
		defer waitGroup.Done()
		defer cancel()
		toNetworkErr = p.toNetwork(ctx, stream)
	}()
	go func() {
		defer waitGroup.Done()
		defer cancel()
		toBackendErr = p.toBackend(ctx, stream)
	}()
	waitGroup.Wait()

	if closeStream() {
		stream.Close()
	}
	p.logger.Info("direct session stopped")

	if errors.Is(toNetworkErr, backend.ErrClosed) || errors.Is(toBackendErr, backend.ErrClosed) {
		return pumpResult{state: p.state, err: backend.ErrClosed}
	}
	return pumpResult{state: p.state}
}

// drainStale discards state produced before this session existed.
func (p *pump) drainStale() error {
	discarded := 0
	defer func() {
		if discarded > 0 {
			p.logger.Info("discarded stale state", "items", discarded)
			p.metrics.StaleDrained("session", discarded)
		}
	}()
	for {
		select {
		case _, ok := <-p.state:
			if !ok {
				return backend.ErrClosed
			}
			discarded++
		default:
			return nil
		}
	}
}

// toNetwork writes state to the stream. Each write carries one item
// plus up to maxBatchExtra items that were already queued; it never
// waits for more.
func (p *pump) toNetwork(ctx context.Context, stream transport.Stream) error {
	for {
		var first []byte
		select {
		case <-ctx.Done():
			return nil
		case item, ok := <-p.state:
			if !ok {
				return backend.ErrClosed
			}
			first = item
		}

		batch := first
		owned := false
		backendClosed := false
	gather:
		for range maxBatchExtra {
			select {
			case item, ok := <-p.state:
				if !ok {
					backendClosed = true
					break gather
				}
				if !owned {
					// Never append into a producer's backing array.
					batch = append(make([]byte, 0, len(first)*(maxBatchExtra+1)), first...)
					owned = true
				}
				batch = append(batch, item...)
			default:
				break gather
			}
		}

		if ctx.Err() != nil {
			// The stream is already closed or closing. These items were
			// taken off the queue and cannot be returned to it.
			p.logger.Debug("session stopping, dropping received state", "bytes", len(batch))
			p.metrics.StateDropped("session")
			if backendClosed {
				return backend.ErrClosed
			}
			return nil
		}
		if len(batch) > 0 {
			if _, err := stream.Write(batch); err != nil {
				if ctx.Err() == nil && !netutil.IsExpectedCloseError(err) {
					p.logger.Info("writing state to direct session failed", "error", err)
				}
				return nil
			}
			p.metrics.Forwarded("to_network", len(batch))
		}
		if backendClosed {
			return backend.ErrClosed
		}
	}
}

// toBackend forwards every non-empty read to the write queue with a
// blocking send: the peer is backpressured rather than having commands
// dropped.
func (p *pump) toBackend(ctx context.Context, stream transport.Stream) error {
	buffer := make([]byte, readBufferSize)
	for {
		n, err := stream.Read(buffer)
		if n > 0 {
			item := make([]byte, n)
			copy(item, buffer[:n])
			select {
			case p.commands <- item:
				p.metrics.Forwarded("to_backend", n)
			case <-p.backendDone:
				return backend.ErrClosed
			case <-ctx.Done():
				return nil
			}
		}
		if err != nil {
			if ctx.Err() == nil && !netutil.IsExpectedCloseError(err) {
				p.logger.Info("reading commands from direct session failed", "error", err)
			}
			return nil
		}
	}
}
