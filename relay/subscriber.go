// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bureau-foundation/hwlink/backend"
	"github.com/bureau-foundation/hwlink/internal/metrics"
	"github.com/bureau-foundation/hwlink/lib/clock"
	"github.com/bureau-foundation/hwlink/lib/netutil"
)

// Subscriber defaults.
const (
	DefaultConnectTimeout  = 5 * time.Second
	DefaultAnnounceTimeout = 5 * time.Second
	DefaultRetryPause      = 2 * time.Second
	DefaultReconnectPause  = 1 * time.Second
)

// CommandSubscriber forwards relay commands to the backend.
type CommandSubscriber struct {
	Client Client
	Config *Config

	// Commands is the backend write queue. Sends never block: a command
	// that finds the queue full is dropped.
	Commands chan<- []byte

	// BackendDone is closed when the backend terminates.
	BackendDone <-chan struct{}

	// Zero durations use the package defaults.
	ConnectTimeout  time.Duration
	AnnounceTimeout time.Duration
	RetryPause      time.Duration
	ReconnectPause  time.Duration

	// Clock drives the pauses between attempts. If nil, clock.Real()
	// is used.
	Clock clock.Clock

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

func (s *CommandSubscriber) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *CommandSubscriber) clock() clock.Clock {
	if s.Clock != nil {
		return s.Clock
	}
	return clock.Real()
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// Run subscribes and forwards until ctx is cancelled (returns nil) or
// the backend terminates (returns backend.ErrClosed). Every attempt
// opens a fresh subscription.
func (s *CommandSubscriber) Run(ctx context.Context) error {
	if s.Client == nil || s.Config == nil {
		return errors.New("relay: CommandSubscriber requires Client and Config")
	}
	logger := s.logger().With("path", s.Config.CommandsTopic(), "track", s.Config.TrackName())

	for {
		select {
		case <-s.BackendDone:
			return backend.ErrClosed
		default:
		}

		connectCtx, cancel := context.WithTimeout(ctx, orDefault(s.ConnectTimeout, DefaultConnectTimeout))
		subscription, err := s.Client.ConnectSubscriber(connectCtx, s.Config.CommandsTopic())
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.Metrics.RelayConnect("subscriber", false)
			logger.Warn("relay subscribe connect failed", "error", err)
			if !s.pause(ctx, orDefault(s.RetryPause, DefaultRetryPause)) {
				return nil
			}
			continue
		}

		err = s.forward(ctx, subscription, logger)
		subscription.Close()

		pause := orDefault(s.ReconnectPause, DefaultReconnectPause)
		switch {
		case errors.Is(err, backend.ErrClosed):
			logger.Error("backend terminated, command subscriber stopping")
			return err
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrTrackNotAnnounced):
			logger.Info("commands track not announced yet")
			pause = orDefault(s.RetryPause, DefaultRetryPause)
		case netutil.IsExpectedCloseError(err):
			logger.Info("commands track ended, resubscribing")
		default:
			logger.Warn("reading commands failed, resubscribing", "error", err)
		}
		if !s.pause(ctx, pause) {
			return nil
		}
	}
}

// forward subscribes to the commands track and offers each message to
// the backend until the track ends or fails.
func (s *CommandSubscriber) forward(ctx context.Context, subscription Subscription, logger *slog.Logger) error {
	reader, err := subscription.SubscribeTrack(ctx, s.Config.TrackName(), orDefault(s.AnnounceTimeout, DefaultAnnounceTimeout))
	if err != nil {
		return err
	}
	s.Metrics.RelayConnect("subscriber", true)
	logger.Info("relay command subscriber connected")

	// A blocked Read must not outlive the backend.
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.BackendDone:
			cancel()
		case <-readCtx.Done():
		}
	}()

	for {
		command, err := reader.Read(readCtx)
		if err != nil {
			select {
			case <-s.BackendDone:
				return backend.ErrClosed
			default:
			}
			return err
		}
		if err := s.offer(command, logger); err != nil {
			return err
		}
	}
}

// offer sends command to the backend if the write queue has room. A
// full queue means a direct-session command is pending, and the relay
// command loses.
func (s *CommandSubscriber) offer(command []byte, logger *slog.Logger) error {
	select {
	case <-s.BackendDone:
		return backend.ErrClosed
	default:
	}
	select {
	case s.Commands <- command:
		s.Metrics.Forwarded("from_relay", len(command))
	default:
		logger.Debug("write queue full, dropping relay command", "bytes", len(command))
		s.Metrics.RelayCommandDropped()
	}
	return nil
}

// pause waits for d, or less if the backend terminates. It returns
// false if ctx was cancelled first.
func (s *CommandSubscriber) pause(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-s.BackendDone:
		return true
	case <-s.clock().After(d):
		return true
	}
}
