// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"path"
	"time"
)

// Default subpaths and track name.
const (
	DefaultStatePath    = "state"
	DefaultCommandsPath = "commands"
	DefaultTrack        = "can"
)

// ErrTrackNotAnnounced is returned by Subscription.SubscribeTrack when
// no publisher announced the track before the timeout. It is a retry
// signal, not a failure.
var ErrTrackNotAnnounced = errors.New("relay: track not announced")

// Config locates the relay and the paths the server uses on it. A nil
// *Config disables both relay loops.
type Config struct {
	// URL is the relay endpoint, for example wss://relay.example.net.
	URL string

	// BasePath prefixes both the state and the commands path. Each
	// server uses its own base path.
	BasePath string

	// Insecure skips TLS certificate verification.
	Insecure bool

	// StatePath and CommandsPath are joined to BasePath. Empty means
	// DefaultStatePath and DefaultCommandsPath.
	StatePath    string
	CommandsPath string

	// Track is the track name published and subscribed on both paths.
	// Empty means DefaultTrack.
	Track string
}

// StateTopic returns the path the state publisher connects to.
func (c *Config) StateTopic() string {
	sub := c.StatePath
	if sub == "" {
		sub = DefaultStatePath
	}
	return path.Join(c.BasePath, sub)
}

// CommandsTopic returns the path the command subscriber connects to.
func (c *Config) CommandsTopic() string {
	sub := c.CommandsPath
	if sub == "" {
		sub = DefaultCommandsPath
	}
	return path.Join(c.BasePath, sub)
}

// TrackName returns the configured track or DefaultTrack.
func (c *Config) TrackName() string {
	if c.Track == "" {
		return DefaultTrack
	}
	return c.Track
}

// Client opens publish and subscribe sessions on a relay.
type Client interface {
	// ConnectPublisher opens a session at path that publishes track.
	ConnectPublisher(ctx context.Context, path, track string) (Publication, error)

	// ConnectSubscriber opens a session at path for subscribing.
	ConnectSubscriber(ctx context.Context, path string) (Subscription, error)
}

// Publication is an open publish session.
type Publication interface {
	// Write publishes one message. Delivery is fire-and-forget; an
	// error means the session is unusable.
	Write(data []byte) error

	// Closed is closed when the session ends for any reason.
	Closed() <-chan struct{}

	Close() error
}

// Subscription is an open subscribe session.
type Subscription interface {
	// SubscribeTrack waits up to timeout for name to be announced and
	// subscribes to it. It returns ErrTrackNotAnnounced on timeout.
	SubscribeTrack(ctx context.Context, name string, timeout time.Duration) (TrackReader, error)

	Close() error
}

// TrackReader yields the messages of one subscribed track.
type TrackReader interface {
	// Read blocks for the next message. io.EOF means the track ended.
	Read(ctx context.Context) ([]byte, error)
}
