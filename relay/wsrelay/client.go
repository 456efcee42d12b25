// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wsrelay

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/hwlink/relay"
)

// Client connects to a Hub.
type Client struct {
	base   *url.URL
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewClient creates a client for the hub at config.URL. http and https
// URLs are accepted as aliases of ws and wss.
func NewClient(config *relay.Config, logger *slog.Logger) (*Client, error) {
	if config == nil || config.URL == "" {
		return nil, errors.New("wsrelay: relay URL is required")
	}
	base, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing relay URL: %w", err)
	}
	switch base.Scheme {
	case "ws", "wss":
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	default:
		return nil, fmt.Errorf("wsrelay: unsupported relay URL scheme %q", base.Scheme)
	}
	if logger == nil {
		logger = slog.Default()
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
	if config.Insecure {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec operator opted in
	}
	return &Client{base: base, dialer: dialer, logger: logger}, nil
}

// endpoint builds the WebSocket URL for a path and query.
func (c *Client) endpoint(path string, query url.Values) string {
	target := *c.base
	target.Path = strings.TrimSuffix(c.base.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	target.RawQuery = query.Encode()
	return target.String()
}

func (c *Client) dial(ctx context.Context, path string, query url.Values) (*websocket.Conn, error) {
	endpoint := c.endpoint(path, query)
	conn, response, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if response != nil {
			return nil, fmt.Errorf("connecting to relay %s: %w (HTTP %d)", endpoint, err, response.StatusCode)
		}
		return nil, fmt.Errorf("connecting to relay %s: %w", endpoint, err)
	}
	conn.SetReadLimit(maxMessageSize)
	return conn, nil
}

// ConnectPublisher opens a publish session for track at path.
func (c *Client) ConnectPublisher(ctx context.Context, path, track string) (relay.Publication, error) {
	conn, err := c.dial(ctx, path, url.Values{roleParam: {rolePublish}, trackParam: {track}})
	if err != nil {
		return nil, err
	}
	p := &publication{conn: conn, closed: make(chan struct{})}
	go p.readLoop()
	return p, nil
}

// ConnectSubscriber opens a subscribe session at path.
func (c *Client) ConnectSubscriber(ctx context.Context, path string) (relay.Subscription, error) {
	conn, err := c.dial(ctx, path, url.Values{roleParam: {roleSubscribe}})
	if err != nil {
		return nil, err
	}
	s := &subscription{
		conn:      conn,
		logger:    c.logger.With("path", path),
		announced: make(map[string]bool),
		changed:   make(chan struct{}),
		data:      make(chan []byte),
		ended:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

type publication struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	closed    chan struct{}
	closeOnce sync.Once
}

// readLoop consumes control frames and notices the hub going away.
func (p *publication) readLoop() {
	defer p.Close()
	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (p *publication) Write(data []byte) error {
	select {
	case <-p.closed:
		return fmt.Errorf("publishing to relay: %w", net.ErrClosed)
	default:
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := p.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		p.Close()
		return fmt.Errorf("publishing to relay: %w", err)
	}
	return nil
}

func (p *publication) Closed() <-chan struct{} { return p.closed }

func (p *publication) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.writeMu.Lock()
		p.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		p.writeMu.Unlock()
		p.conn.Close()
	})
	return nil
}

type subscription struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	writeMu sync.Mutex

	mu        sync.Mutex
	announced map[string]bool
	// changed is closed and replaced whenever announced changes.
	changed chan struct{}
	track   string

	data      chan []byte
	ended     chan struct{}
	endOnce   sync.Once
	done      chan struct{}
	readErr   error
	closeOnce sync.Once
}

// readLoop dispatches hub messages until the connection fails.
func (s *subscription) readLoop() {
	var err error
	defer func() {
		s.readErr = err
		close(s.done)
	}()
	for {
		var messageType int
		var message []byte
		messageType, message, err = s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage || len(message) == 0 {
			continue
		}
		switch message[0] {
		case kindAnnounce:
			track, decodeErr := decodeTrack(message[1:])
			if decodeErr != nil {
				s.logger.Warn("ignoring malformed announcement", "error", decodeErr)
				continue
			}
			s.mu.Lock()
			s.announced[track] = true
			close(s.changed)
			s.changed = make(chan struct{})
			s.mu.Unlock()

		case kindData:
			select {
			case s.data <- message[1:]:
			case <-s.ended:
			}

		case kindEnded:
			track, decodeErr := decodeTrack(message[1:])
			if decodeErr != nil {
				continue
			}
			s.mu.Lock()
			delete(s.announced, track)
			subscribed := s.track == track
			s.mu.Unlock()
			if subscribed {
				s.endOnce.Do(func() { close(s.ended) })
			}
		}
	}
}

// SubscribeTrack waits for name to be announced, then requests it.
func (s *subscription) SubscribeTrack(ctx context.Context, name string, timeout time.Duration) (relay.TrackReader, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		s.mu.Lock()
		announced := s.announced[name]
		changed := s.changed
		s.mu.Unlock()
		if announced {
			break
		}
		select {
		case <-changed:
		case <-timer.C:
			return nil, relay.ErrTrackNotAnnounced
		case <-s.done:
			return nil, fmt.Errorf("relay connection lost: %w", s.readErr)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	request, err := encodeTrackRequest(name)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.track = name
	s.mu.Unlock()

	s.writeMu.Lock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = s.conn.WriteMessage(websocket.BinaryMessage, request)
	s.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("subscribing to track %s: %w", name, err)
	}
	return &trackReader{subscription: s}, nil
}

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()
		s.conn.Close()
		s.endOnce.Do(func() { close(s.ended) })
	})
	return nil
}

type trackReader struct {
	subscription *subscription
}

// Read returns the next message of the subscribed track, or io.EOF
// once the track has ended.
func (r *trackReader) Read(ctx context.Context) ([]byte, error) {
	s := r.subscription
	select {
	case message := <-s.data:
		return message, nil
	case <-s.ended:
		return nil, io.EOF
	case <-s.done:
		if s.readErr != nil && !websocket.IsCloseError(s.readErr, websocket.CloseNormalClosure) {
			return nil, fmt.Errorf("reading from relay: %w", s.readErr)
		}
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
