// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wsrelay

import (
	"log/slog"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/hwlink/lib/codec"
)

// subscriberQueueSize bounds the messages buffered for one slow
// subscriber. Messages beyond it are dropped for that subscriber.
const subscriberQueueSize = 64

// Hub routes relay messages between publishers and subscribers that
// share a URL path. The zero value is not usable; call NewHub.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	topics map[string]*topic
}

// topic is the set of connections at one path.
type topic struct {
	publishers  map[string]*hubPublisher
	subscribers map[*hubSubscriber]struct{}
}

type hubPublisher struct {
	track string
	conn  *websocket.Conn
}

type hubSubscriber struct {
	conn     *websocket.Conn
	outgoing chan []byte
	done     chan struct{}
	once     sync.Once

	// tracks is guarded by Hub.mu.
	tracks map[string]bool
}

// NewHub creates a hub. A nil logger uses slog.Default(). Origins are
// not checked: browser monitors are expected to connect from anywhere.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		topics: make(map[string]*topic),
	}
}

// ServeHTTP upgrades the request and serves it as a publisher or a
// subscriber according to the role query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + r.URL.Path)
	query := r.URL.Query()

	switch query.Get(roleParam) {
	case rolePublish:
		track := query.Get(trackParam)
		if track == "" {
			http.Error(w, "publish requires a track", http.StatusBadRequest)
			return
		}
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Debug("websocket upgrade failed", "error", err)
			return
		}
		h.servePublisher(name, track, conn)
	case roleSubscribe:
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Debug("websocket upgrade failed", "error", err)
			return
		}
		h.serveSubscriber(name, conn)
	default:
		http.Error(w, "role must be publish or subscribe", http.StatusBadRequest)
	}
}

// topicLocked returns the topic for name, creating it. Caller holds mu.
func (h *Hub) topicLocked(name string) *topic {
	t := h.topics[name]
	if t == nil {
		t = &topic{
			publishers:  make(map[string]*hubPublisher),
			subscribers: make(map[*hubSubscriber]struct{}),
		}
		h.topics[name] = t
	}
	return t
}

// releaseLocked forgets an empty topic. Caller holds mu.
func (h *Hub) releaseLocked(name string, t *topic) {
	if len(t.publishers) == 0 && len(t.subscribers) == 0 {
		delete(h.topics, name)
	}
}

func (h *Hub) servePublisher(name, track string, conn *websocket.Conn) {
	logger := h.logger.With("path", name, "track", track)
	conn.SetReadLimit(maxMessageSize)
	publisher := &hubPublisher{track: track, conn: conn}

	announce, err := encodeTrack(kindAnnounce, track)
	if err != nil {
		logger.Error("encoding announcement", "error", err)
		conn.Close()
		return
	}

	h.mu.Lock()
	t := h.topicLocked(name)
	previous := t.publishers[track]
	t.publishers[track] = publisher
	for subscriber := range t.subscribers {
		subscriber.send(announce)
	}
	h.mu.Unlock()

	if previous != nil {
		// The newer publisher owns the track; the old one is cut off
		// without an ended message.
		previous.conn.Close()
	}
	logger.Info("relay publisher connected")

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		message := encodeData(payload)
		h.mu.Lock()
		for subscriber := range t.subscribers {
			if subscriber.tracks[track] {
				subscriber.send(message)
			}
		}
		h.mu.Unlock()
	}
	conn.Close()

	ended, _ := encodeTrack(kindEnded, track)
	h.mu.Lock()
	if t.publishers[track] == publisher {
		delete(t.publishers, track)
		for subscriber := range t.subscribers {
			delete(subscriber.tracks, track)
			subscriber.send(ended)
		}
	}
	h.releaseLocked(name, t)
	h.mu.Unlock()
	logger.Info("relay publisher disconnected")
}

func (h *Hub) serveSubscriber(name string, conn *websocket.Conn) {
	logger := h.logger.With("path", name)
	conn.SetReadLimit(maxMessageSize)
	subscriber := &hubSubscriber{
		conn:     conn,
		outgoing: make(chan []byte, subscriberQueueSize),
		done:     make(chan struct{}),
		tracks:   make(map[string]bool),
	}
	go subscriber.writeLoop(logger)

	h.mu.Lock()
	t := h.topicLocked(name)
	t.subscribers[subscriber] = struct{}{}
	for track := range t.publishers {
		if announce, err := encodeTrack(kindAnnounce, track); err == nil {
			subscriber.send(announce)
		}
	}
	h.mu.Unlock()
	logger.Info("relay subscriber connected")

	for {
		messageType, body, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		track, err := decodeTrack(body)
		if err != nil {
			diagnostic, _ := codec.Diagnose(body)
			logger.Warn("ignoring malformed subscribe request", "error", err, "body", diagnostic)
			continue
		}
		h.mu.Lock()
		subscriber.tracks[track] = true
		h.mu.Unlock()
		logger.Debug("subscribed", "track", track)
	}

	h.mu.Lock()
	delete(t.subscribers, subscriber)
	h.releaseLocked(name, t)
	h.mu.Unlock()
	subscriber.close()
	logger.Info("relay subscriber disconnected")
}

// send queues message without blocking. A subscriber too slow to keep
// up loses messages rather than stalling the publisher.
func (s *hubSubscriber) send(message []byte) {
	select {
	case s.outgoing <- message:
	case <-s.done:
	default:
	}
}

func (s *hubSubscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// writeLoop is the connection's only writer.
func (s *hubSubscriber) writeLoop(logger *slog.Logger) {
	for {
		select {
		case <-s.done:
			return
		case message := <-s.outgoing:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				logger.Debug("relay subscriber write failed", "error", err)
				s.close()
				return
			}
		}
	}
}
