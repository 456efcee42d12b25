// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"
)

// Pauses after accept failures caused by resource exhaustion.
const (
	initialAcceptPause = 5 * time.Millisecond
	maxAcceptPause     = time.Second
)

// Compile-time interface checks.
var (
	_ Listener = (*TCPListener)(nil)
	_ Dialer   = (*TCPDialer)(nil)
)

// TCPListener accepts direct sessions over plain TCP. This is the
// development and same-LAN transport: no encryption, no NAT traversal.
// Each connection is one session carrying one stream.
type TCPListener struct {
	listener net.Listener

	// connections carries accepted connections from acceptLoop.
	connections chan net.Conn
	acceptErr   error
	acceptDone  chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

// NewTCPListener listens on address (e.g. ":7891"). Use ":0" for a
// random available port.
func NewTCPListener(address string) (*TCPListener, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	l := &TCPListener{
		listener:    listener,
		connections: make(chan net.Conn),
		acceptDone:  make(chan struct{}),
		closed:      make(chan struct{}),
	}
	go l.acceptLoop()
	return l, nil
}

// acceptLoop feeds Accept. net.Listener.Accept takes no context, so it
// runs here and Accept selects on the result. Resource exhaustion
// (descriptor limits, aborted handshakes) is retried after a growing
// pause; any other failure ends the loop for good.
func (l *TCPListener) acceptLoop() {
	defer close(l.acceptDone)
	pause := initialAcceptPause
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if !retryableAccept(err) {
				l.acceptErr = err
				return
			}
			timer := time.NewTimer(pause)
			select {
			case <-timer.C:
			case <-l.closed:
				timer.Stop()
				l.acceptErr = err
				return
			}
			pause = min(pause*2, maxAcceptPause)
			continue
		}
		pause = initialAcceptPause
		select {
		case l.connections <- conn:
		case <-l.closed:
			conn.Close()
			return
		}
	}
}

// Accept waits for the next TCP connection.
func (l *TCPListener) Accept(ctx context.Context) (Session, error) {
	select {
	case conn := <-l.connections:
		return newTCPSession(conn), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, ErrListenerClosed
	case <-l.acceptDone:
		select {
		case <-l.closed:
			return nil, ErrListenerClosed
		default:
		}
		// The socket is gone; no later Accept can succeed.
		return nil, fmt.Errorf("%w: %v", ErrListenerClosed, l.acceptErr)
	}
}

// retryableAccept reports whether an accept failure is transient.
func retryableAccept(err error) bool {
	return errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ENOBUFS) ||
		errors.Is(err, syscall.ENOMEM) ||
		errors.Is(err, syscall.ECONNABORTED)
}

// Identity returns the listen address in "host:port" form.
func (l *TCPListener) Identity() string {
	return l.listener.Addr().String()
}

// Close stops accepting. Sessions already accepted are unaffected.
func (l *TCPListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.listener.Close()
	})
	return err
}

// tcpSession is one TCP connection. Its only stream is the connection
// itself, returned once by AcceptStream.
type tcpSession struct {
	conn net.Conn

	mu       sync.Mutex
	accepted bool

	done      chan struct{}
	closeOnce sync.Once
}

func newTCPSession(conn net.Conn) *tcpSession {
	return &tcpSession{conn: conn, done: make(chan struct{})}
}

func (s *tcpSession) AcceptStream(ctx context.Context) (Stream, error) {
	s.mu.Lock()
	already := s.accepted
	s.accepted = true
	s.mu.Unlock()

	if already {
		// A TCP session carries a single stream.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, net.ErrClosed
		}
	}

	stream := &sessionStream{Stream: s.conn, session: s}
	if err := readPreamble(ctx, stream); err != nil {
		s.Close()
		return nil, err
	}
	return stream, nil
}

func (s *tcpSession) RemoteIdentity() string {
	return s.conn.RemoteAddr().String()
}

func (s *tcpSession) Done() <-chan struct{} {
	return s.done
}

func (s *tcpSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

// sessionStream ties a stream's lifetime to its session: closing the
// stream closes the session.
type sessionStream struct {
	Stream
	session interface{ Close() error }
}

func (s *sessionStream) Close() error {
	err := s.Stream.Close()
	s.session.Close()
	return err
}

// TCPDialer connects to a TCPListener.
type TCPDialer struct {
	// Timeout bounds connection establishment. Zero means only the
	// context deadline applies.
	Timeout time.Duration
}

// DialContext connects to address ("host:port") and writes the stream
// preamble.
func (d *TCPDialer) DialContext(ctx context.Context, address string) (Stream, error) {
	conn, err := (&net.Dialer{Timeout: d.Timeout}).DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if err := writePreamble(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
