// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// Compile-time interface checks.
var (
	_ Listener = (*QUICListener)(nil)
	_ Dialer   = (*QUICDialer)(nil)
)

// alpnProtocol is negotiated on every hwlink QUIC connection.
const alpnProtocol = "hwlink/1"

// Application error codes sent when closing a QUIC connection.
const (
	quicCodeNormal   quic.ApplicationErrorCode = 0
	quicCodeShutdown quic.ApplicationErrorCode = 1
)

// defaultQUICConfig keeps idle detection short so an operator whose
// network dropped is noticed within seconds.
func defaultQUICConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:        10 * time.Second,
		KeepAlivePeriod:       3 * time.Second,
		MaxIncomingStreams:    4,
		MaxIncomingUniStreams: -1,
	}
}

// QUICListener accepts direct sessions over QUIC. Both ends present
// self-signed certificates for their Ed25519 identity keys (mutual
// TLS 1.3); the listener's identity is part of its dial address.
type QUICListener struct {
	listener *quic.Listener
	identity string
	address  string

	closed    chan struct{}
	closeOnce sync.Once
}

// NewQUICListener listens on UDP address with the given identity key.
// advertise, when non-empty, replaces the listen address in Identity,
// for listeners bound to a wildcard address.
func NewQUICListener(address, advertise string, key ed25519.PrivateKey) (*QUICListener, error) {
	certificate, err := selfSignedCertificate(key)
	if err != nil {
		return nil, err
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{certificate},
		NextProtos:   []string{alpnProtocol},
		ClientAuth:   tls.RequireAnyClientCert,
		MinVersion:   tls.VersionTLS13,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			_, err := peerIdentity(rawCerts)
			return err
		},
	}

	listener, err := quic.ListenAddr(address, tlsConfig, defaultQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", address, err)
	}
	if advertise == "" {
		advertise = listener.Addr().String()
	}
	return &QUICListener{
		listener: listener,
		identity: Identity(key.Public().(ed25519.PublicKey)),
		address:  advertise,
		closed:   make(chan struct{}),
	}, nil
}

// Accept waits for the next QUIC connection.
func (l *QUICListener) Accept(ctx context.Context) (Session, error) {
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		select {
		case <-l.closed:
			return nil, ErrListenerClosed
		default:
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, quic.ErrServerClosed) {
			return nil, ErrListenerClosed
		}
		return nil, err
	}

	var rawCerts [][]byte
	for _, certificate := range conn.ConnectionState().TLS.PeerCertificates {
		rawCerts = append(rawCerts, certificate.Raw)
	}
	remote, err := peerIdentity(rawCerts)
	if err != nil {
		conn.CloseWithError(quicCodeShutdown, "bad certificate")
		return nil, err
	}
	return &quicSession{conn: conn, remote: remote}, nil
}

// Identity returns "<key identity>@host:port".
func (l *QUICListener) Identity() string {
	return l.identity + "@" + l.address
}

func (l *QUICListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.listener.Close()
	})
	return err
}

// quicSession is one QUIC connection.
type quicSession struct {
	conn   *quic.Conn
	remote string
}

func (s *quicSession) AcceptStream(ctx context.Context) (Stream, error) {
	raw, err := s.conn.AcceptStream(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("accepting stream: %w", err)
	}
	stream := &quicStream{stream: raw}
	if err := readPreamble(ctx, stream); err != nil {
		return nil, err
	}
	return stream, nil
}

func (s *quicSession) RemoteIdentity() string {
	return s.remote + "@" + s.conn.RemoteAddr().String()
}

func (s *quicSession) Done() <-chan struct{} {
	return s.conn.Context().Done()
}

func (s *quicSession) Close() error {
	return s.conn.CloseWithError(quicCodeNormal, "")
}

// quicStream makes Close abort both directions. quic.Stream.Close only
// finishes the send side, which would leave a pending Read blocked.
type quicStream struct {
	stream *quic.Stream
}

func (s *quicStream) Read(buffer []byte) (int, error)  { return s.stream.Read(buffer) }
func (s *quicStream) Write(buffer []byte) (int, error) { return s.stream.Write(buffer) }

func (s *quicStream) Close() error {
	s.stream.CancelRead(0)
	return s.stream.Close()
}

// QUICDialer connects to a QUICListener. Key is the dialer's own
// identity; when nil an ephemeral key is generated per dial.
type QUICDialer struct {
	Key ed25519.PrivateKey
}

// DialContext connects to "<identity>@host:port", verifies that the
// listener holds the key for <identity>, opens the stream, and writes
// the preamble. Closing the stream closes the connection.
func (d *QUICDialer) DialContext(ctx context.Context, address string) (Stream, error) {
	expected, hostPort, ok := strings.Cut(address, "@")
	if !ok || expected == "" || hostPort == "" {
		return nil, fmt.Errorf("QUIC address %q is not of the form <identity>@host:port", address)
	}
	if _, err := ParseIdentity(expected); err != nil {
		return nil, err
	}

	key := d.Key
	if key == nil {
		var err error
		if _, key, err = ed25519.GenerateKey(rand.Reader); err != nil {
			return nil, fmt.Errorf("generating ephemeral key: %w", err)
		}
	}
	certificate, err := selfSignedCertificate(key)
	if err != nil {
		return nil, err
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{certificate},
		NextProtos:   []string{alpnProtocol},
		MinVersion:   tls.VersionTLS13,
		// Verification is by identity, not by CA chain.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			actual, err := peerIdentity(rawCerts)
			if err != nil {
				return err
			}
			if actual != expected {
				return fmt.Errorf("%w: got %s, want %s", ErrIdentityMismatch, actual, expected)
			}
			return nil
		},
	}

	conn, err := quic.DialAddr(ctx, hostPort, tlsConfig, defaultQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", hostPort, err)
	}
	raw, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(quicCodeShutdown, "")
		return nil, fmt.Errorf("opening stream: %w", err)
	}
	stream := &sessionStream{Stream: &quicStream{stream: raw}, session: &quicSession{conn: conn}}
	if err := writePreamble(stream); err != nil {
		stream.Close()
		return nil, err
	}
	return stream, nil
}
