// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
)

// Compile-time interface checks.
var (
	_ Listener     = (*WebRTCListener)(nil)
	_ http.Handler = (*WebRTCListener)(nil)
	_ Dialer       = (*WebRTCDialer)(nil)
)

// iceGatherTimeout is the maximum time to wait for ICE candidate gathering
// to complete before sending the SDP.
const iceGatherTimeout = 15 * time.Second

// dataChannelOpenTimeout bounds how long a dialer waits for its data
// channel after the answer is applied.
const dataChannelOpenTimeout = 10 * time.Second

// maxSDPSize bounds signaling request and response bodies.
const maxSDPSize = 64 << 10

// pendingSessions is how many answered sessions may wait for Accept.
const pendingSessions = 8

// dataChannelLabel names the single data channel a dialer opens.
const dataChannelLabel = "hwlink"

// sdpContentType is the media type of signaling bodies.
const sdpContentType = "application/sdp"

// WebRTCListener accepts direct sessions over WebRTC data channels,
// traversing NAT with ICE. It is also the signaling endpoint: mount it
// on an HTTP server, and a dialer POSTs its complete SDP offer (vanilla
// ICE, all candidates gathered) and receives the complete answer in
// the response. Signaling is one round trip.
//
// Each PeerConnection is one Session; the first data channel the peer
// opens on it is the session's stream. ICE and DTLS authenticate
// nothing about the endpoints, so each stream starts with an Ed25519
// identity handshake using the same keys as the QUIC transport.
type WebRTCListener struct {
	iceConfig ICEConfig
	advertise string
	key       ed25519.PrivateKey
	logger    *slog.Logger

	sessions chan *webrtcSession

	closed    chan struct{}
	closeOnce sync.Once
}

// NewWebRTCListener creates a listener holding identity key. advertise
// is the URL at which dialers reach ServeHTTP.
func NewWebRTCListener(advertise string, key ed25519.PrivateKey, iceConfig ICEConfig, logger *slog.Logger) *WebRTCListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebRTCListener{
		iceConfig: iceConfig,
		advertise: advertise,
		key:       key,
		logger:    logger,
		sessions:  make(chan *webrtcSession, pendingSessions),
		closed:    make(chan struct{}),
	}
}

// ServeHTTP answers one SDP offer.
func (l *WebRTCListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "signaling requires POST", http.StatusMethodNotAllowed)
		return
	}
	select {
	case <-l.closed:
		http.Error(w, "listener closed", http.StatusServiceUnavailable)
		return
	default:
	}

	offer, err := io.ReadAll(io.LimitReader(r.Body, maxSDPSize+1))
	if err != nil {
		http.Error(w, "reading offer", http.StatusBadRequest)
		return
	}
	if len(offer) > maxSDPSize {
		http.Error(w, "offer too large", http.StatusRequestEntityTooLarge)
		return
	}

	session, answer, err := l.answer(r.Context(), string(offer), r.RemoteAddr)
	if err != nil {
		l.logger.Warn("answering WebRTC offer failed", "remote", r.RemoteAddr, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	select {
	case l.sessions <- session:
	default:
		session.Close()
		http.Error(w, "too many pending sessions", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", sdpContentType)
	w.Write([]byte(answer))
	l.logger.Info("WebRTC offer answered", "remote", r.RemoteAddr)
}

// answer creates a PeerConnection for offer and returns it as a
// session together with the complete SDP answer.
func (l *WebRTCListener) answer(ctx context.Context, offer, remote string) (*webrtcSession, string, error) {
	pc, err := newPeerConnection(l.iceConfig)
	if err != nil {
		return nil, "", fmt.Errorf("creating PeerConnection: %w", err)
	}
	session := newWebRTCSession(pc, remote, l.key, l.logger)

	pc.OnDataChannel(session.handleDataChannel)
	pc.OnICEConnectionStateChange(session.handleICEStateChange)

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer,
	}); err != nil {
		session.Close()
		return nil, "", fmt.Errorf("setting remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		session.Close()
		return nil, "", fmt.Errorf("creating SDP answer: %w", err)
	}
	if err := gatherLocalDescription(ctx, pc, answer); err != nil {
		session.Close()
		return nil, "", err
	}
	return session, pc.LocalDescription().SDP, nil
}

// Accept returns the next answered session.
func (l *WebRTCListener) Accept(ctx context.Context) (Session, error) {
	select {
	case session := <-l.sessions:
		return session, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, ErrListenerClosed
	}
}

// Identity returns "<key identity>@<signaling URL>".
func (l *WebRTCListener) Identity() string {
	return Identity(l.key.Public().(ed25519.PublicKey)) + "@" + l.advertise
}

// Close stops answering offers and closes sessions nobody accepted.
func (l *WebRTCListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		for {
			select {
			case session := <-l.sessions:
				session.Close()
			default:
				return
			}
		}
	})
	return nil
}

// webrtcSession is one answered PeerConnection.
type webrtcSession struct {
	pc     *webrtc.PeerConnection
	remote string
	key    ed25519.PrivateKey
	logger *slog.Logger

	// peer is the identity proven by the stream handshake.
	mu   sync.Mutex
	peer string

	// streams holds the first opened data channel until AcceptStream
	// takes it.
	streams chan *DataChannelConn

	done    chan struct{}
	closing atomic.Bool
}

func newWebRTCSession(pc *webrtc.PeerConnection, remote string, key ed25519.PrivateKey, logger *slog.Logger) *webrtcSession {
	return &webrtcSession{
		pc:      pc,
		remote:  remote,
		key:     key,
		logger:  logger.With("remote", remote),
		streams: make(chan *DataChannelConn, 1),
		done:    make(chan struct{}),
	}
}

func (s *webrtcSession) handleDataChannel(dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		raw, err := dc.Detach()
		if err != nil {
			s.logger.Error("detaching inbound data channel failed",
				"label", dc.Label(),
				"error", err,
			)
			return
		}
		conn := NewDataChannelConn(raw, dc.Label(), nil)
		select {
		case s.streams <- conn:
			s.logger.Debug("inbound data channel opened", "label", dc.Label())
		default:
			s.logger.Warn("rejecting extra data channel", "label", dc.Label())
			conn.Close()
		}
	})
}

func (s *webrtcSession) handleICEStateChange(state webrtc.ICEConnectionState) {
	s.logger.Debug("ICE state change", "state", state.String())
	switch state {
	case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
		s.Close()
	}
}

func (s *webrtcSession) AcceptStream(ctx context.Context) (Stream, error) {
	select {
	case stream := <-s.streams:
		if err := readPreamble(ctx, stream); err != nil {
			stream.Close()
			return nil, err
		}
		peer, err := handshake(ctx, stream, s.key, "")
		if err != nil {
			stream.Close()
			return nil, err
		}
		s.mu.Lock()
		s.peer = peer
		s.mu.Unlock()
		return stream, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, net.ErrClosed
	}
}

func (s *webrtcSession) RemoteIdentity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peer == "" {
		return s.remote
	}
	return s.peer + "@" + s.remote
}

func (s *webrtcSession) Done() <-chan struct{} {
	return s.done
}

// Close may be re-entered from the ICE state callback that pc.Close
// triggers; only the first call acts.
func (s *webrtcSession) Close() error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)
	return s.pc.Close()
}

// WebRTCDialer connects to a WebRTCListener through its signaling URL.
type WebRTCDialer struct {
	ICE ICEConfig

	// Key is the dialer's identity. When nil an ephemeral key is
	// generated per dial.
	Key ed25519.PrivateKey

	// HTTPClient sends the offer. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// DialContext establishes a PeerConnection with the listener at
// address ("<identity>@<signaling URL>"), opens the data channel,
// writes the stream preamble, and verifies the listener's identity.
// Closing the stream closes the PeerConnection.
func (d *WebRTCDialer) DialContext(ctx context.Context, address string) (Stream, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	expected, signalingURL, ok := strings.Cut(address, "@")
	if !ok || expected == "" || signalingURL == "" {
		return nil, fmt.Errorf("WebRTC address %q is not of the form <identity>@<url>", address)
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

	pc, err := newPeerConnection(d.ICE)
	if err != nil {
		return nil, fmt.Errorf("creating PeerConnection: %w", err)
	}
	success := false
	defer func() {
		if !success {
			pc.Close()
		}
	}()

	failed := make(chan struct{})
	var failOnce sync.Once
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		logger.Debug("ICE state change", "state", state.String())
		if state == webrtc.ICEConnectionStateFailed {
			failOnce.Do(func() { close(failed) })
		}
	})

	ordered := true
	dc, err := pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, fmt.Errorf("creating data channel: %w", err)
	}
	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("creating SDP offer: %w", err)
	}
	if err := gatherLocalDescription(ctx, pc, offer); err != nil {
		return nil, err
	}

	answer, err := d.signal(ctx, signalingURL, pc.LocalDescription().SDP)
	if err != nil {
		return nil, err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return nil, fmt.Errorf("setting remote description: %w", err)
	}

	timeout := time.NewTimer(dataChannelOpenTimeout)
	defer timeout.Stop()
	select {
	case <-opened:
	case <-failed:
		return nil, fmt.Errorf("ICE connection to %s failed", signalingURL)
	case <-timeout.C:
		return nil, fmt.Errorf("data channel did not open within %s", dataChannelOpenTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	raw, err := dc.Detach()
	if err != nil {
		return nil, fmt.Errorf("detaching data channel: %w", err)
	}
	conn := NewDataChannelConn(raw, dataChannelLabel, func() { pc.Close() })
	if err := writePreamble(conn); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := handshake(ctx, conn, key, expected); err != nil {
		conn.Close()
		return nil, err
	}
	success = true
	logger.Info("WebRTC stream established", "address", address)
	return conn, nil
}

// signal POSTs the offer and returns the answer.
func (d *WebRTCDialer) signal(ctx context.Context, address, offer string) (string, error) {
	client := d.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, address, bytes.NewReader([]byte(offer)))
	if err != nil {
		return "", fmt.Errorf("building signaling request: %w", err)
	}
	request.Header.Set("Content-Type", sdpContentType)

	response, err := client.Do(request)
	if err != nil {
		return "", fmt.Errorf("sending SDP offer: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxSDPSize))
	if err != nil {
		return "", fmt.Errorf("reading SDP answer: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("signaling rejected with %s: %s", response.Status, bytes.TrimSpace(body))
	}
	return string(body), nil
}

// gatherLocalDescription sets description as the local description and
// waits for ICE gathering to complete (vanilla ICE).
func gatherLocalDescription(ctx context.Context, pc *webrtc.PeerConnection, description webrtc.SessionDescription) error {
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(description); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}
	timeout := time.NewTimer(iceGatherTimeout)
	defer timeout.Stop()
	select {
	case <-gatherComplete:
		return nil
	case <-timeout.C:
		return fmt.Errorf("ICE gathering timed out after %s", iceGatherTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// newPeerConnection creates a pion PeerConnection for config.
func newPeerConnection(config ICEConfig) (*webrtc.PeerConnection, error) {
	// Use a SettingEngine to enable data channel detach (required for
	// stream-oriented ReadWriteCloser access) and loopback ICE candidates
	// (required for same-machine transport and test environments where
	// loopback is the only available interface).
	settingEngine := webrtc.SettingEngine{}
	settingEngine.DetachDataChannels()
	settingEngine.SetIncludeLoopbackCandidate(true)

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))
	return api.NewPeerConnection(webrtc.Configuration{
		ICEServers: config.Servers,
	})
}
