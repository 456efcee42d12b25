// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport carries direct operator sessions to hwlink-server.
//
// A [Listener] yields [Session]s; the bridge takes one bidirectional
// [Stream] from each session with [Session.AcceptStream]. A [Dialer]
// is the operator side: it connects, opens the stream, and writes a
// four-byte preamble ("HWL1") that AcceptStream verifies. QUIC only
// announces a stream to the acceptor once the opener sends on it, and
// the preamble doubles as a check that the peer speaks hwlink.
//
// Three implementations:
//
//   - [QUICListener] / [QUICDialer] (quic-go) is the production
//     transport. Both ends hold Ed25519 identity keys
//     ([LoadOrGenerateKey]) and present self-signed certificates for
//     them; the dialer checks the listener's certificate key against
//     the identity in the address "<identity>@host:port".
//   - [WebRTCListener] / [WebRTCDialer] (pion/webrtc) traverses NAT.
//     Signaling is a single HTTP POST of the dialer's complete SDP
//     offer to the listener, which is an http.Handler, and the answer
//     comes back in the response (vanilla ICE). The first data channel
//     of each PeerConnection is the stream, wrapped by
//     [DataChannelConn], and an Ed25519 handshake on it proves both
//     identities. [ICEConfig] holds STUN/TURN servers.
//   - [TCPListener] / [TCPDialer] is for development on a trusted LAN.
//
// Identities are lowercase base32 Ed25519 public keys ([Identity]).
package transport
