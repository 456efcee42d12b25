// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wsrelay implements the relay over WebSockets.
//
// [Hub] is an http.Handler that routes publishers and subscribers by
// URL path. A publisher connects with ?role=publish&track=T and sends
// one binary WebSocket message per relay message. A subscriber
// connects with ?role=subscribe, receives announcements of the tracks
// published at its path, and requests a track by sending a CBOR
// {"track": T} message.
//
// Every hub-to-subscriber message is binary and starts with a kind
// byte:
//
//	1  announce   CBOR {"track": T}
//	2  data       raw message bytes
//	3  ended      CBOR {"track": T}
//
// A browser monitor can therefore subscribe directly and strip the
// first byte of each data message to obtain the 72-byte frame records.
//
// [Client] implements relay.Client against a Hub.
package wsrelay
