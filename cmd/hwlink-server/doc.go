// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// hwlink-server bridges one CAN or serial device to remote operators.
//
// A single operator at a time holds a direct session over QUIC, WebRTC,
// or TCP; a newer session takes over from an older one. When a relay is
// configured the server also publishes device state to the relay and
// accepts commands from it, with direct-session commands taking
// priority.
//
// On startup the server prints its direct-transport identity on
// stdout. Clients dial that string.
//
//	hwlink-server --backend cansim --transport quic --listen 0.0.0.0:4433
//	hwlink-server --config /etc/hwlink/hwlink.yaml --relay-url wss://relay.example.net --relay-base labs/rig-1
package main
