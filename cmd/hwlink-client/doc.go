// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// hwlink-client talks to an hwlink-server directly or through a relay.
//
//	hwlink-client --address <identity>@host:4433 dump
//	hwlink-client --address <identity>@host:4433 send 123#01020304 1ABCDEF0##1AABB
//	hwlink-client --transport tcp --address host:4433 console
//	hwlink-client --relay-url wss://relay.example.net --relay-base labs/rig-1 dump
//
// dump decodes the 72-byte frame records of the state stream and prints
// them in can-utils notation. send encodes frames from the same
// notation and writes them as commands. console puts the terminal in
// raw mode and connects it to a serial backend; Ctrl-] exits.
//
// A direct connection takes over the server's single session slot from
// whoever held it.
package main
