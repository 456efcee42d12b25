// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay connects a backend to a publish/subscribe relay so that
// clients who cannot reach the server directly can still observe state
// and send commands.
//
// Two independent loops share one backend:
//
//   - [StatePublisher] republishes backend state from the fan-out queue
//     to the relay's state path. It reconnects with exponential backoff
//     and discards state that accumulated while it was disconnected.
//   - [CommandSubscriber] reads commands from the relay's commands path
//     and offers each to the backend write queue without blocking. A
//     command pending from a direct session always wins: when the queue
//     is full the relay command is dropped.
//
// The relay itself is abstracted by [Client]. Package wsrelay provides
// a WebSocket implementation of both the client and the hub.
package relay
