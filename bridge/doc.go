// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge connects direct operator sessions to a hardware
// backend.
//
// [Bridge.Serve] accepts sessions from a [transport.Listener] and keeps
// exactly one of them active. A new session replaces the active one:
// the occupant's context is cancelled, its pump is awaited, and the
// backend's state channel it owned is handed to the newcomer. The
// state channel therefore never has two readers, and handover cannot
// interleave or duplicate state.
//
// Each active session runs a pump with two halves. Backend to network
// takes one state item, opportunistically appends up to seven more that
// are already queued, and writes them in a single stream write.
// Network to backend forwards each read as one command with a blocking
// send, so a busy device backpressures the operator instead of losing
// commands. When either half ends the other is cancelled and the stream
// is closed. Before taking its stream a pump discards state queued
// while nobody was attached.
//
// Session failures are normal handover triggers, not errors. Serve
// returns [backend.ErrClosed] only when the backend terminated.
// [Bridge.ServeOne] serves a single session without handover.
package bridge
