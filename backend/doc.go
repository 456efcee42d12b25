// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package backend owns the physical device (or its simulation) and
// exposes it to the rest of hwlink only through bounded byte queues.
//
// [Channels] is the consumer view handed to the bridge and the relay
// loops:
//
//   - Write carries commands into the device. Capacity 1, so a pending
//     command blocks further senders; the direct session blocks on it,
//     the relay subscriber drops on it, and that asymmetry is the whole
//     priority scheme.
//   - Read carries device state out. It has exactly one consumer at a
//     time: whichever session pump the bridge has made active.
//   - Fanout duplicates state for the relay publisher. It is larger and
//     lossy; nil when relay publishing is disabled.
//   - Done closes when the backend terminates. Senders select on it
//     rather than relying on a closed Write channel, since in Go only
//     the sending side may close a channel.
//
// [Queues] holds both ends of those channels. Backends call
// [Queues.Publish] for every state item and drain [Queues.Commands].
// Device I/O that blocks in the kernel (SocketCAN, serial ports) runs
// on dedicated goroutines that touch nothing but the queues.
//
// Implementations: [CANSimulator] (a simulated motor array),
// [SerialEcho] (a loopback line), [SocketCAN] and [SerialPort] (Linux
// hardware).
package backend
