// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package canframe implements the fixed-size CAN wire record shared by
// every hwlink producer and consumer: the direct transports, the relay,
// the hardware-facing backends, and the operator client.
//
// A record is exactly [RecordSize] (72) bytes:
//
//	offset  size  field
//	0       4     identifier word, little-endian
//	              bits 0-28 identifier, bit 30 remote request, bit 31 extended
//	4       1     payload length, 0-64
//	5       1     flags: bit 0 bit-rate switch, bit 1 error state indicator
//	6       2     reserved, zero
//	8       64    payload, zero-padded past length
//
// The layout mirrors Linux struct canfd_frame, so the SocketCAN backend
// converts between kernel frames and records by copying.
//
// [Frame] is a closed union of [StandardFrame] (classic CAN, up to 8
// data bytes, optional remote request) and [FlexibleFrame] (CAN FD, up
// to 64 data bytes). [Decode] reconstructs a FlexibleFrame when the
// flag byte is nonzero or the length exceeds 8; a FlexibleFrame with
// neither property is indistinguishable on the wire from a classic
// frame and decodes as a StandardFrame.
//
// [Encode] and [Decode] are pure. [DecodeAll] and [Reader] handle
// concatenated records: a session pump batches several records into
// one network write, so receivers see multiples of 72 bytes.
package canframe
