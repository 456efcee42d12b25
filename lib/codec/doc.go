// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides hwlink's standard CBOR encoding configuration.
//
// hwlink keeps two encodings strictly apart:
//
//   - The 72-byte CAN wire record (lib/canframe) is the only format
//     carried on data paths. It is fixed-size and never wrapped.
//   - CBOR carries small control messages: relay subscribe requests
//     and track announcements (relay/wsrelay).
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same control message always produces identical bytes:
//
//	data, err := codec.Marshal(announcement)
//	err = codec.Unmarshal(data, &announcement)
//
// Control message types carry `cbor` struct tags only; they are never
// rendered as JSON.
package codec
