// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wsrelay

import (
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/hwlink/lib/codec"
)

// Message kinds sent from the hub to subscribers.
const (
	kindAnnounce byte = 1
	kindData     byte = 2
	kindEnded    byte = 3
)

// Query parameters selecting a connection's role.
const (
	roleParam      = "role"
	trackParam     = "track"
	rolePublish    = "publish"
	roleSubscribe  = "subscribe"
	maxMessageSize = 1 << 20
	writeTimeout   = 10 * time.Second
)

// trackMessage is the CBOR body of announce, ended, and subscribe
// messages.
type trackMessage struct {
	Track string `cbor:"track"`
}

// encodeTrack builds a kind-prefixed announce or ended message.
func encodeTrack(kind byte, track string) ([]byte, error) {
	body, err := codec.Marshal(trackMessage{Track: track})
	if err != nil {
		return nil, fmt.Errorf("encoding track message: %w", err)
	}
	return append([]byte{kind}, body...), nil
}

// encodeTrackRequest builds a subscriber's request for track. Requests
// carry no kind byte.
func encodeTrackRequest(track string) ([]byte, error) {
	body, err := codec.Marshal(trackMessage{Track: track})
	if err != nil {
		return nil, fmt.Errorf("encoding subscribe request: %w", err)
	}
	return body, nil
}

// encodeData builds a data message. The payload is copied.
func encodeData(payload []byte) []byte {
	message := make([]byte, 1+len(payload))
	message[0] = kindData
	copy(message[1:], payload)
	return message
}

// decodeTrack parses a CBOR track body.
func decodeTrack(body []byte) (string, error) {
	var message trackMessage
	if err := codec.Unmarshal(body, &message); err != nil {
		return "", fmt.Errorf("decoding track message: %w", err)
	}
	if message.Track == "" {
		return "", errors.New("wsrelay: track message without a track")
	}
	return message.Track, nil
}
