// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"github.com/pion/webrtc/v4"
)

// ICEConfig holds ICE server configuration for WebRTC PeerConnections.
type ICEConfig struct {
	// Servers is the list of ICE servers (STUN + TURN) to use during
	// candidate gathering. Order matters: pion tries them in sequence.
	Servers []webrtc.ICEServer
}

// NewICEConfig builds an ICEConfig from STUN/TURN URLs sharing one set
// of credentials (empty for STUN-only). With no URLs the result gathers
// host candidates only, which is enough on a LAN.
func NewICEConfig(urls []string, username, credential string) ICEConfig {
	if len(urls) == 0 {
		return ICEConfig{}
	}
	return ICEConfig{
		Servers: []webrtc.ICEServer{
			{
				URLs:       urls,
				Username:   username,
				Credential: credential,
			},
		},
	}
}
