// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// hwlink-relay runs a standalone WebSocket relay hub. hwlink-server
// instances publish state to it and subscribe to commands from it;
// clients and browser monitors connect to the same paths.
//
//	hwlink-relay --listen 0.0.0.0:8443 --tls-cert relay.crt --tls-key relay.key
package main
