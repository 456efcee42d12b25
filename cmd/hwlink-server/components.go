// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bureau-foundation/hwlink/backend"
	"github.com/bureau-foundation/hwlink/lib/config"
	"github.com/bureau-foundation/hwlink/transport"
)

// signalingPath is where the WebRTC listener answers offers.
const signalingPath = "/webrtc"

// newBackend builds the configured device over queues.
func newBackend(cfg *config.Config, queues *backend.Queues, logger *slog.Logger) (backend.Backend, error) {
	switch cfg.Backend.Kind {
	case config.BackendCANSim:
		interval, err := cfg.StateIntervalDuration()
		if err != nil {
			return nil, err
		}
		return backend.NewCANSimulator(queues, backend.SimulatorConfig{
			Motors:        cfg.Backend.Motors,
			StateInterval: interval,
			Logger:        logger,
		})
	case config.BackendSocketCAN:
		return backend.NewSocketCAN(queues, backend.SocketCANConfig{
			Interface: cfg.Backend.CANInterface,
			Logger:    logger,
		})
	case config.BackendEcho:
		return backend.NewSerialEcho(queues, logger), nil
	case config.BackendSerial:
		return backend.NewSerialPort(queues, backend.SerialPortConfig{
			Device: cfg.Backend.SerialDevice,
			Baud:   cfg.Backend.Baud,
			Logger: logger,
		})
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend.Kind)
}

// newListener builds the configured direct transport. For webrtc it
// also returns the signaling handler to mount at signalingPath.
func newListener(cfg *config.Config, logger *slog.Logger) (transport.Listener, http.Handler, error) {
	if cfg.Direct.Transport == config.TransportTCP {
		listener, err := transport.NewTCPListener(cfg.Direct.Listen)
		if err != nil {
			return nil, nil, err
		}
		return listener, nil, nil
	}

	key, generated, err := transport.LoadOrGenerateKey(cfg.Direct.KeyDir)
	if err != nil {
		return nil, nil, err
	}
	if generated {
		logger.Info("generated new identity key", "key_dir", cfg.Direct.KeyDir)
	}

	switch cfg.Direct.Transport {
	case config.TransportQUIC:
		listener, err := transport.NewQUICListener(cfg.Direct.Listen, cfg.Direct.Advertise, key)
		if err != nil {
			return nil, nil, err
		}
		return listener, nil, nil
	case config.TransportWebRTC:
		advertise := cfg.Direct.Advertise
		if advertise == "" {
			advertise = signalingURL(cfg.HTTP.Listen)
		}
		ice := transport.NewICEConfig(cfg.Direct.ICEServers, cfg.Direct.ICEUsername, cfg.Direct.ICECredential)
		listener := transport.NewWebRTCListener(advertise, key, ice, logger)
		return listener, listener, nil
	}
	return nil, nil, fmt.Errorf("unknown transport %q", cfg.Direct.Transport)
}

// signalingURL derives the default signaling URL from the HTTP listen
// address. A wildcard host is replaced by localhost; operators serving
// remote clients set --advertise.
func signalingURL(httpListen string) string {
	host, port, found := strings.Cut(httpListen, ":")
	if !found {
		return "http://" + httpListen + signalingPath
	}
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return "http://" + host + ":" + port + signalingPath
}
