// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/hwlink/lib/config"
)

// options holds the command line. Flags that were set override the
// configuration file.
type options struct {
	configPath   string
	backendKind  string
	canInterface string
	serialDevice string
	baud         int
	transport    string
	listen       string
	advertise    string
	keyDir       string
	iceServers   []string
	httpListen   string
	relayURL     string
	relayBase    string
	insecure     bool
	singleShot   bool
	verbose      bool
	showVersion  bool
}

func (o *options) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&o.configPath, "config", "", "path to hwlink.yaml (default: $"+config.EnvVar+")")
	flagSet.StringVar(&o.backendKind, "backend", "", "device backend: cansim, socketcan, echo, or serial")
	flagSet.StringVar(&o.canInterface, "can-interface", "", "SocketCAN interface, e.g. can0")
	flagSet.StringVar(&o.serialDevice, "serial-device", "", "serial device path, e.g. /dev/ttyUSB0")
	flagSet.IntVar(&o.baud, "baud", 0, "serial line rate")
	flagSet.StringVar(&o.transport, "transport", "", "direct transport: quic, webrtc, or tcp")
	flagSet.StringVarP(&o.listen, "listen", "l", "", "direct transport listen address")
	flagSet.StringVar(&o.advertise, "advertise", "", "address or signaling URL given to clients")
	flagSet.StringVar(&o.keyDir, "key-dir", "", "directory holding the identity key")
	flagSet.StringSliceVar(&o.iceServers, "ice-server", nil, "STUN/TURN URL for webrtc (repeatable)")
	flagSet.StringVar(&o.httpListen, "http-listen", "", "address serving /metrics and webrtc signaling")
	flagSet.StringVar(&o.relayURL, "relay-url", "", "relay URL; enables the relay loops")
	flagSet.StringVar(&o.relayBase, "relay-base", "", "base path of this server on the relay")
	flagSet.BoolVar(&o.insecure, "insecure", false, "skip relay TLS certificate verification")
	flagSet.BoolVar(&o.singleShot, "single-shot", false, "serve one direct session and exit")
	flagSet.BoolVarP(&o.verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolVar(&o.showVersion, "version", false, "print version information and exit")
}

// apply copies every flag the user set into cfg.
func (o *options) apply(flagSet *pflag.FlagSet, cfg *config.Config) {
	changed := flagSet.Changed
	if changed("backend") {
		cfg.Backend.Kind = o.backendKind
	}
	if changed("can-interface") {
		cfg.Backend.CANInterface = o.canInterface
	}
	if changed("serial-device") {
		cfg.Backend.SerialDevice = o.serialDevice
	}
	if changed("baud") {
		cfg.Backend.Baud = o.baud
	}
	if changed("transport") {
		cfg.Direct.Transport = o.transport
	}
	if changed("listen") {
		cfg.Direct.Listen = o.listen
	}
	if changed("advertise") {
		cfg.Direct.Advertise = o.advertise
	}
	if changed("key-dir") {
		cfg.Direct.KeyDir = o.keyDir
	}
	if changed("ice-server") {
		cfg.Direct.ICEServers = o.iceServers
	}
	if changed("http-listen") {
		cfg.HTTP.Listen = o.httpListen
	}
	if changed("relay-url") || changed("relay-base") || changed("insecure") {
		if cfg.Relay == nil {
			cfg.Relay = &config.RelayConfig{}
		}
		if changed("relay-url") {
			cfg.Relay.URL = o.relayURL
		}
		if changed("relay-base") {
			cfg.Relay.BasePath = o.relayBase
		}
		if changed("insecure") {
			cfg.Relay.Insecure = o.insecure
		}
	}
	if changed("single-shot") {
		cfg.SingleShot = o.singleShot
	}
}
