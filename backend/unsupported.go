// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package backend

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bureau-foundation/hwlink/lib/clock"
)

// DefaultBaud is used when SerialPortConfig.Baud is zero.
const DefaultBaud = 115200

var errUnsupported = errors.New("hardware backends require Linux")

// SocketCANConfig configures a SocketCAN backend.
type SocketCANConfig struct {
	Interface string
	Clock     clock.Clock
	Logger    *slog.Logger
}

// SocketCAN is unavailable on this platform.
type SocketCAN struct{ queues *Queues }

func NewSocketCAN(queues *Queues, config SocketCANConfig) (*SocketCAN, error) {
	return nil, errUnsupported
}

func (c *SocketCAN) Channels() Channels            { return c.queues.Channels() }
func (c *SocketCAN) Run(ctx context.Context) error { return errUnsupported }

// SerialPortConfig configures a SerialPort backend.
type SerialPortConfig struct {
	Device string
	Baud   int
	Logger *slog.Logger
}

// SerialPort is unavailable on this platform.
type SerialPort struct{ queues *Queues }

func NewSerialPort(queues *Queues, config SerialPortConfig) (*SerialPort, error) {
	return nil, errUnsupported
}

func (p *SerialPort) Channels() Channels            { return p.queues.Channels() }
func (p *SerialPort) Run(ctx context.Context) error { return errUnsupported }
