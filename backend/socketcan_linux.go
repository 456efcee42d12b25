// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/hwlink/lib/canframe"
	"github.com/bureau-foundation/hwlink/lib/clock"
)

const (
	// writeRetries is how many times a write is retried after the
	// kernel reports a full transmit queue.
	writeRetries = 3

	writeRetryPause = time.Millisecond
)

// SocketCANConfig configures a SocketCAN backend.
type SocketCANConfig struct {
	// Interface is the CAN network interface, e.g. "can0" or "vcan0".
	Interface string

	Clock  clock.Clock
	Logger *slog.Logger
}

// SocketCAN is a Backend bridging a Linux CAN interface through a raw
// socket with CAN FD frames enabled.
type SocketCAN struct {
	queues *Queues
	iface  string
	clock  clock.Clock
	logger *slog.Logger
}

// NewSocketCAN creates a SocketCAN backend publishing through queues.
// The socket is opened by Run.
func NewSocketCAN(queues *Queues, config SocketCANConfig) (*SocketCAN, error) {
	if config.Interface == "" {
		return nil, errors.New("CAN interface name is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &SocketCAN{
		queues: queues,
		iface:  config.Interface,
		clock:  config.Clock,
		logger: config.Logger.With("interface", config.Interface),
	}, nil
}

func (c *SocketCAN) Channels() Channels {
	return c.queues.Channels()
}

// Run opens the socket and bridges it until ctx is cancelled or the
// socket fails. Reads happen on a dedicated goroutine; writes happen
// here.
func (c *SocketCAN) Run(ctx context.Context) error {
	file, err := openCANSocket(c.iface)
	if err != nil {
		c.queues.Close()
		return err
	}

	// readerCtx releases a reader blocked on a full read queue.
	readerCtx, stopReader := context.WithCancel(ctx)
	readerDone := make(chan error, 1)
	go func() {
		readerDone <- c.readLoop(readerCtx, file)
	}()
	readerRunning := true
	defer func() {
		stopReader()
		file.Close()
		if readerRunning {
			<-readerDone
		}
		c.queues.Close()
	}()

	c.logger.Info("SocketCAN backend running")

	var assembler recordAssembler
	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readerDone:
			readerRunning = false
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading from %s: %w", c.iface, err)

		case item := <-c.queues.Commands():
			frames, decodeErr := assembler.Feed(item)
			for _, frame := range frames {
				if err := c.writeFrame(file, toKernel(frame)); err != nil {
					return fmt.Errorf("writing to %s: %w", c.iface, err)
				}
			}
			if decodeErr != nil {
				c.logger.Warn("discarding malformed command data", "error", decodeErr)
			}
		}
	}
}

func (c *SocketCAN) readLoop(ctx context.Context, file *os.File) error {
	buffer := make([]byte, kernelFlexibleSize)
	for {
		n, err := file.Read(buffer)
		if err != nil {
			return err
		}
		frame, ok := fromKernel(buffer[:n])
		if !ok {
			continue
		}
		record, err := canframe.Encode(frame)
		if err != nil {
			c.logger.Debug("dropping unrepresentable frame", "error", err)
			continue
		}
		if err := c.queues.Publish(ctx, record[:]); err != nil {
			return err
		}
	}
}

// writeFrame writes one kernel frame. A full transmit queue (ENOBUFS)
// is retried a few times and then the frame is dropped; any other
// error is returned.
func (c *SocketCAN) writeFrame(file *os.File, raw []byte) error {
	for attempt := 0; ; attempt++ {
		_, err := file.Write(raw)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.ENOBUFS) {
			return err
		}
		if attempt == writeRetries {
			c.logger.Warn("transmit queue full, dropping frame", "attempts", attempt+1)
			return nil
		}
		c.clock.Sleep(writeRetryPause)
	}
}

// openCANSocket opens a non-blocking raw CAN socket bound to iface, so
// that the returned file integrates with the runtime poller and Close
// unblocks a pending Read.
func openCANSocket(iface string) (*os.File, error) {
	netInterface, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("looking up CAN interface: %w", err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("creating CAN socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("enabling CAN FD frames on %s: %w", iface, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: netInterface.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("binding CAN socket to %s: %w", iface, err)
	}
	return os.NewFile(uintptr(fd), "can:"+iface), nil
}
