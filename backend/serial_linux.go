// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// DefaultBaud is used when SerialPortConfig.Baud is zero.
const DefaultBaud = 115200

// serialReadSize bounds a single state item read from the line.
const serialReadSize = 4096

var baudRates = map[int]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	500000:  unix.B500000,
	921600:  unix.B921600,
	1000000: unix.B1000000,
	2000000: unix.B2000000,
	3000000: unix.B3000000,
	4000000: unix.B4000000,
}

// SerialPortConfig configures a SerialPort backend.
type SerialPortConfig struct {
	// Device is the tty path, e.g. "/dev/ttyUSB0".
	Device string

	// Baud is the line rate. Defaults to DefaultBaud.
	Baud int

	Logger *slog.Logger
}

// SerialPort is a Backend bridging a raw serial line. Bytes read from
// the line become state items as they arrive; command items are
// written verbatim.
type SerialPort struct {
	queues *Queues
	device string
	baud   int
	speed  uint32
	logger *slog.Logger
}

// NewSerialPort creates a SerialPort backend publishing through queues.
// The device is opened by Run.
func NewSerialPort(queues *Queues, config SerialPortConfig) (*SerialPort, error) {
	if config.Device == "" {
		return nil, errors.New("serial device path is required")
	}
	if config.Baud == 0 {
		config.Baud = DefaultBaud
	}
	speed, ok := baudRates[config.Baud]
	if !ok {
		return nil, fmt.Errorf("unsupported baud rate %d", config.Baud)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &SerialPort{
		queues: queues,
		device: config.Device,
		baud:   config.Baud,
		speed:  speed,
		logger: config.Logger.With("device", config.Device),
	}, nil
}

func (p *SerialPort) Channels() Channels {
	return p.queues.Channels()
}

// Run opens and configures the line, then bridges it until ctx is
// cancelled or the line fails.
func (p *SerialPort) Run(ctx context.Context) error {
	file, err := p.open()
	if err != nil {
		p.queues.Close()
		return err
	}

	// readerCtx releases a reader blocked on a full read queue.
	readerCtx, stopReader := context.WithCancel(ctx)
	readerDone := make(chan error, 1)
	go func() {
		readerDone <- p.readLoop(readerCtx, file)
	}()
	readerRunning := true
	defer func() {
		stopReader()
		file.Close()
		if readerRunning {
			<-readerDone
		}
		p.queues.Close()
	}()

	p.logger.Info("serial backend running", "baud", p.baud)

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-readerDone:
			readerRunning = false
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading from %s: %w", p.device, err)

		case item := <-p.queues.Commands():
			if _, err := file.Write(item); err != nil {
				return fmt.Errorf("writing to %s: %w", p.device, err)
			}
		}
	}
}

func (p *SerialPort) readLoop(ctx context.Context, file *os.File) error {
	buffer := make([]byte, serialReadSize)
	for {
		n, err := file.Read(buffer)
		if n > 0 {
			item := make([]byte, n)
			copy(item, buffer[:n])
			if publishErr := p.queues.Publish(ctx, item); publishErr != nil {
				return publishErr
			}
		}
		if err != nil {
			return err
		}
	}
}

// open opens the tty non-blocking (so Close unblocks a pending Read)
// and puts it in raw 8N1 mode at the configured speed.
func (p *SerialPort) open() (*os.File, error) {
	file, err := os.OpenFile(p.device, os.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("opening serial device: %w", err)
	}

	raw, err := file.SyscallConn()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("accessing serial device: %w", err)
	}
	var configureErr error
	err = raw.Control(func(fd uintptr) {
		configureErr = configureRaw(int(fd), p.speed)
	})
	if err == nil {
		err = configureErr
	}
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("configuring %s: %w", p.device, err)
	}
	return file, nil
}

func configureRaw(fd int, speed uint32) error {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CBAUD
	termios.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	termios.Ispeed = speed
	termios.Ospeed = speed
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0
	return unix.IoctlSetTermios(fd, unix.TCSETS, termios)
}
