// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"io"
	"sync"
)

// DataChannelConn wraps a detached pion data channel as a Stream. The
// detached channel is stream-oriented (SCTP handles fragmentation and
// reassembly), so it behaves like a TCP connection to the pump.
//
// Closing the conn closes the data channel and then runs onClose,
// which the dialer uses to tear down its PeerConnection.
type DataChannelConn struct {
	rwc     io.ReadWriteCloser
	label   string
	onClose func()

	closeOnce sync.Once
	closeErr  error
}

// Compile-time interface check.
var _ Stream = (*DataChannelConn)(nil)

// NewDataChannelConn wraps a detached data channel. onClose may be nil.
func NewDataChannelConn(rwc io.ReadWriteCloser, label string, onClose func()) *DataChannelConn {
	return &DataChannelConn{rwc: rwc, label: label, onClose: onClose}
}

func (c *DataChannelConn) Read(buffer []byte) (int, error) {
	return c.rwc.Read(buffer)
}

func (c *DataChannelConn) Write(buffer []byte) (int, error) {
	return c.rwc.Write(buffer)
}

// Close is idempotent.
func (c *DataChannelConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.rwc.Close()
		if c.onClose != nil {
			c.onClose()
		}
	})
	return c.closeErr
}

// Label returns the data channel label.
func (c *DataChannelConn) Label() string {
	return c.label
}
