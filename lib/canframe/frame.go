// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package canframe

import (
	"errors"
	"fmt"
)

const (
	// RecordSize is the size of one encoded frame.
	RecordSize = 72

	// MaxStandardData is the payload limit of a classic CAN frame.
	MaxStandardData = 8

	// MaxFlexibleData is the payload limit of a CAN FD frame.
	MaxFlexibleData = 64

	// MaxStandardID is the largest 11-bit identifier.
	MaxStandardID = 0x7FF

	// MaxExtendedID is the largest 29-bit identifier.
	MaxExtendedID = 0x1FFFFFFF
)

// Identifier word flags.
const (
	flagExtended = 1 << 31
	flagRemote   = 1 << 30
)

// Flag byte bits.
const (
	flagBitRateSwitch = 1 << 0
	flagErrorState    = 1 << 1
)

var (
	// ErrShortRead is returned by Decode when fewer than RecordSize
	// bytes are available.
	ErrShortRead = errors.New("canframe: short read")

	// ErrInvalidLength is returned by Decode when the length byte
	// exceeds what the frame kind allows.
	ErrInvalidLength = errors.New("canframe: invalid length")

	// ErrInvalidFrame is returned by Encode and Validate for frames
	// violating the identifier or payload limits.
	ErrInvalidFrame = errors.New("canframe: invalid frame")
)

// Frame is either a StandardFrame or a FlexibleFrame.
type Frame interface {
	// Identifier returns the 11- or 29-bit CAN identifier.
	Identifier() uint32

	// IsExtended reports whether the identifier is 29-bit.
	IsExtended() bool

	// Payload returns the data bytes. Callers must not modify it.
	Payload() []byte

	// Validate checks the identifier range and payload length.
	Validate() error

	isFrame()
}

// StandardFrame is a classic CAN frame.
type StandardFrame struct {
	ID       uint32
	Extended bool
	// Remote marks a remote transmission request. Its Data carries
	// no information beyond its length, and encodes as zeros.
	Remote bool
	Data   []byte
}

// FlexibleFrame is a CAN FD frame.
type FlexibleFrame struct {
	ID            uint32
	Extended      bool
	BitRateSwitch bool
	ErrorState    bool
	Data          []byte
}

func (f StandardFrame) Identifier() uint32 { return f.ID }
func (f StandardFrame) IsExtended() bool   { return f.Extended }
func (f StandardFrame) Payload() []byte    { return f.Data }
func (StandardFrame) isFrame()             {}

func (f FlexibleFrame) Identifier() uint32 { return f.ID }
func (f FlexibleFrame) IsExtended() bool   { return f.Extended }
func (f FlexibleFrame) Payload() []byte    { return f.Data }
func (FlexibleFrame) isFrame()             {}

// Validate checks the identifier and the 8-byte payload limit.
func (f StandardFrame) Validate() error {
	if err := validateID(f.ID, f.Extended); err != nil {
		return err
	}
	if len(f.Data) > MaxStandardData {
		return fmt.Errorf("%w: %d data bytes exceeds %d", ErrInvalidFrame, len(f.Data), MaxStandardData)
	}
	return nil
}

// Validate checks the identifier and the 64-byte payload limit.
func (f FlexibleFrame) Validate() error {
	if err := validateID(f.ID, f.Extended); err != nil {
		return err
	}
	if len(f.Data) > MaxFlexibleData {
		return fmt.Errorf("%w: %d data bytes exceeds %d", ErrInvalidFrame, len(f.Data), MaxFlexibleData)
	}
	return nil
}

func validateID(id uint32, extended bool) error {
	limit := uint32(MaxStandardID)
	if extended {
		limit = MaxExtendedID
	}
	if id > limit {
		return fmt.Errorf("%w: identifier %#x exceeds %#x", ErrInvalidFrame, id, limit)
	}
	return nil
}

// Equal reports whether a and b are the same kind of frame with the
// same fields and payload bytes. A nil and an empty payload are equal.
func Equal(a, b Frame) bool {
	switch x := a.(type) {
	case StandardFrame:
		y, ok := b.(StandardFrame)
		return ok && x.ID == y.ID && x.Extended == y.Extended &&
			x.Remote == y.Remote && string(x.Data) == string(y.Data)
	case FlexibleFrame:
		y, ok := b.(FlexibleFrame)
		return ok && x.ID == y.ID && x.Extended == y.Extended &&
			x.BitRateSwitch == y.BitRateSwitch && x.ErrorState == y.ErrorState &&
			string(x.Data) == string(y.Data)
	}
	return false
}
