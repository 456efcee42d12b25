// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"encoding/binary"

	"github.com/bureau-foundation/hwlink/lib/canframe"
)

// Linux SocketCAN frame layouts (struct can_frame and struct
// canfd_frame). The identifier word is in host byte order.
const (
	kernelClassicSize  = 16
	kernelFlexibleSize = 72

	kernelExtendedFlag = 0x80000000
	kernelRemoteFlag   = 0x40000000
	kernelErrorFlag    = 0x20000000

	kernelBitRateSwitch = 0x01
	kernelErrorState    = 0x02
	kernelFDFrame       = 0x04
)

// fromKernel converts one frame read from a raw CAN socket. Error
// frames and unknown sizes report ok=false.
func fromKernel(raw []byte) (frame canframe.Frame, ok bool) {
	if len(raw) != kernelClassicSize && len(raw) != kernelFlexibleSize {
		return nil, false
	}
	word := binary.NativeEndian.Uint32(raw[0:4])
	if word&kernelErrorFlag != 0 {
		return nil, false
	}
	extended := word&kernelExtendedFlag != 0
	id := word & canframe.MaxStandardID
	if extended {
		id = word & canframe.MaxExtendedID
	}
	length := int(raw[4])

	if len(raw) == kernelClassicSize {
		length = min(length, canframe.MaxStandardData)
		remote := word&kernelRemoteFlag != 0
		data := make([]byte, length)
		if !remote {
			copy(data, raw[8:8+length])
		}
		return canframe.StandardFrame{ID: id, Extended: extended, Remote: remote, Data: data}, true
	}

	length = min(length, canframe.MaxFlexibleData)
	data := make([]byte, length)
	copy(data, raw[8:8+length])
	return canframe.FlexibleFrame{
		ID:            id,
		Extended:      extended,
		BitRateSwitch: raw[5]&kernelBitRateSwitch != 0,
		ErrorState:    raw[5]&kernelErrorState != 0,
		Data:          data,
	}, true
}

// toKernel converts a frame to the structure written to a raw CAN
// socket: struct can_frame for Standard frames, struct canfd_frame for
// Flexible ones.
func toKernel(frame canframe.Frame) []byte {
	word := frame.Identifier()
	if frame.IsExtended() {
		word |= kernelExtendedFlag
	}

	switch f := frame.(type) {
	case canframe.StandardFrame:
		raw := make([]byte, kernelClassicSize)
		if f.Remote {
			word |= kernelRemoteFlag
		} else {
			copy(raw[8:], f.Data)
		}
		binary.NativeEndian.PutUint32(raw[0:4], word)
		raw[4] = byte(len(f.Data))
		return raw

	case canframe.FlexibleFrame:
		raw := make([]byte, kernelFlexibleSize)
		binary.NativeEndian.PutUint32(raw[0:4], word)
		raw[4] = byte(len(f.Data))
		flags := byte(kernelFDFrame)
		if f.BitRateSwitch {
			flags |= kernelBitRateSwitch
		}
		if f.ErrorState {
			flags |= kernelErrorState
		}
		raw[5] = flags
		copy(raw[8:], f.Data)
		return raw
	}
	return nil
}
