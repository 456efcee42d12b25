// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package canframe

import (
	"encoding/binary"
	"fmt"
)

// Encode writes f as one wire record.
func Encode(f Frame) ([RecordSize]byte, error) {
	var record [RecordSize]byte
	if _, err := encodeInto(record[:], f); err != nil {
		return record, err
	}
	return record, nil
}

// Append appends the wire record for f to dst.
func Append(dst []byte, f Frame) ([]byte, error) {
	start := len(dst)
	dst = append(dst, make([]byte, RecordSize)...)
	if _, err := encodeInto(dst[start:], f); err != nil {
		return dst[:start], err
	}
	return dst, nil
}

// encodeInto fills record, which must be RecordSize zeroed bytes.
func encodeInto(record []byte, f Frame) (int, error) {
	if f == nil {
		return 0, fmt.Errorf("%w: nil frame", ErrInvalidFrame)
	}
	if err := f.Validate(); err != nil {
		return 0, err
	}

	word := f.Identifier()
	if f.IsExtended() {
		word |= flagExtended
	}

	var flags byte
	switch frame := f.(type) {
	case StandardFrame:
		if frame.Remote {
			word |= flagRemote
		} else {
			copy(record[8:], frame.Data)
		}
	case FlexibleFrame:
		if frame.BitRateSwitch {
			flags |= flagBitRateSwitch
		}
		if frame.ErrorState {
			flags |= flagErrorState
		}
		copy(record[8:], frame.Data)
	}

	binary.LittleEndian.PutUint32(record[0:4], word)
	record[4] = byte(len(f.Payload()))
	record[5] = flags
	return RecordSize, nil
}

// Decode parses the record at the start of data and returns the frame
// and the number of bytes consumed, which is always RecordSize on
// success. Bytes past the payload length are never read into the
// returned frame.
func Decode(data []byte) (Frame, int, error) {
	if len(data) < RecordSize {
		return nil, 0, fmt.Errorf("%w: have %d of %d bytes", ErrShortRead, len(data), RecordSize)
	}

	word := binary.LittleEndian.Uint32(data[0:4])
	length := int(data[4])
	flags := data[5]

	extended := word&flagExtended != 0
	remote := word&flagRemote != 0
	id := word & MaxExtendedID
	if !extended {
		id = word & MaxStandardID
	}

	if length > MaxFlexibleData {
		return nil, 0, fmt.Errorf("%w: %d", ErrInvalidLength, length)
	}

	if flags != 0 || length > MaxStandardData {
		if remote {
			return nil, 0, fmt.Errorf("%w: remote request with flexible data length %d", ErrInvalidLength, length)
		}
		payload := make([]byte, length)
		copy(payload, data[8:8+length])
		return FlexibleFrame{
			ID:            id,
			Extended:      extended,
			BitRateSwitch: flags&flagBitRateSwitch != 0,
			ErrorState:    flags&flagErrorState != 0,
			Data:          payload,
		}, RecordSize, nil
	}

	payload := make([]byte, length)
	if !remote {
		copy(payload, data[8:8+length])
	}
	return StandardFrame{
		ID:       id,
		Extended: extended,
		Remote:   remote,
		Data:     payload,
	}, RecordSize, nil
}

// DecodeAll decodes consecutive records from data. On the first
// malformed record it returns the frames decoded so far together with
// the error; the remainder of data is discarded, since a fixed-size
// stream cannot be resynchronized mid-buffer.
func DecodeAll(data []byte) ([]Frame, error) {
	frames := make([]Frame, 0, len(data)/RecordSize)
	for len(data) > 0 {
		frame, consumed, err := Decode(data)
		if err != nil {
			return frames, fmt.Errorf("record %d: %w", len(frames), err)
		}
		frames = append(frames, frame)
		data = data[consumed:]
	}
	return frames, nil
}
