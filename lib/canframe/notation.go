// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package canframe

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Format renders f in the compact notation used by can-utils:
//
//	123#01020304        classic frame, 11-bit identifier
//	1ABCDEF0#11         classic frame, 29-bit identifier (8 hex digits)
//	123#R4              remote request for 4 bytes
//	123##1AABBCC        CAN FD frame, flag nibble then data
func Format(f Frame) string {
	var builder strings.Builder
	if f.IsExtended() {
		fmt.Fprintf(&builder, "%08X", f.Identifier())
	} else {
		fmt.Fprintf(&builder, "%03X", f.Identifier())
	}

	switch frame := f.(type) {
	case StandardFrame:
		builder.WriteByte('#')
		if frame.Remote {
			builder.WriteByte('R')
			if len(frame.Data) > 0 {
				builder.WriteString(strconv.Itoa(len(frame.Data)))
			}
			return builder.String()
		}
		builder.WriteString(strings.ToUpper(hex.EncodeToString(frame.Data)))
	case FlexibleFrame:
		var flags byte
		if frame.BitRateSwitch {
			flags |= flagBitRateSwitch
		}
		if frame.ErrorState {
			flags |= flagErrorState
		}
		fmt.Fprintf(&builder, "##%X", flags)
		builder.WriteString(strings.ToUpper(hex.EncodeToString(frame.Data)))
	}
	return builder.String()
}

// Parse reads the notation produced by Format. Identifiers written
// with 8 hex digits are extended; 3 digits are standard.
func Parse(text string) (Frame, error) {
	idText, rest, found := strings.Cut(text, "#")
	if !found {
		return nil, fmt.Errorf("canframe: %q: missing '#'", text)
	}

	var extended bool
	switch len(idText) {
	case 3:
	case 8:
		extended = true
	default:
		return nil, fmt.Errorf("canframe: %q: identifier must have 3 or 8 hex digits", text)
	}
	id, err := strconv.ParseUint(idText, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("canframe: %q: identifier: %w", text, err)
	}

	var frame Frame
	switch {
	case strings.HasPrefix(rest, "#"):
		body := rest[1:]
		if body == "" {
			return nil, fmt.Errorf("canframe: %q: missing flag nibble", text)
		}
		flags, err := strconv.ParseUint(body[:1], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("canframe: %q: flags: %w", text, err)
		}
		data, err := parseData(body[1:])
		if err != nil {
			return nil, fmt.Errorf("canframe: %q: %w", text, err)
		}
		frame = FlexibleFrame{
			ID:            uint32(id),
			Extended:      extended,
			BitRateSwitch: flags&flagBitRateSwitch != 0,
			ErrorState:    flags&flagErrorState != 0,
			Data:          data,
		}
	case strings.HasPrefix(rest, "R"):
		length := 0
		if rest != "R" {
			length, err = strconv.Atoi(rest[1:])
			if err != nil {
				return nil, fmt.Errorf("canframe: %q: remote length: %w", text, err)
			}
		}
		if length < 0 || length > MaxStandardData {
			return nil, fmt.Errorf("%w: remote length %d", ErrInvalidFrame, length)
		}
		frame = StandardFrame{ID: uint32(id), Extended: extended, Remote: true, Data: make([]byte, length)}
	default:
		data, err := parseData(rest)
		if err != nil {
			return nil, fmt.Errorf("canframe: %q: %w", text, err)
		}
		frame = StandardFrame{ID: uint32(id), Extended: extended, Data: data}
	}

	if err := frame.Validate(); err != nil {
		return nil, err
	}
	return frame, nil
}

// parseData decodes hex data, allowing '.' separators between bytes.
func parseData(text string) ([]byte, error) {
	data, err := hex.DecodeString(strings.ReplaceAll(text, ".", ""))
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	return data, nil
}
