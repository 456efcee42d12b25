// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package canframe

import (
	"errors"
	"testing"
)

func TestFormatParse(t *testing.T) {
	tests := []struct {
		text  string
		frame Frame
	}{
		{"123#01020304", StandardFrame{ID: 0x123, Data: []byte{1, 2, 3, 4}}},
		{"7FF#", StandardFrame{ID: 0x7FF, Data: []byte{}}},
		{"1ABCDEF0#11", StandardFrame{ID: 0x1ABCDEF0, Extended: true, Data: []byte{0x11}}},
		{"123#R4", StandardFrame{ID: 0x123, Remote: true, Data: make([]byte, 4)}},
		{"123#R", StandardFrame{ID: 0x123, Remote: true, Data: []byte{}}},
		{"123##1AABBCC", FlexibleFrame{ID: 0x123, BitRateSwitch: true, Data: []byte{0xAA, 0xBB, 0xCC}}},
		{"00000042##3", FlexibleFrame{ID: 0x42, Extended: true, BitRateSwitch: true, ErrorState: true, Data: []byte{}}},
	}
	for _, test := range tests {
		t.Run(test.text, func(t *testing.T) {
			parsed, err := Parse(test.text)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if !Equal(parsed, test.frame) {
				t.Errorf("Parse = %#v, want %#v", parsed, test.frame)
			}
			if got := Format(test.frame); got != test.text {
				t.Errorf("Format = %q, want %q", got, test.text)
			}
		})
	}
}

func TestParseAcceptsDotSeparators(t *testing.T) {
	frame, err := Parse("123#01.02.03")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if string(frame.Payload()) != "\x01\x02\x03" {
		t.Errorf("payload = % x", frame.Payload())
	}
}

func TestParseErrors(t *testing.T) {
	for _, text := range []string{
		"",
		"123",
		"12#00",
		"XYZ#00",
		"123#0",
		"123#R9",
		"123##",
		"123#010203040506070809",
		"800#00",
	} {
		if _, err := Parse(text); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", text)
		}
	}
	if _, err := Parse("800#00"); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Parse(800#00) error = %v, want ErrInvalidFrame", err)
	}
}
