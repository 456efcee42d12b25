// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package canframe

import (
	"errors"
	"fmt"
	"io"
)

// Reader yields aligned records from a byte stream. Stream transports
// do not preserve write boundaries, so a record can arrive split across
// reads; Reader reassembles it.
type Reader struct {
	source io.Reader
	record [RecordSize]byte
}

// NewReader returns a Reader consuming r.
func NewReader(r io.Reader) *Reader {
	return &Reader{source: r}
}

// ReadFrame returns the next frame. It returns io.EOF at a clean record
// boundary and ErrShortRead (wrapping io.ErrUnexpectedEOF) when the
// stream ends mid-record. A malformed record is reported as a decode
// error; the stream remains aligned, so the caller may keep reading.
func (r *Reader) ReadFrame() (Frame, error) {
	if _, err := io.ReadFull(r.source, r.record[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: %w", ErrShortRead, err)
		}
		return nil, err
	}
	frame, _, err := Decode(r.record[:])
	return frame, err
}
