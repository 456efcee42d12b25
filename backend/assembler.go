// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"github.com/bureau-foundation/hwlink/lib/canframe"
)

// recordAssembler rebuilds whole wire records from write-queue items.
// Items are raw network reads, so a record may arrive split across two
// items or several records may arrive in one.
type recordAssembler struct {
	pending []byte
}

// Feed appends item and decodes every complete record now buffered. A
// trailing partial record is kept for the next call. On a malformed
// record the frames before it are returned with the error and the
// whole buffer is discarded: a fixed-size stream cannot be
// resynchronized.
func (a *recordAssembler) Feed(item []byte) ([]canframe.Frame, error) {
	a.pending = append(a.pending, item...)
	whole := len(a.pending) / canframe.RecordSize * canframe.RecordSize
	if whole == 0 {
		return nil, nil
	}
	frames, err := canframe.DecodeAll(a.pending[:whole])
	if err != nil {
		a.pending = a.pending[:0]
		return frames, err
	}
	a.pending = append(a.pending[:0], a.pending[whole:]...)
	return frames, nil
}

// Buffered reports the number of bytes held for an incomplete record.
func (a *recordAssembler) Buffered() int {
	return len(a.pending)
}
