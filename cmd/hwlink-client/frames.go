// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bureau-foundation/hwlink/lib/canframe"
)

// encodeFrames parses each argument in can-utils notation and
// concatenates the encoded records.
func encodeFrames(args []string) ([]byte, error) {
	if len(args) == 0 {
		return nil, errors.New("send needs at least one frame, e.g. 123#01020304")
	}
	payload := make([]byte, 0, len(args)*canframe.RecordSize)
	for _, arg := range args {
		frame, err := canframe.Parse(arg)
		if err != nil {
			return nil, err
		}
		payload, err = canframe.Append(payload, frame)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", arg, err)
		}
	}
	return payload, nil
}

// frameWriter prints frames with a timestamp and stops after limit
// frames when limit is positive.
type frameWriter struct {
	out     io.Writer
	now     func() time.Time
	limit   int
	written int
}

var errLimitReached = errors.New("frame limit reached")

// print writes one frame line. It returns errLimitReached once the
// limit has been printed.
func (w *frameWriter) print(frame canframe.Frame) error {
	fmt.Fprintf(w.out, "%s  %s\n", w.now().Format("15:04:05.000"), canframe.Format(frame))
	w.written++
	if w.limit > 0 && w.written >= w.limit {
		return errLimitReached
	}
	return nil
}
