// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source so that hwlink's
// reconnect loops and simulators can be tested without wall-clock
// sleeps.
//
// Components that wait (relay backoff, retry pauses, simulator ticks)
// hold a Clock field. Production wiring passes Real(); tests pass
// Fake() and step time explicitly:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	publisher := &relay.StatePublisher{Clock: fake, ...}
//	go publisher.Run(ctx)
//	fake.WaitForTimers(1)      // publisher is now sleeping in backoff
//	fake.Advance(time.Second)  // wake it deterministically
//
// WaitForTimers closes the race between a goroutine registering a
// timer and the test advancing past it.
package clock
