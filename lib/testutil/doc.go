// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for hwlink packages.
//
// [RequireReceive], [RequireSend], and [RequireClosed] wrap the
// select-with-timeout safety valve so a broken pump or relay loop
// fails a test instead of hanging it. They are the only place tests
// use real wall-clock timeouts; everything time-dependent in the code
// under test goes through lib/clock.
//
// [UniqueID] produces distinct relay paths and track names so tests
// sharing one relay hub cannot observe each other's traffic.
//
// Helpers call t.Fatalf on failure.
package testutil
