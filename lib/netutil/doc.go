// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies network errors that occur during normal
// stream teardown, so pumps can tell an operator hanging up from a
// genuine transport failure.
package netutil
