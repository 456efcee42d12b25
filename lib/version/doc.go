// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for hwlink binaries.
//
// Release builds stamp [GitCommit], [GitDirty], [BuildTime], and
// [Version] with -ldflags -X. Development builds fall back to the VCS
// settings recorded by the Go toolchain.
package version
