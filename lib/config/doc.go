// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for hwlink
// servers.
//
// Configuration comes from a single file named by either the --config
// flag or the HWLINK_CONFIG environment variable (see [Resolve]). When
// neither is set, [Default] is used. There is no file discovery.
// Command-line flags override file values after loading.
//
// Variable expansion is performed on path and address fields:
// ${VAR} and ${VAR:-default} patterns are replaced from the
// environment. No environment variable overrides a config value
// directly.
//
// This package depends on no other hwlink packages.
package config
