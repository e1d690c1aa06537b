// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package fileops materializes extracted file artifacts into the
// workspace. It resolves artifact paths safely under the workspace
// root, diffs incoming content against what is on disk, and writes
// atomically so a crash cannot leave a half-written file.
package fileops
