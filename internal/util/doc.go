// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small shared helpers for the anvil CLI.
//
// The helpers here are deliberately dependency-light: rune-safe string
// truncation, display-width handling for CJK and other wide characters,
// and crash-safe atomic file writes used by the config and file layers.
package util
