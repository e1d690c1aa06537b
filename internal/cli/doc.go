// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the interactive chat loop: line-edited input
// with history, slash commands, streamed output rendering, and the
// confirm-then-write flow for extracted files.
package cli
