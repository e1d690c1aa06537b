// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package fileops

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// skipDirs are directories never shown in the workspace tree.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	"vendor":       true,
	"dist":         true,
	"target":       true,
}

// treeLimit caps how many entries RenderTree emits before truncating.
const treeLimit = 500

// RenderTree draws the workspace as a box-drawing tree rooted at dir.
func RenderTree(dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dir)
	}

	var sb strings.Builder
	sb.WriteString(filepath.Base(dir))
	sb.WriteByte('\n')
	count := 0
	if err := renderDir(&sb, dir, "", &count); err != nil {
		return "", err
	}
	if count >= treeLimit {
		sb.WriteString("... (truncated)\n")
	}
	return sb.String(), nil
}

func renderDir(sb *strings.Builder, dir, prefix string, count *int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}

	filtered := entries[:0]
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") && name != ".gitignore" {
			continue
		}
		if e.IsDir() && skipDirs[name] {
			continue
		}
		filtered = append(filtered, e)
	}
	sort.Slice(filtered, func(i, j int) bool {
		// Directories first, then lexical.
		if filtered[i].IsDir() != filtered[j].IsDir() {
			return filtered[i].IsDir()
		}
		return filtered[i].Name() < filtered[j].Name()
	})

	for i, e := range filtered {
		if *count >= treeLimit {
			return nil
		}
		*count++

		connector, childPrefix := "├── ", prefix+"│   "
		if i == len(filtered)-1 {
			connector, childPrefix = "└── ", prefix+"    "
		}
		sb.WriteString(prefix)
		sb.WriteString(connector)
		sb.WriteString(e.Name())
		if e.IsDir() {
			sb.WriteByte('/')
		}
		sb.WriteByte('\n')

		if e.IsDir() {
			if err := renderDir(sb, filepath.Join(dir, e.Name()), childPrefix, count); err != nil {
				return err
			}
		}
	}
	return nil
}
