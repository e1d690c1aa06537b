// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package fileops

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jeranaias/anvil/internal/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRejectsEscapes(t *testing.T) {
	m := NewMaterializer(t.TempDir())

	for _, bad := range []string{
		"",
		"/etc/passwd",
		"../outside.txt",
		"../../x",
		"a/../../b",
	} {
		_, err := m.Resolve(bad)
		assert.ErrorIs(t, err, ErrUnsafePath, "path %q", bad)
	}
}

func TestResolveCleansPath(t *testing.T) {
	root := t.TempDir()
	m := NewMaterializer(root)

	abs, err := m.Resolve("src/./a/../main.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src", "main.go"), abs)
}

func TestPlanNewFile(t *testing.T) {
	m := NewMaterializer(t.TempDir())

	plan, err := m.PlanWrite(extract.FileArtifact{
		Filename: "hello.py",
		Content:  `print("hi")`,
	})
	require.NoError(t, err)
	assert.True(t, plan.IsNew())
	assert.False(t, plan.Unchanged())

	added, removed := DiffStat(plan.Changes)
	assert.Equal(t, 1, added)
	assert.Equal(t, 0, removed)
	assert.Contains(t, plan.Summary(), "new file")
}

func TestPlanExistingFileDiff(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("one\ntwo\nthree\n"), 0o644))

	m := NewMaterializer(root)
	plan, err := m.PlanWrite(extract.FileArtifact{
		Filename: "a.txt",
		Content:  "one\nTWO\nthree",
	})
	require.NoError(t, err)
	assert.False(t, plan.IsNew())

	added, removed := DiffStat(plan.Changes)
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, removed)
}

func TestPlanUnchanged(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "same.txt"), []byte("body\n"), 0o644))

	m := NewMaterializer(root)
	plan, err := m.PlanWrite(extract.FileArtifact{Filename: "same.txt", Content: "body"})
	require.NoError(t, err)
	assert.True(t, plan.Unchanged())
}

func TestApplyCreatesDirectoriesAndNewline(t *testing.T) {
	root := t.TempDir()
	m := NewMaterializer(root)

	plan, err := m.PlanWrite(extract.FileArtifact{
		Filename: "src/pkg/deep.go",
		Content:  "package pkg",
	})
	require.NoError(t, err)
	require.NoError(t, m.Apply(plan))

	data, err := os.ReadFile(filepath.Join(root, "src", "pkg", "deep.go"))
	require.NoError(t, err)
	assert.Equal(t, "package pkg\n", string(data))
}

func TestApplyOverwrites(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("old\n"), 0o644))

	m := NewMaterializer(root)
	plan, err := m.PlanWrite(extract.FileArtifact{Filename: "f.txt", Content: "new"})
	require.NoError(t, err)
	require.NoError(t, m.Apply(plan))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new\n", string(data))
}

func TestDiffLines(t *testing.T) {
	lines := DiffLines("a\nb\nc\n", "a\nX\nc\nd\n")

	var got []string
	for _, l := range lines {
		got = append(got, l.Kind.Prefix()+l.Text)
	}
	assert.Equal(t, []string{" a", "-b", "+X", " c", "+d"}, got)
}

func TestFormatDiffElidesContext(t *testing.T) {
	before := "1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n"
	after := "1\n2\n3\n4\n5\n6\n7\n8\n9\nten\n"
	out := FormatDiff(DiffLines(before, after), 1)

	assert.Contains(t, out, "unchanged lines")
	assert.Contains(t, out, "-10")
	assert.Contains(t, out, "+ten")
	assert.NotContains(t, out, " 2\n")
}

func TestRenderTree(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "pkg"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "x"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "pkg", "a.go"), nil, 0o644))

	out, err := RenderTree(root)
	require.NoError(t, err)

	assert.Contains(t, out, "src/")
	assert.Contains(t, out, "a.go")
	assert.Contains(t, out, "main.go")
	assert.NotContains(t, out, ".git")
	assert.NotContains(t, out, "node_modules")
	// Directories sort before files.
	assert.Less(t, strings.Index(out, "src/"), strings.Index(out, "main.go"))
}
