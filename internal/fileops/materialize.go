// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package fileops

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeranaias/anvil/internal/extract"
	"github.com/jeranaias/anvil/internal/util"
)

// ErrUnsafePath indicates an artifact path that would resolve outside
// the workspace root.
var ErrUnsafePath = errors.New("path escapes workspace")

// Plan describes what writing one artifact would do, computed before
// any byte touches disk so the user can confirm.
type Plan struct {
	Artifact extract.FileArtifact

	// RelPath is the cleaned workspace-relative path.
	RelPath string
	// AbsPath is the resolved target on disk.
	AbsPath string
	// Existing is the current file content, empty for a new file.
	Existing string
	// Changes is the line diff from Existing to the artifact content.
	Changes []Line
}

// IsNew reports whether the target did not exist at plan time.
func (p *Plan) IsNew() bool {
	return p.Artifact.IsNew
}

// Unchanged reports whether writing would be a no-op.
func (p *Plan) Unchanged() bool {
	return !p.Artifact.IsNew && p.Existing == normalize(p.Artifact.Content)
}

// Summary is a one-line description of the pending write.
func (p *Plan) Summary() string {
	added, removed := DiffStat(p.Changes)
	switch {
	case p.Artifact.IsNew:
		return fmt.Sprintf("%s (new file, %d lines)", p.RelPath, added)
	case p.Unchanged():
		return fmt.Sprintf("%s (unchanged)", p.RelPath)
	default:
		return fmt.Sprintf("%s (+%d -%d)", p.RelPath, added, removed)
	}
}

// Materializer writes artifacts under one workspace root.
type Materializer struct {
	root string
}

// NewMaterializer creates a materializer rooted at the given directory.
func NewMaterializer(root string) *Materializer {
	return &Materializer{root: filepath.Clean(root)}
}

// Root returns the workspace root.
func (m *Materializer) Root() string {
	return m.root
}

// Resolve maps an artifact path to an absolute target under the root.
// Absolute paths and paths that climb out of the root are rejected;
// model output is not trusted to name arbitrary filesystem locations.
func (m *Materializer) Resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty path", ErrUnsafePath)
	}
	if filepath.IsAbs(name) || filepath.IsAbs(filepath.FromSlash(name)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	rel := filepath.Clean(filepath.FromSlash(name))
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return filepath.Join(m.root, rel), nil
}

// PlanWrite resolves the artifact, stamps IsNew from a point-in-time
// stat, and computes the diff against the current content.
func (m *Materializer) PlanWrite(art extract.FileArtifact) (*Plan, error) {
	abs, err := m.Resolve(art.Filename)
	if err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(m.root, abs)
	if err != nil {
		rel = art.Filename
	}

	var existing string
	data, err := os.ReadFile(abs)
	switch {
	case err == nil:
		existing = string(data)
	case errors.Is(err, os.ErrNotExist):
		art.IsNew = true
	default:
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}

	content := normalize(art.Content)
	return &Plan{
		Artifact: art,
		RelPath:  filepath.ToSlash(rel),
		AbsPath:  abs,
		Existing: existing,
		Changes:  DiffLines(existing, content),
	}, nil
}

// Apply writes the planned content atomically, creating parent
// directories as needed.
func (m *Materializer) Apply(p *Plan) error {
	if err := os.MkdirAll(filepath.Dir(p.AbsPath), 0o755); err != nil {
		return fmt.Errorf("create directories for %s: %w", p.RelPath, err)
	}
	content := normalize(p.Artifact.Content)
	if err := util.AtomicWriteFile(p.AbsPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", p.RelPath, err)
	}
	return nil
}

// normalize ensures file content ends with exactly one newline.
func normalize(content string) string {
	if content == "" {
		return ""
	}
	return strings.TrimRight(content, "\n") + "\n"
}
