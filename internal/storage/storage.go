// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chat sessions in a local SQLite database.
//
// One database holds every saved session, its messages in order, and
// the file artifacts extracted from its replies. The driver is pure Go,
// so no cgo toolchain is needed to build.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jeranaias/anvil/internal/api"
	"github.com/jeranaias/anvil/internal/extract"
)

// ErrNotFound indicates no session matches the given ID or prefix.
var ErrNotFound = errors.New("session not found")

// ErrAmbiguous indicates a session ID prefix matched more than one
// session.
var ErrAmbiguous = errors.New("session id prefix is ambiguous")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	model      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	position   INTEGER NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS artifacts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	filename   TEXT NOT NULL,
	language   TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, position);
CREATE INDEX IF NOT EXISTS idx_artifacts_session ON artifacts(session_id);
`

// Meta summarizes one saved session for listings.
type Meta struct {
	ID        string
	Title     string
	Model     string
	Messages  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is a session database. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path, creating parent
// directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The driver serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent use.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes a session snapshot. An empty id creates a new session
// and returns its generated ID; a known id overwrites that session's
// messages in place.
func (s *Store) Save(ctx context.Context, id, title, model string, messages []api.ChatMessage) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if title == "" {
		title = deriveTitle(messages)
	}
	now := time.Now().Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, title, model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title,
			model = excluded.model, updated_at = excluded.updated_at`,
		id, title, model, now, now)
	if err != nil {
		return "", fmt.Errorf("upsert session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return "", fmt.Errorf("clear messages: %w", err)
	}
	for i, m := range messages {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (session_id, position, role, content)
			VALUES (?, ?, ?, ?)`, id, i, m.Role, m.Content)
		if err != nil {
			return "", fmt.Errorf("insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// Load returns a session's messages and metadata. The id may be a
// unique prefix of the full session ID.
func (s *Store) Load(ctx context.Context, id string) ([]api.ChatMessage, *Meta, error) {
	full, err := s.resolveID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	meta, err := s.meta(ctx, full)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content FROM messages
		WHERE session_id = ? ORDER BY position`, full)
	if err != nil {
		return nil, nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []api.ChatMessage
	for rows.Next() {
		var m api.ChatMessage
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, meta, nil
}

// List returns all sessions, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Meta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.title, s.model, s.created_at, s.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s ORDER BY s.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()
	return scanMetas(rows)
}

// Search returns sessions whose title or message content contains the
// query, case-insensitively.
func (s *Store) Search(ctx context.Context, query string) ([]Meta, error) {
	like := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT s.id, s.title, s.model, s.created_at, s.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s
		LEFT JOIN messages m ON m.session_id = s.id
		WHERE s.title LIKE ? OR m.content LIKE ?
		ORDER BY s.updated_at DESC`, like, like)
	if err != nil {
		return nil, fmt.Errorf("search sessions: %w", err)
	}
	defer rows.Close()
	return scanMetas(rows)
}

// Delete removes a session and everything attached to it. The id may
// be a unique prefix.
func (s *Store) Delete(ctx context.Context, id string) error {
	full, err := s.resolveID(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, full)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// SaveArtifact records one extracted file for a session.
func (s *Store) SaveArtifact(ctx context.Context, sessionID string, art extract.FileArtifact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (session_id, filename, language, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		sessionID, art.Filename, art.Language, art.Content, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// Artifacts returns a session's extracted files in insertion order.
func (s *Store) Artifacts(ctx context.Context, sessionID string) ([]extract.FileArtifact, error) {
	full, err := s.resolveID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT filename, language, content FROM artifacts
		WHERE session_id = ? ORDER BY id`, full)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	var arts []extract.FileArtifact
	for rows.Next() {
		var a extract.FileArtifact
		if err := rows.Scan(&a.Filename, &a.Language, &a.Content); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		arts = append(arts, a)
	}
	return arts, rows.Err()
}

// ExportMarkdown writes a session transcript as markdown.
func (s *Store) ExportMarkdown(ctx context.Context, id string, w io.Writer) error {
	messages, meta, err := s.Load(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "# %s\n\n", meta.Title)
	fmt.Fprintf(w, "- Model: %s\n- Saved: %s\n\n", meta.Model, meta.UpdatedAt.Format(time.RFC3339))
	for _, m := range messages {
		switch m.Role {
		case "system":
			continue
		case "user":
			fmt.Fprintf(w, "## You\n\n%s\n\n", m.Content)
		default:
			fmt.Fprintf(w, "## Assistant\n\n%s\n\n", m.Content)
		}
	}
	return nil
}

// resolveID expands an ID prefix to the full session ID.
func (s *Store) resolveID(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", ErrNotFound
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE id = ? OR id LIKE ? LIMIT 2`, id, id+"%")
	if err != nil {
		return "", fmt.Errorf("resolve id: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return "", err
		}
		ids = append(ids, v)
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
		return ids[0], nil
	default:
		if ids[0] == id {
			return id, nil
		}
		return "", fmt.Errorf("%w: %s", ErrAmbiguous, id)
	}
}

func (s *Store) meta(ctx context.Context, id string) (*Meta, error) {
	var m Meta
	var created, updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT s.id, s.title, s.model, s.created_at, s.updated_at,
			(SELECT COUNT(*) FROM messages x WHERE x.session_id = s.id)
		FROM sessions s WHERE s.id = ?`, id).
		Scan(&m.ID, &m.Title, &m.Model, &created, &updated, &m.Messages)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	m.CreatedAt = time.Unix(created, 0)
	m.UpdatedAt = time.Unix(updated, 0)
	return &m, nil
}

func scanMetas(rows *sql.Rows) ([]Meta, error) {
	var out []Meta
	for rows.Next() {
		var m Meta
		var created, updated int64
		if err := rows.Scan(&m.ID, &m.Title, &m.Model, &created, &updated, &m.Messages); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		m.CreatedAt = time.Unix(created, 0)
		m.UpdatedAt = time.Unix(updated, 0)
		out = append(out, m)
	}
	return out, rows.Err()
}

// deriveTitle builds a listing title from the first user message.
func deriveTitle(messages []api.ChatMessage) string {
	for _, m := range messages {
		if m.Role != "user" {
			continue
		}
		title := strings.TrimSpace(m.Content)
		if i := strings.IndexByte(title, '\n'); i >= 0 {
			title = title[:i]
		}
		if len(title) > 60 {
			title = title[:60]
		}
		if title != "" {
			return title
		}
	}
	return "untitled session"
}
