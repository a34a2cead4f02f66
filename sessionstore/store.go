// Package sessionstore persists agent sessions to SQLite so a run's
// transcript, token accounting, and checkpoints survive process
// restarts. A loaded session reconstructs a TranscriptStore equivalent
// to the one that was saved.
package sessionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/martinemde/undertow/agentcore"
)

// Store is a SQLite-backed session archive.
type Store struct {
	database *sql.DB
	dbPath   string
}

// SessionInfo summarizes a stored session.
type SessionInfo struct {
	ID         string    `json:"id"`
	Model      string    `json:"model"`
	TokenCount int       `json:"token_count"`
	Messages   int       `json:"messages"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Open opens (creating if needed) the session database at dbPath and
// applies migrations.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	database, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	database.SetMaxOpenConns(1)

	store := &Store{database: database, dbPath: dbPath}
	if err := store.migrate(context.Background()); err != nil {
		_ = database.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database.
func (store *Store) Close() error {
	return store.database.Close()
}

// DBPath returns the database file path.
func (store *Store) DBPath() string {
	return store.dbPath
}

func (store *Store) migrate(ctx context.Context) error {
	statements := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			token_count INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			parts_json TEXT NOT NULL,
			PRIMARY KEY(session_id, seq),
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			session_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			message_index INTEGER NOT NULL,
			token_count INTEGER NOT NULL,
			PRIMARY KEY(session_id, ordinal),
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);`,
	}
	for _, stmt := range statements {
		if _, err := store.database.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Save writes the session's transcript, checkpoints, and token count,
// replacing any previous snapshot under the same id.
func (store *Store) Save(ctx context.Context, sessionID, model string, transcript *agentcore.TranscriptStore) error {
	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, model, token_count, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET model=excluded.model,
			token_count=excluded.token_count, updated_at=excluded.updated_at`,
		sessionID, model, transcript.TokenCount(), now, now)
	if err != nil {
		return fmt.Errorf("save session row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear checkpoints: %w", err)
	}

	for seq, msg := range transcript.History() {
		partsJSON, err := json.Marshal(msg.Parts)
		if err != nil {
			return fmt.Errorf("marshal message %d: %w", seq, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages (session_id, seq, role, parts_json) VALUES (?, ?, ?, ?)`,
			sessionID, seq, string(msg.Role), string(partsJSON))
		if err != nil {
			return fmt.Errorf("save message %d: %w", seq, err)
		}
	}

	for ordinal, cp := range transcript.Checkpoints() {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO checkpoints (session_id, ordinal, message_index, token_count) VALUES (?, ?, ?, ?)`,
			sessionID, ordinal, cp.Index, cp.TokenCount)
		if err != nil {
			return fmt.Errorf("save checkpoint %d: %w", ordinal, err)
		}
	}

	return tx.Commit()
}

// Load reconstructs the transcript for a session. Returns
// sql.ErrNoRows if the session does not exist.
func (store *Store) Load(ctx context.Context, sessionID string) (*agentcore.TranscriptStore, error) {
	var tokenCount int
	err := store.database.QueryRowContext(ctx,
		`SELECT token_count FROM sessions WHERE id = ?`, sessionID).Scan(&tokenCount)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	rows, err := store.database.QueryContext(ctx,
		`SELECT role, parts_json FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var messages []agentcore.Message
	for rows.Next() {
		var role, partsJSON string
		if err := rows.Scan(&role, &partsJSON); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var parts []agentcore.Part
		if err := json.Unmarshal([]byte(partsJSON), &parts); err != nil {
			return nil, fmt.Errorf("decode message parts: %w", err)
		}
		messages = append(messages, agentcore.Message{Role: agentcore.Role(role), Parts: parts})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	cpRows, err := store.database.QueryContext(ctx,
		`SELECT message_index, token_count FROM checkpoints WHERE session_id = ? ORDER BY ordinal`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoints: %w", err)
	}
	defer cpRows.Close()

	var checkpoints []agentcore.Checkpoint
	for cpRows.Next() {
		var cp agentcore.Checkpoint
		if err := cpRows.Scan(&cp.Index, &cp.TokenCount); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}
	if err := cpRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}

	return agentcore.RestoreTranscript(messages, tokenCount, checkpoints), nil
}

// List returns summaries of all stored sessions, most recent first.
func (store *Store) List(ctx context.Context) ([]SessionInfo, error) {
	rows, err := store.database.QueryContext(ctx,
		`SELECT s.id, s.model, s.token_count, s.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		 FROM sessions s ORDER BY s.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionInfo
	for rows.Next() {
		var info SessionInfo
		var updatedAt string
		if err := rows.Scan(&info.ID, &info.Model, &info.TokenCount, &updatedAt, &info.Messages); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		info.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		sessions = append(sessions, info)
	}
	return sessions, rows.Err()
}

// Delete removes a session and its messages and checkpoints.
func (store *Store) Delete(ctx context.Context, sessionID string) error {
	_, err := store.database.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}
