// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package persistence is the durable shadow of the in-memory session
// tracker: a file-backed SQLite database holding sessions and their
// transcript turns so chat history survives restarts.
//
// Every method is fault-tolerant. Persistence failures are logged and
// reported through return values, and must never take down a chat request.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/insightx/services/orchestrator/datatypes"
	_ "modernc.org/sqlite"
)

const titleLimit = 40

// SessionRecord is one row of the sessions table.
type SessionRecord struct {
	SessionID  string `json:"session_id"`
	CreatedAt  string `json:"created_at"`
	Title      string `json:"title"`
	TurnCount  int    `json:"turn_count"`
	LastActive string `json:"last_active"`
}

// TurnRecord is one role-scoped transcript entry.
type TurnRecord struct {
	TurnID          int64                `json:"turn_id"`
	SessionID       string               `json:"session_id"`
	Role            string               `json:"role"`
	Content         string               `json:"content"`
	SQLUsed         string               `json:"sql_used,omitempty"`
	ExecutionTimeMs float64              `json:"execution_time_ms,omitempty"`
	Chart           *datatypes.ChartData `json:"chart,omitempty"`
	Timestamp       string               `json:"timestamp"`
}

// Store wraps the SQLite handle. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the history database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal=WAL&_sync=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("History store initialized", "path", dbPath)
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT 'New Chat',
	turn_count INTEGER NOT NULL DEFAULT 0,
	last_active TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS turns (
	turn_id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	sql_used TEXT,
	execution_time_ms REAL,
	chart TEXT,
	timestamp TEXT NOT NULL,
	FOREIGN KEY(session_id) REFERENCES sessions(session_id)
);

CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize history schema: %w", err)
	}
	return nil
}

// CreateSession inserts a session row, ignoring duplicates.
func (s *Store) CreateSession(ctx context.Context, sessionID string) bool {
	now := time.Now().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO sessions (session_id, created_at, title, turn_count, last_active) VALUES (?, ?, 'New Chat', 0, ?)",
		sessionID, now, now)
	if err != nil {
		slog.Error("History create_session failed", "session_id", sessionID, "error", err)
		return false
	}
	return true
}

// ListSessions returns all sessions ordered by most recent activity.
// Returns an empty slice on failure.
func (s *Store) ListSessions(ctx context.Context) []SessionRecord {
	rows, err := s.db.QueryContext(ctx,
		"SELECT session_id, created_at, title, turn_count, last_active FROM sessions ORDER BY last_active DESC")
	if err != nil {
		slog.Error("History list_sessions failed", "error", err)
		return []SessionRecord{}
	}
	defer rows.Close()

	records := []SessionRecord{}
	for rows.Next() {
		var r SessionRecord
		if err := rows.Scan(&r.SessionID, &r.CreatedAt, &r.Title, &r.TurnCount, &r.LastActive); err != nil {
			slog.Error("History list_sessions scan failed", "error", err)
			return []SessionRecord{}
		}
		records = append(records, r)
	}
	return records
}

// DeleteSession removes a session and its turns. Returns whether a session
// row was actually deleted.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) bool {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM turns WHERE session_id = ?", sessionID); err != nil {
		slog.Error("History delete_session failed", "session_id", sessionID, "error", err)
		return false
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", sessionID)
	if err != nil {
		slog.Error("History delete_session failed", "session_id", sessionID, "error", err)
		return false
	}
	n, _ := res.RowsAffected()
	return n > 0
}

// RenameSession updates a session title. Returns whether a row was updated.
func (s *Store) RenameSession(ctx context.Context, sessionID, title string) bool {
	res, err := s.db.ExecContext(ctx, "UPDATE sessions SET title = ? WHERE session_id = ?", title, sessionID)
	if err != nil {
		slog.Error("History rename_session failed", "session_id", sessionID, "error", err)
		return false
	}
	n, _ := res.RowsAffected()
	return n > 0
}

// SaveTurn appends one transcript entry, bumps the session's turn count and
// last-active time, and auto-titles the session from its first user message.
func (s *Store) SaveTurn(ctx context.Context, sessionID, role, content, sqlUsed string, executionTimeMs float64, chart *datatypes.ChartData) bool {
	now := time.Now().Format(time.RFC3339)

	var chartJSON sql.NullString
	if chart != nil {
		raw, err := json.Marshal(chart)
		if err != nil {
			slog.Warn("History chart serialization failed", "session_id", sessionID, "error", err)
		} else {
			chartJSON = sql.NullString{String: string(raw), Valid: true}
		}
	}
	var sqlCol sql.NullString
	if sqlUsed != "" {
		sqlCol = sql.NullString{String: sqlUsed, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("History save_turn failed", "session_id", sessionID, "error", err)
		return false
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO turns (session_id, role, content, sql_used, execution_time_ms, chart, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, role, content, sqlCol, executionTimeMs, chartJSON, now)
	if err != nil {
		slog.Error("History save_turn failed", "session_id", sessionID, "error", err)
		return false
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE sessions SET turn_count = turn_count + 1, last_active = ? WHERE session_id = ?",
		now, sessionID)
	if err != nil {
		slog.Error("History save_turn failed", "session_id", sessionID, "error", err)
		return false
	}

	if role == "user" {
		var title string
		err := tx.QueryRowContext(ctx, "SELECT title FROM sessions WHERE session_id = ?", sessionID).Scan(&title)
		if err == nil && title == "New Chat" {
			autoTitle := content
			if runes := []rune(autoTitle); len(runes) > titleLimit {
				autoTitle = string(runes[:titleLimit]) + "..."
			}
			if _, err := tx.ExecContext(ctx, "UPDATE sessions SET title = ? WHERE session_id = ?", autoTitle, sessionID); err != nil {
				slog.Warn("History auto-title failed", "session_id", sessionID, "error", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		slog.Error("History save_turn failed", "session_id", sessionID, "error", err)
		return false
	}
	return true
}

// GetTurns returns a session's transcript in insertion order. Returns an
// empty slice on failure.
func (s *Store) GetTurns(ctx context.Context, sessionID string) []TurnRecord {
	rows, err := s.db.QueryContext(ctx,
		`SELECT turn_id, session_id, role, content, sql_used, execution_time_ms, chart, timestamp
		 FROM turns WHERE session_id = ? ORDER BY turn_id ASC`, sessionID)
	if err != nil {
		slog.Error("History get_turns failed", "session_id", sessionID, "error", err)
		return []TurnRecord{}
	}
	defer rows.Close()

	records := []TurnRecord{}
	for rows.Next() {
		var r TurnRecord
		var sqlUsed, chartJSON sql.NullString
		var execMs sql.NullFloat64
		if err := rows.Scan(&r.TurnID, &r.SessionID, &r.Role, &r.Content, &sqlUsed, &execMs, &chartJSON, &r.Timestamp); err != nil {
			slog.Error("History get_turns scan failed", "session_id", sessionID, "error", err)
			return []TurnRecord{}
		}
		r.SQLUsed = sqlUsed.String
		r.ExecutionTimeMs = execMs.Float64
		if chartJSON.Valid && chartJSON.String != "" {
			var chart datatypes.ChartData
			if err := json.Unmarshal([]byte(chartJSON.String), &chart); err == nil {
				r.Chart = &chart
			}
		}
		records = append(records, r)
	}
	return records
}
