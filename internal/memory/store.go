package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"nanobot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.SessionStore using SQLite. One session row
// per session key; turns are append-only.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// DB exposes the underlying handle for diagnostics such as schema checks.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// GetOrCreate returns the session for key, creating it on first use.
func (s *SQLiteStore) GetOrCreate(ctx context.Context, key string) (*domain.Session, error) {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (key, created_at, updated_at) VALUES (?, ?, ?)`,
		key, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create session %s: %w", key, err)
	}

	var sess domain.Session
	err = s.db.QueryRowContext(ctx,
		`SELECT id, key, created_at, updated_at FROM sessions WHERE key = ?`, key,
	).Scan(&sess.ID, &sess.Key, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", key, err)
	}
	return &sess, nil
}

// History returns the last limit turns for key in chronological order.
func (s *SQLiteStore) History(ctx context.Context, key string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		limit = 100
	}

	// Last N turns, newest first, then reversed to chronological order.
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.role, t.content, t.media, t.created_at
		 FROM turns t JOIN sessions s ON s.id = t.session_id
		 WHERE s.key = ?
		 ORDER BY t.id DESC LIMIT ?`, key, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history %s: %w", key, err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var media sql.NullString
		if err := rows.Scan(&t.Role, &t.Content, &media, &t.CreatedAt); err != nil {
			return nil, err
		}
		if media.String != "" {
			if err := json.Unmarshal([]byte(media.String), &t.Media); err != nil {
				s.logger.Warn("corrupt media column, skipping", "key", key, "err", err)
			}
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Append adds one turn to the session, creating the session if needed.
func (s *SQLiteStore) Append(ctx context.Context, key, role, content string, media []string) error {
	sess, err := s.GetOrCreate(ctx, key)
	if err != nil {
		return err
	}

	var mediaJSON string
	if len(media) > 0 {
		data, err := json.Marshal(media)
		if err != nil {
			return fmt.Errorf("marshal media: %w", err)
		}
		mediaJSON = string(data)
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO turns (session_id, role, content, media, created_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, role, content, mediaJSON, now,
	)
	if err != nil {
		return fmt.Errorf("append turn to %s: %w", key, err)
	}

	_, _ = s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sess.ID)
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ domain.SessionStore = (*SQLiteStore)(nil)
