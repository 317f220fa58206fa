// Package audit keeps a history of finished checks in SQLite.
package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jmylchreest/xcheck/internal/logging"
	"github.com/jmylchreest/xcheck/internal/models"
)

// DefaultLimit and MaxLimit bound Recent.
const (
	DefaultLimit = 20
	MaxLimit     = 200
)

// SQLiteStore persists check history.
type SQLiteStore struct {
	db       *sql.DB
	logger   *slog.Logger
	isMemory bool
}

// NewSQLiteStore opens (creating if needed) the history database at dbPath.
// ":memory:" gives a private in-memory database.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	var connStr string
	isMemory := dbPath == ":memory:"

	if isMemory {
		connStr = "file::memory:?_pragma=busy_timeout(5000)"
		logger.Info("using in-memory SQLite database")
	} else {
		dir := filepath.Dir(dbPath)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create directory: %w", err)
			}
		}
		connStr = "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite is single-writer; one connection also keeps :memory: alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:       db,
		logger:   logger,
		isMemory: isMemory,
	}

	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("SQLite audit store initialized", "path", dbPath, "in_memory", isMemory)
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checks (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL DEFAULT '',
		caller TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		target TEXT NOT NULL DEFAULT '',
		success INTEGER NOT NULL DEFAULT 0,
		error_code TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_checks_caller ON checks(caller, id);
	CREATE INDEX IF NOT EXISTS idx_checks_created_at ON checks(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Fingerprint is the stored form of a caller identifier, so API keys never
// land in the database.
func Fingerprint(caller string) string {
	if caller == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(caller))
	return hex.EncodeToString(sum[:8])
}

// Record stores one finished check. The caller is taken from ctx.
func (s *SQLiteStore) Record(ctx context.Context, e models.HistoryEntry) error {
	query := `
	INSERT INTO checks (id, request_id, caller, action, target, success, error_code, outcome, duration_ms, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.RequestID,
		Fingerprint(logging.GetCaller(ctx)),
		e.Action,
		e.Target,
		e.Success,
		e.ErrorCode,
		e.Outcome,
		e.DurationMS,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record check: %w", err)
	}

	s.logger.Debug("check recorded", "id", e.ID, "action", e.Action)
	return nil
}

// Recent returns the caller's newest entries first.
func (s *SQLiteStore) Recent(ctx context.Context, caller string, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	query := `
	SELECT id, request_id, action, target, success, error_code, outcome, duration_ms, created_at
	FROM checks
	WHERE caller = ?
	ORDER BY id DESC
	LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, Fingerprint(caller), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list checks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		var e models.HistoryEntry
		var createdAtStr string

		if err := rows.Scan(
			&e.ID,
			&e.RequestID,
			&e.Action,
			&e.Target,
			&e.Success,
			&e.ErrorCode,
			&e.Outcome,
			&e.DurationMS,
			&createdAtStr,
		); err != nil {
			return nil, fmt.Errorf("failed to scan check: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list checks: %w", err)
	}
	return entries, nil
}

// CleanupOlderThan removes entries created before threshold and vacuums if
// anything was deleted.
func (s *SQLiteStore) CleanupOlderThan(ctx context.Context, threshold time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM checks WHERE created_at < ?",
		threshold.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup checks: %w", err)
	}

	count, _ := result.RowsAffected()
	if count > 0 {
		s.logger.Info("cleaned up old checks", "count", count)
		if err := s.Vacuum(); err != nil {
			s.logger.Warn("failed to vacuum after cleanup", "error", err)
		}
	}
	return count, nil
}

// Vacuum reclaims unused space in the database.
func (s *SQLiteStore) Vacuum() error {
	if _, err := s.db.Exec("VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	s.logger.Debug("database vacuumed")
	return nil
}

// Close checkpoints the WAL into the main file and closes the database.
func (s *SQLiteStore) Close() error {
	if !s.isMemory {
		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			s.logger.Warn("failed to checkpoint WAL before close", "error", err)
		}
	}
	s.logger.Debug("SQLite store closing", "in_memory", s.isMemory)
	return s.db.Close()
}
