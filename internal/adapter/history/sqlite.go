// Package history archives finished jobs in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"remotedev/internal/domain"
)

// DefaultLimit bounds Recent when no limit is given.
const DefaultLimit = 100

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements domain.JobArchive using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ domain.JobArchive = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs
// the schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id           TEXT PRIMARY KEY,
			kind         TEXT NOT NULL,
			status       TEXT NOT NULL,
			project_path TEXT NOT NULL DEFAULT '',
			command      TEXT NOT NULL DEFAULT '',
			args         TEXT NOT NULL DEFAULT '[]',
			result       TEXT NOT NULL DEFAULT '',
			error        TEXT NOT NULL DEFAULT '',
			submitted_at TEXT NOT NULL,
			updated_at   TEXT NOT NULL,
			duration_ms  INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS jobs_updated_at ON jobs (updated_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Archive stores job, replacing an earlier record with the same id.
func (s *SQLiteStore) Archive(ctx context.Context, job domain.Job) error {
	args, err := json.Marshal(job.Args)
	if err != nil {
		return fmt.Errorf("marshal job args: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, kind, status, project_path, command, args, result, error, submitted_at, updated_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			result = excluded.result,
			error = excluded.error,
			updated_at = excluded.updated_at,
			duration_ms = excluded.duration_ms`,
		job.ID, string(job.Kind), string(job.Status), job.ProjectPath, job.Command, string(args),
		job.Result, job.Error,
		job.SubmittedAt.UTC().Format(timeLayout), job.UpdatedAt.UTC().Format(timeLayout),
		job.DurationMs,
	)
	return err
}

// Recent returns up to limit archived jobs, most recently updated first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, status, project_path, command, args, result, error, submitted_at, updated_at, duration_ms
		FROM jobs ORDER BY updated_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []domain.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// Prune deletes all but the keep most recently updated jobs and returns
// how many were removed.
func (s *SQLiteStore) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs WHERE id NOT IN (
			SELECT id FROM jobs ORDER BY updated_at DESC, id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanJob(rows *sql.Rows) (domain.Job, error) {
	var j domain.Job
	var kind, status, argsStr, submittedStr, updatedStr string
	if err := rows.Scan(&j.ID, &kind, &status, &j.ProjectPath, &j.Command, &argsStr,
		&j.Result, &j.Error, &submittedStr, &updatedStr, &j.DurationMs); err != nil {
		return domain.Job{}, err
	}
	j.Kind = domain.JobKind(kind)
	j.Status = domain.JobStatus(status)
	if err := json.Unmarshal([]byte(argsStr), &j.Args); err != nil {
		return domain.Job{}, fmt.Errorf("unmarshal job args: %w", err)
	}
	j.SubmittedAt, _ = time.Parse(timeLayout, submittedStr)
	j.UpdatedAt, _ = time.Parse(timeLayout, updatedStr)
	return j, nil
}
