package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/botforge/internal/store"
)

// DB implements store.Store for SQLite (modernc.org/sqlite driver, CGO-free).
// DSN is a filesystem path to the SQLite database file. Use ":memory:" for in-memory.

type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bots(
			bot_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			code_path TEXT NOT NULL DEFAULT '',
			pid INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP NULL,
			stopped_at TIMESTAMP NULL,
			error_message TEXT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bots_user ON bots(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_bots_status ON bots(status);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Put(ctx context.Context, rec store.Record) error {
	rec.UpdatedAt = time.Now().UTC()
	var startedAt, stoppedAt any
	if rec.StartedAt.Valid {
		startedAt = rec.StartedAt.Time.UTC()
	}
	if rec.StoppedAt.Valid {
		stoppedAt = rec.StoppedAt.Time.UTC()
	}
	var errMsg any
	if rec.ErrorMessage.Valid {
		errMsg = rec.ErrorMessage.String
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bots(bot_id, user_id, name, status, description, code_path, pid, created_at, started_at, stopped_at, error_message, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(bot_id) DO UPDATE SET
			user_id=excluded.user_id,
			name=excluded.name,
			status=excluded.status,
			description=excluded.description,
			code_path=excluded.code_path,
			pid=excluded.pid,
			started_at=excluded.started_at,
			stopped_at=excluded.stopped_at,
			error_message=excluded.error_message,
			updated_at=excluded.updated_at;`,
		rec.BotID, rec.UserID, rec.Name, rec.Status, rec.Description, rec.CodePath,
		rec.PID, rec.CreatedAt.UTC(), startedAt, stoppedAt, errMsg, rec.UpdatedAt)
	return err
}

func (s *DB) Get(ctx context.Context, botID string) (store.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT bot_id, user_id, name, status, description, code_path, pid, created_at, started_at, stopped_at, error_message, updated_at
		FROM bots WHERE bot_id=?;`, botID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	return rec, err
}

func (s *DB) UpdateFields(ctx context.Context, botID string, u store.Update) (bool, error) {
	sets := make([]string, 0, 8)
	args := make([]any, 0, 8)
	if u.Name != nil {
		sets = append(sets, "name=?")
		args = append(args, *u.Name)
	}
	if u.Status != nil {
		sets = append(sets, "status=?")
		args = append(args, *u.Status)
	}
	if u.CodePath != nil {
		sets = append(sets, "code_path=?")
		args = append(args, *u.CodePath)
	}
	if u.PID != nil {
		sets = append(sets, "pid=?")
		args = append(args, *u.PID)
	}
	if u.StartedAt != nil {
		sets = append(sets, "started_at=?")
		args = append(args, u.StartedAt.UTC())
	}
	if u.StoppedAt != nil {
		sets = append(sets, "stopped_at=?")
		args = append(args, u.StoppedAt.UTC())
	}
	if u.ErrorMessage != nil {
		sets = append(sets, "error_message=?")
		args = append(args, *u.ErrorMessage)
	}
	if len(sets) == 0 {
		return false, nil
	}
	sets = append(sets, "updated_at=?")
	args = append(args, time.Now().UTC(), botID)
	res, err := s.db.ExecContext(ctx, `UPDATE bots SET `+strings.Join(sets, ", ")+` WHERE bot_id=?;`, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *DB) Delete(ctx context.Context, botID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bots WHERE bot_id=?;`, botID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *DB) ListByUser(ctx context.Context, userID string) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bot_id, user_id, name, status, description, code_path, pid, created_at, started_at, stopped_at, error_message, updated_at
		FROM bots WHERE user_id=? ORDER BY created_at DESC;`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func (s *DB) ListByStatus(ctx context.Context, status string) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bot_id, user_id, name, status, description, code_path, pid, created_at, started_at, stopped_at, error_message, updated_at
		FROM bots WHERE status=? ORDER BY updated_at DESC;`, status)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func (s *DB) ResetRunning(ctx context.Context, stoppedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bots SET status=?, stopped_at=?, updated_at=? WHERE status=?;`,
		store.StatusStopped, stoppedAt.UTC(), time.Now().UTC(), store.StatusRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (store.Record, error) {
	var r store.Record
	err := row.Scan(&r.BotID, &r.UserID, &r.Name, &r.Status, &r.Description, &r.CodePath,
		&r.PID, &r.CreatedAt, &r.StartedAt, &r.StoppedAt, &r.ErrorMessage, &r.UpdatedAt)
	return r, err
}

func scanRecords(rows *sql.Rows) ([]store.Record, error) {
	out := make([]store.Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
