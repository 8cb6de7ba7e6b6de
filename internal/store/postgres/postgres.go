package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/botforge/internal/store"
)

type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bots(
			bot_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			code_path TEXT NOT NULL DEFAULT '',
			pid INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ NULL,
			stopped_at TIMESTAMPTZ NULL,
			error_message TEXT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bots_user ON bots(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_bots_status ON bots(status);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Put(ctx context.Context, rec store.Record) error {
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
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bots(bot_id, user_id, name, status, description, code_path, pid, created_at, started_at, stopped_at, error_message, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT(bot_id) DO UPDATE SET
			user_id=EXCLUDED.user_id,
			name=EXCLUDED.name,
			status=EXCLUDED.status,
			description=EXCLUDED.description,
			code_path=EXCLUDED.code_path,
			pid=EXCLUDED.pid,
			started_at=EXCLUDED.started_at,
			stopped_at=EXCLUDED.stopped_at,
			error_message=EXCLUDED.error_message,
			updated_at=EXCLUDED.updated_at;`,
		rec.BotID, rec.UserID, rec.Name, rec.Status, rec.Description, rec.CodePath,
		rec.PID, rec.CreatedAt.UTC(), startedAt, stoppedAt, errMsg, rec.UpdatedAt)
	return err
}

func (p *DB) Get(ctx context.Context, botID string) (store.Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT bot_id, user_id, name, status, description, code_path, pid, created_at, started_at, stopped_at, error_message, updated_at
		FROM bots WHERE bot_id=$1;`, botID)
	var r store.Record
	err := row.Scan(&r.BotID, &r.UserID, &r.Name, &r.Status, &r.Description, &r.CodePath,
		&r.PID, &r.CreatedAt, &r.StartedAt, &r.StoppedAt, &r.ErrorMessage, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	return r, err
}

func (p *DB) UpdateFields(ctx context.Context, botID string, u store.Update) (bool, error) {
	sets := make([]string, 0, 8)
	args := make([]any, 0, 8)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Status != nil {
		add("status", *u.Status)
	}
	if u.CodePath != nil {
		add("code_path", *u.CodePath)
	}
	if u.PID != nil {
		add("pid", *u.PID)
	}
	if u.StartedAt != nil {
		add("started_at", u.StartedAt.UTC())
	}
	if u.StoppedAt != nil {
		add("stopped_at", u.StoppedAt.UTC())
	}
	if u.ErrorMessage != nil {
		add("error_message", *u.ErrorMessage)
	}
	if len(sets) == 0 {
		return false, nil
	}
	add("updated_at", time.Now().UTC())
	args = append(args, botID)
	q := `UPDATE bots SET ` + strings.Join(sets, ", ") + fmt.Sprintf(` WHERE bot_id=$%d;`, len(args))
	res, err := p.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (p *DB) Delete(ctx context.Context, botID string) (bool, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM bots WHERE bot_id=$1;`, botID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (p *DB) ListByUser(ctx context.Context, userID string) ([]store.Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT bot_id, user_id, name, status, description, code_path, pid, created_at, started_at, stopped_at, error_message, updated_at
		FROM bots WHERE user_id=$1 ORDER BY created_at DESC;`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func (p *DB) ListByStatus(ctx context.Context, status string) ([]store.Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT bot_id, user_id, name, status, description, code_path, pid, created_at, started_at, stopped_at, error_message, updated_at
		FROM bots WHERE status=$1 ORDER BY updated_at DESC;`, status)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func (p *DB) ResetRunning(ctx context.Context, stoppedAt time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE bots SET status=$1, stopped_at=$2, updated_at=$3 WHERE status=$4;`,
		store.StatusStopped, stoppedAt.UTC(), time.Now().UTC(), store.StatusRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRecords(rows *sql.Rows) ([]store.Record, error) {
	out := make([]store.Record, 0)
	for rows.Next() {
		var r store.Record
		if err := rows.Scan(&r.BotID, &r.UserID, &r.Name, &r.Status, &r.Description, &r.CodePath,
			&r.PID, &r.CreatedAt, &r.StartedAt, &r.StoppedAt, &r.ErrorMessage, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
