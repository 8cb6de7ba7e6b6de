package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Bot status values mirrored into the store. The executor owns the real
// state machine; the store keeps plain strings so old rows survive schema
// evolution.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusError   = "error"
)

// ErrNotFound is returned by Get when no record exists for the bot id.
var ErrNotFound = errors.New("store: record not found")

// Record is the durable mirror of one generated bot, keyed by BotID.
// It is written best-effort on every status transition; in-memory executor
// state remains the source of truth for liveness.
type Record struct {
	BotID        string
	UserID       string
	Name         string
	Status       string
	Description  string
	CodePath     string
	PID          int
	CreatedAt    time.Time
	StartedAt    sql.NullTime
	StoppedAt    sql.NullTime
	ErrorMessage sql.NullString
	UpdatedAt    time.Time
}

// Update describes a partial record update. Nil fields are left unchanged.
type Update struct {
	Name         *string
	Status       *string
	CodePath     *string
	PID          *int
	StartedAt    *time.Time
	StoppedAt    *time.Time
	ErrorMessage *string
}

// Store persists bot metadata keyed by bot id. Implementations must be
// safe for concurrent use. Writes to different bot ids never conflict.
type Store interface {
	EnsureSchema(ctx context.Context) error
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, botID string) (Record, error)
	// UpdateFields applies a partial update; reports whether a row matched.
	UpdateFields(ctx context.Context, botID string, u Update) (bool, error)
	Delete(ctx context.Context, botID string) (bool, error)
	ListByUser(ctx context.Context, userID string) ([]Record, error)
	ListByStatus(ctx context.Context, status string) ([]Record, error)
	// ResetRunning marks every record still flagged running as stopped.
	// Called once at daemon startup: rows left running belong to a previous
	// host process whose children died with it.
	ResetRunning(ctx context.Context, stoppedAt time.Time) (int64, error)
	Close() error
}
