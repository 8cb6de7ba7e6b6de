package store

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// Memory is an in-process Store used for tests and for running without a
// configured database.
type Memory struct {
	mu   sync.RWMutex
	recs map[string]Record
}

func NewMemory() *Memory { return &Memory{recs: make(map[string]Record)} }

func (m *Memory) EnsureSchema(_ context.Context) error { return nil }

func (m *Memory) Put(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.UpdatedAt = time.Now().UTC()
	m.recs[rec.BotID] = rec
	return nil
}

func (m *Memory) Get(_ context.Context, botID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[botID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) UpdateFields(_ context.Context, botID string, u Update) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[botID]
	if !ok {
		return false, nil
	}
	if u.Name != nil {
		rec.Name = *u.Name
	}
	if u.Status != nil {
		rec.Status = *u.Status
	}
	if u.CodePath != nil {
		rec.CodePath = *u.CodePath
	}
	if u.PID != nil {
		rec.PID = *u.PID
	}
	if u.StartedAt != nil {
		rec.StartedAt = sql.NullTime{Time: *u.StartedAt, Valid: true}
	}
	if u.StoppedAt != nil {
		rec.StoppedAt = sql.NullTime{Time: *u.StoppedAt, Valid: true}
	}
	if u.ErrorMessage != nil {
		rec.ErrorMessage = sql.NullString{String: *u.ErrorMessage, Valid: true}
	}
	rec.UpdatedAt = time.Now().UTC()
	m.recs[botID] = rec
	return true, nil
}

func (m *Memory) Delete(_ context.Context, botID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[botID]; !ok {
		return false, nil
	}
	delete(m.recs, botID)
	return true, nil
}

func (m *Memory) ListByUser(_ context.Context, userID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0)
	for _, rec := range m.recs {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *Memory) ListByStatus(_ context.Context, status string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0)
	for _, rec := range m.recs {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *Memory) ResetRunning(_ context.Context, stoppedAt time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.recs {
		if rec.Status == StatusRunning {
			rec.Status = StatusStopped
			rec.StoppedAt = sql.NullTime{Time: stoppedAt, Valid: true}
			rec.UpdatedAt = time.Now().UTC()
			m.recs[id] = rec
			n++
		}
	}
	return n, nil
}

func (m *Memory) Close() error { return nil }
