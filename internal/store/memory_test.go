package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Get(ctx, "b1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	rec := Record{
		BotID:       "b1",
		UserID:      "u1",
		Name:        "EchoBot",
		Status:      StatusPending,
		Description: "echoes everything",
		CreatedAt:   time.Now(),
	}
	if err := m.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := m.Get(ctx, "b1")
	if err != nil || got.Name != "EchoBot" || got.UpdatedAt.IsZero() {
		t.Fatalf("Get: %+v, %v", got, err)
	}

	status := StatusRunning
	pid := 4242
	started := time.Now()
	matched, err := m.UpdateFields(ctx, "b1", Update{Status: &status, PID: &pid, StartedAt: &started})
	if err != nil || !matched {
		t.Fatalf("UpdateFields: %v, matched=%v", err, matched)
	}
	got, _ = m.Get(ctx, "b1")
	if got.Status != StatusRunning || got.PID != 4242 || !got.StartedAt.Valid {
		t.Fatalf("update not applied: %+v", got)
	}
	// untouched fields survive a partial update
	if got.Description != "echoes everything" {
		t.Fatalf("partial update clobbered description: %+v", got)
	}

	if matched, _ := m.UpdateFields(ctx, "missing", Update{Status: &status}); matched {
		t.Fatalf("UpdateFields matched a missing record")
	}
}

func TestMemoryListing(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Put(ctx, Record{BotID: "b1", UserID: "u1", Status: StatusRunning})
	_ = m.Put(ctx, Record{BotID: "b2", UserID: "u1", Status: StatusStopped})
	_ = m.Put(ctx, Record{BotID: "b3", UserID: "u2", Status: StatusRunning})

	byUser, err := m.ListByUser(ctx, "u1")
	if err != nil || len(byUser) != 2 {
		t.Fatalf("ListByUser: %d, %v", len(byUser), err)
	}
	byStatus, err := m.ListByStatus(ctx, StatusRunning)
	if err != nil || len(byStatus) != 2 {
		t.Fatalf("ListByStatus: %d, %v", len(byStatus), err)
	}
}

func TestMemoryResetRunning(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Put(ctx, Record{BotID: "b1", Status: StatusRunning})
	_ = m.Put(ctx, Record{BotID: "b2", Status: StatusStopped})

	sweep := time.Now()
	n, err := m.ResetRunning(ctx, sweep)
	if err != nil || n != 1 {
		t.Fatalf("ResetRunning: %d, %v", n, err)
	}
	got, _ := m.Get(ctx, "b1")
	if got.Status != StatusStopped || !got.StoppedAt.Valid {
		t.Fatalf("stale row not swept: %+v", got)
	}
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Put(ctx, Record{BotID: "b1"})

	if ok, _ := m.Delete(ctx, "b1"); !ok {
		t.Fatalf("Delete: no match")
	}
	if ok, _ := m.Delete(ctx, "b1"); ok {
		t.Fatalf("Delete matched twice")
	}
	if _, err := m.Get(ctx, "b1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("record survived delete: %v", err)
	}
}
