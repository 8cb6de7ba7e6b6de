package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/botforge/internal/store"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "bots.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return db
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	if _, err := db.Get(ctx, "b1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	rec := store.Record{
		BotID:       "b1",
		UserID:      "u1",
		Name:        "EchoBot",
		Status:      store.StatusPending,
		Description: "echoes everything",
		CodePath:    "/tmp/bot_b1/bot.py",
		CreatedAt:   time.Now(),
	}
	if err := db.Put(ctx, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := db.Get(ctx, "b1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "EchoBot" || got.Status != store.StatusPending || got.StartedAt.Valid {
		t.Fatalf("round trip: %+v", got)
	}

	// Put on an existing id is an upsert.
	rec.Status = store.StatusError
	rec.ErrorMessage.String, rec.ErrorMessage.Valid = "spawn failed", true
	if err := db.Put(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ = db.Get(ctx, "b1")
	if got.Status != store.StatusError || !got.ErrorMessage.Valid {
		t.Fatalf("upsert not applied: %+v", got)
	}
}

func TestSQLiteUpdateFields(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_ = db.Put(ctx, store.Record{BotID: "b1", UserID: "u1", Name: "Bot", Status: store.StatusPending, CreatedAt: time.Now()})

	status := store.StatusRunning
	pid := 4242
	started := time.Now()
	matched, err := db.UpdateFields(ctx, "b1", store.Update{Status: &status, PID: &pid, StartedAt: &started})
	if err != nil || !matched {
		t.Fatalf("UpdateFields: %v, matched=%v", err, matched)
	}
	got, _ := db.Get(ctx, "b1")
	if got.Status != store.StatusRunning || got.PID != 4242 || !got.StartedAt.Valid {
		t.Fatalf("update not applied: %+v", got)
	}

	if matched, err := db.UpdateFields(ctx, "missing", store.Update{Status: &status}); err != nil || matched {
		t.Fatalf("update matched a missing row: %v, %v", matched, err)
	}
	// an empty update touches nothing
	if matched, err := db.UpdateFields(ctx, "b1", store.Update{}); err != nil || matched {
		t.Fatalf("empty update: %v, %v", matched, err)
	}
}

func TestSQLiteListingAndReset(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	now := time.Now()
	_ = db.Put(ctx, store.Record{BotID: "b1", UserID: "u1", Status: store.StatusRunning, CreatedAt: now})
	_ = db.Put(ctx, store.Record{BotID: "b2", UserID: "u1", Status: store.StatusStopped, CreatedAt: now.Add(time.Second)})
	_ = db.Put(ctx, store.Record{BotID: "b3", UserID: "u2", Status: store.StatusRunning, CreatedAt: now})

	byUser, err := db.ListByUser(ctx, "u1")
	if err != nil || len(byUser) != 2 {
		t.Fatalf("ListByUser: %d, %v", len(byUser), err)
	}
	running, err := db.ListByStatus(ctx, store.StatusRunning)
	if err != nil || len(running) != 2 {
		t.Fatalf("ListByStatus: %d, %v", len(running), err)
	}

	n, err := db.ResetRunning(ctx, time.Now())
	if err != nil || n != 2 {
		t.Fatalf("ResetRunning: %d, %v", n, err)
	}
	got, _ := db.Get(ctx, "b1")
	if got.Status != store.StatusStopped || !got.StoppedAt.Valid {
		t.Fatalf("stale row not swept: %+v", got)
	}
}

func TestSQLiteDelete(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_ = db.Put(ctx, store.Record{BotID: "b1", CreatedAt: time.Now()})

	if ok, err := db.Delete(ctx, "b1"); err != nil || !ok {
		t.Fatalf("Delete: %v, %v", ok, err)
	}
	if ok, _ := db.Delete(ctx, "b1"); ok {
		t.Fatalf("Delete matched twice")
	}
}
