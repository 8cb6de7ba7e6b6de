package factory

import (
	"path/filepath"
	"testing"

	"github.com/loykin/botforge/internal/store"
	"github.com/loykin/botforge/internal/store/sqlite"
)

func TestNewFromDSN(t *testing.T) {
	if _, err := NewFromDSN(""); err == nil {
		t.Fatalf("empty DSN must be rejected")
	}

	s, err := NewFromDSN("memory")
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := s.(*store.Memory); !ok {
		t.Fatalf("expected memory store, got %T", s)
	}

	path := filepath.Join(t.TempDir(), "bots.db")
	s, err = NewFromDSN("sqlite://" + path)
	if err != nil {
		t.Fatalf("sqlite scheme: %v", err)
	}
	if _, ok := s.(*sqlite.DB); !ok {
		t.Fatalf("expected sqlite store, got %T", s)
	}
	_ = s.Close()

	// bare paths default to sqlite
	s, err = NewFromDSN(filepath.Join(t.TempDir(), "bare.db"))
	if err != nil {
		t.Fatalf("bare path: %v", err)
	}
	if _, ok := s.(*sqlite.DB); !ok {
		t.Fatalf("expected sqlite store for bare path, got %T", s)
	}
	_ = s.Close()
}
