package history

import (
	"context"
	"time"

	"github.com/loykin/botforge/internal/store"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventLaunch EventType = "launch"
	EventStop   EventType = "stop"
	EventError  EventType = "error"
)

// Event represents a bot lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType    `json:"type"`
	OccurredAt time.Time    `json:"occurred_at"`
	Record     store.Record `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// row is the flat export shape shared by every sink: one column per bot
// field, matching the bot_events table the native ClickHouse sink inserts
// into.
type row struct {
	Type         string    `json:"type"`
	OccurredAt   time.Time `json:"occurred_at"`
	BotID        string    `json:"bot_id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	Status       string    `json:"status"`
	PID          int       `json:"pid"`
	ErrorMessage string    `json:"error_message"`
}

func newRow(e Event) row {
	return row{
		Type:         string(e.Type),
		OccurredAt:   e.OccurredAt,
		BotID:        e.Record.BotID,
		UserID:       e.Record.UserID,
		Name:         e.Record.Name,
		Status:       e.Record.Status,
		PID:          e.Record.PID,
		ErrorMessage: e.Record.ErrorMessage.String,
	}
}
