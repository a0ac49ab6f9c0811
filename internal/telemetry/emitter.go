package telemetry

import (
	"context"
	"time"
)

// Event is one credential lifecycle event (token created, code issued, code verified, ...).
type Event struct {
	UserID    string
	EventType string
	Resource  string
	Metadata  []byte
	CreatedAt time.Time
}

// EventEmitter emits credential events (e.g. to OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}
