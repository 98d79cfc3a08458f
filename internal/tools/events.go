package tools

import (
	"context"
	"time"
)

// Event describes a successful ledger mutation.
type Event struct {
	UserID string    `json:"user_id"`
	Tool   string    `json:"tool"`
	Data   any       `json:"data"`
	At     time.Time `json:"at"`
}

// EventSink receives mutation events. Implementations must not block;
// the tool result never depends on delivery.
type EventSink interface {
	LedgerChanged(ctx context.Context, ev Event)
}
