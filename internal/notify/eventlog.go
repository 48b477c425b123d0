package notify

import "context"

// Appender is the subset of the store used by EventLog.
type Appender interface {
	AppendEvent(ctx context.Context, typ, key string, data any) error
}

// EventLog records events in the append-only event log, keyed by recipient.
type EventLog struct {
	store Appender
}

// NewEventLog creates an EventLog notifier.
func NewEventLog(store Appender) *EventLog {
	return &EventLog{store: store}
}

func (e *EventLog) Notify(ctx context.Context, ev Event) error {
	return e.store.AppendEvent(ctx, ev.Type, ev.RecipientID, ev)
}
