// Package notify delivers grading events to students and guardians.
//
// Delivery is fire-and-forget: callers log a failed Notify and carry on.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// EventGradePublished is emitted the first time a grade is published.
const EventGradePublished = "grade.published"

// Event describes something a user should hear about.
type Event struct {
	Type        string    `json:"type"`
	RecipientID string    `json:"recipientId"`
	AttemptID   string    `json:"attemptId"`
	ExamID      string    `json:"examId"`
	ExamTitle   string    `json:"examTitle"`
	Percentage  int       `json:"percentage"`
	Letter      string    `json:"grade"`
	OccurredAt  time.Time `json:"occurredAt"`

	// Recipient contact details; not recorded in the event log.
	RecipientName  string `json:"-"`
	RecipientEmail string `json:"-"`
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Log writes events to the structured log only.
type Log struct{}

func (Log) Notify(_ context.Context, ev Event) error {
	slog.Info("notification", "type", ev.Type, "recipient_id", ev.RecipientID, "attempt_id", ev.AttemptID)
	return nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
