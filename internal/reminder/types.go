package reminder

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when an event id does not exist.
	ErrNotFound = errors.New("event not found")
	// ErrTerminal is returned when an operation requires an active event
	// but the event is already completed or cancelled.
	ErrTerminal = errors.New("event already terminal")
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

type StageState string

const (
	StagePending  StageState = "pending"
	StageInFlight StageState = "inflight"
	StageSent     StageState = "sent"
)

// Stage is one notification point of an event. A zero Offset means
// "fires at the target time"; sending it completes the event.
type Stage struct {
	Label  string
	Offset time.Duration
	FireAt time.Time
	State  StageState
}

// Event is a scheduled group reminder.
type Event struct {
	ID              string
	GroupJID        string
	OwnerJID        string
	Title           string
	Recipients      []string
	TargetTime      time.Time // absolute UTC instant; scheduling arithmetic only uses this
	DisplayTimezone string    // rendering only
	Stages          []Stage   // largest offset first
	Status          Status
	CreatedAt       time.Time
}

// Stage returns the stage with the given label, or nil.
func (e *Event) Stage(label string) *Stage {
	for i := range e.Stages {
		if e.Stages[i].Label == label {
			return &e.Stages[i]
		}
	}
	return nil
}

// DueStage is a store row describing a pending stage that is due.
type DueStage struct {
	EventID string
	Label   string
	FireAt  time.Time
}

// Store is the durable event/stage table this package schedules from.
// Implementations must make ClaimStage an atomic conditional update:
// pending -> inflight only, and only while the owning event is active.
type Store interface {
	CreateEvent(ctx context.Context, ev *Event) error
	GetEvent(ctx context.Context, id string) (*Event, error)
	LoadActiveEvents(ctx context.Context) ([]*Event, error)
	ListActive(ctx context.Context, groupJID, ownerJID string) ([]*Event, error)

	FindDueStages(ctx context.Context, now time.Time) ([]DueStage, error)
	ClaimStage(ctx context.Context, eventID, label string) (bool, error)
	CommitStage(ctx context.Context, eventID, label string, final bool) error
	RollbackStage(ctx context.Context, eventID, label string) error
	ReleaseStaleClaims(ctx context.Context, olderThan time.Time) (int, error)

	CancelEvent(ctx context.Context, id string) (bool, error)
	RescheduleEvent(ctx context.Context, id string, target time.Time, title string, stages []Stage) error
	PruneTerminal(ctx context.Context, olderThan time.Time) (int, error)
}

// Dispatcher delivers a rendered notification to a group chat. An error
// return means the message did not go out and the stage must be rolled
// back for a later retry.
type Dispatcher interface {
	Send(ctx context.Context, groupJID, text string, mentions []string) error
}
