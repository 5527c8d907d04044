package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"sentinal-call/internal/domain/call"
	"sentinal-call/internal/domain/event"
)

// TransitionRequest moves one call along the status graph.
type TransitionRequest struct {
	CallID          uuid.UUID
	To              call.Status
	DurationSeconds *int
	At              time.Time
}

type CallRepository interface {
	// CreateWithAdmission reserves both participants and inserts the ringing
	// call in one transaction. Fails with a *BusyError when either side
	// already holds a call.
	CreateWithAdmission(ctx context.Context, c *call.Call) error
	GetByID(ctx context.Context, id uuid.UUID) (call.Call, error)
	// Transition applies a conditional status write. A repeat of the
	// recorded status returns the row together with ErrDuplicateEvent.
	Transition(ctx context.Context, req TransitionRequest) (call.Call, error)

	LatestRinging(ctx context.Context, receiverID uuid.UUID, since time.Time) (call.Call, error)
	GetUserCalls(ctx context.Context, userID uuid.UUID, page, limit int) ([]call.Call, int64, error)

	IsBusy(ctx context.Context, userID uuid.UUID) (bool, error)
	GetUserCallStatus(ctx context.Context, userID uuid.UUID) (call.UserCallStatus, error)
}

type SignalRepository interface {
	Append(ctx context.Context, rec *call.SignalRecord) error
	ListSince(ctx context.Context, callID uuid.UUID, afterID uint64, limit int) ([]call.SignalRecord, error)
	Count(ctx context.Context, callID uuid.UUID) (int64, error)
}

type EventRepository interface {
	GetPendingOutboxEvents(ctx context.Context, limit int) ([]event.OutboxEvent, error)
	MarkOutboxEventProcessed(ctx context.Context, id uuid.UUID) error
	MarkOutboxEventFailed(ctx context.Context, id uuid.UUID, nextRetryAt time.Time, errorMessage string) error
	CreateOutboxEventDelivery(ctx context.Context, d *event.OutboxEventDelivery) error
	GetOutboxEventDeliveries(ctx context.Context, eventID uuid.UUID) ([]event.OutboxEventDelivery, error)
	ListOutboxEvents(ctx context.Context, aggregateID uuid.UUID) ([]event.OutboxEvent, error)
}
