package repository_test

import (
	"context"
	"testing"
	"time"

	"sentinal-call/internal/domain/event"
	"sentinal-call/internal/repository"
	"sentinal-call/internal/testutil"

	"github.com/google/uuid"
)

func TestOutboxPendingAndRetry(t *testing.T) {
	db := testutil.DB(t)
	calls := repository.NewCallRepository(db)
	evts := repository.NewEventRepository(db)
	ctx := context.Background()

	c := newCall(uuid.New(), uuid.New(), time.Now().UTC())
	if err := calls.CreateWithAdmission(ctx, c); err != nil {
		t.Fatal(err)
	}

	pending, err := evts.GetPendingOutboxEvents(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	id := pending[0].ID

	// A failure scheduled in the future hides the event until then.
	if err := evts.MarkOutboxEventFailed(ctx, id, time.Now().Add(time.Hour), "redis down"); err != nil {
		t.Fatal(err)
	}
	pending, err = evts.GetPendingOutboxEvents(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after failure = %d, want 0", len(pending))
	}

	if err := evts.MarkOutboxEventFailed(ctx, id, time.Now().Add(-time.Second), "redis down"); err != nil {
		t.Fatal(err)
	}
	pending, err = evts.GetPendingOutboxEvents(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].RetryCount != 2 {
		t.Fatalf("pending = %+v, want one event with 2 retries", pending)
	}

	if err := evts.CreateOutboxEventDelivery(ctx, &event.OutboxEventDelivery{
		ID: uuid.New(), EventID: id, AttemptNumber: 3, Status: event.DeliveryDelivered, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}
	if err := evts.MarkOutboxEventProcessed(ctx, id); err != nil {
		t.Fatal(err)
	}
	pending, err = evts.GetPendingOutboxEvents(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("pending after processed = %d, want 0", len(pending))
	}

	deliveries, err := evts.GetOutboxEventDeliveries(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(deliveries) != 1 || deliveries[0].Status != event.DeliveryDelivered {
		t.Errorf("deliveries = %+v", deliveries)
	}
}
