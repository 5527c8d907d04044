package repository

import (
	"context"
	"time"

	"sentinal-call/internal/domain/event"
	sentinal_errors "sentinal-call/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresEventRepository struct {
	db    *gorm.DB
	clock func() time.Time
}

func NewEventRepository(db *gorm.DB) EventRepository {
	return &PostgresEventRepository{db: db, clock: time.Now}
}

// SetClock replaces the time source used for retry scheduling.
func (r *PostgresEventRepository) SetClock(clock func() time.Time) {
	r.clock = clock
}

func (r *PostgresEventRepository) GetPendingOutboxEvents(ctx context.Context, limit int) ([]event.OutboxEvent, error) {
	var events []event.OutboxEvent
	q := r.db.WithContext(ctx).
		Where("processed_at IS NULL AND retry_count < max_retries AND (next_retry_at IS NULL OR next_retry_at <= ?)", r.clock().UTC())
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Order("created_at ASC").Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *PostgresEventRepository) MarkOutboxEventProcessed(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&event.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed_at":  r.clock().UTC(),
			"error_message": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return sentinal_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresEventRepository) MarkOutboxEventFailed(ctx context.Context, id uuid.UUID, nextRetryAt time.Time, errorMessage string) error {
	res := r.db.WithContext(ctx).
		Model(&event.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"retry_count":   gorm.Expr("retry_count + 1"),
			"next_retry_at": nextRetryAt.UTC(),
			"error_message": errorMessage,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return sentinal_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresEventRepository) CreateOutboxEventDelivery(ctx context.Context, d *event.OutboxEventDelivery) error {
	res := r.db.WithContext(ctx).Create(d)
	if res.Error != nil {
		return mapError(res.Error)
	}
	return nil
}

func (r *PostgresEventRepository) GetOutboxEventDeliveries(ctx context.Context, eventID uuid.UUID) ([]event.OutboxEventDelivery, error) {
	var deliveries []event.OutboxEventDelivery
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("attempt_number ASC").
		Find(&deliveries).Error
	if err != nil {
		return nil, err
	}
	return deliveries, nil
}

func (r *PostgresEventRepository) ListOutboxEvents(ctx context.Context, aggregateID uuid.UUID) ([]event.OutboxEvent, error) {
	var events []event.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Order("created_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
