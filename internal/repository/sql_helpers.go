package repository

import (
	"encoding/json"
	"errors"
	"time"

	"sentinal-call/internal/domain/event"
	sentinal_errors "sentinal-call/pkg/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return sentinal_errors.ErrNotFound
	case isUniqueViolation(err):
		return sentinal_errors.ErrAlreadyExists
	}
	return err
}

// insertOutboxEvent stores an event to publish on channel once tx commits.
func insertOutboxEvent(tx *gorm.DB, aggregateType, eventType, channel string, aggregateID uuid.UUID, payload interface{}, at time.Time) error {
	data := []byte("{}")
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		data = raw
	}
	return tx.Create(&event.OutboxEvent{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Channel:       channel,
		Payload:       string(data),
		CreatedAt:     at,
		MaxRetries:    5,
	}).Error
}
