package event

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// OutboxEvent represents outbox_events. Rows are written in the same
// transaction as the call change they describe; Channel is resolved at
// write time.
type OutboxEvent struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	AggregateType string    `gorm:"not null"`
	AggregateID   uuid.UUID `gorm:"type:uuid;not null"`
	EventType     string    `gorm:"not null"`
	Channel       string    `gorm:"not null"`
	Payload       string    `gorm:"type:text;not null"`
	CreatedAt     time.Time `gorm:"not null;index"`
	ProcessedAt   sql.NullTime
	RetryCount    int `gorm:"default:0"`
	MaxRetries    int `gorm:"default:5"`
	NextRetryAt   sql.NullTime
	ErrorMessage  sql.NullString
}

// OutboxEventDelivery represents outbox_event_deliveries
type OutboxEventDelivery struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	EventID       uuid.UUID `gorm:"type:uuid;not null;index"`
	AttemptNumber int       `gorm:"not null"`
	Status        string    `gorm:"not null"`
	ErrorMessage  sql.NullString
	CreatedAt     time.Time
}

const (
	DeliveryDelivered = "DELIVERED"
	DeliveryFailed    = "FAILED"
)

func (OutboxEvent) TableName() string {
	return "outbox_events"
}

func (OutboxEventDelivery) TableName() string {
	return "outbox_event_deliveries"
}
