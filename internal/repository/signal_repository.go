package repository

import (
	"context"
	"time"

	"sentinal-call/internal/domain/call"
	"sentinal-call/internal/events"
	sentinal_errors "sentinal-call/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresSignalRepository struct {
	db *gorm.DB
}

func NewSignalRepository(db *gorm.DB) SignalRepository {
	return &PostgresSignalRepository{db: db}
}

// Append stores a signal for a live call. Senders must be participants and
// the call must not be terminal.
//
// The call row is locked for the transaction so appends to one call commit
// in id order. Readers page by max id and would skip a lower id that
// committed late.
func (r *PostgresSignalRepository) Append(ctx context.Context, rec *call.SignalRecord) error {
	if !rec.Kind.Valid() {
		return sentinal_errors.ErrMalformedSignal
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c call.Call
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", rec.CallID).First(&c).Error; err != nil {
			return mapError(err)
		}
		if !c.IsParticipant(rec.SenderID) {
			return sentinal_errors.ErrForbidden
		}
		if c.Status.IsTerminal() {
			return sentinal_errors.ErrCallTerminated
		}

		if err := tx.Create(rec).Error; err != nil {
			return mapError(err)
		}

		relayed, err := rec.Relayed()
		if err != nil {
			return err
		}
		return insertOutboxEvent(tx, events.AggregateTypeCall, events.EventTypeCallSignal,
			events.SignalChannel(rec.CallID), rec.CallID, relayed, rec.CreatedAt)
	})
}

func (r *PostgresSignalRepository) ListSince(ctx context.Context, callID uuid.UUID, afterID uint64, limit int) ([]call.SignalRecord, error) {
	var recs []call.SignalRecord
	q := r.db.WithContext(ctx).
		Where("call_id = ? AND id > ?", callID, afterID).
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *PostgresSignalRepository) Count(ctx context.Context, callID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&call.SignalRecord{}).Where("call_id = ?", callID).Count(&n).Error
	return n, err
}
