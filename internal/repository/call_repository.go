package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"sentinal-call/internal/domain/call"
	"sentinal-call/internal/events"
	sentinal_errors "sentinal-call/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresCallRepository struct {
	db *gorm.DB
}

func NewCallRepository(db *gorm.DB) CallRepository {
	return &PostgresCallRepository{db: db}
}

func (r *PostgresCallRepository) CreateWithAdmission(ctx context.Context, c *call.Call) error {
	if c.CallerID == c.ReceiverID {
		return sentinal_errors.ErrInvalidInput
	}
	now := c.StartedAt
	if now.IsZero() {
		now = time.Now().UTC()
		c.StartedAt = now
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows := []call.UserCallStatus{
			{UserID: c.CallerID, UpdatedAt: now},
			{UserID: c.ReceiverID, UpdatedAt: now},
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
			return err
		}

		// Fixed lock order so two opposite initiations cannot deadlock.
		ids := []uuid.UUID{c.CallerID, c.ReceiverID}
		sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

		for _, id := range ids {
			res := tx.Model(&call.UserCallStatus{}).
				Where("user_id = ? AND is_in_call = ?", id, false).
				Updates(map[string]interface{}{
					"is_in_call":      true,
					"current_call_id": c.ID,
					"updated_at":      now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return r.busyError(tx, c)
			}
		}

		if err := tx.Create(c).Error; err != nil {
			return mapError(err)
		}
		return insertOutboxEvent(tx, events.AggregateTypeCall, events.EventTypeCallIncoming,
			events.IncomingChannel(c.ReceiverID), c.ID, c, now)
	})
}

// busyError reports the receiver first, then the caller. Rows this
// transaction already reserved for c are not counted as busy.
func (r *PostgresCallRepository) busyError(tx *gorm.DB, c *call.Call) error {
	var statuses []call.UserCallStatus
	if err := tx.Where("user_id IN ?", []uuid.UUID{c.CallerID, c.ReceiverID}).Find(&statuses).Error; err != nil {
		return err
	}
	busy := make(map[uuid.UUID]bool, len(statuses))
	for _, st := range statuses {
		busy[st.UserID] = st.IsInCall && (st.CurrentCallID == nil || *st.CurrentCallID != c.ID)
	}
	if busy[c.ReceiverID] {
		return sentinal_errors.NewBusy(sentinal_errors.PartyReceiver, c.ReceiverID.String())
	}
	return sentinal_errors.NewBusy(sentinal_errors.PartyCaller, c.CallerID.String())
}

func (r *PostgresCallRepository) GetByID(ctx context.Context, id uuid.UUID) (call.Call, error) {
	var c call.Call
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if err != nil {
		return call.Call{}, mapError(err)
	}
	return c, nil
}

func (r *PostgresCallRepository) Transition(ctx context.Context, req TransitionRequest) (call.Call, error) {
	if !req.To.Valid() || req.To == call.StatusRinging {
		return call.Call{}, sentinal_errors.ErrInvalidInput
	}
	at := req.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	from := call.AllowedFrom(req.To)
	allowed := make([]string, 0, len(from))
	for _, s := range from {
		allowed = append(allowed, string(s))
	}

	updates := map[string]interface{}{
		"status":     string(req.To),
		"updated_at": at,
	}
	switch {
	case req.To == call.StatusOngoing:
		updates["answered_at"] = at
	case req.To.IsTerminal():
		updates["ended_at"] = at
		if req.To == call.StatusEnded {
			duration := 0
			if req.DurationSeconds != nil && *req.DurationSeconds > 0 {
				duration = *req.DurationSeconds
			}
			updates["duration_seconds"] = duration
		}
	}

	var out call.Call
	var dup bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&call.Call{}).
			Where("id = ? AND status IN ?", req.CallID, allowed).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			if err := tx.Where("id = ?", req.CallID).First(&out).Error; err != nil {
				return mapError(err)
			}
			if out.Status == req.To {
				dup = true
				return nil
			}
			return call.Transition(out.Status, req.To)
		}

		if req.To.IsTerminal() {
			if err := releasePresence(tx, req.CallID, at); err != nil {
				return err
			}
		}

		if err := tx.Where("id = ?", req.CallID).First(&out).Error; err != nil {
			return mapError(err)
		}
		return insertOutboxEvent(tx, events.AggregateTypeCall, events.EventTypeCallStatusChanged,
			events.StatusChannel(out.ID), out.ID, out, at)
	})
	if err != nil {
		return call.Call{}, err
	}
	if dup {
		return out, sentinal_errors.ErrDuplicateEvent
	}
	return out, nil
}

func releasePresence(tx *gorm.DB, callID uuid.UUID, at time.Time) error {
	return tx.Model(&call.UserCallStatus{}).
		Where("current_call_id = ?", callID).
		Updates(map[string]interface{}{
			"is_in_call":      false,
			"current_call_id": nil,
			"updated_at":      at,
		}).Error
}

func (r *PostgresCallRepository) LatestRinging(ctx context.Context, receiverID uuid.UUID, since time.Time) (call.Call, error) {
	var c call.Call
	err := r.db.WithContext(ctx).
		Where("receiver_id = ? AND status = ? AND started_at >= ?", receiverID, string(call.StatusRinging), since).
		Order("started_at DESC").
		First(&c).Error
	if err != nil {
		return call.Call{}, mapError(err)
	}
	return c, nil
}

func (r *PostgresCallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, page, limit int) ([]call.Call, int64, error) {
	var calls []call.Call
	var total int64

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	q := r.db.WithContext(ctx).
		Model(&call.Call{}).
		Where("caller_id = ? OR receiver_id = ?", userID, userID).
		Session(&gorm.Session{})

	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := q.Order("started_at DESC").Offset(offset).Limit(limit).Find(&calls).Error; err != nil {
		return nil, 0, err
	}

	return calls, total, nil
}

func (r *PostgresCallRepository) IsBusy(ctx context.Context, userID uuid.UUID) (bool, error) {
	st, err := r.GetUserCallStatus(ctx, userID)
	if errors.Is(err, sentinal_errors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return st.IsInCall, nil
}

func (r *PostgresCallRepository) GetUserCallStatus(ctx context.Context, userID uuid.UUID) (call.UserCallStatus, error) {
	var st call.UserCallStatus
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&st).Error
	if err != nil {
		return call.UserCallStatus{}, mapError(err)
	}
	return st, nil
}
