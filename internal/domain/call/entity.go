package call

import (
	"time"

	"github.com/google/uuid"
)

// Type is the media kind of a call.
type Type string

const (
	TypeAudio Type = "audio"
	TypeVideo Type = "video"
)

func (t Type) Valid() bool {
	return t == TypeAudio || t == TypeVideo
}

// Role is the local client's side of a call.
type Role string

const (
	RoleCaller   Role = "caller"
	RoleReceiver Role = "receiver"
)

func (r Role) Valid() bool {
	return r == RoleCaller || r == RoleReceiver
}

// Call represents calls table
type Call struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CallerID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"caller_id"`
	ReceiverID      uuid.UUID  `gorm:"type:uuid;not null;index:idx_calls_receiver_status" json:"receiver_id"`
	Type            Type       `gorm:"type:varchar(10);not null" json:"type"`
	Status          Status     `gorm:"type:varchar(10);not null;index:idx_calls_receiver_status" json:"status"`
	StartedAt       time.Time  `gorm:"not null" json:"started_at"`
	AnsweredAt      *time.Time `json:"answered_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds *int       `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (Call) TableName() string {
	return "calls"
}

// IsParticipant reports whether userID is the caller or the receiver.
func (c Call) IsParticipant(userID uuid.UUID) bool {
	return userID != uuid.Nil && (c.CallerID == userID || c.ReceiverID == userID)
}

// RoleOf returns the role userID holds in the call.
func (c Call) RoleOf(userID uuid.UUID) (Role, bool) {
	switch userID {
	case c.CallerID:
		return RoleCaller, true
	case c.ReceiverID:
		return RoleReceiver, true
	}
	return "", false
}

// Peer returns the other participant.
func (c Call) Peer(userID uuid.UUID) uuid.UUID {
	if userID == c.CallerID {
		return c.ReceiverID
	}
	return c.CallerID
}

// UserCallStatus represents user_call_statuses. One row per user; the
// conditional update on IsInCall is the admission gate.
type UserCallStatus struct {
	UserID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"user_id"`
	IsInCall      bool       `gorm:"not null" json:"is_in_call"`
	CurrentCallID *uuid.UUID `gorm:"type:uuid" json:"current_call_id,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (UserCallStatus) TableName() string {
	return "user_call_statuses"
}

// SignalRecord represents call_signals. ID is assigned by the database and
// is the relay's insertion order.
type SignalRecord struct {
	ID        uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CallID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"call_id"`
	SenderID  uuid.UUID  `gorm:"type:uuid;not null" json:"sender_id"`
	Kind      SignalKind `gorm:"type:varchar(16);not null" json:"kind"`
	Payload   string     `gorm:"type:text;not null" json:"payload"`
	CreatedAt time.Time  `json:"created_at"`
}

func (SignalRecord) TableName() string {
	return "call_signals"
}
