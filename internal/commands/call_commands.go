package commands

import (
	"sentinal-call/internal/domain/call"
	sentinal_errors "sentinal-call/pkg/errors"

	"github.com/google/uuid"
)

const (
	TypeInitiateCall = "call.initiate"
	TypeAcceptCall   = "call.accept"
	TypeRejectCall   = "call.reject"
	TypeEndCall      = "call.end"
	TypeMissCall     = "call.miss"
	TypeSendSignal   = "call.signal"
)

// CallCommand is implemented by every command that targets an existing call.
type CallCommand interface {
	ActorCommand
	TargetCallID() uuid.UUID
}

// InitiateCallCommand starts a new call
type InitiateCallCommand struct {
	CallerID            uuid.UUID
	ReceiverID          uuid.UUID
	CallType            call.Type
	IdempotencyKeyValue string
}

func (InitiateCallCommand) CommandType() string { return TypeInitiateCall }

func (c InitiateCallCommand) Validate() error {
	if c.CallerID == uuid.Nil || c.ReceiverID == uuid.Nil || c.CallerID == c.ReceiverID {
		return sentinal_errors.ErrInvalidInput
	}
	if !c.CallType.Valid() {
		return sentinal_errors.ErrInvalidInput
	}
	return nil
}

func (c InitiateCallCommand) IdempotencyKey() string { return c.IdempotencyKeyValue }

func (c InitiateCallCommand) ActorID() uuid.UUID { return c.CallerID }

// transitionFields is shared by the commands that move an existing call.
type transitionFields struct {
	CallID              uuid.UUID
	UserID              uuid.UUID
	IdempotencyKeyValue string
}

func (c transitionFields) Validate() error {
	if c.CallID == uuid.Nil || c.UserID == uuid.Nil {
		return sentinal_errors.ErrInvalidInput
	}
	return nil
}

func (c transitionFields) IdempotencyKey() string { return c.IdempotencyKeyValue }

func (c transitionFields) ActorID() uuid.UUID { return c.UserID }

func (c transitionFields) TargetCallID() uuid.UUID { return c.CallID }

// AcceptCallCommand accepts an incoming call
type AcceptCallCommand struct{ transitionFields }

func NewAcceptCall(callID, userID uuid.UUID) AcceptCallCommand {
	return AcceptCallCommand{transitionFields{CallID: callID, UserID: userID}}
}

func (AcceptCallCommand) CommandType() string { return TypeAcceptCall }

// RejectCallCommand rejects an incoming call
type RejectCallCommand struct{ transitionFields }

func NewRejectCall(callID, userID uuid.UUID) RejectCallCommand {
	return RejectCallCommand{transitionFields{CallID: callID, UserID: userID}}
}

func (RejectCallCommand) CommandType() string { return TypeRejectCall }

// MissCallCommand records that a ringing call was never answered
type MissCallCommand struct{ transitionFields }

func NewMissCall(callID, userID uuid.UUID) MissCallCommand {
	return MissCallCommand{transitionFields{CallID: callID, UserID: userID}}
}

func (MissCallCommand) CommandType() string { return TypeMissCall }

// EndCallCommand ends a ringing or ongoing call
type EndCallCommand struct {
	transitionFields
	DurationSeconds *int
}

func NewEndCall(callID, userID uuid.UUID, duration *int) EndCallCommand {
	return EndCallCommand{transitionFields: transitionFields{CallID: callID, UserID: userID}, DurationSeconds: duration}
}

func (EndCallCommand) CommandType() string { return TypeEndCall }

func (c EndCallCommand) Validate() error {
	if err := c.transitionFields.Validate(); err != nil {
		return err
	}
	if c.DurationSeconds != nil && *c.DurationSeconds < 0 {
		return sentinal_errors.ErrInvalidInput
	}
	return nil
}

// SendSignalCommand relays one negotiation message
type SendSignalCommand struct {
	transitionFields
	Signal call.Signal
}

func NewSendSignal(callID, senderID uuid.UUID, sig call.Signal) SendSignalCommand {
	return SendSignalCommand{transitionFields: transitionFields{CallID: callID, UserID: senderID}, Signal: sig}
}

func (SendSignalCommand) CommandType() string { return TypeSendSignal }

func (c SendSignalCommand) Validate() error {
	if err := c.transitionFields.Validate(); err != nil {
		return err
	}
	return c.Signal.Validate()
}
