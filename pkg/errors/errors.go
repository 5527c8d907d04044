package sentinal_errors

import (
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")
	ErrRateLimited        = errors.New("rate limited")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrAlreadyExists      = errors.New("already exists")
)

// Call coordination errors
var (
	ErrBusy                 = errors.New("user is busy")
	ErrMediaAccessDenied    = errors.New("media access denied")
	ErrSignalingFailure     = errors.New("signaling failure")
	ErrMalformedSignal      = fmt.Errorf("malformed signal: %w", ErrSignalingFailure)
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrDuplicateEvent       = errors.New("duplicate event")
	ErrCallTerminated       = errors.New("call already terminated")
	ErrConnectionFailed     = errors.New("peer connection failed")
)

// Party identifies which side of a call attempt was rejected by admission control.
type Party string

const (
	PartyCaller   Party = "caller"
	PartyReceiver Party = "receiver"
)

// BusyError reports which participant blocked admission.
type BusyError struct {
	Party  Party
	UserID string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("%s %s is busy", e.Party, e.UserID)
}

func (e *BusyError) Unwrap() error {
	return ErrBusy
}

// NewBusy returns a BusyError for the given party.
func NewBusy(party Party, userID string) error {
	return &BusyError{Party: party, UserID: userID}
}

// BusyParty extracts the busy party from err, if any.
func BusyParty(err error) (Party, bool) {
	var be *BusyError
	if errors.As(err, &be) {
		return be.Party, true
	}
	return "", false
}

// NowPtr returns a pointer to current time
func NowPtr() *time.Time {
	now := time.Now()
	return &now
}
