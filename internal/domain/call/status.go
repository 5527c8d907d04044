package call

import (
	"fmt"
	"slices"

	sentinal_errors "sentinal-call/pkg/errors"
)

// Status is the lifecycle state of a call record.
type Status string

const (
	StatusRinging  Status = "ringing"
	StatusOngoing  Status = "ongoing"
	StatusEnded    Status = "ended"
	StatusRejected Status = "rejected"
	StatusMissed   Status = "missed"
)

var validTransitions = map[Status][]Status{
	StatusRinging: {StatusOngoing, StatusRejected, StatusEnded, StatusMissed},
	StatusOngoing: {StatusEnded},
}

func (s Status) Valid() bool {
	switch s {
	case StatusRinging, StatusOngoing, StatusEnded, StatusRejected, StatusMissed:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusEnded || s == StatusRejected || s == StatusMissed
}

// CanTransition reports whether from -> to is an edge of the call graph.
func CanTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// AllowedFrom lists the states that may move to `to`.
func AllowedFrom(to Status) []Status {
	var out []Status
	for from, targets := range validTransitions {
		if slices.Contains(targets, to) {
			out = append(out, from)
		}
	}
	slices.Sort(out)
	return out
}

// Transition validates from -> to.
func Transition(from, to Status) error {
	if from == to {
		return sentinal_errors.ErrDuplicateEvent
	}
	if from.IsTerminal() {
		return fmt.Errorf("%w: call is %s", sentinal_errors.ErrCallTerminated, from)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w from %s to %s", sentinal_errors.ErrInvalidTransition, from, to)
	}
	return nil
}
