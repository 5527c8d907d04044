package proxy

import (
	"context"

	"sentinal-call/internal/commands"
	"sentinal-call/internal/domain/call"
	"sentinal-call/internal/repository"
	sentinal_errors "sentinal-call/pkg/errors"

	"github.com/google/uuid"
)

// AccessControl decides which participant may act on a call.
type AccessControl struct {
	callRepo repository.CallRepository
}

func NewAccessControl(callRepo repository.CallRepository) *AccessControl {
	return &AccessControl{callRepo: callRepo}
}

// Authorize implements commands.Proxy.
func (a *AccessControl) Authorize(ctx context.Context, cmd commands.Command) error {
	switch c := cmd.(type) {
	case commands.InitiateCallCommand:
		return nil
	case commands.AcceptCallCommand:
		return a.requireRole(ctx, c.CallID, c.UserID, call.RoleReceiver)
	case commands.RejectCallCommand:
		return a.requireRole(ctx, c.CallID, c.UserID, call.RoleReceiver)
	case commands.CallCommand:
		_, err := a.CanViewCall(ctx, c.ActorID(), c.TargetCallID())
		return err
	}
	return nil
}

// CanViewCall returns the call when userID is one of its participants.
func (a *AccessControl) CanViewCall(ctx context.Context, userID, callID uuid.UUID) (call.Call, error) {
	c, err := a.callRepo.GetByID(ctx, callID)
	if err != nil {
		return call.Call{}, err
	}
	if !c.IsParticipant(userID) {
		return call.Call{}, sentinal_errors.ErrForbidden
	}
	return c, nil
}

func (a *AccessControl) requireRole(ctx context.Context, callID, userID uuid.UUID, want call.Role) error {
	c, err := a.CanViewCall(ctx, userID, callID)
	if err != nil {
		return err
	}
	if role, _ := c.RoleOf(userID); role != want {
		return sentinal_errors.ErrForbidden
	}
	return nil
}
