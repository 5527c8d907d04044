package websocket

import (
	"context"
	"errors"

	"sentinal-call/internal/domain/call"
	"sentinal-call/internal/events"
	sentinal_errors "sentinal-call/pkg/errors"

	"github.com/google/uuid"
)

// CallViewer resolves a call for one of its participants.
type CallViewer interface {
	CanViewCall(ctx context.Context, userID, callID uuid.UUID) (call.Call, error)
}

// ChannelAuthorizer handles authorization for WebSocket channel subscriptions
type ChannelAuthorizer struct {
	calls CallViewer
}

func NewChannelAuthorizer(calls CallViewer) *ChannelAuthorizer {
	return &ChannelAuthorizer{calls: calls}
}

// CanSubscribe allows a user's own incoming channel and the status and
// signal channels of calls they take part in. Everything else is denied.
func (a *ChannelAuthorizer) CanSubscribe(ctx context.Context, userID uuid.UUID, channel string) (bool, error) {
	kind, id, ok := events.ParseChannel(channel)
	if !ok {
		return false, nil
	}

	switch kind {
	case events.ChannelIncoming:
		return id == userID, nil
	case events.ChannelCallStatus, events.ChannelCallSignal:
		_, err := a.calls.CanViewCall(ctx, userID, id)
		if errors.Is(err, sentinal_errors.ErrForbidden) || errors.Is(err, sentinal_errors.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}
