package events

import (
	"strings"

	"github.com/google/uuid"
)

// IncomingChannel carries incoming-call announcements for one receiver.
func IncomingChannel(receiverID uuid.UUID) string {
	return ChannelPrefixIncoming + receiverID.String()
}

// StatusChannel carries status changes of one call.
func StatusChannel(callID uuid.UUID) string {
	return ChannelPrefixCallStatus + callID.String()
}

// SignalChannel carries negotiation messages of one call.
func SignalChannel(callID uuid.UUID) string {
	return ChannelPrefixCallSignal + callID.String()
}

// ChannelKind classifies a channel name.
type ChannelKind int

const (
	ChannelUnknown ChannelKind = iota
	ChannelIncoming
	ChannelCallStatus
	ChannelCallSignal
)

// ParseChannel splits a channel into its kind and the id it is namespaced by.
func ParseChannel(channel string) (ChannelKind, uuid.UUID, bool) {
	prefixes := []struct {
		prefix string
		kind   ChannelKind
	}{
		{ChannelPrefixIncoming, ChannelIncoming},
		{ChannelPrefixCallStatus, ChannelCallStatus},
		{ChannelPrefixCallSignal, ChannelCallSignal},
	}
	for _, p := range prefixes {
		if !strings.HasPrefix(channel, p.prefix) {
			continue
		}
		id, err := uuid.Parse(strings.TrimPrefix(channel, p.prefix))
		if err != nil {
			return ChannelUnknown, uuid.Nil, false
		}
		return p.kind, id, true
	}
	return ChannelUnknown, uuid.Nil, false
}
