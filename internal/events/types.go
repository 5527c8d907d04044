package events

// Event type constants. These follow the format: domain.action

// Call events
const (
	EventTypeCallIncoming      = "call.incoming"
	EventTypeCallStatusChanged = "call.status_changed"
	EventTypeCallSignal        = "call.signal"
)

// Aggregate type constants
const (
	AggregateTypeCall = "call"
)

// Redis channel prefixes
const (
	ChannelPrefixIncoming   = "channel:incoming:"
	ChannelPrefixCallStatus = "channel:call-status:"
	ChannelPrefixCallSignal = "channel:call-signal:"
	ChannelPattern          = "channel:*"
)
