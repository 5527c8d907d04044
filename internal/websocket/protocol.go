package websocket

import "encoding/json"

// Frame types exchanged over the socket.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"

	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameEvent        = "event"
	FrameError        = "error"
	FramePong         = "pong"
)

// Frame is the single JSON message shape in both directions. Data carries
// the published event envelope for event frames.
type Frame struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func encodeFrame(f Frame) []byte {
	data, _ := json.Marshal(f)
	return data
}

// EventFrame wraps a published payload for delivery on channel.
func EventFrame(channel string, payload []byte) []byte {
	if !json.Valid(payload) {
		payload, _ = json.Marshal(string(payload))
	}
	return encodeFrame(Frame{Type: FrameEvent, Channel: channel, Data: payload})
}
