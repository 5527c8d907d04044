package websocket

import (
	"context"

	"sentinal-call/internal/events"
)

// RedisBridge fans published events out to subscribed sockets.
type RedisBridge struct {
	subscriber events.Subscriber
	hub        *Hub
}

func NewRedisBridge(subscriber events.Subscriber, hub *Hub) *RedisBridge {
	return &RedisBridge{subscriber: subscriber, hub: hub}
}

// Run blocks until ctx ends. With no channels it listens on every call channel.
func (b *RedisBridge) Run(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		channels = []string{events.ChannelPattern}
	}
	return b.subscriber.Subscribe(ctx, channels, func(channel string, payload []byte) {
		b.hub.Broadcast(channel, EventFrame(channel, payload))
	})
}
