package websocket

import (
	"context"
	"sync"
)

type requestKind int

const (
	requestRegister requestKind = iota
	requestUnregister
	requestSubscribe
	requestUnsubscribe
)

// hubRequest is one queued membership change. A single queue keeps a
// client's register, subscribe and unregister requests in order.
type hubRequest struct {
	kind    requestKind
	client  *Client
	channel string
}

// Hub manages WebSocket client connections and channel subscriptions
type Hub struct {
	mu sync.RWMutex

	// clients maps client ID to client (for cleanup)
	clients map[string]*Client

	// channels maps channel name to set of clients subscribed to it
	channels map[string]map[*Client]struct{}

	requests chan hubRequest
	done     chan struct{}
	stopOnce sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		channels: make(map[string]map[*Client]struct{}),
		requests: make(chan hubRequest, 512),
		done:     make(chan struct{}),
	}
}

// Run processes membership changes until ctx ends, then drops every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.stopOnce.Do(func() { close(h.done) })
			h.closeAll()
			return
		case req := <-h.requests:
			switch req.kind {
			case requestRegister:
				h.addClient(req.client)
			case requestUnregister:
				h.removeClient(req.client)
			case requestSubscribe:
				h.subscribeToChannel(req.client, req.channel)
			case requestUnsubscribe:
				h.unsubscribeFromChannel(req.client, req.channel)
			}
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.enqueue(hubRequest{kind: requestRegister, client: client})
}

func (h *Hub) Unregister(client *Client) {
	h.enqueue(hubRequest{kind: requestUnregister, client: client})
}

// enqueue drops requests once the hub has stopped.
func (h *Hub) enqueue(req hubRequest) {
	select {
	case h.requests <- req:
	case <-h.done:
	}
}

// Subscribe subscribes a client to a channel. The client receives a
// subscribed frame once the subscription is live.
func (h *Hub) Subscribe(client *Client, channel string) {
	h.enqueue(hubRequest{kind: requestSubscribe, client: client, channel: channel})
}

func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.enqueue(hubRequest{kind: requestUnsubscribe, client: client, channel: channel})
}

// Broadcast sends a message to all clients subscribed to a channel
func (h *Hub) Broadcast(channel string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for c := range h.channels[channel] {
		if c.SendMessage(payload) {
			sent++
		}
	}
	return sent
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// GetChannelSubscriberCount returns the number of subscribers for a channel
func (h *Hub) GetChannelSubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
}

// removeClient removes a client and all its subscriptions, then closes Send.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	for _, channel := range client.GetChannels() {
		if subscribers, ok := h.channels[channel]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.channels, channel)
			}
		}
	}
	delete(h.clients, client.ID)
	client.closeSend()
}

func (h *Hub) subscribeToChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Requests from a client that already left are dropped.
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[*Client]struct{})
	}
	h.channels[channel][client] = struct{}{}
	client.subscribe(channel)
	client.SendMessage(encodeFrame(Frame{Type: FrameSubscribed, Channel: channel}))
}

func (h *Hub) unsubscribeFromChannel(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	if subscribers, ok := h.channels[channel]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.channels, channel)
		}
	}
	client.unsubscribe(channel)
	client.SendMessage(encodeFrame(Frame{Type: FrameUnsubscribed, Channel: channel}))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		client.closeSend()
		delete(h.clients, id)
	}
	h.channels = make(map[string]map[*Client]struct{})
}
