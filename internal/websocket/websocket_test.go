package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sentinal-call/internal/domain/call"
	"sentinal-call/internal/events"
	"sentinal-call/internal/services"
	sentinal_errors "sentinal-call/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type fakeViewer struct {
	calls map[uuid.UUID]call.Call
}

func (f fakeViewer) CanViewCall(_ context.Context, userID, callID uuid.UUID) (call.Call, error) {
	c, ok := f.calls[callID]
	if !ok {
		return call.Call{}, sentinal_errors.ErrNotFound
	}
	if !c.IsParticipant(userID) {
		return call.Call{}, sentinal_errors.ErrForbidden
	}
	return c, nil
}

type wsFixture struct {
	hub  *Hub
	auth *services.AuthService
	srv  *httptest.Server
	call call.Call
}

func newFixture(t *testing.T) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub()
	go hub.Run(ctx)

	c := call.Call{ID: uuid.New(), CallerID: uuid.New(), ReceiverID: uuid.New(), Status: call.StatusRinging}
	auth := services.NewAuthService("test-secret", time.Hour)
	h := NewHandler(auth, hub, NewChannelAuthorizer(fakeViewer{calls: map[uuid.UUID]call.Call{c.ID: c}}), nil)

	engine := gin.New()
	engine.GET("/v1/ws", h.Connect)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	return &wsFixture{hub: hub, auth: auth, srv: srv, call: c}
}

func (f *wsFixture) dial(t *testing.T, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	token, _, err := f.auth.IssueAccessToken(userID)
	if err != nil {
		t.Fatal(err)
	}
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestConnectRequiresToken(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/v1/ws")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	resp, err = http.Get(f.srv.URL + "/v1/ws?token=garbage")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", resp.StatusCode)
	}
}

func TestIncomingChannelSubscribedOnConnect(t *testing.T) {
	f := newFixture(t)
	user := f.call.ReceiverID
	conn := f.dial(t, user)

	first := readFrame(t, conn)
	if first.Type != FrameSubscribed || first.Channel != events.IncomingChannel(user) {
		t.Fatalf("first frame = %+v", first)
	}

	payload := []byte(`{"event_type":"call.incoming"}`)
	if n := f.hub.Broadcast(events.IncomingChannel(user), EventFrame(events.IncomingChannel(user), payload)); n != 1 {
		t.Fatalf("broadcast reached %d clients", n)
	}
	got := readFrame(t, conn)
	if got.Type != FrameEvent || got.Channel != events.IncomingChannel(user) {
		t.Fatalf("event frame = %+v", got)
	}
	var env events.Envelope
	if err := json.Unmarshal(got.Data, &env); err != nil || env.EventType != events.EventTypeCallIncoming {
		t.Errorf("data = %s (%v)", got.Data, err)
	}
}

func TestSubscribeIsAuthorized(t *testing.T) {
	f := newFixture(t)
	outsider := uuid.New()

	conn := f.dial(t, outsider)
	readFrame(t, conn)

	cases := []string{
		events.StatusChannel(f.call.ID),
		events.SignalChannel(f.call.ID),
		events.IncomingChannel(f.call.ReceiverID),
		events.StatusChannel(uuid.New()),
		"channel:system:all",
	}
	for _, ch := range cases {
		if err := conn.WriteJSON(Frame{Type: FrameSubscribe, Channel: ch}); err != nil {
			t.Fatal(err)
		}
		got := readFrame(t, conn)
		if got.Type != FrameError || got.Channel != ch {
			t.Errorf("subscribe %s: frame = %+v, want error", ch, got)
		}
	}

	participant := f.dial(t, f.call.CallerID)
	readFrame(t, participant)
	for _, ch := range []string{events.StatusChannel(f.call.ID), events.SignalChannel(f.call.ID)} {
		if err := participant.WriteJSON(Frame{Type: FrameSubscribe, Channel: ch}); err != nil {
			t.Fatal(err)
		}
		if got := readFrame(t, participant); got.Type != FrameSubscribed || got.Channel != ch {
			t.Errorf("subscribe %s: frame = %+v", ch, got)
		}
	}

	if err := participant.WriteJSON(Frame{Type: FrameUnsubscribe, Channel: events.SignalChannel(f.call.ID)}); err != nil {
		t.Fatal(err)
	}
	if got := readFrame(t, participant); got.Type != FrameUnsubscribed {
		t.Errorf("unsubscribe frame = %+v", got)
	}
	if n := f.hub.GetChannelSubscriberCount(events.SignalChannel(f.call.ID)); n != 0 {
		t.Errorf("signal subscribers = %d after unsubscribe", n)
	}

	if err := participant.WriteJSON(Frame{Type: FramePing}); err != nil {
		t.Fatal(err)
	}
	if got := readFrame(t, participant); got.Type != FramePong {
		t.Errorf("ping reply = %+v", got)
	}
}

func TestDisconnectRemovesSubscriptions(t *testing.T) {
	f := newFixture(t)
	user := uuid.New()
	conn := f.dial(t, user)
	readFrame(t, conn)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.hub.GetClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client still registered after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n := f.hub.GetChannelSubscriberCount(events.IncomingChannel(user)); n != 0 {
		t.Errorf("incoming subscribers = %d", n)
	}
}

func TestHubDropsSubscribeAfterUnregister(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub()
	go hub.Run(ctx)

	gone := NewClient(nil, uuid.New())
	hub.Register(gone)
	hub.Unregister(gone)
	hub.Subscribe(gone, "channel:incoming:x")

	// Requests are processed in order, so once the marker is registered the
	// stale subscribe has been handled.
	marker := NewClient(nil, uuid.New())
	hub.Register(marker)
	deadline := time.Now().Add(2 * time.Second)
	for hub.GetClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("marker never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := hub.GetChannelSubscriberCount("channel:incoming:x"); n != 0 {
		t.Errorf("subscribers = %d, want 0", n)
	}
	if gone.SendMessage([]byte("x")) {
		t.Error("send to removed client succeeded")
	}
}

type fakeSubscriber struct {
	messages map[string][]byte
}

func (f fakeSubscriber) Subscribe(_ context.Context, channels []string, handler func(string, []byte)) error {
	for ch, payload := range f.messages {
		handler(ch, payload)
	}
	return nil
}

func TestRedisBridgeBroadcastsToSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub()
	go hub.Run(ctx)

	client := NewClient(nil, uuid.New())
	channel := events.StatusChannel(uuid.New())
	hub.Register(client)
	hub.Subscribe(client, channel)

	select {
	case msg := <-client.Send:
		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil || f.Type != FrameSubscribed {
			t.Fatalf("ack = %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no subscribe ack")
	}

	bridge := NewRedisBridge(fakeSubscriber{messages: map[string][]byte{
		channel:                           []byte(`{"event_type":"call.status_changed"}`),
		events.StatusChannel(uuid.New()): []byte(`{}`),
	}}, hub)
	if err := bridge.Run(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-client.Send:
		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			t.Fatal(err)
		}
		if f.Type != FrameEvent || f.Channel != channel {
			t.Errorf("frame = %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not deliver")
	}
	select {
	case msg := <-client.Send:
		t.Errorf("unexpected extra frame %s", msg)
	default:
	}
}
