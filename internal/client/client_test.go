package client_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"sentinal-call/internal/client"
	"sentinal-call/internal/domain/call"
	"sentinal-call/internal/events"
	"sentinal-call/internal/session"
	"sentinal-call/internal/testutil/apitest"
	sentinal_errors "sentinal-call/pkg/errors"

	"github.com/google/uuid"
)

var (
	_ session.Backend = (*client.Client)(nil)
	_ session.Push    = (*client.Client)(nil)
)

func newClient(t *testing.T, b *apitest.Backend, userID uuid.UUID) *client.Client {
	t.Helper()
	c := client.New(client.Config{BaseURL: b.URL, Token: b.Token(t, userID), UserID: userID})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitSubscribers(t *testing.T, b *apitest.Backend, channel string, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for b.Hub.GetChannelSubscriberCount(channel) != want {
		if time.Now().After(deadline) {
			t.Fatalf("%s has %d subscribers, want %d", channel, b.Hub.GetChannelSubscriberCount(channel), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCallLifecycle(t *testing.T) {
	b := apitest.NewBackend(t, apitest.BackendOptions{})
	alice, bob := uuid.New(), uuid.New()
	ca, cb := newClient(t, b, alice), newClient(t, b, bob)
	ctx := context.Background()

	created, err := ca.InitiateCall(ctx, bob, call.TypeVideo)
	if err != nil {
		t.Fatal(err)
	}
	if created.Status != call.StatusRinging || created.CallerID != alice || created.Type != call.TypeVideo {
		t.Fatalf("created = %+v", created)
	}

	ringing, ok, err := cb.LatestRinging(ctx, 5*time.Second)
	if err != nil || !ok || ringing.ID != created.ID {
		t.Fatalf("latest ringing = %+v %v %v", ringing, ok, err)
	}
	if _, ok, err := ca.LatestRinging(ctx, 5*time.Second); err != nil || ok {
		t.Fatalf("caller sees an incoming call: %v %v", ok, err)
	}
	if busy, err := ca.CheckBusy(ctx, bob); err != nil || !busy {
		t.Fatalf("bob busy = %v %v", busy, err)
	}

	accepted, err := cb.Accept(ctx, created.ID)
	if err != nil || accepted.Status != call.StatusOngoing || accepted.AnsweredAt == nil {
		t.Fatalf("accept = %+v %v", accepted, err)
	}
	again, err := cb.Accept(ctx, created.ID)
	if !errors.Is(err, sentinal_errors.ErrDuplicateEvent) || again.Status != call.StatusOngoing {
		t.Fatalf("second accept = %+v %v", again, err)
	}

	current, ok, err := ca.Current(ctx)
	if err != nil || !ok || current.ID != created.ID {
		t.Fatalf("current = %+v %v %v", current, ok, err)
	}

	sent, err := ca.SendSignal(ctx, created.ID, call.NewOffer("v=0"))
	if err != nil {
		t.Fatal(err)
	}
	if sent.SenderID != alice || sent.Seq == 0 {
		t.Fatalf("sent = %+v", sent)
	}
	list, err := cb.ListSignals(ctx, created.ID, 0)
	if err != nil || len(list) != 1 || list[0].Signal.Kind != call.SignalOffer || list[0].Signal.Offer.SDP != "v=0" {
		t.Fatalf("signals = %+v %v", list, err)
	}
	if list, err := cb.ListSignals(ctx, created.ID, sent.Seq); err != nil || len(list) != 0 {
		t.Fatalf("signals after cursor = %+v %v", list, err)
	}

	duration := 42
	ended, err := ca.End(ctx, created.ID, &duration)
	if err != nil || ended.Status != call.StatusEnded || ended.DurationSeconds == nil || *ended.DurationSeconds != 42 {
		t.Fatalf("end = %+v %v", ended, err)
	}
	if _, err := cb.End(ctx, created.ID, nil); !errors.Is(err, sentinal_errors.ErrDuplicateEvent) {
		t.Fatalf("second end = %v", err)
	}
	if _, err := cb.Reject(ctx, created.ID); !errors.Is(err, sentinal_errors.ErrCallTerminated) {
		t.Fatalf("reject after end = %v", err)
	}
	if _, err := ca.SendSignal(ctx, created.ID, call.NewOffer("v=0")); !errors.Is(err, sentinal_errors.ErrCallTerminated) {
		t.Fatalf("signal after end = %v", err)
	}

	got, err := cb.GetCall(ctx, created.ID)
	if err != nil || got.Status != call.StatusEnded {
		t.Fatalf("get = %+v %v", got, err)
	}
	history, total, err := cb.History(ctx, 1, 10)
	if err != nil || total != 1 || len(history) != 1 || history[0].ID != created.ID {
		t.Fatalf("history = %+v %d %v", history, total, err)
	}
	if _, ok, err := ca.Current(ctx); err != nil || ok {
		t.Fatalf("current after end = %v %v", ok, err)
	}
}

func TestErrorsKeepTheirMeaning(t *testing.T) {
	b := apitest.NewBackend(t, apitest.BackendOptions{})
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()
	ca, cc := newClient(t, b, alice), newClient(t, b, carol)
	ctx := context.Background()

	created, err := ca.InitiateCall(ctx, bob, call.TypeAudio)
	if err != nil {
		t.Fatal(err)
	}

	_, err = cc.InitiateCall(ctx, bob, call.TypeAudio)
	party, ok := sentinal_errors.BusyParty(err)
	if !errors.Is(err, sentinal_errors.ErrBusy) || !ok || party != sentinal_errors.PartyReceiver {
		t.Fatalf("call to busy receiver = %v (party %q)", err, party)
	}
	_, err = ca.InitiateCall(ctx, carol, call.TypeAudio)
	if party, _ := sentinal_errors.BusyParty(err); party != sentinal_errors.PartyCaller {
		t.Fatalf("second call from busy caller = %v", err)
	}

	if _, err := cc.GetCall(ctx, created.ID); !errors.Is(err, sentinal_errors.ErrForbidden) {
		t.Errorf("outsider get = %v", err)
	}
	if _, err := ca.GetCall(ctx, uuid.New()); !errors.Is(err, sentinal_errors.ErrNotFound) {
		t.Errorf("unknown get = %v", err)
	}
	if _, err := ca.Accept(ctx, created.ID); !errors.Is(err, sentinal_errors.ErrForbidden) {
		t.Errorf("caller accept = %v", err)
	}
	if _, err := ca.InitiateCall(ctx, alice, call.TypeAudio); !errors.Is(err, sentinal_errors.ErrInvalidInput) {
		t.Errorf("self call = %v", err)
	}

	anon := client.New(client.Config{BaseURL: b.URL, Token: "not-a-token"})
	defer anon.Close()
	if _, err := anon.GetCall(ctx, created.ID); !errors.Is(err, sentinal_errors.ErrUnauthorized) {
		t.Errorf("bad token = %v", err)
	}
}

func TestPushDeliversCallEvents(t *testing.T) {
	b := apitest.NewBackend(t, apitest.BackendOptions{})
	alice, bob := uuid.New(), uuid.New()
	ca, cb := newClient(t, b, alice), newClient(t, b, bob)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	incoming := make(chan call.Call, 4)
	incomingDone := make(chan error, 1)
	go func() {
		incomingDone <- cb.SubscribeIncoming(ctx, func(c call.Call) { incoming <- c })
	}()
	waitSubscribers(t, b, events.IncomingChannel(bob), 1)

	created, err := ca.InitiateCall(context.Background(), bob, call.TypeAudio)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-incoming:
		if c.ID != created.ID || c.Status != call.StatusRinging {
			t.Fatalf("incoming = %+v", c)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no incoming push")
	}

	statuses := make(chan call.Call, 4)
	go func() { _ = ca.SubscribeStatus(ctx, created.ID, func(c call.Call) { statuses <- c }) }()
	signals := make(chan call.RelayedSignal, 4)
	go func() { _ = cb.SubscribeSignals(ctx, created.ID, func(s call.RelayedSignal) { signals <- s }) }()
	waitSubscribers(t, b, events.StatusChannel(created.ID), 1)
	waitSubscribers(t, b, events.SignalChannel(created.ID), 1)

	if _, err := cb.Accept(context.Background(), created.ID); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-statuses:
		if c.Status != call.StatusOngoing {
			t.Fatalf("status push = %+v", c)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no status push")
	}

	if _, err := ca.SendSignal(context.Background(), created.ID, call.NewOffer("v=0")); err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-signals:
		if s.SenderID != alice || s.Signal.Kind != call.SignalOffer {
			t.Fatalf("signal push = %+v", s)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no signal push")
	}

	cancel()
	select {
	case err := <-incomingDone:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("subscribe returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("subscription outlived its context")
	}
	waitSubscribers(t, b, events.StatusChannel(created.ID), 0)
}

func TestPushRefusesOutsiders(t *testing.T) {
	b := apitest.NewBackend(t, apitest.BackendOptions{})
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()
	ca, cc := newClient(t, b, alice), newClient(t, b, carol)

	created, err := ca.InitiateCall(context.Background(), bob, call.TypeAudio)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err = cc.SubscribeStatus(ctx, created.ID, func(call.Call) { t.Error("outsider received a status") })
	if !errors.Is(err, sentinal_errors.ErrForbidden) {
		t.Fatalf("outsider subscribe = %v", err)
	}
}

func TestCloseEndsSubscriptions(t *testing.T) {
	b := apitest.NewBackend(t, apitest.BackendOptions{})
	bob := uuid.New()
	cb := newClient(t, b, bob)

	done := make(chan error, 1)
	go func() { done <- cb.SubscribeIncoming(context.Background(), func(call.Call) {}) }()
	waitSubscribers(t, b, events.IncomingChannel(bob), 1)

	if err := cb.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, net.ErrClosed) {
			t.Fatalf("subscribe after close = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("subscription survived Close")
	}
	if err := cb.SubscribeIncoming(context.Background(), func(call.Call) {}); !errors.Is(err, net.ErrClosed) {
		t.Fatalf("subscribe on closed client = %v", err)
	}
}
