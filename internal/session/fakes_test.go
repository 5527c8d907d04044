package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sentinal-call/internal/domain/call"
	"sentinal-call/internal/peer"
	"sentinal-call/internal/snapshot"
	sentinal_errors "sentinal-call/pkg/errors"

	"github.com/google/uuid"
)

// fakeServer is an in-memory coordination server shared by both clients.
type fakeServer struct {
	mu       sync.Mutex
	calls    map[uuid.UUID]call.Call
	signals  map[uuid.UUID][]call.RelayedSignal
	seq      uint64
	status   map[uuid.UUID][]chan call.Call
	incoming map[uuid.UUID][]chan call.Call
	offline  atomic.Bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		calls:    make(map[uuid.UUID]call.Call),
		signals:  make(map[uuid.UUID][]call.RelayedSignal),
		status:   make(map[uuid.UUID][]chan call.Call),
		incoming: make(map[uuid.UUID][]chan call.Call),
	}
}

func (s *fakeServer) get(id uuid.UUID) call.Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func (s *fakeServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *fakeServer) signalKinds(id uuid.UUID) []call.SignalKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []call.SignalKind
	for _, sig := range s.signals[id] {
		out = append(out, sig.Signal.Kind)
	}
	return out
}

// publishLocked fans c out to push subscribers. Must hold mu.
func (s *fakeServer) publishLocked(subs []chan call.Call, c call.Call) {
	for _, ch := range subs {
		select {
		case ch <- c:
		default:
		}
	}
}

func (s *fakeServer) subscribe(m map[uuid.UUID][]chan call.Call, key uuid.UUID) chan call.Call {
	ch := make(chan call.Call, 16)
	s.mu.Lock()
	m[key] = append(m[key], ch)
	s.mu.Unlock()
	return ch
}

func (s *fakeServer) unsubscribe(m map[uuid.UUID][]chan call.Call, key uuid.UUID, ch chan call.Call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := m[key]
	for i, c := range list {
		if c == ch {
			m[key] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (s *fakeServer) client(user uuid.UUID) *fakeBackend {
	return &fakeBackend{srv: s, user: user}
}

type fakeBackend struct {
	srv  *fakeServer
	user uuid.UUID
}

func (b *fakeBackend) InitiateCall(_ context.Context, receiverID uuid.UUID, t call.Type) (call.Call, error) {
	s := b.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c.Status.IsTerminal() {
			continue
		}
		if c.IsParticipant(b.user) {
			return call.Call{}, sentinal_errors.NewBusy(sentinal_errors.PartyCaller, b.user.String())
		}
		if c.IsParticipant(receiverID) {
			return call.Call{}, sentinal_errors.NewBusy(sentinal_errors.PartyReceiver, receiverID.String())
		}
	}
	c := call.Call{
		ID:         uuid.New(),
		CallerID:   b.user,
		ReceiverID: receiverID,
		Type:       t,
		Status:     call.StatusRinging,
		StartedAt:  time.Now().UTC(),
	}
	s.calls[c.ID] = c
	s.publishLocked(s.incoming[receiverID], c)
	return c, nil
}

func (b *fakeBackend) transition(id uuid.UUID, to call.Status, role call.Role, duration *int) (call.Call, error) {
	s := b.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return call.Call{}, sentinal_errors.ErrNotFound
	}
	got, ok := c.RoleOf(b.user)
	if !ok || (role != "" && got != role) {
		return call.Call{}, sentinal_errors.ErrForbidden
	}
	if err := call.Transition(c.Status, to); err != nil {
		if errors.Is(err, sentinal_errors.ErrDuplicateEvent) {
			return c, err
		}
		return call.Call{}, err
	}
	now := time.Now().UTC()
	c.Status = to
	switch to {
	case call.StatusOngoing:
		c.AnsweredAt = &now
	case call.StatusEnded:
		c.EndedAt = &now
		c.DurationSeconds = duration
	}
	s.calls[id] = c
	s.publishLocked(s.status[id], c)
	return c, nil
}

func (b *fakeBackend) Accept(_ context.Context, id uuid.UUID) (call.Call, error) {
	return b.transition(id, call.StatusOngoing, call.RoleReceiver, nil)
}

func (b *fakeBackend) Reject(_ context.Context, id uuid.UUID) (call.Call, error) {
	return b.transition(id, call.StatusRejected, call.RoleReceiver, nil)
}

func (b *fakeBackend) End(_ context.Context, id uuid.UUID, duration *int) (call.Call, error) {
	return b.transition(id, call.StatusEnded, "", duration)
}

func (b *fakeBackend) Miss(_ context.Context, id uuid.UUID) (call.Call, error) {
	return b.transition(id, call.StatusMissed, "", nil)
}

func (b *fakeBackend) GetCall(_ context.Context, id uuid.UUID) (call.Call, error) {
	if b.srv.offline.Load() {
		return call.Call{}, sentinal_errors.ErrServiceUnavailable
	}
	c := b.srv.get(id)
	if c.ID == uuid.Nil {
		return call.Call{}, sentinal_errors.ErrNotFound
	}
	if !c.IsParticipant(b.user) {
		return call.Call{}, sentinal_errors.ErrForbidden
	}
	return c, nil
}

func (b *fakeBackend) LatestRinging(_ context.Context, window time.Duration) (call.Call, bool, error) {
	s := b.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest call.Call
	floor := time.Now().Add(-window)
	for _, c := range s.calls {
		if c.ReceiverID == b.user && c.Status == call.StatusRinging && c.StartedAt.After(floor) && c.StartedAt.After(latest.StartedAt) {
			latest = c
		}
	}
	return latest, latest.ID != uuid.Nil, nil
}

func (b *fakeBackend) SendSignal(_ context.Context, id uuid.UUID, sig call.Signal) (call.RelayedSignal, error) {
	if err := sig.Validate(); err != nil {
		return call.RelayedSignal{}, err
	}
	s := b.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return call.RelayedSignal{}, sentinal_errors.ErrNotFound
	}
	if !c.IsParticipant(b.user) {
		return call.RelayedSignal{}, sentinal_errors.ErrForbidden
	}
	if c.Status.IsTerminal() {
		return call.RelayedSignal{}, sentinal_errors.ErrCallTerminated
	}
	s.seq++
	rs := call.RelayedSignal{Seq: s.seq, CallID: id, SenderID: b.user, Signal: sig}
	s.signals[id] = append(s.signals[id], rs)
	return rs, nil
}

func (b *fakeBackend) ListSignals(_ context.Context, id uuid.UUID, after uint64) ([]call.RelayedSignal, error) {
	s := b.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[id]
	if !ok {
		return nil, sentinal_errors.ErrNotFound
	}
	if !c.IsParticipant(b.user) {
		return nil, sentinal_errors.ErrForbidden
	}
	var out []call.RelayedSignal
	for _, rs := range s.signals[id] {
		if rs.Seq > after {
			out = append(out, rs)
		}
	}
	return out, nil
}

// countingBackend counts record reads.
type countingBackend struct {
	*fakeBackend
	gets atomic.Int32
}

func (b *countingBackend) GetCall(ctx context.Context, id uuid.UUID) (call.Call, error) {
	c, err := b.fakeBackend.GetCall(ctx, id)
	b.gets.Add(1)
	return c, err
}

// fakePush delivers every status event twice to exercise deduplication.
type fakePush struct {
	srv  *fakeServer
	user uuid.UUID
}

func (p *fakePush) pump(ctx context.Context, ch chan call.Call, deliver func(call.Call)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-ch:
			deliver(c)
			deliver(c)
		}
	}
}

func (p *fakePush) SubscribeIncoming(ctx context.Context, deliver func(call.Call)) error {
	ch := p.srv.subscribe(p.srv.incoming, p.user)
	defer p.srv.unsubscribe(p.srv.incoming, p.user, ch)
	return p.pump(ctx, ch, deliver)
}

func (p *fakePush) SubscribeStatus(ctx context.Context, id uuid.UUID, deliver func(call.Call)) error {
	ch := p.srv.subscribe(p.srv.status, id)
	defer p.srv.unsubscribe(p.srv.status, id, ch)
	return p.pump(ctx, ch, deliver)
}

func (p *fakePush) SubscribeSignals(ctx context.Context, _ uuid.UUID, _ func(call.RelayedSignal)) error {
	<-ctx.Done()
	return ctx.Err()
}

type fakeTrack struct {
	id    string
	kind  peer.TrackKind
	stops atomic.Int32
}

func (t *fakeTrack) ID() string           { return t.id }
func (t *fakeTrack) Kind() peer.TrackKind { return t.kind }
func (t *fakeTrack) Stop()                { t.stops.Add(1) }

type fakeMedia struct {
	deny bool

	mu     sync.Mutex
	tracks []*fakeTrack
}

func (m *fakeMedia) Acquire(_ context.Context, video bool) (peer.LocalMedia, error) {
	if m.deny {
		return peer.LocalMedia{}, sentinal_errors.ErrMediaAccessDenied
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mic := &fakeTrack{id: fmt.Sprintf("mic-%d", len(m.tracks)), kind: peer.TrackAudio}
	m.tracks = append(m.tracks, mic)
	out := peer.LocalMedia{Mic: mic}
	if video {
		cam := &fakeTrack{id: fmt.Sprintf("cam-%d", len(m.tracks)), kind: peer.TrackVideo}
		m.tracks = append(m.tracks, cam)
		out.Camera = cam
	}
	return out, nil
}

func (m *fakeMedia) acquired() []*fakeTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*fakeTrack(nil), m.tracks...)
}

type fakeAdapter struct {
	mu         sync.Mutex
	remote     *call.SessionDescription
	candidates []call.ICECandidate
	attached   int
	closes     int
	onState    func(peer.ConnectionState)
	onCand     func(call.ICECandidate)
}

func (a *fakeAdapter) CreateOffer(context.Context) (call.SessionDescription, error) {
	a.mu.Lock()
	onCand := a.onCand
	a.mu.Unlock()
	// Trickle one candidate as soon as the local description exists.
	if onCand != nil {
		mid := "0"
		onCand(call.ICECandidate{Candidate: "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host", SDPMid: &mid})
	}
	return call.SessionDescription{Type: "offer", SDP: "v=0 fake offer"}, nil
}

func (a *fakeAdapter) CreateAnswer(context.Context) (call.SessionDescription, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.remote == nil || a.remote.Type != "offer" {
		return call.SessionDescription{}, sentinal_errors.ErrSignalingFailure
	}
	return call.SessionDescription{Type: "answer", SDP: "v=0 fake answer"}, nil
}

func (a *fakeAdapter) SetRemoteDescription(_ context.Context, d call.SessionDescription) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.remote != nil {
		if *a.remote == d {
			return nil
		}
		return sentinal_errors.ErrSignalingFailure
	}
	a.remote = &d
	return nil
}

func (a *fakeAdapter) AddICECandidate(_ context.Context, c call.ICECandidate) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.candidates = append(a.candidates, c)
	return nil
}

func (a *fakeAdapter) AttachLocalTracks(mic, camera peer.LocalTrack) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, t := range []peer.LocalTrack{mic, camera} {
		if t != nil {
			a.attached++
		}
	}
	return nil
}

func (a *fakeAdapter) OnRemoteTrack(func(peer.RemoteTrack)) {}

func (a *fakeAdapter) OnICECandidate(fn func(call.ICECandidate)) {
	a.mu.Lock()
	a.onCand = fn
	a.mu.Unlock()
}

func (a *fakeAdapter) OnConnectionStateChange(fn func(peer.ConnectionState)) {
	a.mu.Lock()
	a.onState = fn
	a.mu.Unlock()
}

func (a *fakeAdapter) Close() error {
	a.mu.Lock()
	a.closes++
	a.mu.Unlock()
	return nil
}

func (a *fakeAdapter) emit(s peer.ConnectionState) {
	a.mu.Lock()
	fn := a.onState
	a.mu.Unlock()
	fn(s)
}

func (a *fakeAdapter) snapshot() (remote *call.SessionDescription, candidates, attached, closes int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.remote, len(a.candidates), a.attached, a.closes
}

type fakePeers struct {
	mu       sync.Mutex
	adapters []*fakeAdapter
}

func (p *fakePeers) factory(context.Context) (peer.Adapter, error) {
	a := &fakeAdapter{}
	p.mu.Lock()
	p.adapters = append(p.adapters, a)
	p.mu.Unlock()
	return a, nil
}

func (p *fakePeers) all() []*fakeAdapter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*fakeAdapter(nil), p.adapters...)
}

// recorder is a Listener that keeps every event.
type recorder struct {
	mu        sync.Mutex
	incoming  []call.Call
	statuses  []call.Status
	connected int
	ended     []int
	failed    []error
	ticks     int
}

func (r *recorder) Incoming(c call.Call) {
	r.mu.Lock()
	r.incoming = append(r.incoming, c)
	r.mu.Unlock()
}

func (r *recorder) StatusChanged(c call.Call) {
	r.mu.Lock()
	r.statuses = append(r.statuses, c.Status)
	r.mu.Unlock()
}

func (r *recorder) Connected() {
	r.mu.Lock()
	r.connected++
	r.mu.Unlock()
}

func (r *recorder) Ended(d int) {
	r.mu.Lock()
	r.ended = append(r.ended, d)
	r.mu.Unlock()
}

func (r *recorder) Failed(err error) {
	r.mu.Lock()
	r.failed = append(r.failed, err)
	r.mu.Unlock()
}

func (r *recorder) Tick(time.Duration) {
	r.mu.Lock()
	r.ticks++
	r.mu.Unlock()
}

func (r *recorder) read(fn func(r *recorder)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

type memCache struct {
	mu    sync.Mutex
	saved *call.Call
	role  call.Role
	saves int
}

func (m *memCache) Save(c call.Call, role call.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved, m.role = &c, role
	m.saves++
	return nil
}

func (m *memCache) Load() (snapshot.Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		return snapshot.Snapshot{}, false, nil
	}
	c := m.saved
	return snapshot.Snapshot{
		CallID:     c.ID.String(),
		CallerID:   c.CallerID.String(),
		ReceiverID: c.ReceiverID.String(),
		Type:       string(c.Type),
		Status:     string(c.Status),
		Role:       string(m.role),
		StartedAt:  c.StartedAt,
		AnsweredAt: c.AnsweredAt,
	}, true, nil
}

func (m *memCache) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = nil
	return nil
}

func (m *memCache) has() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved != nil
}

// client bundles one user's collaborators.
type client struct {
	user   uuid.UUID
	cfg    Config
	events *recorder
	media  *fakeMedia
	peers  *fakePeers
}

func newClient(srv *fakeServer, cache Cache) *client {
	user := uuid.New()
	c := &client{user: user, events: &recorder{}, media: &fakeMedia{}, peers: &fakePeers{}}
	c.cfg = Config{
		UserID:               user,
		Backend:              srv.client(user),
		Push:                 &fakePush{srv: srv, user: user},
		Media:                c.media,
		Peers:                c.peers.factory,
		Cache:                cache,
		Listener:             c.events,
		IncomingPollInterval: 10 * time.Millisecond,
		StatusPollInterval:   10 * time.Millisecond,
		SignalPollInterval:   10 * time.Millisecond,
		TickInterval:         5 * time.Millisecond,
	}
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitDone(t *testing.T, co *Coordinator) {
	t.Helper()
	select {
	case <-co.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator never cleaned up")
	}
}
