// Package session drives one client's side of a call: it issues the writes,
// follows the record over push and poll, negotiates media through a peer
// adapter and reports everything to a Listener.
package session

import (
	"context"
	"time"

	"sentinal-call/internal/domain/call"
	"sentinal-call/internal/peer"
	"sentinal-call/internal/snapshot"
	"sentinal-call/pkg/logger"

	"github.com/google/uuid"
)

// Backend is the coordination server as seen by a signed-in client.
type Backend interface {
	InitiateCall(ctx context.Context, receiverID uuid.UUID, t call.Type) (call.Call, error)
	Accept(ctx context.Context, callID uuid.UUID) (call.Call, error)
	Reject(ctx context.Context, callID uuid.UUID) (call.Call, error)
	End(ctx context.Context, callID uuid.UUID, duration *int) (call.Call, error)
	Miss(ctx context.Context, callID uuid.UUID) (call.Call, error)
	GetCall(ctx context.Context, callID uuid.UUID) (call.Call, error)
	// LatestRinging returns the newest ringing call addressed to the client
	// that started within the window.
	LatestRinging(ctx context.Context, window time.Duration) (call.Call, bool, error)
	SendSignal(ctx context.Context, callID uuid.UUID, sig call.Signal) (call.RelayedSignal, error)
	ListSignals(ctx context.Context, callID uuid.UUID, after uint64) ([]call.RelayedSignal, error)
}

// Push is the realtime path. Each method blocks, calling deliver for every
// event, until ctx ends or the connection breaks.
type Push interface {
	SubscribeIncoming(ctx context.Context, deliver func(call.Call)) error
	SubscribeStatus(ctx context.Context, callID uuid.UUID, deliver func(call.Call)) error
	SubscribeSignals(ctx context.Context, callID uuid.UUID, deliver func(call.RelayedSignal)) error
}

// Cache keeps the active call across restarts.
type Cache interface {
	Save(c call.Call, role call.Role) error
	Load() (snapshot.Snapshot, bool, error)
	Clear() error
}

// Listener receives UI events. Methods may be called from different
// goroutines and must not block.
type Listener interface {
	Incoming(c call.Call)
	StatusChanged(c call.Call)
	Connected()
	Ended(durationSeconds int)
	Failed(reason error)
	Tick(elapsed time.Duration)
}

// TransportListener is optionally implemented by a Listener that wants to
// know when both delivery paths have gone quiet.
type TransportListener interface {
	TransportUnavailable(err error)
	TransportRecovered()
}

// Funcs adapts plain functions to Listener. Nil fields are skipped.
type Funcs struct {
	OnIncoming      func(call.Call)
	OnStatusChanged func(call.Call)
	OnConnected     func()
	OnEnded         func(int)
	OnFailed        func(error)
	OnTick          func(time.Duration)
	OnUnavailable   func(error)
	OnRecovered     func()
}

func (f Funcs) Incoming(c call.Call) {
	if f.OnIncoming != nil {
		f.OnIncoming(c)
	}
}

func (f Funcs) StatusChanged(c call.Call) {
	if f.OnStatusChanged != nil {
		f.OnStatusChanged(c)
	}
}

func (f Funcs) Connected() {
	if f.OnConnected != nil {
		f.OnConnected()
	}
}

func (f Funcs) Ended(d int) {
	if f.OnEnded != nil {
		f.OnEnded(d)
	}
}

func (f Funcs) Failed(err error) {
	if f.OnFailed != nil {
		f.OnFailed(err)
	}
}

func (f Funcs) Tick(elapsed time.Duration) {
	if f.OnTick != nil {
		f.OnTick(elapsed)
	}
}

func (f Funcs) TransportUnavailable(err error) {
	if f.OnUnavailable != nil {
		f.OnUnavailable(err)
	}
}

func (f Funcs) TransportRecovered() {
	if f.OnRecovered != nil {
		f.OnRecovered()
	}
}

// Config is shared by the Agent and every Coordinator it creates.
type Config struct {
	UserID   uuid.UUID
	Backend  Backend
	Push     Push // optional
	Media    peer.MediaSource
	Peers    peer.Factory
	Cache    Cache // optional
	Listener Listener
	Logger   *logger.Logger

	IncomingPollInterval time.Duration
	IncomingWindow       time.Duration
	StatusPollInterval   time.Duration
	SignalPollInterval   time.Duration
	// TickInterval paces Listener.Tick. Defaults to one second.
	TickInterval time.Duration
	// WriteTimeout bounds writes issued after the caller's context is gone,
	// e.g. ending the record when the connection fails.
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.IncomingPollInterval <= 0 {
		c.IncomingPollInterval = 2 * time.Second
	}
	if c.IncomingWindow <= 0 {
		c.IncomingWindow = 5 * time.Second
	}
	if c.StatusPollInterval <= 0 {
		c.StatusPollInterval = 500 * time.Millisecond
	}
	if c.SignalPollInterval <= 0 {
		c.SignalPollInterval = 500 * time.Millisecond
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.Listener == nil {
		c.Listener = Funcs{}
	}
	if c.Logger == nil {
		c.Logger = logger.NewNop()
	}
	return c
}
