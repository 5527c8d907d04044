package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"sentinal-call/internal/delivery"
	"sentinal-call/internal/domain/call"
	sentinal_errors "sentinal-call/pkg/errors"
	"sentinal-call/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Agent is the signed-in user's call inbox. It watches for incoming calls
// over push and poll, and tracks the one coordinator the user may hold.
type Agent struct {
	cfg Config
	log *logger.Logger

	mu       sync.Mutex
	active   *Coordinator
	incoming *delivery.DualPath[call.Call]
	// deferred holds ringing calls that arrived while another call was
	// active. Their dedup keys are spent, so they are re-checked here once
	// the active call finishes.
	deferred map[uuid.UUID]call.Call
}

const maxDeferred = 16

func NewAgent(cfg Config) *Agent {
	cfg = cfg.withDefaults()
	return &Agent{
		cfg:      cfg,
		log:      cfg.Logger.Named("agent").With(zap.String("user_id", cfg.UserID.String())),
		deferred: make(map[uuid.UUID]call.Call),
	}
}

// Start begins watching for incoming calls until ctx ends or Stop.
func (a *Agent) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.incoming != nil {
		return
	}
	cfg := delivery.Config[call.Call]{
		Name: "incoming",
		Fetch: func(ctx context.Context) ([]call.Call, error) {
			c, ok, err := a.cfg.Backend.LatestRinging(ctx, a.cfg.IncomingWindow)
			if err != nil || !ok {
				return nil, err
			}
			return []call.Call{c}, nil
		},
		Key: func(c call.Call) string {
			return c.ID.String()
		},
		Handle:   a.handleIncoming,
		Interval: a.cfg.IncomingPollInterval,
		OnUnavailable: func(err error) {
			a.log.Warn("incoming call updates unavailable", zap.Error(err))
		},
		Logger: a.log,
	}
	if a.cfg.Push != nil {
		cfg.Subscribe = a.cfg.Push.SubscribeIncoming
	}
	a.incoming = delivery.Start(ctx, cfg)
}

// Stop detaches the incoming watch and closes the active coordinator
// without ending its call.
func (a *Agent) Stop() {
	a.mu.Lock()
	incoming, active := a.incoming, a.active
	a.incoming, a.active = nil, nil
	clear(a.deferred)
	a.mu.Unlock()
	if incoming != nil {
		incoming.Stop()
	}
	if active != nil {
		active.Close()
	}
}

// Active returns the coordinator of the call in progress, if any.
func (a *Agent) Active() *Coordinator {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil || isDone(a.active) {
		return nil
	}
	return a.active
}

// Dial places an outgoing call through a new coordinator.
func (a *Agent) Dial(ctx context.Context, receiverID uuid.UUID, t call.Type) (*Coordinator, error) {
	if a.Active() != nil {
		return nil, sentinal_errors.NewBusy(sentinal_errors.PartyCaller, a.cfg.UserID.String())
	}
	co, err := Dial(ctx, a.cfg, receiverID, t)
	if err != nil {
		return nil, err
	}
	a.setActive(co)
	return co, nil
}

// Resume shows the call recorded in the snapshot again after a restart. The
// record is re-read; a call that ended meanwhile clears the snapshot. Media is
// never re-established.
func (a *Agent) Resume(ctx context.Context) (*Coordinator, bool, error) {
	if a.cfg.Cache == nil {
		return nil, false, nil
	}
	snap, ok, err := a.cfg.Cache.Load()
	if err != nil || !ok {
		return nil, false, err
	}
	saved, role, err := snap.Call()
	if err != nil {
		a.log.Warn("discarding unreadable session snapshot", zap.Error(err))
		return nil, false, a.cfg.Cache.Clear()
	}

	current, err := a.cfg.Backend.GetCall(ctx, saved.ID)
	if err != nil {
		if errors.Is(err, sentinal_errors.ErrNotFound) || errors.Is(err, sentinal_errors.ErrForbidden) {
			return nil, false, a.cfg.Cache.Clear()
		}
		return nil, false, err
	}
	if current.Status.IsTerminal() {
		return nil, false, a.cfg.Cache.Clear()
	}

	co := newCoordinator(a.cfg, current, role)
	if current.Status == call.StatusOngoing {
		at := current.StartedAt
		if current.AnsweredAt != nil {
			at = *current.AnsweredAt
		}
		co.mu.Lock()
		co.startTimerLocked(at)
		co.mu.Unlock()
	}
	co.startStatus()
	a.setActive(co)
	a.cfg.Listener.StatusChanged(current)
	return co, true, nil
}

func (a *Agent) handleIncoming(c call.Call) {
	if c.ReceiverID != a.cfg.UserID || c.Status != call.StatusRinging {
		return
	}
	a.mu.Lock()
	if active := a.active; active != nil && !isDone(active) {
		if active.id != c.ID && len(a.deferred) < maxDeferred {
			a.deferred[c.ID] = c
			a.log.Info("deferring incoming call while another is active",
				zap.String("call_id", c.ID.String()),
				zap.String("active_call_id", active.id.String()),
			)
		}
		a.mu.Unlock()
		return
	}
	delete(a.deferred, c.ID)
	co := newCoordinator(a.cfg, c, call.RoleReceiver)
	a.active = co
	a.mu.Unlock()
	go a.watch(co)

	a.log.Info("incoming call", zap.String("call_id", c.ID.String()), zap.String("caller_id", c.CallerID.String()))
	a.cfg.Listener.Incoming(c)
	co.startStatus()
}

func (a *Agent) setActive(co *Coordinator) {
	a.mu.Lock()
	a.active = co
	a.mu.Unlock()
	go a.watch(co)
}

// watch re-checks deferred calls once co finishes. A deferred call that is
// still ringing on the server is shown then.
func (a *Agent) watch(co *Coordinator) {
	<-co.Done()

	a.mu.Lock()
	if a.incoming == nil || len(a.deferred) == 0 {
		a.mu.Unlock()
		return
	}
	pending := make([]call.Call, 0, len(a.deferred))
	for _, c := range a.deferred {
		pending = append(pending, c)
	}
	clear(a.deferred)
	incoming := a.incoming
	a.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].StartedAt.After(pending[j].StartedAt)
	})
	for _, c := range pending {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.WriteTimeout)
		current, err := a.cfg.Backend.GetCall(ctx, c.ID)
		cancel()
		if err != nil {
			a.log.Debug("dropping deferred call", zap.String("call_id", c.ID.String()), zap.Error(err))
			continue
		}
		a.handleIncoming(current)
	}
	incoming.Poke()
}

func isDone(co *Coordinator) bool {
	select {
	case <-co.Done():
		return true
	default:
		return false
	}
}
