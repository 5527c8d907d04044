package services

import (
	"context"
	"errors"
	"time"

	"sentinal-call/internal/commands"
	"sentinal-call/internal/domain/call"
	"sentinal-call/internal/proxy"
	"sentinal-call/internal/redis"
	"sentinal-call/internal/repository"
	sentinal_errors "sentinal-call/pkg/errors"
	"sentinal-call/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CallServiceConfig tunes the read paths.
type CallServiceConfig struct {
	IncomingWindow  time.Duration
	SignalPageLimit int
}

type CallService struct {
	calls    repository.CallRepository
	signals  repository.SignalRepository
	access   *proxy.AccessControl
	bus      *commands.Bus
	presence *redis.PresenceStore
	states   *redis.CallStateStore
	log      *logger.Logger
	clock    func() time.Time
	cfg      CallServiceConfig
}

// NewCallService wires the call commands onto a fresh bus guarded by the
// participant access proxy. presence and states may be nil.
func NewCallService(
	calls repository.CallRepository,
	signals repository.SignalRepository,
	presence *redis.PresenceStore,
	states *redis.CallStateStore,
	log *logger.Logger,
	cfg CallServiceConfig,
) *CallService {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.IncomingWindow <= 0 {
		cfg.IncomingWindow = 5 * time.Second
	}
	if cfg.SignalPageLimit <= 0 {
		cfg.SignalPageLimit = 200
	}
	access := proxy.NewAccessControl(calls)
	svc := &CallService{
		calls:    calls,
		signals:  signals,
		access:   access,
		bus:      commands.NewBus(access),
		presence: presence,
		states:   states,
		log:      log.Named("calls"),
		clock:    time.Now,
		cfg:      cfg,
	}
	svc.RegisterHandlers(svc.bus)
	return svc
}

func (s *CallService) RegisterHandlers(bus *commands.Bus) {
	if bus == nil {
		return
	}

	// call.initiate - admit both participants and ring the receiver
	bus.Register(commands.TypeInitiateCall, commands.HandlerFunc(func(ctx context.Context, cmd commands.Command) (commands.Result, error) {
		c, ok := cmd.(commands.InitiateCallCommand)
		if !ok {
			return commands.Result{}, sentinal_errors.ErrInvalidInput
		}
		newCall := &call.Call{
			ID:         uuid.New(),
			CallerID:   c.CallerID,
			ReceiverID: c.ReceiverID,
			Type:       c.CallType,
			Status:     call.StatusRinging,
			StartedAt:  s.clock().UTC(),
		}
		if err := s.calls.CreateWithAdmission(ctx, newCall); err != nil {
			return commands.Result{}, err
		}
		s.afterWrite(ctx, *newCall)
		return commands.Result{AggregateID: newCall.ID.String(), Payload: *newCall}, nil
	}))

	bus.Register(commands.TypeAcceptCall, s.transitionHandler(call.StatusOngoing))
	bus.Register(commands.TypeRejectCall, s.transitionHandler(call.StatusRejected))
	bus.Register(commands.TypeMissCall, s.transitionHandler(call.StatusMissed))
	bus.Register(commands.TypeEndCall, s.transitionHandler(call.StatusEnded))

	// call.signal - relay one negotiation message
	bus.Register(commands.TypeSendSignal, commands.HandlerFunc(func(ctx context.Context, cmd commands.Command) (commands.Result, error) {
		c, ok := cmd.(commands.SendSignalCommand)
		if !ok {
			return commands.Result{}, sentinal_errors.ErrInvalidInput
		}
		payload, err := c.Signal.EncodePayload()
		if err != nil {
			return commands.Result{}, err
		}
		rec := &call.SignalRecord{
			CallID:    c.CallID,
			SenderID:  c.UserID,
			Kind:      c.Signal.Kind,
			Payload:   payload,
			CreatedAt: s.clock().UTC(),
		}
		if err := s.signals.Append(ctx, rec); err != nil {
			return commands.Result{}, err
		}
		relayed := call.RelayedSignal{Seq: rec.ID, CallID: rec.CallID, SenderID: rec.SenderID, Signal: c.Signal}
		return commands.Result{AggregateID: c.CallID.String(), Payload: relayed}, nil
	}))
}

func (s *CallService) transitionHandler(to call.Status) commands.HandlerFunc {
	return func(ctx context.Context, cmd commands.Command) (commands.Result, error) {
		cc, ok := cmd.(commands.CallCommand)
		if !ok {
			return commands.Result{}, sentinal_errors.ErrInvalidInput
		}
		req := repository.TransitionRequest{CallID: cc.TargetCallID(), To: to, At: s.clock().UTC()}
		if end, ok := cmd.(commands.EndCallCommand); ok {
			req.DurationSeconds = end.DurationSeconds
		}
		updated, err := s.calls.Transition(ctx, req)
		if err != nil && !errors.Is(err, sentinal_errors.ErrDuplicateEvent) {
			return commands.Result{}, err
		}
		if err == nil {
			s.afterWrite(ctx, updated)
			s.log.Ctx(ctx).Info("call transitioned",
				zap.String("call_id", updated.ID.String()),
				zap.String("status", string(updated.Status)),
			)
		}
		return commands.Result{AggregateID: updated.ID.String(), Payload: updated}, err
	}
}

// afterWrite refreshes the redis mirrors once a write has committed.
// Failures only cost a cache miss.
func (s *CallService) afterWrite(ctx context.Context, c call.Call) {
	if s.states != nil {
		if err := s.states.Put(ctx, c); err != nil {
			s.log.Ctx(ctx).Warn("failed to cache call state", zap.String("call_id", c.ID.String()), zap.Error(err))
			_ = s.states.Remove(ctx, c.ID)
		}
	}
	if s.presence == nil {
		return
	}
	var err error
	if c.Status.IsTerminal() {
		err = s.presence.Release(ctx, c.ID, c.CallerID, c.ReceiverID)
	} else {
		err = s.presence.SetInCall(ctx, c.ID, c.CallerID, c.ReceiverID)
	}
	if err != nil {
		s.log.Ctx(ctx).Warn("failed to mirror presence", zap.String("call_id", c.ID.String()), zap.Error(err))
	}
}

func (s *CallService) execute(ctx context.Context, cmd commands.Command) (call.Call, error) {
	res, err := s.bus.Execute(ctx, cmd)
	c, _ := res.Payload.(call.Call)
	return c, err
}

// Initiate admits caller and receiver and creates a ringing call. A busy
// participant yields a *BusyError and no record.
func (s *CallService) Initiate(ctx context.Context, callerID, receiverID uuid.UUID, callType call.Type) (call.Call, error) {
	return s.execute(ctx, commands.InitiateCallCommand{CallerID: callerID, ReceiverID: receiverID, CallType: callType})
}

// Accept moves a ringing call to ongoing. Receiver only.
func (s *CallService) Accept(ctx context.Context, callID, userID uuid.UUID) (call.Call, error) {
	return s.execute(ctx, commands.NewAcceptCall(callID, userID))
}

// Reject moves a ringing call to rejected. Receiver only.
func (s *CallService) Reject(ctx context.Context, callID, userID uuid.UUID) (call.Call, error) {
	return s.execute(ctx, commands.NewRejectCall(callID, userID))
}

// Miss moves a ringing call to missed. Either participant.
func (s *CallService) Miss(ctx context.Context, callID, userID uuid.UUID) (call.Call, error) {
	return s.execute(ctx, commands.NewMissCall(callID, userID))
}

// End moves a ringing or ongoing call to ended. Either participant.
func (s *CallService) End(ctx context.Context, callID, userID uuid.UUID, duration *int) (call.Call, error) {
	return s.execute(ctx, commands.NewEndCall(callID, userID, duration))
}

// Get returns a call to one of its participants. Served from the call state
// cache when present.
func (s *CallService) Get(ctx context.Context, callID, userID uuid.UUID) (call.Call, error) {
	if s.states != nil {
		if c, ok, err := s.states.Get(ctx, callID); err == nil && ok {
			if !c.IsParticipant(userID) {
				return call.Call{}, sentinal_errors.ErrForbidden
			}
			return c, nil
		}
	}
	c, err := s.access.CanViewCall(ctx, userID, callID)
	if err != nil {
		return call.Call{}, err
	}
	if s.states != nil {
		_ = s.states.Put(ctx, c)
	}
	return c, nil
}

// LatestRinging returns the newest ringing call for the receiver started
// within the incoming window (or since `since` when it is later).
func (s *CallService) LatestRinging(ctx context.Context, receiverID uuid.UUID, since time.Time) (call.Call, error) {
	floor := s.clock().UTC().Add(-s.cfg.IncomingWindow)
	if since.After(floor) {
		floor = since.UTC()
	}
	return s.calls.LatestRinging(ctx, receiverID, floor)
}

// CheckBusy reports whether userID holds a call. Database authoritative.
func (s *CallService) CheckBusy(ctx context.Context, userID uuid.UUID) (bool, error) {
	if userID == uuid.Nil {
		return false, sentinal_errors.ErrInvalidInput
	}
	return s.calls.IsBusy(ctx, userID)
}

// CurrentCall returns the call userID currently holds. The presence mirror
// is consulted first and every hit is confirmed against the call record.
func (s *CallService) CurrentCall(ctx context.Context, userID uuid.UUID) (call.Call, error) {
	if s.presence != nil {
		if id, ok, err := s.presence.CurrentCall(ctx, userID); err == nil && ok {
			c, err := s.calls.GetByID(ctx, id)
			if err == nil && !c.Status.IsTerminal() && c.IsParticipant(userID) {
				return c, nil
			}
		}
	}
	st, err := s.calls.GetUserCallStatus(ctx, userID)
	if err != nil {
		return call.Call{}, err
	}
	if !st.IsInCall || st.CurrentCallID == nil {
		return call.Call{}, sentinal_errors.ErrNotFound
	}
	return s.calls.GetByID(ctx, *st.CurrentCallID)
}

// History lists calls the user took part in, newest first.
func (s *CallService) History(ctx context.Context, userID uuid.UUID, page, limit int) ([]call.Call, int64, error) {
	return s.calls.GetUserCalls(ctx, userID, page, limit)
}

// SendSignal appends a negotiation message to the relay.
func (s *CallService) SendSignal(ctx context.Context, callID, senderID uuid.UUID, sig call.Signal) (call.RelayedSignal, error) {
	res, err := s.bus.Execute(ctx, commands.NewSendSignal(callID, senderID, sig))
	if err != nil {
		return call.RelayedSignal{}, err
	}
	relayed, _ := res.Payload.(call.RelayedSignal)
	return relayed, nil
}

// ListSignals returns relayed signals after `after`, oldest first.
func (s *CallService) ListSignals(ctx context.Context, callID, userID uuid.UUID, after uint64) ([]call.RelayedSignal, error) {
	if _, err := s.access.CanViewCall(ctx, userID, callID); err != nil {
		return nil, err
	}
	recs, err := s.signals.ListSince(ctx, callID, after, s.cfg.SignalPageLimit)
	if err != nil {
		return nil, err
	}
	out := make([]call.RelayedSignal, 0, len(recs))
	for _, rec := range recs {
		relayed, err := rec.Relayed()
		if err != nil {
			s.log.Ctx(ctx).Warn("skipping undecodable signal", zap.Uint64("seq", rec.ID), zap.Error(err))
			continue
		}
		out = append(out, relayed)
	}
	return out, nil
}

// Access exposes the participant checks for transports that authorize
// subscriptions.
func (s *CallService) Access() *proxy.AccessControl {
	return s.access
}
