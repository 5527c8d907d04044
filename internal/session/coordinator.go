package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"sentinal-call/internal/delivery"
	"sentinal-call/internal/domain/call"
	"sentinal-call/internal/peer"
	sentinal_errors "sentinal-call/pkg/errors"
	"sentinal-call/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrClosed is returned by operations on a coordinator that has been cleaned up.
var ErrClosed = errors.New("session closed")

// Coordinator owns one call from this client's point of view. Every exit
// path ends in cleanup, which releases media, closes the peer connection,
// stops the timer and detaches both deliveries exactly once.
type Coordinator struct {
	cfg Config
	log *logger.Logger

	id     uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	call      call.Call
	role      call.Role
	media     peer.LocalMedia
	adapter   peer.Adapter
	status    *delivery.DualPath[call.Call]
	signals   *delivery.DualPath[call.RelayedSignal]
	cursor    uint64
	answered  bool
	startedAt time.Time
	closed    bool

	connectedOnce sync.Once
	failedOnce    sync.Once
	endedOnce     sync.Once
	cleanupOnce   sync.Once
	timerStop     chan struct{}
	done          chan struct{}
}

func newCoordinator(cfg Config, c call.Call, role call.Role) *Coordinator {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	co := &Coordinator{
		cfg:       cfg,
		id:        c.ID,
		log:       cfg.Logger.Named("session").With(zap.String("call_id", c.ID.String()), zap.String("role", string(role))),
		ctx:       ctx,
		cancel:    cancel,
		call:      c,
		role:      role,
		timerStop: make(chan struct{}),
		done:      make(chan struct{}),
	}
	co.save(c)
	return co
}

// Dial places a call. A busy participant is returned as a *BusyError and no
// coordinator is created. The offer is sent before Dial returns.
func Dial(ctx context.Context, cfg Config, receiverID uuid.UUID, t call.Type) (*Coordinator, error) {
	cfg = cfg.withDefaults()
	c, err := cfg.Backend.InitiateCall(ctx, receiverID, t)
	if err != nil {
		return nil, err
	}
	co := newCoordinator(cfg, c, call.RoleCaller)
	co.startStatus()

	media, err := cfg.Media.Acquire(ctx, t == call.TypeVideo)
	if err != nil {
		co.abort(fmt.Errorf("acquire media: %w", err))
		return nil, err
	}
	if err := co.holdMedia(media); err != nil {
		return nil, err
	}

	adapter, err := co.startPeer(ctx)
	if err != nil {
		return nil, co.abortUnlessClosed(err)
	}
	offer, err := adapter.CreateOffer(ctx)
	if err != nil {
		return nil, co.abortUnlessClosed(err)
	}
	if _, err := cfg.Backend.SendSignal(ctx, c.ID, call.NewOffer(offer.SDP)); err != nil {
		return nil, co.abortUnlessClosed(fmt.Errorf("send offer: %w", err))
	}
	co.startSignals()
	return co, nil
}

// NewIncoming follows a ringing call addressed to this client so that a
// caller cancellation is seen before the user answers.
func NewIncoming(cfg Config, c call.Call) *Coordinator {
	co := newCoordinator(cfg, c, call.RoleReceiver)
	co.startStatus()
	return co
}

// Call returns the latest observed record.
func (co *Coordinator) Call() call.Call {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.call
}

// Role is this client's side of the call.
func (co *Coordinator) Role() call.Role {
	return co.role
}

// Done is closed once cleanup has run.
func (co *Coordinator) Done() <-chan struct{} {
	return co.done
}

// Elapsed is the time since ongoing was first observed.
func (co *Coordinator) Elapsed() time.Duration {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.elapsedLocked()
}

func (co *Coordinator) elapsedLocked() time.Duration {
	if co.startedAt.IsZero() {
		return 0
	}
	return time.Since(co.startedAt)
}

// Accept answers a ringing call. Receiver only.
func (co *Coordinator) Accept(ctx context.Context) error {
	c, err := co.require(call.RoleReceiver, call.StatusRinging)
	if err != nil {
		return err
	}

	media, err := co.cfg.Media.Acquire(ctx, c.Type == call.TypeVideo)
	if err != nil {
		co.abort(fmt.Errorf("acquire media: %w", err))
		return err
	}
	if err := co.holdMedia(media); err != nil {
		return err
	}

	updated, err := co.cfg.Backend.Accept(ctx, c.ID)
	if err := co.settle(ctx, updated, err); err != nil {
		co.releaseMedia()
		return err
	}

	if _, err := co.startPeer(ctx); err != nil {
		return co.abortUnlessClosed(err)
	}
	// The poll path backfills the offer sent while ringing.
	co.startSignals()
	return nil
}

// Reject declines a ringing call. Receiver only.
func (co *Coordinator) Reject(ctx context.Context) error {
	c, err := co.require(call.RoleReceiver, call.StatusRinging)
	if err != nil {
		return err
	}
	updated, err := co.cfg.Backend.Reject(ctx, c.ID)
	return co.settle(ctx, updated, err)
}

// Miss records a ringing call as missed.
func (co *Coordinator) Miss(ctx context.Context) error {
	c, err := co.require("", call.StatusRinging)
	if err != nil {
		return err
	}
	updated, err := co.cfg.Backend.Miss(ctx, c.ID)
	return co.settle(ctx, updated, err)
}

// End ends a ringing or ongoing call with the given duration.
func (co *Coordinator) End(ctx context.Context, duration *int) error {
	c, err := co.require("", "")
	if err != nil {
		return err
	}
	updated, err := co.cfg.Backend.End(ctx, c.ID, duration)
	return co.settle(ctx, updated, err)
}

// Hangup ends the call with the elapsed duration.
func (co *Coordinator) Hangup(ctx context.Context) error {
	return co.End(ctx, co.durationPtr())
}

// Close tears down local resources without touching the record. The snapshot
// is kept so the call can be shown again after a restart.
func (co *Coordinator) Close() {
	co.cleanup()
}

func (co *Coordinator) durationPtr() *int {
	co.mu.Lock()
	defer co.mu.Unlock()
	if co.startedAt.IsZero() {
		return nil
	}
	d := int(co.elapsedLocked() / time.Second)
	return &d
}

// require checks role (when set) and status (when set, otherwise any
// non-terminal status) against the local view.
func (co *Coordinator) require(role call.Role, status call.Status) (call.Call, error) {
	co.mu.Lock()
	defer co.mu.Unlock()
	if co.call.Status.IsTerminal() {
		return call.Call{}, sentinal_errors.ErrCallTerminated
	}
	if co.closed {
		return call.Call{}, ErrClosed
	}
	if role != "" && co.role != role {
		return call.Call{}, sentinal_errors.ErrForbidden
	}
	if status != "" && co.call.Status != status {
		return call.Call{}, sentinal_errors.ErrInvalidTransition
	}
	return co.call, nil
}

// settle applies the result of a local write. A duplicate counts as
// success; a terminated call is re-read so the local view converges.
func (co *Coordinator) settle(ctx context.Context, updated call.Call, err error) error {
	switch {
	case err == nil, errors.Is(err, sentinal_errors.ErrDuplicateEvent):
		if updated.ID != uuid.Nil {
			co.observe(updated)
		}
		return nil
	case errors.Is(err, sentinal_errors.ErrCallTerminated), errors.Is(err, sentinal_errors.ErrInvalidTransition):
		if current, gerr := co.cfg.Backend.GetCall(ctx, co.id); gerr == nil {
			co.observe(current)
		}
	}
	return err
}

// observe routes a locally seen record through the status filter so the
// same status arriving later over push or poll is a no-op.
func (co *Coordinator) observe(c call.Call) {
	co.mu.Lock()
	status := co.status
	co.mu.Unlock()
	if status == nil || !status.Offer(c) {
		co.apply(c)
	}
}

// apply moves the local state along one edge of the status graph. Anything
// else, including stale or reordered deliveries, is ignored.
func (co *Coordinator) apply(c call.Call) {
	if c.ID != co.id {
		return
	}
	co.mu.Lock()
	from := co.call.Status
	if from == c.Status || !call.CanTransition(from, c.Status) {
		co.mu.Unlock()
		if from != c.Status {
			co.log.Debug("ignoring out of order status", zap.String("from", string(from)), zap.String("to", string(c.Status)))
		}
		return
	}
	co.call = c
	if c.Status == call.StatusOngoing {
		co.startTimerLocked(time.Now())
	}
	co.mu.Unlock()

	co.log.Info("call status changed", zap.String("from", string(from)), zap.String("to", string(c.Status)))
	co.cfg.Listener.StatusChanged(c)

	if c.Status.IsTerminal() {
		co.finish(c)
		return
	}
	co.save(c)
}

func (co *Coordinator) finish(c call.Call) {
	co.endedOnce.Do(func() {
		if co.cfg.Cache != nil {
			if err := co.cfg.Cache.Clear(); err != nil {
				co.log.Warn("failed to clear session snapshot", zap.Error(err))
			}
		}
		duration := 0
		if c.DurationSeconds != nil {
			duration = *c.DurationSeconds
		} else {
			duration = int(co.Elapsed() / time.Second)
		}
		co.cfg.Listener.Ended(duration)
	})
	co.cleanup()
}

// abort reports reason, ends the record and cleans up.
func (co *Coordinator) abort(reason error) {
	co.mu.Lock()
	closed := co.closed
	co.mu.Unlock()
	if closed {
		return
	}
	co.failedOnce.Do(func() {
		co.log.Warn("call failed", zap.Error(reason))
		co.cfg.Listener.Failed(reason)
	})

	co.mu.Lock()
	terminal := co.call.Status.IsTerminal()
	co.mu.Unlock()
	if !terminal {
		ctx, cancel := context.WithTimeout(context.Background(), co.cfg.WriteTimeout)
		updated, err := co.cfg.Backend.End(ctx, co.id, co.durationPtr())
		if serr := co.settle(ctx, updated, err); serr != nil {
			co.log.Warn("failed to end call record", zap.Error(serr))
		}
		cancel()
	}
	co.cleanup()
}

func (co *Coordinator) save(c call.Call) {
	if co.cfg.Cache == nil {
		return
	}
	if err := co.cfg.Cache.Save(c, co.role); err != nil {
		co.log.Warn("failed to save session snapshot", zap.Error(err))
	}
}

// abortUnlessClosed aborts on err unless the session already ended, in which
// case the call is reported as terminated.
func (co *Coordinator) abortUnlessClosed(err error) error {
	if errors.Is(err, ErrClosed) {
		return sentinal_errors.ErrCallTerminated
	}
	co.abort(err)
	return err
}

// holdMedia keeps acquired tracks for cleanup, or stops them at once when
// the session ended while they were being acquired.
func (co *Coordinator) holdMedia(media peer.LocalMedia) error {
	co.mu.Lock()
	if co.closed {
		co.mu.Unlock()
		media.Stop()
		return sentinal_errors.ErrCallTerminated
	}
	co.media = media
	co.mu.Unlock()
	return nil
}

func (co *Coordinator) releaseMedia() {
	co.mu.Lock()
	media := co.media
	co.media = peer.LocalMedia{}
	co.mu.Unlock()
	media.Stop()
}

func (co *Coordinator) startTimerLocked(at time.Time) {
	if !co.startedAt.IsZero() {
		return
	}
	co.startedAt = at
	go func() {
		ticker := time.NewTicker(co.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-co.timerStop:
				return
			case <-ticker.C:
				co.cfg.Listener.Tick(time.Since(at))
			}
		}
	}()
}

func (co *Coordinator) startStatus() {
	co.mu.Lock()
	if co.closed || co.status != nil {
		co.mu.Unlock()
		return
	}
	id, initial := co.id, co.call
	cfg := delivery.Config[call.Call]{
		Name: "call-status",
		Fetch: func(ctx context.Context) ([]call.Call, error) {
			c, err := co.cfg.Backend.GetCall(ctx, id)
			if err != nil {
				return nil, err
			}
			return []call.Call{c}, nil
		},
		Key: func(c call.Call) string {
			return c.ID.String() + ":" + string(c.Status)
		},
		Handle:        co.apply,
		Interval:      co.cfg.StatusPollInterval,
		OnUnavailable: co.transportUnavailable,
		OnRecovered:   co.transportRecovered,
		Logger:        co.log,
	}
	if co.cfg.Push != nil {
		cfg.Subscribe = func(ctx context.Context, deliver func(call.Call)) error {
			return co.cfg.Push.SubscribeStatus(ctx, id, deliver)
		}
	}
	status := delivery.Start(co.ctx, cfg)
	co.status = status
	co.mu.Unlock()

	// Seed the filter so the current status is not reported again.
	status.Offer(initial)
}

func (co *Coordinator) startSignals() {
	co.mu.Lock()
	defer co.mu.Unlock()
	if co.closed || co.signals != nil {
		return
	}
	id := co.id
	cfg := delivery.Config[call.RelayedSignal]{
		Name: "call-signal",
		Fetch: func(ctx context.Context) ([]call.RelayedSignal, error) {
			co.mu.Lock()
			after := co.cursor
			co.mu.Unlock()
			list, err := co.cfg.Backend.ListSignals(ctx, id, after)
			if err != nil {
				return nil, err
			}
			if n := len(list); n > 0 {
				co.mu.Lock()
				if list[n-1].Seq > co.cursor {
					co.cursor = list[n-1].Seq
				}
				co.mu.Unlock()
			}
			return list, nil
		},
		Key: func(s call.RelayedSignal) string {
			return strconv.FormatUint(s.Seq, 10)
		},
		Handle:   co.handleSignal,
		Interval: co.cfg.SignalPollInterval,
		Logger:   co.log,
	}
	if co.cfg.Push != nil {
		cfg.Subscribe = func(ctx context.Context, deliver func(call.RelayedSignal)) error {
			return co.cfg.Push.SubscribeSignals(ctx, id, deliver)
		}
	}
	co.signals = delivery.Start(co.ctx, cfg)
}

func (co *Coordinator) startPeer(ctx context.Context) (peer.Adapter, error) {
	adapter, err := co.cfg.Peers(ctx)
	if err != nil {
		return nil, err
	}
	adapter.OnICECandidate(func(c call.ICECandidate) {
		co.send(call.NewCandidate(c))
	})
	adapter.OnConnectionStateChange(co.handleConnectionState)
	adapter.OnRemoteTrack(func(t peer.RemoteTrack) {
		co.log.Info("remote track", zap.String("kind", string(t.Kind)), zap.String("track", t.ID))
	})

	co.mu.Lock()
	if co.closed {
		co.mu.Unlock()
		_ = adapter.Close()
		return nil, ErrClosed
	}
	co.adapter = adapter
	media := co.media
	co.mu.Unlock()

	if err := adapter.AttachLocalTracks(media.Mic, media.Camera); err != nil {
		return nil, err
	}
	return adapter, nil
}

func (co *Coordinator) send(sig call.Signal) {
	if _, err := co.cfg.Backend.SendSignal(co.ctx, co.id, sig); err != nil && co.ctx.Err() == nil {
		co.log.Warn("failed to relay signal", zap.String("kind", string(sig.Kind)), zap.Error(err))
	}
}

// handleSignal applies one relayed signal. Mismatched offers and answers are
// negotiation failures: logged, never surfaced.
func (co *Coordinator) handleSignal(s call.RelayedSignal) {
	if s.SenderID == co.cfg.UserID {
		return
	}
	co.mu.Lock()
	adapter := co.adapter
	answered := co.answered
	co.mu.Unlock()
	if adapter == nil {
		return
	}

	var err error
	switch s.Signal.Kind {
	case call.SignalOffer:
		if co.role != call.RoleReceiver {
			err = fmt.Errorf("%w: caller received an offer", sentinal_errors.ErrSignalingFailure)
			break
		}
		if answered {
			return
		}
		if err = adapter.SetRemoteDescription(co.ctx, *s.Signal.Offer); err != nil {
			break
		}
		var answer call.SessionDescription
		if answer, err = adapter.CreateAnswer(co.ctx); err != nil {
			break
		}
		co.mu.Lock()
		co.answered = true
		co.mu.Unlock()
		co.send(call.NewAnswer(answer.SDP))
	case call.SignalAnswer:
		if co.role != call.RoleCaller {
			err = fmt.Errorf("%w: receiver received an answer", sentinal_errors.ErrSignalingFailure)
			break
		}
		err = adapter.SetRemoteDescription(co.ctx, *s.Signal.Answer)
	case call.SignalICECandidate:
		err = adapter.AddICECandidate(co.ctx, *s.Signal.Candidate)
	}
	if err != nil && co.ctx.Err() == nil {
		co.log.Warn("discarding signal", zap.Uint64("seq", s.Seq), zap.String("kind", string(s.Signal.Kind)), zap.Error(err))
	}
}

func (co *Coordinator) handleConnectionState(s peer.ConnectionState) {
	switch s {
	case peer.StateConnected:
		co.connectedOnce.Do(func() {
			co.log.Info("media connected")
			co.cfg.Listener.Connected()
		})
	case peer.StateFailed:
		// Called on the adapter's goroutine; closing it there would block.
		go co.abort(sentinal_errors.ErrConnectionFailed)
	}
}

func (co *Coordinator) transportUnavailable(err error) {
	co.log.Warn("call updates unavailable", zap.Error(err))
	if tl, ok := co.cfg.Listener.(TransportListener); ok {
		tl.TransportUnavailable(err)
	}
}

func (co *Coordinator) transportRecovered() {
	if tl, ok := co.cfg.Listener.(TransportListener); ok {
		tl.TransportRecovered()
	}
}

func (co *Coordinator) cleanup() {
	co.cleanupOnce.Do(func() {
		co.mu.Lock()
		co.closed = true
		media := co.media
		adapter := co.adapter
		status, signals := co.status, co.signals
		co.mu.Unlock()

		co.cancel()
		if status != nil {
			status.Stop()
		}
		if signals != nil {
			signals.Stop()
		}
		close(co.timerStop)
		media.Stop()
		if adapter != nil {
			if err := adapter.Close(); err != nil {
				co.log.Debug("closing peer connection", zap.Error(err))
			}
		}
		close(co.done)
		co.log.Debug("session cleaned up")
	})
}
