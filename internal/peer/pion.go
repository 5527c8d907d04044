package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"sentinal-call/internal/domain/call"
	sentinal_errors "sentinal-call/pkg/errors"
	"sentinal-call/pkg/logger"

	"github.com/pion/interceptor"
	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Options configures pion peer connections.
type Options struct {
	ICEServers []string
	// Net replaces the host network stack, e.g. with a vnet in tests.
	Net    transport.Net
	Logger *logger.Logger
}

// PionAdapter implements Adapter on a pion PeerConnection.
type PionAdapter struct {
	pc  *webrtc.PeerConnection
	log *logger.Logger

	// negotiation state
	mu        sync.Mutex
	remote    *call.SessionDescription
	pending   []webrtc.ICECandidateInit
	seen      map[string]struct{}
	closed    bool
	closeOnce sync.Once
	closeErr  error

	handlersMu    sync.RWMutex
	onRemoteTrack func(RemoteTrack)
	onCandidate   func(call.ICECandidate)
	onStateChange func(ConnectionState)
}

// NewAPI builds the pion API with the default codecs and interceptors.
func NewAPI(opts Options) (*webrtc.API, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{LoggerFactory: newLoggerFactory(log)}
	if opts.Net != nil {
		se.SetNet(opts.Net)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	), nil
}

// NewPionAdapter opens a peer connection.
func NewPionAdapter(opts Options) (*PionAdapter, error) {
	api, err := NewAPI(opts)
	if err != nil {
		return nil, err
	}
	cfg := webrtc.Configuration{}
	if len(opts.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: opts.ICEServers}}
	}
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	a := &PionAdapter{
		pc:   pc,
		log:  log.Named("peer"),
		seen: make(map[string]struct{}),
	}
	pc.OnICECandidate(a.handleICECandidate)
	pc.OnConnectionStateChange(a.handleStateChange)
	pc.OnTrack(a.handleTrack)
	return a, nil
}

// PionFactory returns a Factory producing pion adapters.
func PionFactory(opts Options) Factory {
	return func(ctx context.Context) (Adapter, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return NewPionAdapter(opts)
	}
}

func (a *PionAdapter) CreateOffer(ctx context.Context) (call.SessionDescription, error) {
	if err := a.ready(ctx); err != nil {
		return call.SessionDescription{}, err
	}
	offer, err := a.pc.CreateOffer(nil)
	if err != nil {
		return call.SessionDescription{}, fmt.Errorf("%w: create offer: %v", sentinal_errors.ErrSignalingFailure, err)
	}
	if err := a.pc.SetLocalDescription(offer); err != nil {
		return call.SessionDescription{}, fmt.Errorf("%w: set local offer: %v", sentinal_errors.ErrSignalingFailure, err)
	}
	return call.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (a *PionAdapter) CreateAnswer(ctx context.Context) (call.SessionDescription, error) {
	if err := a.ready(ctx); err != nil {
		return call.SessionDescription{}, err
	}
	answer, err := a.pc.CreateAnswer(nil)
	if err != nil {
		return call.SessionDescription{}, fmt.Errorf("%w: create answer: %v", sentinal_errors.ErrSignalingFailure, err)
	}
	if err := a.pc.SetLocalDescription(answer); err != nil {
		return call.SessionDescription{}, fmt.Errorf("%w: set local answer: %v", sentinal_errors.ErrSignalingFailure, err)
	}
	return call.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (a *PionAdapter) SetRemoteDescription(ctx context.Context, desc call.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sdpType := webrtc.NewSDPType(desc.Type)
	if sdpType != webrtc.SDPTypeOffer && sdpType != webrtc.SDPTypeAnswer {
		return fmt.Errorf("%w: unsupported sdp type %q", sentinal_errors.ErrSignalingFailure, desc.Type)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return io.ErrClosedPipe
	}
	if a.remote != nil {
		if *a.remote == desc {
			return nil
		}
		return fmt.Errorf("%w: remote %s already applied", sentinal_errors.ErrSignalingFailure, a.remote.Type)
	}

	if err := a.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP}); err != nil {
		return fmt.Errorf("%w: set remote %s: %v", sentinal_errors.ErrSignalingFailure, desc.Type, err)
	}
	remote := desc
	a.remote = &remote

	pending := a.pending
	a.pending = nil
	for _, c := range pending {
		if err := a.pc.AddICECandidate(c); err != nil {
			a.log.Warn("dropping buffered candidate", zap.String("candidate", c.Candidate), zap.Error(err))
		}
	}
	return nil
}

func (a *PionAdapter) AddICECandidate(ctx context.Context, c call.ICECandidate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	init := webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return io.ErrClosedPipe
	}
	key := candidateKey(c)
	if _, dup := a.seen[key]; dup {
		return nil
	}
	a.seen[key] = struct{}{}

	if a.remote == nil {
		a.pending = append(a.pending, init)
		return nil
	}
	if err := a.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("%w: add candidate: %v", sentinal_errors.ErrSignalingFailure, err)
	}
	return nil
}

func candidateKey(c call.ICECandidate) string {
	mid, index := "", ""
	if c.SDPMid != nil {
		mid = *c.SDPMid
	}
	if c.SDPMLineIndex != nil {
		index = fmt.Sprint(*c.SDPMLineIndex)
	}
	return mid + "|" + index + "|" + c.Candidate
}

func (a *PionAdapter) AttachLocalTracks(mic, camera LocalTrack) error {
	for _, t := range []LocalTrack{mic, camera} {
		if t == nil {
			continue
		}
		pt, ok := t.(pionTrack)
		if !ok {
			return fmt.Errorf("track %s cannot be sent by this adapter", t.ID())
		}
		sender, err := a.pc.AddTrack(pt.TrackLocal())
		if err != nil {
			return err
		}
		// RTCP must be read for the interceptors to work.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}
	return nil
}

func (a *PionAdapter) OnRemoteTrack(fn func(RemoteTrack)) {
	a.handlersMu.Lock()
	a.onRemoteTrack = fn
	a.handlersMu.Unlock()
}

func (a *PionAdapter) OnICECandidate(fn func(call.ICECandidate)) {
	a.handlersMu.Lock()
	a.onCandidate = fn
	a.handlersMu.Unlock()
}

func (a *PionAdapter) OnConnectionStateChange(fn func(ConnectionState)) {
	a.handlersMu.Lock()
	a.onStateChange = fn
	a.handlersMu.Unlock()
}

// Close closes the peer connection once.
func (a *PionAdapter) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.pending = nil
		a.mu.Unlock()
		a.closeErr = a.pc.Close()
	})
	return a.closeErr
}

func (a *PionAdapter) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return io.ErrClosedPipe
	}
	return nil
}

func (a *PionAdapter) handleICECandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}
	a.handlersMu.RLock()
	fn := a.onCandidate
	a.handlersMu.RUnlock()
	if fn == nil {
		return
	}
	init := c.ToJSON()
	fn(call.ICECandidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	})
}

func (a *PionAdapter) handleStateChange(s webrtc.PeerConnectionState) {
	a.log.Debug("peer connection state", zap.String("state", s.String()))
	a.handlersMu.RLock()
	fn := a.onStateChange
	a.handlersMu.RUnlock()
	if fn != nil {
		fn(ConnectionState(s.String()))
	}
}

func (a *PionAdapter) handleTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	a.handlersMu.RLock()
	fn := a.onRemoteTrack
	a.handlersMu.RUnlock()
	if fn != nil {
		fn(RemoteTrack{ID: track.ID(), StreamID: track.StreamID(), Kind: TrackKind(track.Kind().String())})
	}
	// Playback is outside this package; drain so the receiver keeps flowing.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				if !errors.Is(err, io.EOF) {
					a.log.Debug("remote track closed", zap.String("track", track.ID()), zap.Error(err))
				}
				return
			}
		}
	}()
}
