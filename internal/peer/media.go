package peer

import (
	"context"
	"fmt"
	"sync"
	"time"

	sentinal_errors "sentinal-call/pkg/errors"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// LocalMedia is what a MediaSource hands out for one call.
type LocalMedia struct {
	Mic    LocalTrack
	Camera LocalTrack
}

// Stop stops every acquired track.
func (m LocalMedia) Stop() {
	if m.Mic != nil {
		m.Mic.Stop()
	}
	if m.Camera != nil {
		m.Camera.Stop()
	}
}

// MediaSource acquires the local microphone and, for video calls, the camera.
// A refusal is reported as ErrMediaAccessDenied.
type MediaSource interface {
	Acquire(ctx context.Context, video bool) (LocalMedia, error)
}

// opus silence, one 20ms frame
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const silenceFrame = 20 * time.Millisecond

// StaticSource produces a silent opus microphone and an idle VP8 camera. It is
// used by the command line client and by tests; no device is opened.
type StaticSource struct {
	// Deny makes every Acquire fail as if the user refused access.
	Deny bool
}

func (s StaticSource) Acquire(ctx context.Context, video bool) (LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return LocalMedia{}, err
	}
	if s.Deny {
		return LocalMedia{}, sentinal_errors.ErrMediaAccessDenied
	}
	streamID := "sentinal-" + uuid.NewString()

	mic, err := newStaticTrack(TrackAudio, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, streamID)
	if err != nil {
		return LocalMedia{}, fmt.Errorf("%w: %v", sentinal_errors.ErrMediaAccessDenied, err)
	}
	go mic.writeSilence()

	out := LocalMedia{Mic: mic}
	if video {
		camera, err := newStaticTrack(TrackVideo, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, streamID)
		if err != nil {
			mic.Stop()
			return LocalMedia{}, fmt.Errorf("%w: %v", sentinal_errors.ErrMediaAccessDenied, err)
		}
		out.Camera = camera
	}
	return out, nil
}

// pionTrack is implemented by local tracks the pion adapter can send.
type pionTrack interface {
	TrackLocal() webrtc.TrackLocal
}

type staticTrack struct {
	kind     TrackKind
	track    *webrtc.TrackLocalStaticSample
	stop     chan struct{}
	stopOnce sync.Once
}

func newStaticTrack(kind TrackKind, codec webrtc.RTPCodecCapability, streamID string) (*staticTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(codec, string(kind)+"-"+uuid.NewString(), streamID)
	if err != nil {
		return nil, err
	}
	return &staticTrack{kind: kind, track: track, stop: make(chan struct{})}, nil
}

func (t *staticTrack) ID() string                    { return t.track.ID() }
func (t *staticTrack) Kind() TrackKind               { return t.kind }
func (t *staticTrack) TrackLocal() webrtc.TrackLocal { return t.track }

func (t *staticTrack) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *staticTrack) writeSilence() {
	ticker := time.NewTicker(silenceFrame)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			// Unbound tracks drop samples.
			_ = t.track.WriteSample(media.Sample{Data: opusSilence, Duration: silenceFrame})
		}
	}
}
