// Package peer wraps the media connection between the two participants of a
// call. The coordinator drives it through Adapter and never sees pion types.
package peer

import (
	"context"

	"sentinal-call/internal/domain/call"
)

// ConnectionState mirrors the RTCPeerConnectionState names.
type ConnectionState string

const (
	StateNew          ConnectionState = "new"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)

type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// LocalTrack is a captured microphone or camera track.
type LocalTrack interface {
	ID() string
	Kind() TrackKind
	// Stop releases the device. Safe to call more than once.
	Stop()
}

// RemoteTrack describes media received from the other participant.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     TrackKind
}

// Adapter is one peer connection. Handlers must be registered before
// CreateOffer or SetRemoteDescription so no early event is lost.
type Adapter interface {
	CreateOffer(ctx context.Context) (call.SessionDescription, error)
	CreateAnswer(ctx context.Context) (call.SessionDescription, error)
	// SetRemoteDescription applies an offer or answer. Re-applying the same
	// description is a no-op. Candidates received earlier are applied after it.
	SetRemoteDescription(ctx context.Context, desc call.SessionDescription) error
	// AddICECandidate buffers until a remote description is set. Duplicates
	// are ignored.
	AddICECandidate(ctx context.Context, c call.ICECandidate) error
	// AttachLocalTracks adds the captured tracks. Either may be nil.
	AttachLocalTracks(mic, camera LocalTrack) error
	OnRemoteTrack(func(RemoteTrack))
	OnICECandidate(func(call.ICECandidate))
	OnConnectionStateChange(func(ConnectionState))
	Close() error
}

// Factory creates an adapter for one call.
type Factory func(ctx context.Context) (Adapter, error)
