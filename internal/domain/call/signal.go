package call

import (
	"encoding/json"
	"fmt"
	"strings"

	sentinal_errors "sentinal-call/pkg/errors"

	"github.com/google/uuid"
)

// SignalKind tags the payload carried by a Signal.
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
)

func (k SignalKind) Valid() bool {
	return k == SignalOffer || k == SignalAnswer || k == SignalICECandidate
}

// SessionDescription is an offer or answer SDP.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate is one trickled transport candidate.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Signal is a negotiation message. Exactly one payload field is set and it
// matches Kind.
type Signal struct {
	Kind      SignalKind
	Offer     *SessionDescription
	Answer    *SessionDescription
	Candidate *ICECandidate
}

// Envelope is the wire form of a signal.
type Envelope struct {
	Kind    SignalKind      `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func NewOffer(sdp string) Signal {
	return Signal{Kind: SignalOffer, Offer: &SessionDescription{Type: "offer", SDP: sdp}}
}

func NewAnswer(sdp string) Signal {
	return Signal{Kind: SignalAnswer, Answer: &SessionDescription{Type: "answer", SDP: sdp}}
}

func NewCandidate(c ICECandidate) Signal {
	return Signal{Kind: SignalICECandidate, Candidate: &c}
}

// Validate checks that the payload matches the kind.
func (s Signal) Validate() error {
	switch s.Kind {
	case SignalOffer:
		if s.Offer == nil || s.Answer != nil || s.Candidate != nil {
			return fmt.Errorf("%w: offer payload missing", sentinal_errors.ErrMalformedSignal)
		}
		return validateDescription(*s.Offer, "offer")
	case SignalAnswer:
		if s.Answer == nil || s.Offer != nil || s.Candidate != nil {
			return fmt.Errorf("%w: answer payload missing", sentinal_errors.ErrMalformedSignal)
		}
		return validateDescription(*s.Answer, "answer")
	case SignalICECandidate:
		if s.Candidate == nil || s.Offer != nil || s.Answer != nil {
			return fmt.Errorf("%w: candidate payload missing", sentinal_errors.ErrMalformedSignal)
		}
		if strings.TrimSpace(s.Candidate.Candidate) == "" {
			return fmt.Errorf("%w: empty candidate", sentinal_errors.ErrMalformedSignal)
		}
		if s.Candidate.SDPMid == nil && s.Candidate.SDPMLineIndex == nil {
			return fmt.Errorf("%w: candidate without sdpMid or sdpMLineIndex", sentinal_errors.ErrMalformedSignal)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown kind %q", sentinal_errors.ErrMalformedSignal, s.Kind)
}

func validateDescription(d SessionDescription, want string) error {
	if d.Type != want {
		return fmt.Errorf("%w: %s carries sdp type %q", sentinal_errors.ErrMalformedSignal, want, d.Type)
	}
	if strings.TrimSpace(d.SDP) == "" {
		return fmt.Errorf("%w: empty sdp", sentinal_errors.ErrMalformedSignal)
	}
	return nil
}

// Description returns the offer or answer payload.
func (s Signal) Description() (SessionDescription, bool) {
	switch {
	case s.Offer != nil:
		return *s.Offer, true
	case s.Answer != nil:
		return *s.Answer, true
	}
	return SessionDescription{}, false
}

// EncodePayload returns the JSON payload stored in the relay.
func (s Signal) EncodePayload() (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	var v any
	switch s.Kind {
	case SignalOffer:
		v = s.Offer
	case SignalAnswer:
		v = s.Answer
	default:
		v = s.Candidate
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeSignal rebuilds a typed signal from a kind and JSON payload.
func DecodeSignal(kind SignalKind, payload []byte) (Signal, error) {
	s := Signal{Kind: kind}
	var err error
	switch kind {
	case SignalOffer:
		s.Offer = &SessionDescription{}
		err = json.Unmarshal(payload, s.Offer)
	case SignalAnswer:
		s.Answer = &SessionDescription{}
		err = json.Unmarshal(payload, s.Answer)
	case SignalICECandidate:
		s.Candidate = &ICECandidate{}
		err = json.Unmarshal(payload, s.Candidate)
	default:
		return Signal{}, fmt.Errorf("%w: unknown kind %q", sentinal_errors.ErrMalformedSignal, kind)
	}
	if err != nil {
		return Signal{}, fmt.Errorf("%w: %v", sentinal_errors.ErrMalformedSignal, err)
	}
	if err := s.Validate(); err != nil {
		return Signal{}, err
	}
	return s, nil
}

func (s Signal) MarshalJSON() ([]byte, error) {
	payload, err := s.EncodePayload()
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Kind: s.Kind, Payload: json.RawMessage(payload)})
}

func (s *Signal) UnmarshalJSON(data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %v", sentinal_errors.ErrMalformedSignal, err)
	}
	decoded, err := DecodeSignal(env.Kind, env.Payload)
	if err != nil {
		return err
	}
	*s = decoded
	return nil
}

// RelayedSignal is a signal as read back from the relay.
type RelayedSignal struct {
	Seq      uint64    `json:"seq"`
	CallID   uuid.UUID `json:"call_id"`
	SenderID uuid.UUID `json:"sender_id"`
	Signal   Signal    `json:"signal"`
}

// Relayed converts a stored row to its typed form.
func (r SignalRecord) Relayed() (RelayedSignal, error) {
	sig, err := DecodeSignal(r.Kind, []byte(r.Payload))
	if err != nil {
		return RelayedSignal{}, err
	}
	return RelayedSignal{Seq: r.ID, CallID: r.CallID, SenderID: r.SenderID, Signal: sig}, nil
}
