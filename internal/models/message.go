package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// TopicPrefix scopes the signaling topic of a room.
const TopicPrefix = "video-signal-"

// Kind is the type of a call signaling message.
type Kind int

const (
	KindInvite Kind = iota + 1
	KindAccept
	KindDecline
	KindSignal
)

func (k Kind) String() string {
	switch k {
	case KindInvite:
		return "invite"
	case KindAccept:
		return "accept"
	case KindDecline:
		return "decline"
	case KindSignal:
		return "signal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText encodes the kind as its wire name.
func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case KindInvite, KindAccept, KindDecline, KindSignal:
		return []byte(k.String()), nil
	}
	return nil, fmt.Errorf("unknown message kind %d", int(k))
}

// UnmarshalText decodes a wire name. Unknown names are rejected.
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "invite":
		*k = KindInvite
	case "accept":
		*k = KindAccept
	case "decline":
		*k = KindDecline
	case "signal":
		*k = KindSignal
	default:
		return fmt.Errorf("unknown message kind %q", string(text))
	}
	return nil
}

// SignalMessage is the payload carried on a room's signaling topic.
type SignalMessage struct {
	ID        string                     `json:"id" msgpack:"id"`
	Kind      Kind                       `json:"type" msgpack:"type"`
	Sender    string                     `json:"sender" msgpack:"sender"`
	Target    string                     `json:"target,omitempty" msgpack:"target,omitempty"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty" msgpack:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty" msgpack:"candidate,omitempty"`
}

var (
	ErrMissingSender   = errors.New("signal message has no sender")
	ErrUnexpectedMedia = errors.New("control message carries sdp or candidate")
	ErrAmbiguousSignal = errors.New("signal message carries both sdp and candidate")
	ErrUnknownKind     = errors.New("unknown message kind")
)

func newMessage(kind Kind, sender, target string) *SignalMessage {
	return &SignalMessage{
		ID:     uuid.NewString(),
		Kind:   kind,
		Sender: sender,
		Target: target,
	}
}

// NewInvite builds a broadcast call invitation.
func NewInvite(sender string) *SignalMessage {
	return newMessage(KindInvite, sender, "")
}

// NewAccept builds a broadcast acceptance.
func NewAccept(sender string) *SignalMessage {
	return newMessage(KindAccept, sender, "")
}

// NewDecline builds a decline addressed to the inviter.
func NewDecline(sender, target string) *SignalMessage {
	return newMessage(KindDecline, sender, target)
}

// NewDescription wraps an offer or answer for target.
func NewDescription(sender, target string, sdp webrtc.SessionDescription) *SignalMessage {
	m := newMessage(KindSignal, sender, target)
	m.SDP = &sdp
	return m
}

// NewCandidate wraps a locally gathered ICE candidate for target.
func NewCandidate(sender, target string, c webrtc.ICECandidateInit) *SignalMessage {
	m := newMessage(KindSignal, sender, target)
	m.Candidate = &c
	return m
}

// Validate checks the structural invariants of a message.
func (m *SignalMessage) Validate() error {
	if m.Sender == "" {
		return ErrMissingSender
	}
	switch m.Kind {
	case KindInvite, KindAccept, KindDecline:
		if m.SDP != nil || m.Candidate != nil {
			return fmt.Errorf("%s: %w", m.Kind, ErrUnexpectedMedia)
		}
	case KindSignal:
		if m.SDP != nil && m.Candidate != nil {
			return ErrAmbiguousSignal
		}
	default:
		return fmt.Errorf("%w: %d", ErrUnknownKind, int(m.Kind))
	}
	return nil
}

// AddressedTo reports whether participant id should act on the message.
func (m *SignalMessage) AddressedTo(id string) bool {
	return m.Target == "" || m.Target == id
}

// Topic returns the signaling topic of a room.
func Topic(roomID string) string {
	return TopicPrefix + roomID
}

// RoomFromTopic is the inverse of Topic.
func RoomFromTopic(topic string) (string, bool) {
	if !strings.HasPrefix(topic, TopicPrefix) {
		return "", false
	}
	room := strings.TrimPrefix(topic, TopicPrefix)
	return room, room != ""
}
