// Package callerr defines the error taxonomy surfaced by a call session.
package callerr

import (
	"errors"
	"fmt"
)

// Kind classifies a call failure.
type Kind int

const (
	Unknown Kind = iota
	// PermissionDenied: the user refused camera/microphone access.
	PermissionDenied
	// DeviceUnavailable: capture failed for any other reason.
	DeviceUnavailable
	// PeerNegotiationFailed: an SDP or ICE step failed for one peer.
	PeerNegotiationFailed
	// RemoteDeclined: the invited participant declined.
	RemoteDeclined
	// ChannelUnavailable: the signaling subscription could not be established.
	ChannelUnavailable
)

func (k Kind) String() string {
	switch k {
	case PermissionDenied:
		return "PERMISSION_DENIED"
	case DeviceUnavailable:
		return "DEVICE_UNAVAILABLE"
	case PeerNegotiationFailed:
		return "PEER_NEGOTIATION_FAILED"
	case RemoteDeclined:
		return "REMOTE_DECLINED"
	case ChannelUnavailable:
		return "CHANNEL_UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// Fatal reports whether an error of this kind ends the session.
func (k Kind) Fatal() bool {
	switch k {
	case PermissionDenied, DeviceUnavailable, ChannelUnavailable:
		return true
	}
	return false
}

// Error is a classified call failure.
type Error struct {
	Kind Kind
	// Peer is set for per-peer failures.
	Peer string
	Err  error
}

// New wraps err with a kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// ForPeer wraps err as a failure scoped to one remote participant.
func ForPeer(kind Kind, peer string, err error) *Error {
	return &Error{Kind: kind, Peer: peer, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Peer != "" && e.Err != nil:
		return fmt.Sprintf("%s (peer %s): %v", e.Kind, e.Peer, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Peer != "":
		return fmt.Sprintf("%s (peer %s)", e.Kind, e.Peer)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, callerr.New(k, nil)) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Message is the line shown to the user.
func (e *Error) Message() string {
	switch e.Kind {
	case PermissionDenied:
		return "Camera/mic permission denied. Please allow access to your devices."
	case DeviceUnavailable:
		return "Could not access camera or microphone."
	case RemoteDeclined:
		return "User declined."
	case ChannelUnavailable:
		return "Could not connect to the call signaling channel."
	case PeerNegotiationFailed:
		return "Lost connection to a participant."
	default:
		return "Something went wrong with the call."
	}
}

// KindOf extracts the kind of err, or Unknown.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return Unknown
}

// As returns err as *Error, classifying unknown errors with fallback.
func As(err error, fallback Kind) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return New(fallback, err)
}
