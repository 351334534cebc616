package call

// Status is the lifecycle state of a call session.
type Status int

const (
	// StatusNone is the resting state of a manual session that has not
	// been initialized.
	StatusNone Status = iota
	StatusIdle
	// StatusRinging: we invited the room and wait for an answer.
	StatusRinging
	// StatusIncoming: someone invited us.
	StatusIncoming
	StatusConnecting
	StatusConnected
	StatusEnded
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRinging:
		return "ringing"
	case StatusIncoming:
		return "incoming"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusEnded:
		return "ended"
	default:
		return "none"
	}
}

// Banner is the user-facing line for the status, empty when there is
// nothing to show.
func (s Status) Banner() string {
	switch s {
	case StatusRinging:
		return "Calling…"
	case StatusIncoming:
		return "Incoming call…"
	case StatusConnecting:
		return "Connecting…"
	case StatusConnected:
		return "You are live!"
	case StatusEnded:
		return "Call Ended"
	default:
		return ""
	}
}

// InCall reports whether media is being negotiated or exchanged.
func (s Status) InCall() bool {
	return s == StatusConnecting || s == StatusConnected
}

// resting reports whether a new call may start from s.
func (s Status) resting() bool {
	return s == StatusNone || s == StatusIdle
}
