package call

import "github.com/mossy-p/meshcall/internal/callerr"

// Observer is notified of session changes. Methods run on the session's
// event loop, in order, and must not call back into the session.
type Observer interface {
	StatusChanged(status Status)
	// InviterChanged reports the participant whose invite is pending, or
	// "" when it is cleared.
	InviterChanged(inviter string)
	ErrorRaised(err *callerr.Error)
	// ReadyChanged reports whether media and signaling are both up.
	ReadyChanged(ready bool)
}

// ObserverFuncs adapts optional functions to Observer.
type ObserverFuncs struct {
	OnStatus  func(Status)
	OnInviter func(string)
	OnError   func(*callerr.Error)
	OnReady   func(bool)
}

func (f ObserverFuncs) StatusChanged(status Status) {
	if f.OnStatus != nil {
		f.OnStatus(status)
	}
}

func (f ObserverFuncs) InviterChanged(inviter string) {
	if f.OnInviter != nil {
		f.OnInviter(inviter)
	}
}

func (f ObserverFuncs) ErrorRaised(err *callerr.Error) {
	if f.OnError != nil {
		f.OnError(err)
	}
}

func (f ObserverFuncs) ReadyChanged(ready bool) {
	if f.OnReady != nil {
		f.OnReady(ready)
	}
}
