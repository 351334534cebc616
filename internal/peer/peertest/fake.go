// Package peertest provides a scripted peer connection for tests.
package peertest

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// Conn records what the manager does to it. Connection state changes only
// happen through SetState; Close does not fire the state handler.
type Conn struct {
	// Errors returned by the matching methods when set.
	OfferErr     error
	RemoteErr    error
	CandidateErr error

	mu         sync.Mutex
	tracks     int
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closed     int
	state      webrtc.PeerConnectionState
	onState    func(webrtc.PeerConnectionState)
	onICE      func(*webrtc.ICECandidate)
}

func (c *Conn) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks++
	return nil, nil
}

func (c *Conn) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	if c.OfferErr != nil {
		return webrtc.SessionDescription{}, c.OfferErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (c *Conn) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (c *Conn) SetLocalDescription(d webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = &d
	return nil
}

func (c *Conn) SetRemoteDescription(d webrtc.SessionDescription) error {
	if c.RemoteErr != nil {
		return c.RemoteErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = &d
	return nil
}

func (c *Conn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	if c.CandidateErr != nil {
		return c.CandidateErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, cand)
	return nil
}

func (c *Conn) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (c *Conn) OnICECandidate(f func(*webrtc.ICECandidate)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onICE = f
}

func (c *Conn) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = f
}

func (c *Conn) ConnectionState() webrtc.PeerConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

// SetState changes the connection state and runs the registered handler on
// the calling goroutine.
func (c *Conn) SetState(s webrtc.PeerConnectionState) {
	c.mu.Lock()
	c.state = s
	h := c.onState
	c.mu.Unlock()
	if h != nil {
		h(s)
	}
}

// EmitCandidate runs the registered candidate handler.
func (c *Conn) EmitCandidate(cand *webrtc.ICECandidate) {
	c.mu.Lock()
	h := c.onICE
	c.mu.Unlock()
	if h != nil {
		h(cand)
	}
}

func (c *Conn) Tracks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracks
}

func (c *Conn) Local() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *Conn) Remote() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *Conn) Candidates() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), c.candidates...)
}

// Closed reports how many times Close was called.
func (c *Conn) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Factory hands out Conns and remembers them in creation order.
type Factory struct {
	// Err fails every New when set.
	Err error
	// Setup runs on each Conn before it is returned.
	Setup func(*Conn)

	mu    sync.Mutex
	conns []*Conn
}

func (f *Factory) New(webrtc.Configuration) (*Conn, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	c := &Conn{state: webrtc.PeerConnectionStateNew}
	f.mu.Lock()
	setup := f.Setup
	f.conns = append(f.conns, c)
	f.mu.Unlock()
	if setup != nil {
		setup(c)
	}
	return c, nil
}

// Conn returns the i-th created connection.
func (f *Factory) Conn(i int) *Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}
