// Package peer maintains one WebRTC connection per remote participant of a
// mesh call.
package peer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/mossy-p/meshcall/internal/callerr"
	"github.com/mossy-p/meshcall/internal/models"
)

// candidateSendTimeout bounds the publish of one locally gathered candidate.
const candidateSendTimeout = 5 * time.Second

// Sender publishes signaling messages to the room.
type Sender interface {
	Send(ctx context.Context, msg *models.SignalMessage) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg *models.SignalMessage) error

func (f SenderFunc) Send(ctx context.Context, msg *models.SignalMessage) error { return f(ctx, msg) }

// TrackSource supplies the local tracks added to every new connection.
type TrackSource interface {
	Tracks() []webrtc.TrackLocal
}

// Listener is told about connection state changes. It is called from pion
// goroutines and must not block.
type Listener interface {
	PeerConnected(peerID string)
	// PeerUnusable fires once per connection that failed, disconnected or
	// closed on its own. The entry is already gone when it is called.
	PeerUnusable(peerID string, state webrtc.PeerConnectionState)
}

// PeerInfo is a read-only view of one connection.
type PeerInfo struct {
	ID        string
	State     webrtc.PeerConnectionState
	Initiator bool
}

// Config configures a Manager.
type Config struct {
	LocalID    string
	ICEServers []webrtc.ICEServer
}

type entry struct {
	id        string
	conn      Conn
	initiator bool

	// guarded by Manager.mu
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

// Manager owns the connection map. Entries are created by Connect or
// lazily by HandleRemoteSignal and removed by Disconnect or by the
// connection itself becoming unusable.
type Manager struct {
	localID  string
	rtc      webrtc.Configuration
	factory  Factory
	sender   Sender
	tracks   TrackSource
	sink     Sink
	listener Listener
	log      *zap.Logger

	mu    sync.Mutex
	peers map[string]*entry
}

// NewManager builds a manager. tracks and sink may be nil for a
// receive-only participant that discards remote media.
func NewManager(cfg Config, factory Factory, sender Sender, tracks TrackSource, sink Sink, listener Listener, log *zap.Logger) *Manager {
	servers := cfg.ICEServers
	if servers == nil {
		servers = DefaultICEServers
	}
	if sink == nil {
		sink = NewDrainSink(log)
	}
	return &Manager{
		localID:  cfg.LocalID,
		rtc:      webrtc.Configuration{ICEServers: servers},
		factory:  factory,
		sender:   sender,
		tracks:   tracks,
		sink:     sink,
		listener: listener,
		log:      log.Named("peer").With(zap.String("local", cfg.LocalID)),
		peers:    make(map[string]*entry),
	}
}

// Connect opens a connection to peerID. It is a no-op when one already
// exists. As initiator it sends an offer addressed to peerID.
func (m *Manager) Connect(ctx context.Context, peerID string, initiator bool) error {
	_, err := m.connect(ctx, peerID, initiator)
	return err
}

func (m *Manager) connect(ctx context.Context, peerID string, initiator bool) (*entry, error) {
	m.mu.Lock()
	if e, ok := m.peers[peerID]; ok {
		m.mu.Unlock()
		return e, nil
	}
	m.mu.Unlock()

	conn, err := m.factory(m.rtc)
	if err != nil {
		return nil, callerr.ForPeer(callerr.PeerNegotiationFailed, peerID, err)
	}
	if m.tracks != nil {
		for _, track := range m.tracks.Tracks() {
			if _, err := conn.AddTrack(track); err != nil {
				_ = conn.Close()
				return nil, callerr.ForPeer(callerr.PeerNegotiationFailed, peerID, err)
			}
		}
	}

	e := &entry{id: peerID, conn: conn, initiator: initiator}
	log := m.log.With(zap.String("peer", peerID))

	conn.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		m.sink.Bind(peerID, track)
	})
	conn.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		sendCtx, cancel := context.WithTimeout(context.Background(), candidateSendTimeout)
		defer cancel()
		if err := m.sender.Send(sendCtx, models.NewCandidate(m.localID, peerID, c.ToJSON())); err != nil {
			log.Warn("send candidate", zap.Error(err))
		}
	})
	conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.handleState(e, state)
	})

	m.mu.Lock()
	if existing, ok := m.peers[peerID]; ok {
		m.mu.Unlock()
		_ = conn.Close()
		return existing, nil
	}
	m.peers[peerID] = e
	m.mu.Unlock()

	log.Info("peer connection created", zap.Bool("initiator", initiator))

	if !initiator {
		return e, nil
	}

	offer, err := conn.CreateOffer(nil)
	if err != nil {
		return nil, m.fail(e, err)
	}
	if err := conn.SetLocalDescription(offer); err != nil {
		return nil, m.fail(e, err)
	}
	if err := m.sender.Send(ctx, models.NewDescription(m.localID, peerID, offer)); err != nil {
		return nil, m.fail(e, err)
	}
	return e, nil
}

// HandleRemoteSignal applies an offer, answer or candidate from peerID,
// creating a non-initiating connection first if needed. Offers are answered.
// Candidate failures are logged and otherwise ignored.
func (m *Manager) HandleRemoteSignal(ctx context.Context, peerID string, msg *models.SignalMessage) error {
	e, err := m.connect(ctx, peerID, false)
	if err != nil {
		return err
	}
	log := m.log.With(zap.String("peer", peerID))

	switch {
	case msg.SDP != nil:
		if err := e.conn.SetRemoteDescription(*msg.SDP); err != nil {
			return m.fail(e, err)
		}
		m.mu.Lock()
		e.remoteSet = true
		pending := e.pending
		e.pending = nil
		m.mu.Unlock()
		for _, c := range pending {
			if err := e.conn.AddICECandidate(c); err != nil {
				log.Warn("add buffered candidate", zap.Error(err))
			}
		}

		if msg.SDP.Type != webrtc.SDPTypeOffer {
			return nil
		}
		answer, err := e.conn.CreateAnswer(nil)
		if err != nil {
			return m.fail(e, err)
		}
		if err := e.conn.SetLocalDescription(answer); err != nil {
			return m.fail(e, err)
		}
		if err := m.sender.Send(ctx, models.NewDescription(m.localID, peerID, answer)); err != nil {
			return m.fail(e, err)
		}

	case msg.Candidate != nil:
		m.mu.Lock()
		if !e.remoteSet {
			e.pending = append(e.pending, *msg.Candidate)
			m.mu.Unlock()
			log.Debug("candidate buffered until remote description")
			return nil
		}
		m.mu.Unlock()
		if err := e.conn.AddICECandidate(*msg.Candidate); err != nil {
			log.Warn("add candidate", zap.Error(err))
		}
	}
	return nil
}

// fail tears down e after a negotiation error and classifies err.
func (m *Manager) fail(e *entry, err error) error {
	m.log.Warn("negotiation failed", zap.String("peer", e.id), zap.Error(err))
	m.remove(e)
	return callerr.ForPeer(callerr.PeerNegotiationFailed, e.id, err)
}

func (m *Manager) handleState(e *entry, state webrtc.PeerConnectionState) {
	m.log.Debug("connection state", zap.String("peer", e.id), zap.Stringer("state", state))

	switch state {
	case webrtc.PeerConnectionStateConnected:
		m.mu.Lock()
		current := m.peers[e.id] == e
		m.mu.Unlock()
		if current && m.listener != nil {
			m.listener.PeerConnected(e.id)
		}
	case webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateClosed:
		if m.remove(e) && m.listener != nil {
			m.listener.PeerUnusable(e.id, state)
		}
	}
}

// remove deletes e if it is still the live entry for its peer and closes
// it. It reports whether e was removed by this call.
func (m *Manager) remove(e *entry) bool {
	m.mu.Lock()
	if m.peers[e.id] != e {
		m.mu.Unlock()
		return false
	}
	delete(m.peers, e.id)
	m.mu.Unlock()

	if err := e.conn.Close(); err != nil {
		m.log.Debug("close peer connection", zap.String("peer", e.id), zap.Error(err))
	}
	m.sink.Unbind(e.id)
	return true
}

// Disconnect closes the connection to peerID, if any.
func (m *Manager) Disconnect(peerID string) {
	m.mu.Lock()
	e, ok := m.peers[peerID]
	m.mu.Unlock()
	if ok && m.remove(e) {
		m.log.Info("peer disconnected", zap.String("peer", peerID))
	}
}

// DisconnectAll closes every connection and empties the map.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	peers := m.peers
	m.peers = make(map[string]*entry)
	m.mu.Unlock()

	for id, e := range peers {
		if err := e.conn.Close(); err != nil {
			m.log.Debug("close peer connection", zap.String("peer", id), zap.Error(err))
		}
		m.sink.Unbind(id)
	}
	if len(peers) > 0 {
		m.log.Info("all peers disconnected", zap.Int("count", len(peers)))
	}
}

// Has reports whether a connection to peerID exists.
func (m *Manager) Has(peerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.peers[peerID]
	return ok
}

// Len returns the number of connections.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers)
}

// Peers returns a snapshot sorted by peer ID.
func (m *Manager) Peers() []PeerInfo {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.peers))
	for _, e := range m.peers {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	out := make([]PeerInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, PeerInfo{ID: e.id, State: e.conn.ConnectionState(), Initiator: e.initiator})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
