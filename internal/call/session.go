// Package call implements the call session state machine of a mesh video
// call: one local participant, a room-wide signaling channel and one peer
// connection per remote participant.
//
// All session state is owned by a single event-loop goroutine. Commands,
// inbound signaling, media completion and peer connection callbacks are
// serialized as events on that loop.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/mossy-p/meshcall/internal/callerr"
	"github.com/mossy-p/meshcall/internal/codec"
	"github.com/mossy-p/meshcall/internal/logger"
	"github.com/mossy-p/meshcall/internal/media"
	"github.com/mossy-p/meshcall/internal/models"
	"github.com/mossy-p/meshcall/internal/peer"
	"github.com/mossy-p/meshcall/internal/presence"
	"github.com/mossy-p/meshcall/internal/signaling"
)

const (
	// DefaultQueueSize bounds the messages held while local media is not
	// ready.
	DefaultQueueSize = 64

	negotiateTimeout = 10 * time.Second
	presenceTimeout  = 3 * time.Second
)

var (
	ErrClosed       = errors.New("call: session closed")
	ErrNotReady     = errors.New("call: signaling channel not open")
	ErrInvalidState = errors.New("call: command not allowed in current state")
	// ErrInterrupted is returned by StartPreview when Cleanup ran while the
	// capture was in flight.
	ErrInterrupted = errors.New("call: interrupted by cleanup")
)

// Options configure a session.
type Options struct {
	RoomID  string
	LocalID string
	// Manual defers media and signaling until InitializeMediaAndSignaling.
	Manual     bool
	ICEServers []webrtc.ICEServer
	QueueSize  int
}

// Deps are the collaborators of a session. Media, Bus and Peers are
// required.
type Deps struct {
	Media    *media.Manager
	Bus      signaling.Bus
	Codec    codec.Codec
	Peers    peer.Factory
	Presence presence.Gate
	Sink     peer.Sink
	Observer Observer
	Logger   *zap.Logger
}

// Snapshot is the observable state of a session.
type Snapshot struct {
	Status      Status
	Inviter     string
	Peers       []peer.PeerInfo
	Err         *callerr.Error
	Ready       bool
	MediaActive bool
	Preview     bool
	// Queued counts messages waiting for local media.
	Queued int
}

// Session is a call session. Its methods are safe for concurrent use.
type Session struct {
	opts     Options
	media    *media.Manager
	bus      signaling.Bus
	codec    codec.Codec
	presence presence.Gate
	observer Observer
	log      *zap.Logger
	peers    *peer.Manager

	// channel is read by the peer manager from pion goroutines.
	channel atomic.Pointer[signaling.Channel]

	events    chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	// Loop-owned state below.
	status  Status
	inviter string
	err     *callerr.Error
	ready   bool

	// gen invalidates async results that belong to a torn-down attempt.
	gen          uint64
	initializing bool
	initCancel   context.CancelFunc
	mediaReady   bool
	msgs         <-chan *models.SignalMessage
	queue        []*models.SignalMessage
	// inviting is set when the local participant started the call.
	inviting bool

	// previewCtx bounds preview captures; teardown cancels and replaces it.
	previewCtx    context.Context
	previewCancel context.CancelFunc
}

// New builds a session and starts its event loop. An eager session starts
// acquiring media and opening signaling immediately.
func New(opts Options, deps Deps) (*Session, error) {
	if opts.RoomID == "" || opts.LocalID == "" {
		return nil, errors.New("call: room and local participant are required")
	}
	if deps.Media == nil || deps.Bus == nil || deps.Peers == nil {
		return nil, errors.New("call: media, bus and peer factory are required")
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if deps.Codec == nil {
		deps.Codec = codec.JSON{}
	}
	if deps.Presence == nil {
		deps.Presence = presence.AllowAll{}
	}
	if deps.Observer == nil {
		deps.Observer = ObserverFuncs{}
	}
	log := deps.Logger
	if log == nil {
		log = logger.Lg
	}
	log = log.Named("call").With(zap.String("room", opts.RoomID), zap.String("local", opts.LocalID))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:     opts,
		media:    deps.Media,
		bus:      deps.Bus,
		codec:    deps.Codec,
		presence: deps.Presence,
		observer: deps.Observer,
		log:      log,
		events:   make(chan func()),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		status:   restingStatus(opts.Manual),
	}
	s.previewCtx, s.previewCancel = context.WithCancel(ctx)
	s.peers = peer.NewManager(
		peer.Config{LocalID: opts.LocalID, ICEServers: opts.ICEServers},
		deps.Peers,
		peer.SenderFunc(s.send),
		deps.Media,
		deps.Sink,
		peerEvents{s},
		log,
	)

	if !opts.Manual {
		s.startInit()
	}
	go s.loop()
	return s, nil
}

func restingStatus(manual bool) Status {
	if manual {
		return StatusNone
	}
	return StatusIdle
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.events:
			fn()
		case msg, ok := <-s.msgs:
			if !ok {
				s.msgs = nil
				s.log.Warn("signaling subscription dropped")
				s.raise(callerr.New(callerr.ChannelUnavailable, signaling.ErrClosed))
				s.teardown(StatusEnded)
				continue
			}
			s.receive(msg)
		case <-s.quit:
			s.teardown(restingStatus(s.opts.Manual))
			s.cancel()
			return
		}
	}
}

// post runs fn on the loop. It reports false once the session is closed.
func (s *Session) post(fn func()) bool {
	select {
	case s.events <- fn:
		return true
	case <-s.done:
		return false
	}
}

// do runs fn on the loop and returns the snapshot taken right after it.
func (s *Session) do(ctx context.Context, fn func() error) (Snapshot, error) {
	type result struct {
		snap Snapshot
		err  error
	}
	res := make(chan result, 1)
	ev := func() {
		var err error
		if fn != nil {
			err = fn()
		}
		res <- result{snap: s.snapshot(), err: err}
	}

	select {
	case s.events <- ev:
	case <-s.done:
		return Snapshot{}, ErrClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	r := <-res
	return r.snap, r.err
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		Status:      s.status,
		Inviter:     s.inviter,
		Peers:       s.peers.Peers(),
		Err:         s.err,
		Ready:       s.ready,
		MediaActive: s.media.Active(),
		Preview:     s.media.PreviewActive(),
		Queued:      len(s.queue),
	}
}

// Snapshot returns the current state.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	return s.do(ctx, nil)
}

// InitializeMediaAndSignaling acquires the call stream and opens the room's
// signaling channel. Both complete asynchronously; the observer is told
// when the session becomes ready. It is a no-op while initializing or
// ready.
func (s *Session) InitializeMediaAndSignaling(ctx context.Context) (Snapshot, error) {
	return s.do(ctx, func() error {
		s.startInit()
		return nil
	})
}

// Invite broadcasts an invitation to the room.
func (s *Session) Invite(ctx context.Context) (Snapshot, error) {
	return s.do(ctx, func() error {
		if !s.status.resting() && s.status != StatusEnded {
			return fmt.Errorf("%w: invite while %s", ErrInvalidState, s.status)
		}
		if s.channel.Load() == nil {
			return ErrNotReady
		}
		if err := s.send(ctx, models.NewInvite(s.opts.LocalID)); err != nil {
			return err
		}
		s.err = nil
		s.inviting = true
		s.setStatus(StatusRinging)
		return nil
	})
}

// Accept answers the pending invitation.
func (s *Session) Accept(ctx context.Context) (Snapshot, error) {
	return s.do(ctx, func() error {
		if s.status != StatusIncoming {
			return fmt.Errorf("%w: accept while %s", ErrInvalidState, s.status)
		}
		inviter := s.inviter
		s.setStatus(StatusConnecting)
		if err := s.send(ctx, models.NewAccept(s.opts.LocalID)); err != nil {
			s.log.Warn("send accept", zap.Error(err))
		}
		s.connect(inviter, false)
		return nil
	})
}

// Decline refuses the pending invitation and tears the session down.
func (s *Session) Decline(ctx context.Context) (Snapshot, error) {
	return s.do(ctx, func() error {
		if s.status != StatusIncoming {
			return fmt.Errorf("%w: decline while %s", ErrInvalidState, s.status)
		}
		if err := s.send(ctx, models.NewDecline(s.opts.LocalID, s.inviter)); err != nil {
			s.log.Warn("send decline", zap.Error(err))
		}
		s.teardown(StatusEnded)
		return nil
	})
}

// Cleanup abandons the call from any state. It releases media, closes every
// peer connection and the signaling channel. Repeated calls are no-ops.
func (s *Session) Cleanup(ctx context.Context) (Snapshot, error) {
	return s.do(ctx, func() error {
		s.err = nil
		s.teardown(restingStatus(s.opts.Manual))
		return nil
	})
}

// StartPreview shows the local camera without joining a call. Capture runs
// on the caller's goroutine and is abandoned by Cleanup. A failure is
// reported without changing the status.
func (s *Session) StartPreview(ctx context.Context) (Snapshot, error) {
	var owner context.Context
	if snap, err := s.do(ctx, func() error {
		owner = s.previewCtx
		return nil
	}); err != nil {
		return snap, err
	}

	capture, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(owner, cancel)
	defer stop()
	err := s.media.StartPreview(capture)

	snap, derr := s.do(context.WithoutCancel(ctx), func() error {
		if owner.Err() != nil {
			s.media.StopPreview()
			return ErrInterrupted
		}
		if err != nil {
			ce := callerr.As(err, callerr.DeviceUnavailable)
			s.raise(ce)
			return ce
		}
		s.drain()
		return nil
	})
	if errors.Is(derr, ErrClosed) {
		s.media.StopPreview()
	}
	return snap, derr
}

// StopPreview releases a preview stream. A stream already committed to a
// call is kept.
func (s *Session) StopPreview(ctx context.Context) (Snapshot, error) {
	s.media.StopPreview()
	return s.do(ctx, nil)
}

// Close cleans up and stops the event loop.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
	<-s.done
	return nil
}

// Done is closed once the event loop has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) send(ctx context.Context, msg *models.SignalMessage) error {
	ch := s.channel.Load()
	if ch == nil {
		return signaling.ErrClosed
	}
	return ch.Send(ctx, msg)
}

func (s *Session) startInit() {
	if s.ready || s.initializing {
		return
	}
	s.initializing = true
	s.gen++
	gen := s.gen

	ctx, cancel := context.WithCancel(s.ctx)
	s.initCancel = cancel
	s.log.Info("initializing media and signaling")

	go func() {
		_, err := s.media.StartCall(ctx)
		s.post(func() { s.mediaDone(gen, err) })
	}()
	go func() {
		ch, err := signaling.Open(ctx, s.bus, s.codec, s.opts.RoomID, s.log)
		if !s.post(func() { s.channelDone(gen, ch, err) }) && ch != nil {
			_ = ch.Close()
		}
	}()
}

func (s *Session) mediaDone(gen uint64, err error) {
	if gen != s.gen {
		// The manager's stream is shared with any newer attempt; only
		// release it when no attempt is pending or holds it.
		if err == nil && !s.initializing && !s.mediaReady {
			s.media.Release()
		}
		return
	}
	if err != nil {
		s.log.Warn("media acquisition failed", zap.Error(err))
		s.raise(callerr.As(err, callerr.DeviceUnavailable))
		s.teardown(StatusEnded)
		return
	}
	s.mediaReady = true
	s.checkReady()
	s.drain()
}

func (s *Session) channelDone(gen uint64, ch *signaling.Channel, err error) {
	if gen != s.gen {
		if ch != nil {
			_ = ch.Close()
		}
		return
	}
	if err != nil {
		s.log.Warn("signaling unavailable", zap.Error(err))
		s.raise(callerr.As(err, callerr.ChannelUnavailable))
		s.teardown(StatusEnded)
		return
	}
	s.channel.Store(ch)
	s.msgs = ch.Messages()
	s.checkReady()
}

func (s *Session) checkReady() {
	if !s.mediaReady || s.channel.Load() == nil {
		return
	}
	s.initializing = false
	s.setReady(true)
}

// teardown releases every resource and settles in final.
func (s *Session) teardown(final Status) {
	s.gen++
	if s.initCancel != nil {
		s.initCancel()
		s.initCancel = nil
	}
	s.previewCancel()
	s.previewCtx, s.previewCancel = context.WithCancel(s.ctx)
	s.initializing = false
	s.mediaReady = false

	s.peers.DisconnectAll()
	s.media.Release()
	if ch := s.channel.Swap(nil); ch != nil {
		if err := ch.Close(); err != nil {
			s.log.Debug("close signaling channel", zap.Error(err))
		}
	}
	s.msgs = nil
	if n := len(s.queue); n > 0 {
		s.log.Debug("discarding queued messages", zap.Int("count", n))
	}
	s.queue = nil
	s.inviting = false

	s.setReady(false)
	s.setInviter("")
	s.setStatus(final)
}

// receive filters a message from the channel and either handles it or
// queues it until local media exists.
func (s *Session) receive(msg *models.SignalMessage) {
	if msg.Sender == s.opts.LocalID || !msg.AddressedTo(s.opts.LocalID) {
		return
	}
	if !s.media.Active() {
		if len(s.queue) == s.opts.QueueSize {
			s.log.Warn("inbound queue full, dropping oldest message",
				zap.Stringer("kind", s.queue[0].Kind), zap.String("sender", s.queue[0].Sender))
			s.queue = s.queue[1:]
		}
		s.queue = append(s.queue, msg)
		return
	}
	s.handle(msg)
}

// drain replays queued messages once local media exists.
func (s *Session) drain() {
	if len(s.queue) == 0 || !s.media.Active() {
		return
	}
	queued := s.queue
	s.queue = nil
	gen := s.gen
	s.log.Debug("replaying queued messages", zap.Int("count", len(queued)))
	for _, msg := range queued {
		if s.gen != gen {
			return
		}
		s.handle(msg)
	}
}

func (s *Session) handle(msg *models.SignalMessage) {
	switch msg.Kind {
	case models.KindInvite:
		if s.status.resting() {
			s.checkPresence(msg.Sender)
		}
	case models.KindAccept:
		switch {
		case s.status == StatusRinging:
			s.setStatus(StatusConnecting)
			s.connect(msg.Sender, true)
		case s.status.InCall() && s.inviting && !s.peers.Has(msg.Sender):
			s.connect(msg.Sender, true)
		}
	case models.KindDecline:
		if s.status == StatusRinging {
			s.inviting = false
			s.setStatus(StatusEnded)
			s.raise(callerr.ForPeer(callerr.RemoteDeclined, msg.Sender, nil))
		}
	case models.KindSignal:
		if !s.status.InCall() {
			return
		}
		ctx, cancel := context.WithTimeout(s.ctx, negotiateTimeout)
		defer cancel()
		if err := s.peers.HandleRemoteSignal(ctx, msg.Sender, msg); err != nil {
			s.raise(callerr.As(err, callerr.PeerNegotiationFailed))
			s.endIfAlone()
		}
	}
}

// checkPresence surfaces an invite only when the local user is present in
// the room. The lookup runs off the loop.
func (s *Session) checkPresence(inviter string) {
	gen := s.gen
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, presenceTimeout)
		defer cancel()
		present, err := s.presence.IsPresent(ctx, s.opts.RoomID, s.opts.LocalID)
		s.post(func() {
			switch {
			case gen != s.gen || !s.status.resting():
			case err != nil:
				s.log.Warn("presence lookup failed, ignoring invite", zap.String("inviter", inviter), zap.Error(err))
			case !present:
				s.log.Debug("not present, ignoring invite", zap.String("inviter", inviter))
			default:
				s.setInviter(inviter)
				s.setStatus(StatusIncoming)
			}
		})
	}()
}

func (s *Session) connect(peerID string, initiator bool) {
	ctx, cancel := context.WithTimeout(s.ctx, negotiateTimeout)
	defer cancel()
	if err := s.peers.Connect(ctx, peerID, initiator); err != nil {
		s.raise(callerr.As(err, callerr.PeerNegotiationFailed))
		s.endIfAlone()
	}
}

func (s *Session) peerConnected(peerID string) {
	if !s.peers.Has(peerID) {
		return
	}
	s.log.Info("peer connected", zap.String("peer", peerID))
	s.setStatus(StatusConnected)
}

func (s *Session) peerUnusable(peerID string, state webrtc.PeerConnectionState) {
	s.log.Info("peer lost", zap.String("peer", peerID), zap.Stringer("state", state))
	if state == webrtc.PeerConnectionStateFailed {
		s.raise(callerr.ForPeer(callerr.PeerNegotiationFailed, peerID, nil))
	}
	s.endIfAlone()
}

// endIfAlone ends an active call once it has no peer connection left. A
// failed negotiation drops its entry without a state callback, so every
// path that loses a peer goes through here.
func (s *Session) endIfAlone() {
	if s.status.InCall() && s.peers.Len() == 0 {
		s.teardown(StatusEnded)
	}
}

func (s *Session) setStatus(status Status) {
	if s.status == status {
		return
	}
	s.log.Info("status", zap.Stringer("from", s.status), zap.Stringer("to", status))
	s.status = status
	s.observer.StatusChanged(status)
}

func (s *Session) setInviter(inviter string) {
	if s.inviter == inviter {
		return
	}
	s.inviter = inviter
	s.observer.InviterChanged(inviter)
}

func (s *Session) setReady(ready bool) {
	if s.ready == ready {
		return
	}
	s.ready = ready
	s.observer.ReadyChanged(ready)
}

func (s *Session) raise(err *callerr.Error) {
	s.log.Warn("call error", zap.Error(err))
	s.err = err
	s.observer.ErrorRaised(err)
}

// peerEvents forwards peer manager callbacks onto the loop.
type peerEvents struct{ s *Session }

func (p peerEvents) PeerConnected(peerID string) {
	p.s.post(func() { p.s.peerConnected(peerID) })
}

func (p peerEvents) PeerUnusable(peerID string, state webrtc.PeerConnectionState) {
	p.s.post(func() { p.s.peerUnusable(peerID, state) })
}
