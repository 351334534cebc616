// Package media owns the local camera/microphone stream of a participant.
//
// One stream is shared by the local preview and every outgoing peer
// connection. Only the Manager acquires or releases it.
package media

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/mossy-p/meshcall/internal/callerr"
)

// ErrPermissionDenied is returned by capturers when the user or the OS
// refuses device access.
var ErrPermissionDenied = errors.New("media: permission denied")

// Constraints describe the requested capture.
type Constraints struct {
	Width  int
	Height int
	Video  bool
	Audio  bool
}

// DefaultConstraints asks for audio and 640x400 video.
var DefaultConstraints = Constraints{Width: 640, Height: 400, Video: true, Audio: true}

// Stream is an acquired set of local tracks.
type Stream interface {
	ID() string
	Tracks() []webrtc.TrackLocal
	// Close stops every track and releases the devices.
	Close() error
}

// Capturer acquires device streams.
type Capturer interface {
	Capture(ctx context.Context, c Constraints) (Stream, error)
}

// Renderer displays the local stream.
type Renderer interface {
	Attach(s Stream)
	Detach()
}

// NopRenderer discards the local stream.
type NopRenderer struct{}

func (NopRenderer) Attach(Stream) {}
func (NopRenderer) Detach() {}

// Manager hands out the local stream in two modes: preview, which a
// participant may abandon freely, and committed, which a call depends on.
type Manager struct {
	capturer    Capturer
	renderer    Renderer
	constraints Constraints
	log         *zap.Logger

	// acquire serializes device capture so preview and call never request
	// the same device concurrently.
	acquire sync.Mutex

	mu        sync.Mutex
	stream    Stream
	preview   bool
	committed bool
}

// NewManager builds a manager. A nil renderer discards the local stream.
func NewManager(capturer Capturer, renderer Renderer, log *zap.Logger) *Manager {
	if renderer == nil {
		renderer = NopRenderer{}
	}
	return &Manager{
		capturer:    capturer,
		renderer:    renderer,
		constraints: DefaultConstraints,
		log:         log.Named("media"),
	}
}

// SetConstraints replaces the constraints used for future captures.
func (m *Manager) SetConstraints(c Constraints) {
	m.mu.Lock()
	m.constraints = c
	m.mu.Unlock()
}

// StartPreview captures for local preview. It is a no-op when any stream,
// preview or committed, is already active.
func (m *Manager) StartPreview(ctx context.Context) error {
	m.acquire.Lock()
	defer m.acquire.Unlock()

	m.mu.Lock()
	active := m.stream != nil
	constraints := m.constraints
	m.mu.Unlock()
	if active {
		return nil
	}

	s, err := m.capturer.Capture(ctx, constraints)
	if err != nil {
		m.log.Warn("preview capture failed", zap.Error(err))
		return classify(err)
	}

	m.mu.Lock()
	m.stream = s
	m.preview = true
	m.mu.Unlock()

	m.renderer.Attach(s)
	m.log.Debug("preview started", zap.String("stream", s.ID()))
	return nil
}

// StopPreview releases a preview stream. It is a no-op unless the stream is
// still in preview mode, so a stream promoted by StartCall survives.
func (m *Manager) StopPreview() {
	m.mu.Lock()
	if !m.preview {
		m.mu.Unlock()
		return
	}
	s := m.stream
	m.stream = nil
	m.preview = false
	m.mu.Unlock()

	m.renderer.Detach()
	m.closeStream(s)
	m.log.Debug("preview stopped")
}

// StartCall returns the committed call stream, promoting an active preview
// instead of capturing a second time.
func (m *Manager) StartCall(ctx context.Context) (Stream, error) {
	m.acquire.Lock()
	defer m.acquire.Unlock()

	m.mu.Lock()
	if m.stream != nil {
		m.preview = false
		m.committed = true
		s := m.stream
		m.mu.Unlock()
		m.log.Debug("reusing active stream for call", zap.String("stream", s.ID()))
		return s, nil
	}
	constraints := m.constraints
	m.mu.Unlock()

	s, err := m.capturer.Capture(ctx, constraints)
	if err != nil {
		m.log.Warn("call capture failed", zap.Error(err))
		return nil, classify(err)
	}

	m.mu.Lock()
	m.stream = s
	m.preview = false
	m.committed = true
	m.mu.Unlock()

	m.renderer.Attach(s)
	m.log.Info("call media started", zap.String("stream", s.ID()), zap.Int("tracks", len(s.Tracks())))
	return s, nil
}

// Release stops whatever stream is active. Releasing twice is a no-op.
func (m *Manager) Release() {
	m.mu.Lock()
	s := m.stream
	m.stream = nil
	m.preview = false
	m.committed = false
	m.mu.Unlock()

	if s == nil {
		return
	}
	m.renderer.Detach()
	m.closeStream(s)
	m.log.Debug("media released", zap.String("stream", s.ID()))
}

func (m *Manager) closeStream(s Stream) {
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		m.log.Warn("closing stream", zap.String("stream", s.ID()), zap.Error(err))
	}
}

// Tracks returns the tracks of the active stream, or nil.
func (m *Manager) Tracks() []webrtc.TrackLocal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return nil
	}
	return m.stream.Tracks()
}

// Active reports whether any stream is held.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream != nil
}

// PreviewActive reports whether the held stream is a preview.
func (m *Manager) PreviewActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.preview
}

// Committed reports whether the held stream backs a call.
func (m *Manager) Committed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed
}

func classify(err error) error {
	var ce *callerr.Error
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, fs.ErrPermission) ||
		strings.Contains(strings.ToLower(err.Error()), "permission denied") {
		return callerr.New(callerr.PermissionDenied, err)
	}
	return callerr.New(callerr.DeviceUnavailable, err)
}
