package peer

import (
	"errors"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Sink receives the remote media of each participant.
type Sink interface {
	Bind(peerID string, track *webrtc.TrackRemote)
	Unbind(peerID string)
}

// DrainSink reads and discards remote RTP, keeping per-peer counters.
// Reading is required so pion's receive buffers never fill.
type DrainSink struct {
	log *zap.Logger

	mu    sync.Mutex
	stats map[string]*TrackStats
}

// TrackStats counts the RTP received from one participant.
type TrackStats struct {
	Tracks  int
	Packets uint64
	Bytes   uint64
}

func NewDrainSink(log *zap.Logger) *DrainSink {
	return &DrainSink{log: log.Named("sink"), stats: make(map[string]*TrackStats)}
}

func (s *DrainSink) Bind(peerID string, track *webrtc.TrackRemote) {
	s.mu.Lock()
	st, ok := s.stats[peerID]
	if !ok {
		st = &TrackStats{}
		s.stats[peerID] = st
	}
	st.Tracks++
	s.mu.Unlock()

	s.log.Info("remote track",
		zap.String("peer", peerID),
		zap.String("kind", track.Kind().String()),
		zap.String("codec", track.Codec().MimeType))

	go func() {
		buf := make([]byte, 1500)
		for {
			n, _, err := track.Read(buf)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					s.log.Debug("remote track ended", zap.String("peer", peerID), zap.Error(err))
				}
				return
			}
			s.mu.Lock()
			st.Packets++
			st.Bytes += uint64(n)
			s.mu.Unlock()
		}
	}()
}

func (s *DrainSink) Unbind(peerID string) {
	s.mu.Lock()
	delete(s.stats, peerID)
	s.mu.Unlock()
}

// Stats returns a copy of the counters for peerID.
func (s *DrainSink) Stats(peerID string) (TrackStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[peerID]
	if !ok {
		return TrackStats{}, false
	}
	return *st, true
}
