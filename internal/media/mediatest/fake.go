// Package mediatest provides an in-memory Capturer for tests.
package mediatest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/meshcall/internal/media"
)

// Stream is a capture made of static sample tracks.
type Stream struct {
	id     string
	tracks []webrtc.TrackLocal
	closed atomic.Int32
	onStop func()
}

func (s *Stream) ID() string { return s.id }
func (s *Stream) Tracks() []webrtc.TrackLocal { return s.tracks }

// Close counts every call; the first one releases the "device".
func (s *Stream) Close() error {
	if s.closed.Add(1) == 1 && s.onStop != nil {
		s.onStop()
	}
	return nil
}

// Closed reports how many times Close was called.
func (s *Stream) Closed() int { return int(s.closed.Load()) }

// Capturer hands out fake streams and tracks how many are live.
type Capturer struct {
	// Err, when set, fails every capture.
	Err error
	// Gate, when set, blocks each capture until a value is received.
	Gate chan struct{}

	mu       sync.Mutex
	captures int
	live     int
	streams  []*Stream
}

func (c *Capturer) Capture(ctx context.Context, _ media.Constraints) (media.Stream, error) {
	if c.Gate != nil {
		select {
		case <-c.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.Err != nil {
		return nil, c.Err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.captures++
	c.live++

	id := fmt.Sprintf("stream-%d", c.captures)
	video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", id)
	if err != nil {
		return nil, err
	}
	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", id)
	if err != nil {
		return nil, err
	}

	s := &Stream{
		id:     id,
		tracks: []webrtc.TrackLocal{video, audio},
		onStop: func() {
			c.mu.Lock()
			c.live--
			c.mu.Unlock()
		},
	}
	c.streams = append(c.streams, s)
	return s, nil
}

// Captures is the number of successful device acquisitions.
func (c *Capturer) Captures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.captures
}

// Live is the number of acquired streams not yet closed.
func (c *Capturer) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// Streams returns every stream handed out so far.
func (c *Capturer) Streams() []*Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Stream(nil), c.streams...)
}
