//go:build linux

package media

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// DeviceCapturer captures the local camera and microphone through
// pion/mediadevices (V4L2 + malgo).
type DeviceCapturer struct {
	selector *mediadevices.CodecSelector
	log      *zap.Logger
}

// NewDeviceCapturer prepares VP8 and Opus encoders for captured tracks.
func NewDeviceCapturer(log *zap.Logger) (*DeviceCapturer, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_000_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return &DeviceCapturer{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		log: log.Named("capture"),
	}, nil
}

// Capture blocks on the devices. If ctx ends first the late stream is
// closed as soon as it arrives.
func (d *DeviceCapturer) Capture(ctx context.Context, c Constraints) (Stream, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
	if c.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
			}
			mc.Width = prop.Int(c.Width)
			mc.Height = prop.Int(c.Height)
		}
	}
	if c.Audio {
		constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}
	if !c.Video && !c.Audio {
		return nil, errors.New("no media kinds requested")
	}

	type result struct {
		stream mediadevices.MediaStream
		err    error
	}
	done := make(chan result, 1)
	go func() {
		s, err := mediadevices.GetUserMedia(constraints)
		done <- result{s, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		return newDeviceStream(r.stream, d.log), nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				for _, t := range r.stream.GetTracks() {
					_ = t.Close()
				}
			}
		}()
		return nil, ctx.Err()
	}
}

type deviceStream struct {
	id     string
	tracks []mediadevices.Track
}

func newDeviceStream(s mediadevices.MediaStream, log *zap.Logger) *deviceStream {
	ds := &deviceStream{id: uuid.NewString(), tracks: s.GetTracks()}
	for _, t := range ds.tracks {
		t.OnEnded(func(err error) {
			if err != nil {
				log.Warn("local track ended", zap.String("track", t.ID()), zap.Error(err))
			}
		})
	}
	return ds
}

func (s *deviceStream) ID() string { return s.id }

func (s *deviceStream) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	return out
}

func (s *deviceStream) Close() error {
	var errs []error
	for _, t := range s.tracks {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
