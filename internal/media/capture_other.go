//go:build !linux

package media

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// DeviceCapturer is unavailable on this platform; capture needs the V4L2 and
// malgo drivers.
type DeviceCapturer struct{}

func NewDeviceCapturer(*zap.Logger) (*DeviceCapturer, error) {
	return &DeviceCapturer{}, nil
}

func (*DeviceCapturer) Capture(context.Context, Constraints) (Stream, error) {
	return nil, errors.New("device capture is not supported on this platform")
}
