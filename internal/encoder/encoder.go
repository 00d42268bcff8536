// Package encoder turns raw I420 frames into Annex-B H.264. The real encoder
// binds OpenH264 through cgo and is only built with the openh264 tag; without
// it H.264 output reports as unavailable and MJPEG still works.
package encoder

import (
	"errors"

	"github.com/silkcast-dev/silkcast-go-stream-server/internal/bitstream"
)

// ErrUnavailable is returned when no H.264 encoder is compiled in.
var ErrUnavailable = errors.New("h264 encoder support is not compiled in")

// Config is the fixed setup of one encoder instance. Every stream client
// owns its own encoder so per-client force-IDR requests stay independent.
type Config struct {
	Width       int
	Height      int
	FPS         int
	BitrateKbps int
	GOP         int
	ZeroLatency bool
}

type Encoder interface {
	// Encode compresses one frame and returns the Annex-B bitstream, which
	// may be empty when the encoder buffers the frame.
	Encode(frame *bitstream.I420) ([]byte, error)
	// ForceIDR makes the next encoded frame an IDR with fresh SPS/PPS.
	ForceIDR()
	Close()
}

// Factory builds encoders. Responders take one so tests can inject a fake.
type Factory func(cfg Config) (Encoder, error)
