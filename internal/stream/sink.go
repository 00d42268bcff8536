package stream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/silkcast-dev/silkcast-go-stream-server/internal/bitstream"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/capture"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/session"
)

// ErrClientGone marks a sink write that failed because the client left.
// Responders treat it as a normal exit.
var ErrClientGone = errors.New("client disconnected")

// Sink is the chunked byte stream a responder writes into. Send fails once
// the client has disconnected.
type Sink interface {
	Send(p []byte) error
}

// HTTPSink adapts a chunked HTTP response writer. The request context turns
// client disconnects into send failures.
type HTTPSink struct {
	W   io.Writer
	F   http.Flusher
	Ctx context.Context
}

func (s *HTTPSink) Send(p []byte) error {
	if err := s.Ctx.Err(); err != nil {
		return ErrClientGone
	}
	if _, err := s.W.Write(p); err != nil {
		return ErrClientGone
	}
	if s.F != nil {
		s.F.Flush()
	}
	return nil
}

// frameInterval is the responder pacing: never below 1 ms, 15 fps when the
// rate is unknown.
func frameInterval(fps int) time.Duration {
	if fps <= 0 {
		fps = 15
	}
	d := time.Second / time.Duration(fps)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// convertToI420 fills dst from a raw captured frame according to the
// negotiated pixel format. MJPEG cameras cannot feed the H.264 pipeline.
func convertToI420(dst *bitstream.I420, frame []byte, format capture.PixelFormat) error {
	switch format {
	case capture.FormatYUYV:
		return dst.FromYUYV(frame)
	case capture.FormatNV12:
		return dst.FromNV12Packed(frame)
	default:
		return errors.New("pixel format " + format.String() + " cannot feed the encoder")
	}
}

// observeIDR forwards session-wide keyframe requests to one responder's
// encoder. Returns the sequence value last acted on.
func observeIDR(s *session.Session, lastSeen uint64, forceIDR func()) uint64 {
	if seq := s.IDRSeq(); seq != lastSeen {
		forceIDR()
		return seq
	}
	return lastSeen
}
