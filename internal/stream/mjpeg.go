package stream

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/silkcast-dev/silkcast-go-stream-server/internal/session"
)

// Boundary is the multipart boundary of MJPEG responses.
const Boundary = "frame"

// MJPEGContentType is the full content type of the multipart stream.
const MJPEGContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// placeholderJPEG is sent as a keepalive while the camera has not produced
// its first frame yet.
var placeholderJPEG = func() []byte {
	var buf bytes.Buffer
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 50}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}()

func appendMultipart(dst, frame []byte) []byte {
	dst = append(dst, fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", Boundary, len(frame))...)
	dst = append(dst, frame...)
	return append(dst, '\r', '\n')
}

// ServeMJPEG streams the camera's JPEG frames as multipart chunks until the
// client disconnects or the capture dies. New frames replace old ones, a
// slow client simply sees fewer of them.
func ServeMJPEG(s *session.Session, p session.Params, sink Sink) error {
	interval := frameInterval(p.FPS)
	var lastSeq uint64
	var chunk []byte

	for {
		if !s.Capture.Running() {
			return nil
		}

		frame, ok := s.Capture.Latest()
		switch {
		case ok && frame.Seq > lastSeq:
			lastSeq = frame.Seq
			chunk = appendMultipart(chunk[:0], frame.Data)
		case !ok:
			chunk = appendMultipart(chunk[:0], placeholderJPEG)
		default:
			// Same frame as last time, wait for a fresh one.
			time.Sleep(interval / 2)
			continue
		}

		if err := sink.Send(chunk); err != nil {
			return nil
		}
		s.CountFrame(len(chunk))
		time.Sleep(interval)
	}
}
