package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/silkcast-dev/silkcast-go-stream-server/internal/bitstream"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/capture"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/encoder"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/session"
)

// loopDriver hands out the same frame over and over, paced at roughly 1 kHz
// so responder loops always find fresh sequence numbers.
type loopDriver struct {
	frame   []byte
	granted capture.Params
}

func (d *loopDriver) Open(capture.Params) (capture.Params, error) { return d.granted, nil }
func (d *loopDriver) Close() error                                { return nil }

func (d *loopDriver) ReadFrame() ([]byte, error) {
	time.Sleep(time.Millisecond)
	return d.frame, nil
}

// testSession builds a manager-owned session with a running fake capture.
func testSession(t *testing.T, format capture.PixelFormat, frame []byte) *session.Session {
	t.Helper()
	granted := capture.Params{Device: "/dev/video0", Width: 4, Height: 4, FPS: 60, Format: format}
	m := session.NewManager(time.Minute, func() capture.Driver {
		return &loopDriver{frame: frame, granted: granted}
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.Close(ctx)
	})

	s := m.GetOrCreate("0")
	if err := s.Capture.Start(granted); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Capture.WaitFrame(0, 2*time.Second); err != nil {
		t.Fatal(err)
	}
	return s
}

func yuyvFrame() []byte {
	return make([]byte, 4*4*2)
}

// keyframeAnnexB is a synthetic SPS+PPS+IDR access unit.
func keyframeAnnexB() []byte {
	var b []byte
	b = append(b, 0, 0, 0, 1, 0x67, 0x42, 0xC0, 0x1F, 0x8C)
	b = append(b, 0, 0, 0, 1, 0x68, 0xCE, 0x3C, 0x80)
	b = append(b, 0, 0, 0, 1, 0x65, 0x88, 0x84, 0x21)
	return b
}

func deltaAnnexB() []byte {
	return []byte{0, 0, 0, 1, 0x41, 0x9A, 0x02}
}

// fakeEncoder emits a keyframe after every ForceIDR and delta frames
// otherwise.
type fakeEncoder struct {
	mu      sync.Mutex
	pending bool
	encodes int
	closed  bool
}

func (e *fakeEncoder) Encode(*bitstream.I420) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.encodes++
	if e.pending {
		e.pending = false
		return keyframeAnnexB(), nil
	}
	return deltaAnnexB(), nil
}

func (e *fakeEncoder) ForceIDR() {
	e.mu.Lock()
	e.pending = true
	e.mu.Unlock()
}

func (e *fakeEncoder) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

func fakeFactory(enc *fakeEncoder) encoder.Factory {
	return func(encoder.Config) (encoder.Encoder, error) { return enc, nil }
}

// boundedSink accepts a fixed number of sends and then reports the client
// as gone.
type boundedSink struct {
	mu     sync.Mutex
	limit  int
	chunks [][]byte
}

func (s *boundedSink) Send(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.chunks) >= s.limit {
		return ErrClientGone
	}
	s.chunks = append(s.chunks, append([]byte(nil), p...))
	return nil
}

func (s *boundedSink) all() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chunks
}
