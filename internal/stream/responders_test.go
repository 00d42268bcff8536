package stream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"net/url"
	"testing"

	"github.com/silkcast-dev/silkcast-go-stream-server/internal/bitstream"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/capture"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/encoder"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/session"
)

func liveParams(t *testing.T, query string) session.Params {
	t.Helper()
	q, err := url.ParseQuery(query)
	if err != nil {
		t.Fatal(err)
	}
	params, err := ParseLive(q, "")
	if err != nil {
		t.Fatal(err)
	}
	return params
}

func TestServeMJPEGEmitsMultipartChunks(t *testing.T) {
	jpegBytes := []byte{0xFF, 0xD8, 0xFF, 0xD9}
	s := testSession(t, capture.FormatMJPEG, jpegBytes)
	p := liveParams(t, "codec=mjpeg&fps=60")

	sink := &boundedSink{limit: 3}
	if err := ServeMJPEG(s, p, sink); err != nil {
		t.Fatal(err)
	}

	chunks := sink.all()
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if !bytes.HasPrefix(c, []byte("--frame\r\nContent-Type: image/jpeg\r\n")) {
			t.Fatalf("chunk is not a multipart part: %q", c[:32])
		}
		if !bytes.Contains(c, jpegBytes) {
			t.Error("chunk does not carry the camera frame")
		}
	}
	if s.Snapshot().FramesSent != 3 {
		t.Errorf("expected 3 counted frames, got %d", s.Snapshot().FramesSent)
	}
}

func TestServeRawH264StartsWithKeyframe(t *testing.T) {
	s := testSession(t, capture.FormatYUYV, yuyvFrame())
	p := liveParams(t, "codec=h264&fps=60")

	enc := &fakeEncoder{}
	sink := &boundedSink{limit: 4}
	if err := ServeRawH264(s, p, sink, fakeFactory(enc)); err != nil {
		t.Fatal(err)
	}

	chunks := sink.all()
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	if !bytes.HasPrefix(chunks[0], bitstream.StartCode) {
		t.Fatal("output does not start with a start code")
	}
	if !bitstream.IsKeyframe(chunks[0]) {
		t.Error("first delivered frame must be an IDR")
	}
	if bitstream.IsKeyframe(chunks[1]) {
		t.Error("later frames should be deltas from the fake encoder")
	}
	if !enc.closed {
		t.Error("responder must close its encoder on exit")
	}

	sps, pps := s.ParameterSets()
	if sps == nil || pps == nil {
		t.Error("SPS/PPS from the first keyframe must be cached on the session")
	}
}

func TestServeRawH264ObservesIDRRequests(t *testing.T) {
	s := testSession(t, capture.FormatYUYV, yuyvFrame())
	p := liveParams(t, "codec=h264&fps=60")

	// Request before the stream starts; the second keyframe must appear
	// among the later chunks.
	enc := &fakeEncoder{}
	sink := &idrTriggerSink{boundedSink: boundedSink{limit: 6}, sess: s, triggerAt: 2}
	if err := ServeRawH264(s, p, sink, fakeFactory(enc)); err != nil {
		t.Fatal(err)
	}

	chunks := sink.all()
	keyframes := 0
	for _, c := range chunks {
		if bitstream.IsKeyframe(c) {
			keyframes++
		}
	}
	if keyframes < 2 {
		t.Errorf("expected the feedback request to force a second IDR, got %d keyframes", keyframes)
	}
}

// idrTriggerSink fires a session IDR request after a fixed number of sends.
type idrTriggerSink struct {
	boundedSink
	sess      interface{ RequestIDR() }
	triggerAt int
	fired     bool
}

func (s *idrTriggerSink) Send(p []byte) error {
	if err := s.boundedSink.Send(p); err != nil {
		return err
	}
	if !s.fired && len(s.all()) >= s.triggerAt {
		s.fired = true
		s.sess.RequestIDR()
	}
	return nil
}

func TestServeRawH264EncoderUnavailable(t *testing.T) {
	s := testSession(t, capture.FormatYUYV, yuyvFrame())
	p := liveParams(t, "codec=h264")

	failing := func(encoder.Config) (encoder.Encoder, error) { return nil, encoder.ErrUnavailable }
	err := ServeRawH264(s, p, &boundedSink{limit: 1}, failing)
	if err == nil || !errors.Is(err, encoder.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestBootstrapFMP4AndStream(t *testing.T) {
	s := testSession(t, capture.FormatYUYV, yuyvFrame())
	p := liveParams(t, "codec=h264&container=mp4&fps=60")

	enc := &fakeEncoder{}
	r, err := BootstrapFMP4(s, p, fakeFactory(enc))
	if err != nil {
		t.Fatal(err)
	}

	sps, _ := s.ParameterSets()
	if sps == nil {
		t.Fatal("bootstrap must cache SPS/PPS before streaming")
	}

	sink := &boundedSink{limit: 4}
	if err := r.Stream(sink); err != nil {
		t.Fatal(err)
	}

	chunks := sink.all()
	if len(chunks) != 4 {
		t.Fatalf("expected init segment plus 3 fragments, got %d chunks", len(chunks))
	}
	if !bytes.Equal(chunks[0][4:8], []byte("ftyp")) {
		t.Error("first chunk must start with the ftyp box")
	}
	for i, c := range chunks[1:] {
		if !bytes.Equal(c[4:8], []byte("moof")) {
			t.Fatalf("chunk %d is not a fragment", i+1)
		}
		// mfhd sequence lives at a fixed offset: moof header 8, mfhd header
		// 8, version/flags 4.
		seq := binary.BigEndian.Uint32(c[20:])
		if seq != uint32(i+1) {
			t.Errorf("fragment %d carries sequence %d", i+1, seq)
		}
	}
}

func TestBootstrapFMP4FailsWithoutParameterSets(t *testing.T) {
	s := testSession(t, capture.FormatYUYV, yuyvFrame())
	p := liveParams(t, "codec=h264&container=mp4")

	// An encoder that never produces output never yields SPS/PPS.
	silent := encoderFunc(func(*bitstream.I420) ([]byte, error) { return nil, nil })
	_, err := BootstrapFMP4(s, p, func(encoder.Config) (encoder.Encoder, error) { return silent, nil })
	if !errors.Is(err, ErrBootstrap) {
		t.Fatalf("expected ErrBootstrap, got %v", err)
	}
}

// encoderFunc adapts a bare function into an Encoder with no-op control.
type encoderFunc func(*bitstream.I420) ([]byte, error)

func (f encoderFunc) Encode(i *bitstream.I420) ([]byte, error) { return f(i) }
func (f encoderFunc) ForceIDR()                                {}
func (f encoderFunc) Close()                                   {}
