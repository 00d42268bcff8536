package stream

import (
	"time"

	"github.com/silkcast-dev/silkcast-go-stream-server/internal/bitstream"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/encoder"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/logger"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/session"
)

// RawH264ContentType is the content type of the bare Annex-B stream.
const RawH264ContentType = "video/H264"

// newSessionEncoder builds a responder-local encoder sized to what the
// capture actually granted. Each client owns its encoder so a joiner's
// forced IDR never disturbs the others.
func newSessionEncoder(s *session.Session, p session.Params, factory encoder.Factory) (encoder.Encoder, *bitstream.I420, error) {
	granted := s.Capture.Params()
	enc, err := factory(encoder.Config{
		Width:       granted.Width,
		Height:      granted.Height,
		FPS:         p.FPS,
		BitrateKbps: p.BitrateKbps,
		GOP:         p.GOP,
		ZeroLatency: p.Latency == LatencyUltra,
	})
	if err != nil {
		return nil, nil, err
	}
	frame, err := bitstream.NewI420(granted.Width, granted.Height)
	if err != nil {
		enc.Close()
		return nil, nil, err
	}
	return enc, frame, nil
}

// encodeLatest pulls one fresh raw frame, converts it and encodes it. An
// empty result with nil error means the encoder swallowed the frame.
func encodeLatest(s *session.Session, enc encoder.Encoder, scratch *bitstream.I420, lastSeq *uint64) ([]byte, error) {
	f, err := s.Capture.WaitFrame(*lastSeq, 5*time.Second)
	if err != nil {
		return nil, err
	}
	*lastSeq = f.Seq

	if err := convertToI420(scratch, f.Data, s.Capture.Params().Format); err != nil {
		return nil, err
	}
	annexb, err := enc.Encode(scratch)
	if err != nil {
		return nil, err
	}
	if len(annexb) > 0 {
		// Cache the session's SPS/PPS the first time any encoder emits them.
		if sps, _ := s.ParameterSets(); sps == nil {
			s.SetParameterSets(bitstream.ExtractSPSPPS(annexb))
		}
	}
	return annexb, nil
}

// RawH264Responder streams one client's start-code delimited NALs. The
// encoder is created before the handler commits a 200 so an unavailable
// encoder still maps to an HTTP error.
type RawH264Responder struct {
	sess    *session.Session
	params  session.Params
	enc     encoder.Encoder
	scratch *bitstream.I420
}

// NewRawH264 builds the responder and forces an IDR so the client can
// decode from its first frame.
func NewRawH264(s *session.Session, p session.Params, factory encoder.Factory) (*RawH264Responder, error) {
	enc, scratch, err := newSessionEncoder(s, p, factory)
	if err != nil {
		return nil, err
	}
	enc.ForceIDR()
	return &RawH264Responder{sess: s, params: p, enc: enc, scratch: scratch}, nil
}

func (r *RawH264Responder) Close() {
	r.enc.Close()
}

// Stream loops until the client disconnects or the capture dies.
func (r *RawH264Responder) Stream(sink Sink) error {
	defer r.Close()

	s := r.sess
	interval := frameInterval(r.params.FPS)
	idrSeen := s.IDRSeq()
	var lastSeq uint64
	var out []byte

	for {
		if !s.Capture.Running() {
			return nil
		}
		idrSeen = observeIDR(s, idrSeen, r.enc.ForceIDR)

		annexb, err := encodeLatest(s, r.enc, r.scratch, &lastSeq)
		if err != nil {
			logger.WarnF("h264 responder stopping: %v", err)
			return nil
		}
		if len(annexb) == 0 {
			continue
		}

		out = append(out[:0], bitstream.StartCode...)
		out = append(out, annexb...)
		if err := sink.Send(out); err != nil {
			return nil
		}
		s.CountFrame(len(out))
		time.Sleep(interval)
	}
}

// ServeRawH264 is the one-shot form: bootstrap then stream.
func ServeRawH264(s *session.Session, p session.Params, sink Sink, factory encoder.Factory) error {
	r, err := NewRawH264(s, p, factory)
	if err != nil {
		return err
	}
	return r.Stream(sink)
}
