package stream

import (
	"errors"
	"time"

	"github.com/silkcast-dev/silkcast-go-stream-server/internal/bitstream"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/encoder"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/logger"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/mp4"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/session"
)

// FMP4ContentType is the content type of the fragmented MP4 stream.
const FMP4ContentType = "video/mp4"

// ErrBootstrap is returned when SPS/PPS never materialize; handlers map it
// to 503 before any body bytes are written.
var ErrBootstrap = errors.New("h264 parameter sets did not materialize")

const (
	bootstrapAttempts = 200
	bootstrapInterval = 10 * time.Millisecond
)

// FMP4Responder streams one client's fragmented MP4. Bootstrap runs before
// the handler commits a 200, so parameter set failures still map to an HTTP
// error.
type FMP4Responder struct {
	sess    *session.Session
	params  session.Params
	enc     encoder.Encoder
	scratch *bitstream.I420
	frag    *mp4.Fragmenter
	lastSeq uint64
}

// BootstrapFMP4 creates the responder-local encoder and makes sure the
// session has SPS/PPS, encoding frames until the first IDR delivers them.
func BootstrapFMP4(s *session.Session, p session.Params, factory encoder.Factory) (*FMP4Responder, error) {
	enc, scratch, err := newSessionEncoder(s, p, factory)
	if err != nil {
		return nil, err
	}
	r := &FMP4Responder{sess: s, params: p, enc: enc, scratch: scratch}
	enc.ForceIDR()

	// Poll the capture directly so a frameless camera costs one interval per
	// attempt, not a full frame wait.
	sps, pps := s.ParameterSets()
	for attempt := 0; sps == nil && attempt < bootstrapAttempts; attempt++ {
		if f, ok := s.Capture.Latest(); ok && f.Seq > r.lastSeq {
			r.lastSeq = f.Seq
			if err := convertToI420(scratch, f.Data, s.Capture.Params().Format); err != nil {
				enc.Close()
				return nil, err
			}
			if annexb, err := enc.Encode(scratch); err == nil && len(annexb) > 0 {
				s.SetParameterSets(bitstream.ExtractSPSPPS(annexb))
			}
		}
		sps, pps = s.ParameterSets()
		if sps != nil {
			break
		}
		time.Sleep(bootstrapInterval)
	}
	if sps == nil || pps == nil {
		enc.Close()
		return nil, ErrBootstrap
	}

	granted := s.Capture.Params()
	r.frag = mp4.NewFragmenter(granted.Width, granted.Height, p.FPS, sps, pps)
	return r, nil
}

func (r *FMP4Responder) Close() {
	r.enc.Close()
}

// sampleDuration is the per-frame tick count at the 90 kHz timescale, with
// the 15 fps fallback when the rate is unknown.
func sampleDuration(fps int) uint32 {
	if fps <= 0 {
		return 6000
	}
	return mp4.Timescale / uint32(fps)
}

// Stream writes the init segment once, then one moof+mdat per encoded frame
// until the client disconnects or the capture dies.
func (r *FMP4Responder) Stream(sink Sink) error {
	defer r.Close()

	if err := sink.Send(r.frag.InitSegment()); err != nil {
		return nil
	}

	s := r.sess
	interval := frameInterval(r.params.FPS)
	duration := sampleDuration(r.params.FPS)
	idrSeen := s.IDRSeq()
	var sequence uint32 = 1
	var decodeTime uint64

	for {
		if !s.Capture.Running() {
			return nil
		}
		idrSeen = observeIDR(s, idrSeen, r.enc.ForceIDR)

		annexb, err := encodeLatest(s, r.enc, r.scratch, &r.lastSeq)
		if err != nil {
			logger.WarnF("fmp4 responder stopping: %v", err)
			return nil
		}
		if len(annexb) == 0 {
			continue
		}

		avcc := bitstream.AnnexBToAVCC(annexb)
		if len(avcc) == 0 {
			continue
		}
		fragment := r.frag.Fragment(avcc, sequence, decodeTime, duration, bitstream.IsKeyframe(annexb))
		if err := sink.Send(fragment); err != nil {
			return nil
		}
		s.CountFrame(len(fragment))
		sequence++
		decodeTime += uint64(duration)
		time.Sleep(interval)
	}
}
