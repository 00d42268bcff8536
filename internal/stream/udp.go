package stream

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/silkcast-dev/silkcast-go-stream-server/internal/bitstream"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/encoder"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/logger"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/session"
)

// UDPHeaderSize is the fixed fragment header length in bytes.
const UDPHeaderSize = 12

// UDPHeader prefixes every H.264 datagram so the receiver can reassemble
// frames. Serialized little-endian regardless of host byte order.
type UDPHeader struct {
	FrameID  uint32
	FragID   uint16
	NumFrags uint16
	DataSize uint32
}

// AppendTo serializes the header into dst.
func (h UDPHeader) AppendTo(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, h.FrameID)
	dst = binary.LittleEndian.AppendUint16(dst, h.FragID)
	dst = binary.LittleEndian.AppendUint16(dst, h.NumFrags)
	return binary.LittleEndian.AppendUint32(dst, h.DataSize)
}

// ParseUDPHeader decodes the fragment header of one datagram.
func ParseUDPHeader(p []byte) (UDPHeader, error) {
	if len(p) < UDPHeaderSize {
		return UDPHeader{}, fmt.Errorf("datagram of %d bytes is shorter than the header", len(p))
	}
	return UDPHeader{
		FrameID:  binary.LittleEndian.Uint32(p[0:]),
		FragID:   binary.LittleEndian.Uint16(p[4:]),
		NumFrags: binary.LittleEndian.Uint16(p[6:]),
		DataSize: binary.LittleEndian.Uint32(p[8:]),
	}, nil
}

// fragmentFrame splits one encoded frame into header-prefixed datagrams of
// at most mtu bytes each.
func fragmentFrame(frame []byte, frameID uint32, mtu int) [][]byte {
	payloadMax := mtu - UDPHeaderSize
	if payloadMax <= 0 {
		payloadMax = 1
	}
	numFrags := (len(frame) + payloadMax - 1) / payloadMax
	if numFrags == 0 {
		return nil
	}
	out := make([][]byte, 0, numFrags)
	for i := 0; i < numFrags; i++ {
		lo := i * payloadMax
		hi := lo + payloadMax
		if hi > len(frame) {
			hi = len(frame)
		}
		h := UDPHeader{
			FrameID:  frameID,
			FragID:   uint16(i),
			NumFrags: uint16(numFrags),
			DataSize: uint32(len(frame)),
		}
		dgram := h.AppendTo(make([]byte, 0, UDPHeaderSize+hi-lo))
		out = append(out, append(dgram, frame[lo:hi]...))
	}
	return out
}

// splitRaw cuts a frame into bare mtu-sized datagrams, the MJPEG wire
// format.
func splitRaw(frame []byte, mtu int) [][]byte {
	if mtu <= 0 {
		mtu = DefaultUDPMTU
	}
	var out [][]byte
	for lo := 0; lo < len(frame); lo += mtu {
		hi := lo + mtu
		if hi > len(frame) {
			hi = len(frame)
		}
		out = append(out, frame[lo:hi])
	}
	return out
}

// UDPConfig is the resolved target of one sender run.
type UDPConfig struct {
	Target   string
	Port     int
	Duration time.Duration
	MTU      int
}

// RunUDP pushes frames to a UDP receiver for a bounded duration. It runs on
// a detached goroutine; the HTTP handler has already answered. onDone runs
// on every exit path and releases the caller's session reference.
func RunUDP(s *session.Session, p session.Params, cfg UDPConfig, factory encoder.Factory, onDone func()) {
	defer onDone()

	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d", cfg.Target, cfg.Port))
	if err != nil {
		logger.ErrorF("udp sender: dialing %s:%d: %v", cfg.Target, cfg.Port, err)
		return
	}
	defer conn.Close()

	mtu := cfg.MTU
	if mtu <= 0 {
		mtu = DefaultUDPMTU
	}

	var enc encoder.Encoder
	var scratch *bitstream.I420
	if p.Codec == CodecH264 {
		enc, scratch, err = newSessionEncoder(s, p, factory)
		if err != nil {
			logger.ErrorF("udp sender: initializing encoder: %v", err)
			return
		}
		defer enc.Close()
		enc.ForceIDR()
	}

	interval := frameInterval(p.FPS)
	deadline := time.Now().Add(cfg.Duration)
	idrSeen := s.IDRSeq()
	var lastSeq uint64
	var frameID uint32
	var annexbBuf []byte

	logger.InfoF("udp sender started: %s -> %s:%d for %s", s.DeviceID, cfg.Target, cfg.Port, cfg.Duration)
	for time.Now().Before(deadline) {
		if !s.Capture.Running() {
			return
		}

		var datagrams [][]byte
		if enc != nil {
			idrSeen = observeIDR(s, idrSeen, enc.ForceIDR)
			annexb, err := encodeLatest(s, enc, scratch, &lastSeq)
			if err != nil {
				logger.WarnF("udp sender stopping: %v", err)
				return
			}
			if len(annexb) == 0 {
				continue
			}
			annexbBuf = append(annexbBuf[:0], bitstream.StartCode...)
			annexbBuf = append(annexbBuf, annexb...)
			datagrams = fragmentFrame(annexbBuf, frameID, mtu)
		} else {
			f, err := s.Capture.WaitFrame(lastSeq, 5*time.Second)
			if err != nil {
				logger.WarnF("udp sender stopping: %v", err)
				return
			}
			lastSeq = f.Seq
			datagrams = splitRaw(f.Data, mtu)
		}

		for _, d := range datagrams {
			if _, err := conn.Write(d); err != nil {
				logger.WarnF("udp sender: write failed: %v", err)
				return
			}
			s.CountFrame(len(d))
		}
		frameID++
		time.Sleep(interval)
	}
	logger.InfoF("udp sender finished: %s sent %d frames", s.DeviceID, frameID)
}
