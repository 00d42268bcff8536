// Package bitstream contains the pure byte-level helpers of the streaming
// engine: Annex-B NAL unit scanning, AVCC length-prefix conversion, SPS/PPS
// extraction and planar pixel format conversion.
package bitstream

import "encoding/binary"

// H.264 NAL unit types the engine cares about.
const (
	NALTypeIDR byte = 5
	NALTypeSPS byte = 7
	NALTypePPS byte = 8
)

// StartCode is the 4-byte Annex-B start code prepended to raw H.264 frames.
var StartCode = []byte{0x00, 0x00, 0x00, 0x01}

// NALUnit is the position of one NAL unit payload inside an Annex-B buffer.
// The range excludes the start code.
type NALUnit struct {
	Offset int
	Length int
}

// NALType returns the type bits of the NAL unit's first payload byte.
func NALType(firstByte byte) byte {
	return firstByte & 0x1F
}

// Scanner iterates the NAL units of an Annex-B buffer. Units are delimited
// by 00 00 01 or 00 00 00 01 start codes; a unit ends at the next start code
// or at the end of the buffer.
type Scanner struct {
	buf []byte
	pos int
}

func NewScanner(buf []byte) *Scanner {
	return &Scanner{buf: buf}
}

// Reset restarts the scanner at the beginning of the buffer.
func (s *Scanner) Reset() {
	s.pos = 0
}

func (s *Scanner) isStartCode(pos int) bool {
	b := s.buf
	if pos+2 >= len(b) || b[pos] != 0 || b[pos+1] != 0 {
		return false
	}
	if b[pos+2] == 1 {
		return true
	}
	return b[pos+2] == 0 && pos+3 < len(b) && b[pos+3] == 1
}

// Next returns the next NAL unit. The second return value is false once the
// buffer is exhausted. Zero-length units are reported; callers decide
// whether to skip them.
func (s *Scanner) Next() (NALUnit, bool) {
	for s.pos+2 < len(s.buf) {
		if !s.isStartCode(s.pos) {
			s.pos++
			continue
		}
		scSize := 4
		if s.buf[s.pos+2] == 1 {
			scSize = 3
		}
		start := s.pos + scSize
		next := start
		for next+2 < len(s.buf) && !s.isStartCode(next) {
			next++
		}
		end := len(s.buf)
		if next+2 < len(s.buf) {
			end = next
		}
		s.pos = next
		return NALUnit{Offset: start, Length: end - start}, true
	}
	return NALUnit{}, false
}

// AnnexBToAVCC re-packs an Annex-B buffer so that every NAL unit is prefixed
// by a big-endian 32-bit length instead of a start code. Zero-length units
// are dropped. Both 3- and 4-byte start codes normalize to the same output.
func AnnexBToAVCC(annexb []byte) []byte {
	out := make([]byte, 0, len(annexb)+8)
	sc := NewScanner(annexb)
	for {
		nal, ok := sc.Next()
		if !ok {
			break
		}
		if nal.Length == 0 {
			continue
		}
		out = binary.BigEndian.AppendUint32(out, uint32(nal.Length))
		out = append(out, annexb[nal.Offset:nal.Offset+nal.Length]...)
	}
	return out
}

// AVCCToAnnexB converts a length-prefixed buffer back to Annex-B with 4-byte
// start codes. Truncated length prefixes terminate the conversion.
func AVCCToAnnexB(avcc []byte) []byte {
	out := make([]byte, 0, len(avcc)+8)
	for pos := 0; pos+4 <= len(avcc); {
		n := int(binary.BigEndian.Uint32(avcc[pos:]))
		pos += 4
		if n == 0 || pos+n > len(avcc) {
			break
		}
		out = append(out, StartCode...)
		out = append(out, avcc[pos:pos+n]...)
		pos += n
	}
	return out
}

// ExtractSPSPPS scans an Annex-B buffer for the first SPS and the first PPS
// NAL unit. Either result may be nil when the buffer carries none. Scanning
// stops as soon as both are found.
func ExtractSPSPPS(annexb []byte) (sps, pps []byte) {
	sc := NewScanner(annexb)
	for {
		nal, ok := sc.Next()
		if !ok {
			break
		}
		if nal.Length == 0 {
			continue
		}
		switch NALType(annexb[nal.Offset]) {
		case NALTypeSPS:
			if sps == nil {
				sps = append([]byte(nil), annexb[nal.Offset:nal.Offset+nal.Length]...)
			}
		case NALTypePPS:
			if pps == nil {
				pps = append([]byte(nil), annexb[nal.Offset:nal.Offset+nal.Length]...)
			}
		}
		if sps != nil && pps != nil {
			break
		}
	}
	return sps, pps
}

// IsKeyframe reports whether the first NAL unit of an Annex-B frame is an
// IDR slice.
func IsKeyframe(annexb []byte) bool {
	sc := NewScanner(annexb)
	for {
		nal, ok := sc.Next()
		if !ok {
			return false
		}
		if nal.Length == 0 {
			continue
		}
		return NALType(annexb[nal.Offset]) == NALTypeIDR
	}
}
