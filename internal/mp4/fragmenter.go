// Package mp4 builds fragmented MP4 (ftyp+moov init segment, moof+mdat
// fragments) for a single H.264 AVC1 video track.
package mp4

import "encoding/binary"

const (
	// Movie timescale in units per second. 90 kHz is the conventional video
	// clock and divides every common frame rate.
	Timescale uint32 = 90000

	trackID uint32 = 1
)

// Sample flags for the single sample in each trun.
const (
	sampleFlagsKeyframe uint32 = 0x02000000 // depends on nothing
	sampleFlagsNonSync  uint32 = 0x01010000 // depended on, non-sync
)

// Fragmenter emits the container bytes for one stream. It is stateless: the
// caller owns the fragment sequence number and decode time.
type Fragmenter struct {
	width  int
	height int
	fps    int
	sps    []byte
	pps    []byte
}

func NewFragmenter(width, height, fps int, sps, pps []byte) *Fragmenter {
	return &Fragmenter{width: width, height: height, fps: fps, sps: sps, pps: pps}
}

func appendU16(b []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(b, v)
}

func appendU32(b []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(b, v)
}

func appendU64(b []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(b, v)
}

func appendTag(b []byte, tag string) []byte {
	return append(b, tag[:4]...)
}

func appendZero(b []byte, n int) []byte {
	return append(b, make([]byte, n)...)
}

// appendBox wraps payload in a box header: 32-bit size then the 4-char type.
func appendBox(dst []byte, tag string, payload []byte) []byte {
	dst = appendU32(dst, uint32(len(payload)+8))
	dst = appendTag(dst, tag)
	return append(dst, payload...)
}

func appendVersionFlags(b []byte, version byte, flags uint32) []byte {
	return append(b, version, byte(flags>>16), byte(flags>>8), byte(flags))
}

var unityMatrix = [9]uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}

// InitSegment returns the ftyp and moov boxes. Emitted exactly once per
// stream, before any fragment.
func (f *Fragmenter) InitSegment() []byte {
	var out []byte

	// ftyp
	{
		var p []byte
		p = appendTag(p, "isom")
		p = appendU32(p, 0x00000200)
		p = appendTag(p, "isom")
		p = appendTag(p, "iso6")
		p = appendTag(p, "avc1")
		out = appendBox(out, "ftyp", p)
	}

	var moov []byte
	// mvhd
	{
		var p []byte
		p = appendVersionFlags(p, 0, 0)
		p = appendU32(p, 0) // creation time
		p = appendU32(p, 0) // modification time
		p = appendU32(p, Timescale)
		p = appendU32(p, Timescale*60) // duration placeholder
		p = appendU32(p, 0x00010000)   // rate 1.0
		p = appendU16(p, 0x0100)       // volume 1.0
		p = appendZero(p, 10)          // reserved
		for _, m := range unityMatrix {
			p = appendU32(p, m)
		}
		p = appendZero(p, 24) // pre_defined
		p = appendU32(p, 2)   // next track id
		moov = appendBox(moov, "mvhd", p)
	}

	var trak []byte
	// tkhd
	{
		var p []byte
		p = appendVersionFlags(p, 0, 0x000007) // enabled, in movie, in preview
		p = appendU32(p, 0)                    // creation time
		p = appendU32(p, 0)                    // modification time
		p = appendU32(p, trackID)
		p = appendU32(p, 0)            // reserved
		p = appendU32(p, Timescale*60) // duration placeholder
		p = appendU64(p, 0)            // reserved
		p = appendU16(p, 0)            // layer
		p = appendU16(p, 0)            // alternate group
		p = appendU16(p, 0)            // volume, 0 for video
		p = appendU16(p, 0)
		for _, m := range unityMatrix {
			p = appendU32(p, m)
		}
		p = appendU32(p, uint32(f.width)<<16) // 16.16 fixed
		p = appendU32(p, uint32(f.height)<<16)
		trak = appendBox(trak, "tkhd", p)
	}

	var mdia []byte
	// mdhd
	{
		var p []byte
		p = appendVersionFlags(p, 0, 0)
		p = appendU32(p, 0)
		p = appendU32(p, 0)
		p = appendU32(p, Timescale)
		p = appendU32(p, Timescale*60)
		p = appendU16(p, 0x55c4) // language "und"
		p = appendU16(p, 0)
		mdia = appendBox(mdia, "mdhd", p)
	}
	// hdlr
	{
		var p []byte
		p = appendVersionFlags(p, 0, 0)
		p = appendU32(p, 0)
		p = appendTag(p, "vide")
		p = appendZero(p, 12)
		p = append(p, 'v', 'i', 'd', 'e', 'o', 0)
		mdia = appendBox(mdia, "hdlr", p)
	}

	var minf []byte
	// vmhd
	{
		var p []byte
		p = appendVersionFlags(p, 0, 0x000001)
		p = appendZero(p, 8) // graphics mode + opcolor
		minf = appendBox(minf, "vmhd", p)
	}
	// dinf -> dref -> url (self-contained)
	{
		var url []byte
		url = appendVersionFlags(url, 0, 0x000001)
		var urlBox []byte
		urlBox = appendBox(urlBox, "url ", url)

		var dref []byte
		dref = appendVersionFlags(dref, 0, 0)
		dref = appendU32(dref, 1)
		dref = append(dref, urlBox...)

		var dinf []byte
		dinf = appendBox(dinf, "dref", dref)
		minf = appendBox(minf, "dinf", dinf)
	}

	var stbl []byte
	// stsd -> avc1 -> avcC
	{
		var avc1 []byte
		avc1 = appendZero(avc1, 6)  // reserved
		avc1 = appendU16(avc1, 1)   // data reference index
		avc1 = appendZero(avc1, 16) // pre_defined + reserved
		avc1 = appendU16(avc1, uint16(f.width))
		avc1 = appendU16(avc1, uint16(f.height))
		avc1 = appendU32(avc1, 0x00480000) // horizontal dpi
		avc1 = appendU32(avc1, 0x00480000) // vertical dpi
		avc1 = appendU32(avc1, 0)          // reserved
		avc1 = appendU16(avc1, 1)          // frame count
		avc1 = appendZero(avc1, 32)        // compressor name
		avc1 = appendU16(avc1, 0x0018)     // depth
		avc1 = appendU16(avc1, 0xFFFF)     // pre_defined

		var avcc []byte
		avcc = append(avcc, 1) // configuration version
		if len(f.sps) >= 4 {
			avcc = append(avcc, f.sps[1], f.sps[2], f.sps[3]) // profile, compat, level
		} else {
			avcc = append(avcc, 0, 0, 0)
		}
		avcc = append(avcc, 0xFF) // lengthSizeMinusOne = 3
		avcc = append(avcc, 0xE1) // one SPS
		avcc = appendU16(avcc, uint16(len(f.sps)))
		avcc = append(avcc, f.sps...)
		avcc = append(avcc, 1) // one PPS
		avcc = appendU16(avcc, uint16(len(f.pps)))
		avcc = append(avcc, f.pps...)

		avc1 = appendBox(avc1, "avcC", avcc)

		var stsd []byte
		stsd = appendVersionFlags(stsd, 0, 0)
		stsd = appendU32(stsd, 1)
		stsd = appendBox(stsd, "avc1", avc1)
		stbl = appendBox(stbl, "stsd", stsd)
	}
	// empty stts, stsc, stsz, stco
	{
		var p []byte
		p = appendVersionFlags(p, 0, 0)
		p = appendU32(p, 0)
		stbl = appendBox(stbl, "stts", p)
	}
	{
		var p []byte
		p = appendVersionFlags(p, 0, 0)
		p = appendU32(p, 0)
		stbl = appendBox(stbl, "stsc", p)
	}
	{
		var p []byte
		p = appendVersionFlags(p, 0, 0)
		p = appendU32(p, 0) // sample size
		p = appendU32(p, 0) // sample count
		stbl = appendBox(stbl, "stsz", p)
	}
	{
		var p []byte
		p = appendVersionFlags(p, 0, 0)
		p = appendU32(p, 0)
		stbl = appendBox(stbl, "stco", p)
	}

	minf = appendBox(minf, "stbl", stbl)
	mdia = appendBox(mdia, "minf", minf)
	trak = appendBox(trak, "mdia", mdia)
	moov = appendBox(moov, "trak", trak)

	// mvex -> trex
	{
		var trex []byte
		trex = appendVersionFlags(trex, 0, 0)
		trex = appendU32(trex, trackID)
		trex = appendU32(trex, 1) // default sample description index
		trex = appendU32(trex, 0) // default duration
		trex = appendU32(trex, 0) // default size
		trex = appendU32(trex, 0x01000000)
		var mvex []byte
		mvex = appendBox(mvex, "trex", trex)
		moov = appendBox(moov, "mvex", mvex)
	}

	out = appendBox(out, "moov", moov)
	return out
}

// Fragment returns one moof+mdat pair carrying a single AVCC sample. The
// trun data offset points at the first byte of mdat payload.
func (f *Fragmenter) Fragment(avccSample []byte, sequence uint32, baseDecodeTime uint64, sampleDuration uint32, keyframe bool) []byte {
	var mfhd []byte
	{
		var p []byte
		p = appendVersionFlags(p, 0, 0)
		p = appendU32(p, sequence)
		mfhd = appendBox(mfhd, "mfhd", p)
	}

	var tfhd []byte
	{
		var p []byte
		p = appendVersionFlags(p, 0, 0x020000) // default-base-is-moof
		p = appendU32(p, trackID)
		tfhd = appendBox(tfhd, "tfhd", p)
	}

	var tfdt []byte
	{
		var p []byte
		p = appendVersionFlags(p, 0, 0)
		p = appendU32(p, uint32(baseDecodeTime))
		tfdt = appendBox(tfdt, "tfdt", p)
	}

	// trun carries data-offset plus per-sample duration, size and flags
	// (0x000701); sizes are fixed so the data offset can be precomputed.
	const trunPayload = 4 + 4 + 4 + 4 + 4 + 4
	const trunSize = trunPayload + 8
	trafSize := uint32(len(tfhd)+len(tfdt)) + trunSize + 8
	moofSize := uint32(len(mfhd)) + trafSize + 8
	dataOffset := moofSize + 8 // skip the mdat header

	var trun []byte
	{
		var p []byte
		p = appendVersionFlags(p, 0, 0x000701)
		p = appendU32(p, 1) // sample count
		p = appendU32(p, dataOffset)
		p = appendU32(p, sampleDuration)
		p = appendU32(p, uint32(len(avccSample)))
		if keyframe {
			p = appendU32(p, sampleFlagsKeyframe)
		} else {
			p = appendU32(p, sampleFlagsNonSync)
		}
		trun = appendBox(trun, "trun", p)
	}

	var traf []byte
	traf = append(traf, tfhd...)
	traf = append(traf, tfdt...)
	traf = append(traf, trun...)

	var moofPayload []byte
	moofPayload = append(moofPayload, mfhd...)
	moofPayload = appendBox(moofPayload, "traf", traf)

	out := make([]byte, 0, int(moofSize)+8+len(avccSample))
	out = appendBox(out, "moof", moofPayload)
	out = appendU32(out, uint32(8+len(avccSample)))
	out = appendTag(out, "mdat")
	out = append(out, avccSample...)
	return out
}
