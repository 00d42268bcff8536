package mp4

import (
	"bytes"
	"encoding/binary"
	"testing"
)

var (
	testSPS = []byte{0x67, 0x42, 0xC0, 0x1F, 0x8C, 0x8D, 0x40}
	testPPS = []byte{0x68, 0xCE, 0x3C, 0x80}
)

// walkBoxes returns the top-level box types of buf in order, verifying the
// declared sizes tile the buffer exactly.
func walkBoxes(t *testing.T, buf []byte) []string {
	t.Helper()
	var types []string
	pos := 0
	for pos < len(buf) {
		if pos+8 > len(buf) {
			t.Fatalf("truncated box header at offset %d", pos)
		}
		size := int(binary.BigEndian.Uint32(buf[pos:]))
		if size < 8 || pos+size > len(buf) {
			t.Fatalf("box at offset %d declares size %d, buffer has %d", pos, size, len(buf)-pos)
		}
		types = append(types, string(buf[pos+4:pos+8]))
		pos += size
	}
	return types
}

// findBox locates the first box of the given type among the children of buf
// and returns its payload.
func findBox(buf []byte, typ string) []byte {
	pos := 0
	for pos+8 <= len(buf) {
		size := int(binary.BigEndian.Uint32(buf[pos:]))
		if size < 8 || pos+size > len(buf) {
			return nil
		}
		if string(buf[pos+4:pos+8]) == typ {
			return buf[pos+8 : pos+size]
		}
		pos += size
	}
	return nil
}

func TestInitSegmentLayout(t *testing.T) {
	f := NewFragmenter(640, 480, 15, testSPS, testPPS)
	seg := f.InitSegment()

	types := walkBoxes(t, seg)
	if len(types) != 2 || types[0] != "ftyp" || types[1] != "moov" {
		t.Fatalf("expected [ftyp moov], got %v", types)
	}
	if !bytes.Equal(seg[4:8], []byte("ftyp")) {
		t.Errorf("expected ftyp tag at bytes 4..7, got %q", seg[4:8])
	}
	if !bytes.Equal(seg[8:12], []byte("isom")) {
		t.Errorf("expected major brand isom, got %q", seg[8:12])
	}

	moov := findBox(seg, "moov")
	if moov == nil {
		t.Fatal("missing moov box")
	}
	for _, typ := range []string{"mvhd", "trak", "mvex"} {
		if findBox(moov, typ) == nil {
			t.Errorf("moov missing %s child", typ)
		}
	}

	mvhd := findBox(moov, "mvhd")
	if ts := binary.BigEndian.Uint32(mvhd[12:]); ts != Timescale {
		t.Errorf("expected mvhd timescale %d, got %d", Timescale, ts)
	}
}

func TestInitSegmentAVCConfig(t *testing.T) {
	f := NewFragmenter(1280, 720, 30, testSPS, testPPS)
	seg := f.InitSegment()

	moov := findBox(seg, "moov")
	stbl := findBox(findBox(findBox(findBox(moov, "trak"), "mdia"), "minf"), "stbl")
	stsd := findBox(stbl, "stsd")
	if stsd == nil {
		t.Fatal("missing stsd box")
	}
	// Skip the full-box header and entry count to reach the avc1 entry.
	avc1 := findBox(stsd[8:], "avc1")
	if avc1 == nil {
		t.Fatal("missing avc1 sample entry")
	}
	if w := binary.BigEndian.Uint16(avc1[24:]); w != 1280 {
		t.Errorf("expected avc1 width 1280, got %d", w)
	}
	if h := binary.BigEndian.Uint16(avc1[26:]); h != 720 {
		t.Errorf("expected avc1 height 720, got %d", h)
	}

	// avcC follows the 78-byte fixed sample entry fields.
	avcc := findBox(avc1[78:], "avcC")
	if avcc == nil {
		t.Fatal("missing avcC box")
	}
	if avcc[0] != 1 {
		t.Errorf("expected avcC version 1, got %d", avcc[0])
	}
	if avcc[1] != testSPS[1] || avcc[2] != testSPS[2] || avcc[3] != testSPS[3] {
		t.Errorf("expected profile/compat/level %x %x %x, got %x %x %x",
			testSPS[1], testSPS[2], testSPS[3], avcc[1], avcc[2], avcc[3])
	}
	if avcc[4] != 0xFF {
		t.Errorf("expected lengthSizeMinusOne byte 0xFF, got %x", avcc[4])
	}
	spsLen := binary.BigEndian.Uint16(avcc[6:])
	if int(spsLen) != len(testSPS) {
		t.Fatalf("expected SPS length %d, got %d", len(testSPS), spsLen)
	}
	if !bytes.Equal(avcc[8:8+spsLen], testSPS) {
		t.Error("avcC does not carry the SPS verbatim")
	}
}

func TestFragmentDataOffset(t *testing.T) {
	f := NewFragmenter(640, 480, 15, testSPS, testPPS)
	sample := []byte{0, 0, 0, 4, 0x65, 0x88, 0x84, 0x00}

	for _, seq := range []uint32{1, 2, 1000} {
		frag := f.Fragment(sample, seq, uint64(seq)*6000, 6000, seq == 1)

		types := walkBoxes(t, frag)
		if len(types) != 2 || types[0] != "moof" || types[1] != "mdat" {
			t.Fatalf("expected [moof mdat], got %v", types)
		}
		moofSize := binary.BigEndian.Uint32(frag[0:])

		moof := findBox(frag, "moof")
		traf := findBox(moof, "traf")
		trun := findBox(traf, "trun")
		if trun == nil {
			t.Fatal("missing trun box")
		}
		flags := binary.BigEndian.Uint32(trun[0:]) & 0x00FFFFFF
		if flags != 0x000701 {
			t.Errorf("expected trun flags 0x000701, got %#06x", flags)
		}
		if count := binary.BigEndian.Uint32(trun[4:]); count != 1 {
			t.Errorf("expected sample count 1, got %d", count)
		}
		if off := binary.BigEndian.Uint32(trun[8:]); off != moofSize+8 {
			t.Errorf("seq %d: expected data offset %d, got %d", seq, moofSize+8, off)
		}
		if size := binary.BigEndian.Uint32(trun[16:]); int(size) != len(sample) {
			t.Errorf("expected sample size %d, got %d", len(sample), size)
		}

		// The data offset must land on the first mdat payload byte.
		payload := frag[moofSize+8:]
		if !bytes.Equal(payload, sample) {
			t.Error("data offset does not point at the sample payload")
		}
	}
}

func TestFragmentSampleFlags(t *testing.T) {
	f := NewFragmenter(640, 480, 15, testSPS, testPPS)
	sample := []byte{0, 0, 0, 2, 0x41, 0x9A}

	key := f.Fragment(sample, 1, 0, 6000, true)
	delta := f.Fragment(sample, 2, 6000, 6000, false)

	flagsOf := func(frag []byte) uint32 {
		trun := findBox(findBox(findBox(frag, "moof"), "traf"), "trun")
		return binary.BigEndian.Uint32(trun[20:])
	}
	if got := flagsOf(key); got != 0x02000000 {
		t.Errorf("expected keyframe flags 0x02000000, got %#010x", got)
	}
	if got := flagsOf(delta); got != 0x01010000 {
		t.Errorf("expected non-sync flags 0x01010000, got %#010x", got)
	}
}

func TestFragmentSequenceAndDecodeTime(t *testing.T) {
	f := NewFragmenter(640, 480, 15, testSPS, testPPS)
	sample := []byte{0, 0, 0, 1, 0x65}

	frag := f.Fragment(sample, 7, 42000, 6000, false)
	moof := findBox(frag, "moof")
	mfhd := findBox(moof, "mfhd")
	if seq := binary.BigEndian.Uint32(mfhd[4:]); seq != 7 {
		t.Errorf("expected sequence 7, got %d", seq)
	}
	tfdt := findBox(findBox(moof, "traf"), "tfdt")
	if dt := binary.BigEndian.Uint32(tfdt[4:]); dt != 42000 {
		t.Errorf("expected decode time 42000, got %d", dt)
	}
}
