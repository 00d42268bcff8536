package stream

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/silkcast-dev/silkcast-go-stream-server/internal/bitstream"
	"github.com/silkcast-dev/silkcast-go-stream-server/internal/capture"
)

func TestUDPHeaderRoundTrip(t *testing.T) {
	h := UDPHeader{FrameID: 0x01020304, FragID: 3, NumFrags: 9, DataSize: 0xAABBCCDD}
	buf := h.AppendTo(nil)
	if len(buf) != UDPHeaderSize {
		t.Fatalf("expected %d header bytes, got %d", UDPHeaderSize, len(buf))
	}
	// Little-endian on the wire.
	if buf[0] != 0x04 || buf[3] != 0x01 {
		t.Errorf("frame id is not little-endian: % x", buf[:4])
	}
	got, err := ParseUDPHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != h {
		t.Errorf("round trip mismatch: %+v != %+v", got, h)
	}
	if _, err := ParseUDPHeader(buf[:11]); err == nil {
		t.Error("expected short datagram to be rejected")
	}
}

func TestFragmentFrameReassembles(t *testing.T) {
	frame := make([]byte, 3000)
	for i := range frame {
		frame[i] = byte(i)
	}
	const mtu = 1400
	datagrams := fragmentFrame(frame, 7, mtu)

	if len(datagrams) != 3 {
		t.Fatalf("expected 3 fragments for 3000 bytes at mtu %d, got %d", mtu, len(datagrams))
	}
	var assembled []byte
	for i, d := range datagrams {
		if len(d) > mtu {
			t.Errorf("datagram %d exceeds mtu: %d", i, len(d))
		}
		h, err := ParseUDPHeader(d)
		if err != nil {
			t.Fatal(err)
		}
		if h.FrameID != 7 || int(h.FragID) != i || int(h.NumFrags) != 3 {
			t.Errorf("unexpected header %+v for fragment %d", h, i)
		}
		if h.DataSize != 3000 {
			t.Errorf("expected data size 3000, got %d", h.DataSize)
		}
		assembled = append(assembled, d[UDPHeaderSize:]...)
	}
	if !bytes.Equal(assembled, frame) {
		t.Fatal("fragments do not reassemble into the frame")
	}
}

func TestSplitRawHasNoHeaders(t *testing.T) {
	frame := make([]byte, 2100)
	parts := splitRaw(frame, 1000)
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts))
	}
	if len(parts[0]) != 1000 || len(parts[2]) != 100 {
		t.Errorf("unexpected split sizes %d/%d/%d", len(parts[0]), len(parts[1]), len(parts[2]))
	}
}

func TestRunUDPSendsH264Datagrams(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	port := conn.LocalAddr().(*net.UDPAddr).Port

	s := testSession(t, capture.FormatYUYV, yuyvFrame())
	p := liveParams(t, "codec=h264&fps=60")
	s.Acquire()

	done := make(chan struct{})
	cfg := UDPConfig{
		Target:   "127.0.0.1",
		Port:     port,
		Duration: 300 * time.Millisecond,
		MTU:      DefaultUDPMTU,
	}
	go RunUDP(s, p, cfg, fakeFactory(&fakeEncoder{}), func() {
		s.Release()
		close(done)
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatal(err)
	}
	h, err := ParseUDPHeader(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	payload := buf[UDPHeaderSize:n]
	if int(h.DataSize) != len(payload) && h.NumFrags == 1 {
		t.Errorf("single-fragment datagram should carry the whole frame: %d != %d", h.DataSize, len(payload))
	}
	if !bytes.HasPrefix(payload, bitstream.StartCode) {
		t.Error("payload does not begin with a start code")
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("udp sender did not finish within its duration")
	}
	if s.Clients() != 0 {
		t.Errorf("expected the sender to release its reference, got %d clients", s.Clients())
	}
}

func TestRunUDPReleasesOnDialFailure(t *testing.T) {
	s := testSession(t, capture.FormatYUYV, yuyvFrame())
	p := liveParams(t, "codec=mjpeg")
	s.Acquire()

	done := make(chan struct{})
	cfg := UDPConfig{Target: "256.0.0.1", Port: 1, Duration: time.Second}
	RunUDP(s, p, cfg, fakeFactory(&fakeEncoder{}), func() {
		s.Release()
		close(done)
	})

	select {
	case <-done:
	default:
		t.Fatal("onDone must run on the dial failure path")
	}
	if s.Clients() != 0 {
		t.Errorf("expected released reference, got %d clients", s.Clients())
	}
}
