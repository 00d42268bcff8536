package stream

import (
	"net/url"
	"testing"
)

func TestParseLiveDefaults(t *testing.T) {
	p, err := ParseLive(url.Values{}, "")
	if err != nil {
		t.Fatal(err)
	}
	if p.Codec != CodecMJPEG || p.Container != ContainerRaw || p.Latency != LatencyView {
		t.Errorf("unexpected default kinds: %+v", p)
	}
	if p.Width != 640 || p.Height != 480 || p.FPS != 15 {
		t.Errorf("unexpected default geometry: %+v", p)
	}
	if p.BitrateKbps != 256 || p.Quality != 80 || p.GOP != 30 {
		t.Errorf("unexpected default rates: %+v", p)
	}
}

func TestParseLiveServerDefaultCodec(t *testing.T) {
	p, err := ParseLive(url.Values{}, CodecH264)
	if err != nil {
		t.Fatal(err)
	}
	if p.Codec != CodecH264 {
		t.Errorf("expected server default codec to apply, got %q", p.Codec)
	}
	p, err = ParseLive(url.Values{"codec": {"mjpeg"}}, CodecH264)
	if err != nil {
		t.Fatal(err)
	}
	if p.Codec != CodecMJPEG {
		t.Errorf("expected query codec to win, got %q", p.Codec)
	}
}

func TestParseLiveZerolatencyPreset(t *testing.T) {
	q := url.Values{"latency": {"zerolatency"}, "codec": {"mjpeg"}, "bitrate": {"100"}, "gop": {"60"}}
	p, err := ParseLive(q, "")
	if err != nil {
		t.Fatal(err)
	}
	if p.Codec != CodecH264 || p.Container != ContainerRaw {
		t.Errorf("preset must force h264/raw, got %s/%s", p.Codec, p.Container)
	}
	if p.GOP != 1 {
		t.Errorf("preset must force gop 1, got %d", p.GOP)
	}
	if p.BitrateKbps != 512 {
		t.Errorf("preset must floor bitrate at 512, got %d", p.BitrateKbps)
	}
	if p.Latency != LatencyUltra {
		t.Errorf("preset must land on ultra, got %q", p.Latency)
	}

	// A bitrate above the floor is kept.
	q.Set("bitrate", "2000")
	p, _ = ParseLive(q, "")
	if p.BitrateKbps != 2000 {
		t.Errorf("expected bitrate 2000, got %d", p.BitrateKbps)
	}
}

func TestParseLiveRejections(t *testing.T) {
	bad := []url.Values{
		{"codec": {"vp9"}},
		{"container": {"mkv"}},
		{"latency": {"instant"}},
		{"w": {"abc"}},
		{"fps": {"-1"}},
		{"w": {"0"}},
		{"container": {"mp4"}, "codec": {"mjpeg"}},
		{"container": {"mp4"}}, // default codec is mjpeg
	}
	for _, q := range bad {
		if _, err := ParseLive(q, ""); err == nil {
			t.Errorf("expected rejection for %v", q)
		}
	}
}

func TestParseLiveQualityClamped(t *testing.T) {
	p, err := ParseLive(url.Values{"quality": {"0"}}, "")
	if err != nil {
		t.Fatal(err)
	}
	if p.Quality != 1 {
		t.Errorf("expected quality clamped to 1, got %d", p.Quality)
	}
	p, _ = ParseLive(url.Values{"quality": {"150"}}, "")
	if p.Quality != 100 {
		t.Errorf("expected quality clamped to 100, got %d", p.Quality)
	}
}

func TestParseUDP(t *testing.T) {
	if _, err := ParseUDP(url.Values{}); err == nil {
		t.Error("expected missing target to be rejected")
	}
	r, err := ParseUDP(url.Values{"target": {"10.0.0.2"}})
	if err != nil {
		t.Fatal(err)
	}
	if r.Port != DefaultUDPPort || r.Duration != DefaultUDPDuration {
		t.Errorf("unexpected defaults: %+v", r)
	}
	if _, err := ParseUDP(url.Values{"target": {"10.0.0.2"}, "port": {"70000"}}); err == nil {
		t.Error("expected out-of-range port to be rejected")
	}
	if _, err := ParseUDP(url.Values{"target": {"10.0.0.2"}, "duration": {"0"}}); err == nil {
		t.Error("expected zero duration to be rejected")
	}
}

func TestEffectiveParamsFormat(t *testing.T) {
	p, err := ParseLive(url.Values{"codec": {"h264"}, "w": {"1280"}, "h": {"720"}, "fps": {"30"}}, "")
	if err != nil {
		t.Fatal(err)
	}
	got := EffectiveParams(p)
	want := "codec=h264;w=1280;h=720;fps=30;bitrate=256;quality=80;gop=30;latency=view;container=raw"
	if got != want {
		t.Errorf("header mismatch:\n got %s\nwant %s", got, want)
	}
}
