// Package stream contains the per-codec responder loops and the query
// parameter handling they share. Responders read frames from a session's
// capture, optionally encode, and push bytes into a sink until the client
// disconnects or the capture dies.
package stream

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/silkcast-dev/silkcast-go-stream-server/internal/session"
)

// Codec and container values accepted on the wire.
const (
	CodecMJPEG = "mjpeg"
	CodecH264  = "h264"

	ContainerRaw = "raw"
	ContainerMP4 = "mp4"
)

// Latency tiers. Zerolatency is a preset that rewrites several parameters.
const (
	LatencyView        = "view"
	LatencyLow         = "low"
	LatencyUltra       = "ultra"
	LatencyZerolatency = "zerolatency"
)

// Defaults applied when a query parameter is absent.
const (
	DefaultWidth   = 640
	DefaultHeight  = 480
	DefaultFPS     = 15
	DefaultBitrate = 256
	DefaultQuality = 80
	DefaultGOP     = 30

	DefaultUDPPort     = 5000
	DefaultUDPDuration = 10
	DefaultUDPMTU      = 1400
)

// UDPRequest carries the extra parameters of a UDP trigger.
type UDPRequest struct {
	Target   string
	Port     int
	Duration int
}

func intParam(q url.Values, key string, def int) (int, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %s must be an integer, got %q", key, v)
	}
	return n, nil
}

// ParseLive builds the stream parameters from the query string. defaultCodec
// comes from the server config; the zerolatency preset overrides codec,
// container, GOP and the bitrate floor.
func ParseLive(q url.Values, defaultCodec string) (session.Params, error) {
	if defaultCodec == "" {
		defaultCodec = CodecMJPEG
	}
	p := session.Params{
		Codec:     defaultCodec,
		Container: ContainerRaw,
		Latency:   LatencyView,
	}
	if v := q.Get("codec"); v != "" {
		p.Codec = v
	}
	if v := q.Get("container"); v != "" {
		p.Container = v
	}
	if v := q.Get("latency"); v != "" {
		p.Latency = v
	}

	var err error
	if p.Width, err = intParam(q, "w", DefaultWidth); err != nil {
		return session.Params{}, err
	}
	if p.Height, err = intParam(q, "h", DefaultHeight); err != nil {
		return session.Params{}, err
	}
	if p.FPS, err = intParam(q, "fps", DefaultFPS); err != nil {
		return session.Params{}, err
	}
	if p.BitrateKbps, err = intParam(q, "bitrate", DefaultBitrate); err != nil {
		return session.Params{}, err
	}
	if p.Quality, err = intParam(q, "quality", DefaultQuality); err != nil {
		return session.Params{}, err
	}
	if p.GOP, err = intParam(q, "gop", DefaultGOP); err != nil {
		return session.Params{}, err
	}

	switch p.Codec {
	case CodecMJPEG, CodecH264:
	default:
		return session.Params{}, fmt.Errorf("unknown codec %q", p.Codec)
	}
	switch p.Container {
	case ContainerRaw, ContainerMP4:
	default:
		return session.Params{}, fmt.Errorf("unknown container %q", p.Container)
	}
	switch p.Latency {
	case LatencyView, LatencyLow, LatencyUltra, LatencyZerolatency:
	default:
		return session.Params{}, fmt.Errorf("unknown latency tier %q", p.Latency)
	}

	if p.Latency == LatencyZerolatency {
		p.Codec = CodecH264
		p.Container = ContainerRaw
		p.GOP = 1
		if p.BitrateKbps < 512 {
			p.BitrateKbps = 512
		}
		p.Latency = LatencyUltra
	}

	if p.Quality < 1 {
		p.Quality = 1
	} else if p.Quality > 100 {
		p.Quality = 100
	}
	if p.Width <= 0 || p.Height <= 0 {
		return session.Params{}, fmt.Errorf("geometry must be positive, got %dx%d", p.Width, p.Height)
	}
	if p.FPS < 0 {
		return session.Params{}, fmt.Errorf("fps must not be negative, got %d", p.FPS)
	}

	if p.Container == ContainerMP4 && p.Codec != CodecH264 {
		return session.Params{}, fmt.Errorf("container mp4 requires codec h264")
	}
	return p, nil
}

// ParseUDP extracts the UDP sender parameters. Target is required.
func ParseUDP(q url.Values) (UDPRequest, error) {
	r := UDPRequest{Target: q.Get("target")}
	if r.Target == "" {
		return UDPRequest{}, fmt.Errorf("parameter target is required")
	}
	var err error
	if r.Port, err = intParam(q, "port", DefaultUDPPort); err != nil {
		return UDPRequest{}, err
	}
	if r.Duration, err = intParam(q, "duration", DefaultUDPDuration); err != nil {
		return UDPRequest{}, err
	}
	if r.Port <= 0 || r.Port > 65535 {
		return UDPRequest{}, fmt.Errorf("port %d out of range", r.Port)
	}
	if r.Duration <= 0 {
		return UDPRequest{}, fmt.Errorf("duration must be positive, got %d", r.Duration)
	}
	return r, nil
}

// EffectiveParams renders the response header describing what the session
// actually streams.
func EffectiveParams(p session.Params) string {
	return fmt.Sprintf("codec=%s;w=%d;h=%d;fps=%d;bitrate=%d;quality=%d;gop=%d;latency=%s;container=%s",
		p.Codec, p.Width, p.Height, p.FPS, p.BitrateKbps, p.Quality, p.GOP, p.Latency, p.Container)
}
